// Package keystore provides durable local storage for this device's
// private key material, backed by an embedded badger database. The
// store survives process restarts; its contents are only as protected
// as the filesystem it lives on.
package keystore

import (
	"fmt"

	cipherchat_errors "cipherchat/pkg/errors"

	"github.com/dgraph-io/badger/v4"
)

// PrivateKeySlot is the single logical slot used by the current
// design: exactly one private key per device.
const PrivateKeySlot = "privateKey"

type KeyStore struct {
	db *badger.DB
}

// Open opens (creating if necessary) the key store at path. A store
// that cannot be opened is fatal for messaging on this device and is
// reported as ErrStorageUnavailable.
func Open(path string) (*KeyStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cipherchat_errors.ErrStorageUnavailable, err)
	}
	return &KeyStore{db: db}, nil
}

func (s *KeyStore) Close() error {
	return s.db.Close()
}

// Put stores armored key material under name, overwriting any
// existing value.
func (s *KeyStore) Put(name, armored string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(name), []byte(armored))
	})
	if err != nil {
		return fmt.Errorf("%w: put %q: %v", cipherchat_errors.ErrStorageUnavailable, name, err)
	}
	return nil
}

// Get returns the value stored under name. Absence is not an error:
// the second return value is false when nothing is stored.
func (s *KeyStore) Get(name string) (string, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(name))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %q: %v", cipherchat_errors.ErrStorageUnavailable, name, err)
	}
	return string(value), true, nil
}

// Delete removes the value stored under name. Deleting a missing key
// is not an error.
func (s *KeyStore) Delete(name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(name))
	})
	if err != nil && err != badger.ErrKeyNotFound {
		return fmt.Errorf("%w: delete %q: %v", cipherchat_errors.ErrStorageUnavailable, name, err)
	}
	return nil
}
