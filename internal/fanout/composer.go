// Package fanout expands one authored plaintext message into the set
// of per-recipient envelopes a multi-member chat requires. There is no
// shared group key: each member gets an independently encrypted copy,
// which costs one asymmetric operation per member and per message.
// That bounds practical group size; it is a property of the scheme,
// not something this package tries to hide.
package fanout

import (
	"context"
	"time"

	"cipherchat/internal/cryptoengine"
	"cipherchat/internal/domain"
	cipherchat_errors "cipherchat/pkg/errors"
	"cipherchat/pkg/logger"

	"github.com/google/uuid"
)

// RecipientFailure records one member that did not get an encrypted
// copy and why.
type RecipientFailure struct {
	UserID string
	Err    error
}

// Result is the outcome of one fan-out. Partial failure is a value
// here, not an error: envelopes for reachable members are always
// produced even when some members have bad or missing keys.
type Result struct {
	Envelopes []domain.EncryptedEnvelope
	Failed    []RecipientFailure
}

// Complete reports whether every intended recipient got an envelope.
func (r Result) Complete() bool {
	return len(r.Failed) == 0
}

// PartialError returns a PartialFanoutError describing the failed
// recipients, or nil when the fan-out was complete.
func (r Result) PartialError() error {
	if r.Complete() {
		return nil
	}
	failed := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		failed = append(failed, f.UserID)
	}
	return &cipherchat_errors.PartialFanoutError{
		Expected: len(r.Envelopes) + len(r.Failed),
		Produced: len(r.Envelopes),
		FailedTo: failed,
	}
}

// PrivateKeySource yields the local device's armored private key.
type PrivateKeySource interface {
	PrivateKey() (armored string, found bool, err error)
}

type Composer struct {
	keys        PrivateKeySource
	passphrase  string
	institution string
	log         *logger.Logger
}

func NewComposer(keys PrivateKeySource, passphrase, institution string, log *logger.Logger) *Composer {
	return &Composer{keys: keys, passphrase: passphrase, institution: institution, log: log}
}

// Compose encrypts msg.Body once per chat member, signing each copy
// with the sender's private key. The author is not excluded: their
// own envelope, encrypted to their own public key, is what lets them
// re-read the conversation from stored history. The author's visible
// echo at send time comes from optimistic local state, not from
// decrypting this self-addressed copy. Encryption failures for
// individual members are skipped and recorded so the rest of the chat
// still receives the message.
func (c *Composer) Compose(ctx context.Context, msg domain.PlaintextMessage, chat domain.Chat, sender domain.Identity) (Result, error) {
	privateKey, found, err := c.keys.PrivateKey()
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{}, cipherchat_errors.ErrMissingPrivateKey
	}

	now := time.Now().UTC()
	var result Result
	for _, member := range chat.Members {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if !member.HasKey() {
			c.log.Warnf("fanout: member %s has no public key, skipping", member.UserID)
			result.Failed = append(result.Failed, RecipientFailure{
				UserID: member.UserID,
				Err:    cipherchat_errors.ErrMissingPublicKey,
			})
			continue
		}

		ciphertext, err := cryptoengine.EncryptAndSign(msg.Body, member.PublicKey, privateKey, c.passphrase)
		if err != nil {
			c.log.Warnf("fanout: encrypt to %s failed: %v", member.UserID, err)
			result.Failed = append(result.Failed, RecipientFailure{UserID: member.UserID, Err: err})
			continue
		}

		result.Envelopes = append(result.Envelopes, domain.EncryptedEnvelope{
			ID:               uuid.New().String(),
			To:               member.UserID,
			From:             sender,
			ChatID:           chat.ID,
			Institution:      c.institution,
			EncryptedMessage: ciphertext,
			Attachments:      msg.Attachments,
			CreatedAt:        now,
		})
	}
	return result, nil
}
