// Package cryptoengine wraps the OpenPGP primitives used by the
// messaging core: key generation, combined encrypt+sign, and combined
// decrypt+verify. All functions are stateless and operate on armored
// strings, so ciphertext is safe to carry in JSON.
package cryptoengine

import (
	"errors"
	"fmt"

	cipherchat_errors "cipherchat/pkg/errors"

	"github.com/ProtonMail/gopenpgp/v2/crypto"
)

// KeyPair holds both halves of a device key. The public half is the
// durable identity artifact published to the server; the private half
// never leaves the device.
type KeyPair struct {
	PublicKeyArmored  string
	PrivateKeyArmored string
}

// VerifiedPlaintext is the result of a decrypt+verify. A message can
// decrypt successfully and still fail signature verification;
// SignatureValid must be checked before the content is shown.
type VerifiedPlaintext struct {
	Plaintext      string
	SignatureValid bool
	SignerKeyID    string
}

// GenerateKeyPair produces a fresh x25519 key pair. The name/email
// identity embedded in the key is cosmetic. If passphrase is
// non-empty the private key is locked with it before armoring.
func GenerateKeyPair(name, email, passphrase string) (KeyPair, error) {
	key, err := crypto.GenerateKey(name, email, "x25519", 0)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: generate: %v", cipherchat_errors.ErrCryptoFailure, err)
	}
	defer key.ClearPrivateParams()

	pub, err := key.GetArmoredPublicKey()
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: armor public key: %v", cipherchat_errors.ErrCryptoFailure, err)
	}

	armorKey := key
	if passphrase != "" {
		locked, err := key.Lock([]byte(passphrase))
		if err != nil {
			return KeyPair{}, fmt.Errorf("%w: lock private key: %v", cipherchat_errors.ErrCryptoFailure, err)
		}
		armorKey = locked
	}
	priv, err := armorKey.Armor()
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: armor private key: %v", cipherchat_errors.ErrCryptoFailure, err)
	}

	return KeyPair{PublicKeyArmored: pub, PrivateKeyArmored: priv}, nil
}

// PublicKeyFromPrivate derives the armored public half from an armored
// private key. Works on locked keys; public material is not protected
// by the passphrase.
func PublicKeyFromPrivate(privateKeyArmored string) (string, error) {
	key, err := crypto.NewKeyFromArmored(privateKeyArmored)
	if err != nil {
		return "", fmt.Errorf("%w: parse private key: %v", cipherchat_errors.ErrCryptoFailure, err)
	}
	pub, err := key.GetArmoredPublicKey()
	if err != nil {
		return "", fmt.Errorf("%w: armor public key: %v", cipherchat_errors.ErrCryptoFailure, err)
	}
	return pub, nil
}

// EncryptAndSign encrypts plaintext to the recipient's public key and
// signs it with the sender's private key, producing one armored blob.
func EncryptAndSign(plaintext, recipientPublicKeyArmored, senderPrivateKeyArmored, passphrase string) (string, error) {
	recipientKey, err := crypto.NewKeyFromArmored(recipientPublicKeyArmored)
	if err != nil {
		return "", fmt.Errorf("%w: parse recipient key: %v", cipherchat_errors.ErrCryptoFailure, err)
	}
	recipientRing, err := crypto.NewKeyRing(recipientKey)
	if err != nil {
		return "", fmt.Errorf("%w: recipient keyring: %v", cipherchat_errors.ErrCryptoFailure, err)
	}

	signingRing, err := unlockedKeyRing(senderPrivateKeyArmored, passphrase)
	if err != nil {
		return "", err
	}
	defer signingRing.ClearPrivateParams()

	message := crypto.NewPlainMessageFromString(plaintext)
	ciphertext, err := recipientRing.Encrypt(message, signingRing)
	if err != nil {
		return "", fmt.Errorf("%w: encrypt: %v", cipherchat_errors.ErrCryptoFailure, err)
	}
	armored, err := ciphertext.GetArmored()
	if err != nil {
		return "", fmt.Errorf("%w: armor ciphertext: %v", cipherchat_errors.ErrCryptoFailure, err)
	}
	return armored, nil
}

// DecryptAndVerify decrypts an armored ciphertext with the recipient's
// private key and verifies the embedded signature against the sender's
// public key. A decrypt failure returns ErrCryptoFailure; a message
// that decrypts but fails authentication returns ErrSignatureInvalid,
// and the caller must discard it rather than render the content.
func DecryptAndVerify(armoredCiphertext, recipientPrivateKeyArmored, senderPublicKeyArmored, passphrase string) (VerifiedPlaintext, error) {
	decryptRing, err := unlockedKeyRing(recipientPrivateKeyArmored, passphrase)
	if err != nil {
		return VerifiedPlaintext{}, err
	}
	defer decryptRing.ClearPrivateParams()

	senderKey, err := crypto.NewKeyFromArmored(senderPublicKeyArmored)
	if err != nil {
		return VerifiedPlaintext{}, fmt.Errorf("%w: parse sender key: %v", cipherchat_errors.ErrCryptoFailure, err)
	}
	verifyRing, err := crypto.NewKeyRing(senderKey)
	if err != nil {
		return VerifiedPlaintext{}, fmt.Errorf("%w: sender keyring: %v", cipherchat_errors.ErrCryptoFailure, err)
	}

	pgpMessage, err := crypto.NewPGPMessageFromArmored(armoredCiphertext)
	if err != nil {
		return VerifiedPlaintext{}, fmt.Errorf("%w: parse ciphertext: %v", cipherchat_errors.ErrCryptoFailure, err)
	}

	plain, err := decryptRing.Decrypt(pgpMessage, verifyRing, crypto.GetUnixTime())
	if err != nil {
		var sigErr crypto.SignatureVerificationError
		if errors.As(err, &sigErr) {
			// Decryption succeeded but the signature did not check
			// out against the claimed sender. Security event, not a
			// generic failure.
			result := VerifiedPlaintext{
				SignatureValid: false,
				SignerKeyID:    senderKey.GetHexKeyID(),
			}
			if plain != nil {
				result.Plaintext = plain.GetString()
			}
			return result, fmt.Errorf("%w: %s", cipherchat_errors.ErrSignatureInvalid, sigErr.Message)
		}
		return VerifiedPlaintext{}, fmt.Errorf("%w: decrypt: %v", cipherchat_errors.ErrCryptoFailure, err)
	}

	return VerifiedPlaintext{
		Plaintext:      plain.GetString(),
		SignatureValid: true,
		SignerKeyID:    senderKey.GetHexKeyID(),
	}, nil
}

// unlockedKeyRing parses an armored private key and unlocks it when a
// passphrase is set on it. A locked key with no passphrase supplied is
// unusable for signing or decryption.
func unlockedKeyRing(privateKeyArmored, passphrase string) (*crypto.KeyRing, error) {
	key, err := crypto.NewKeyFromArmored(privateKeyArmored)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", cipherchat_errors.ErrCryptoFailure, err)
	}

	locked, err := key.IsLocked()
	if err != nil {
		return nil, fmt.Errorf("%w: inspect private key: %v", cipherchat_errors.ErrCryptoFailure, err)
	}
	if locked {
		if passphrase == "" {
			return nil, fmt.Errorf("%w: private key requires a passphrase", cipherchat_errors.ErrCryptoFailure)
		}
		key, err = key.Unlock([]byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("%w: unlock private key: %v", cipherchat_errors.ErrCryptoFailure, err)
		}
	}

	ring, err := crypto.NewKeyRing(key)
	if err != nil {
		return nil, fmt.Errorf("%w: private keyring: %v", cipherchat_errors.ErrCryptoFailure, err)
	}
	return ring, nil
}
