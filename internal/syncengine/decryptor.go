package syncengine

import (
	"cipherchat/internal/cryptoengine"
	"cipherchat/internal/domain"
	cipherchat_errors "cipherchat/pkg/errors"
)

// PrivateKeySource yields the local device's armored private key.
type PrivateKeySource interface {
	PrivateKey() (armored string, found bool, err error)
}

// Decryptor turns one envelope into a displayable message, or fails.
type Decryptor interface {
	Decrypt(env domain.EncryptedEnvelope) (domain.DecryptedMessage, error)
}

// EnvelopeDecryptor decrypts with the device private key and verifies
// the signature against the sender identity carried in the envelope.
// A message is never constructed speculatively: signature failure
// means no DecryptedMessage at all.
type EnvelopeDecryptor struct {
	Keys       PrivateKeySource
	Passphrase string
}

func (d *EnvelopeDecryptor) Decrypt(env domain.EncryptedEnvelope) (domain.DecryptedMessage, error) {
	privateKey, found, err := d.Keys.PrivateKey()
	if err != nil {
		return domain.DecryptedMessage{}, err
	}
	if !found {
		return domain.DecryptedMessage{}, cipherchat_errors.ErrMissingPrivateKey
	}

	result, err := cryptoengine.DecryptAndVerify(env.EncryptedMessage, privateKey, env.From.PublicKey, d.Passphrase)
	if err != nil {
		return domain.DecryptedMessage{}, err
	}

	return domain.DecryptedMessage{
		ID:          env.ID,
		ChatID:      env.ChatID,
		Sender:      env.From,
		Content:     result.Plaintext,
		Attachments: env.Attachments,
		CreatedAt:   env.CreatedAt,
		Receiver:    env.To,
	}, nil
}
