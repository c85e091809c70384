package cryptoengine

import (
	"errors"
	"strings"
	"testing"

	cipherchat_errors "cipherchat/pkg/errors"

	pgpcrypto "github.com/ProtonMail/gopenpgp/v2/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestPair(t *testing.T, name string) KeyPair {
	t.Helper()
	pair, err := GenerateKeyPair(name, name+"@test.local", "")
	require.NoError(t, err)
	return pair
}

func TestGenerateKeyPairProducesArmoredKeys(t *testing.T) {
	pair := generateTestPair(t, "alice")
	assert.Contains(t, pair.PublicKeyArmored, "BEGIN PGP PUBLIC KEY BLOCK")
	assert.Contains(t, pair.PrivateKeyArmored, "BEGIN PGP PRIVATE KEY BLOCK")

	other := generateTestPair(t, "alice")
	assert.NotEqual(t, pair.PrivateKeyArmored, other.PrivateKeyArmored, "two generations must not collide")
}

func TestEncryptSignDecryptVerifyRoundTrip(t *testing.T) {
	alice := generateTestPair(t, "alice")
	bob := generateTestPair(t, "bob")

	plaintexts := []string{
		"hello",
		"",
		"multi\nline\nmessage",
		"unicode ✓ émoji 🔐",
	}
	for _, plaintext := range plaintexts {
		ciphertext, err := EncryptAndSign(plaintext, bob.PublicKeyArmored, alice.PrivateKeyArmored, "")
		require.NoError(t, err)
		assert.Contains(t, ciphertext, "BEGIN PGP MESSAGE")
		assert.NotContains(t, ciphertext, plaintext)

		result, err := DecryptAndVerify(ciphertext, bob.PrivateKeyArmored, alice.PublicKeyArmored, "")
		require.NoError(t, err)
		assert.Equal(t, plaintext, result.Plaintext)
		assert.True(t, result.SignatureValid)
		assert.NotEmpty(t, result.SignerKeyID)
	}
}

func TestRoundTripWithPassphrase(t *testing.T) {
	alice, err := GenerateKeyPair("alice", "alice@test.local", "hunter2")
	require.NoError(t, err)
	bob := generateTestPair(t, "bob")

	ciphertext, err := EncryptAndSign("secret", bob.PublicKeyArmored, alice.PrivateKeyArmored, "hunter2")
	require.NoError(t, err)

	result, err := DecryptAndVerify(ciphertext, bob.PrivateKeyArmored, alice.PublicKeyArmored, "")
	require.NoError(t, err)
	assert.Equal(t, "secret", result.Plaintext)
	assert.True(t, result.SignatureValid)
}

func TestLockedKeyWithoutPassphraseFails(t *testing.T) {
	alice, err := GenerateKeyPair("alice", "alice@test.local", "hunter2")
	require.NoError(t, err)
	bob := generateTestPair(t, "bob")

	_, err = EncryptAndSign("secret", bob.PublicKeyArmored, alice.PrivateKeyArmored, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cipherchat_errors.ErrCryptoFailure))
}

func TestTamperedCiphertextRejected(t *testing.T) {
	alice := generateTestPair(t, "alice")
	bob := generateTestPair(t, "bob")

	ciphertext, err := EncryptAndSign("the payload", bob.PublicKeyArmored, alice.PrivateKeyArmored, "")
	require.NoError(t, err)

	tampered := flipArmoredByte(t, ciphertext)
	result, err := DecryptAndVerify(tampered, bob.PrivateKeyArmored, alice.PublicKeyArmored, "")
	if err == nil {
		// The only acceptable success is one flagged unverified, and
		// even then the plaintext must not have been silently altered
		// into something else that verifies.
		assert.False(t, result.SignatureValid)
	} else {
		assert.True(t,
			errors.Is(err, cipherchat_errors.ErrCryptoFailure) || errors.Is(err, cipherchat_errors.ErrSignatureInvalid),
			"unexpected error class: %v", err)
	}
}

// flipArmoredByte changes one base64 character in the armored body,
// leaving header and footer lines intact.
func flipArmoredByte(t *testing.T, armored string) string {
	t.Helper()
	lines := strings.Split(armored, "\n")
	for i := len(lines) / 2; i < len(lines); i++ {
		line := lines[i]
		if len(line) < 10 || strings.HasPrefix(line, "-----") || strings.HasPrefix(line, "=") {
			continue
		}
		pos := len(line) / 2
		replacement := byte('A')
		if line[pos] == 'A' {
			replacement = 'B'
		}
		lines[i] = line[:pos] + string(replacement) + line[pos+1:]
		return strings.Join(lines, "\n")
	}
	t.Fatal("no armored body line found to tamper with")
	return ""
}

func TestWrongRecipientKeyRejected(t *testing.T) {
	alice := generateTestPair(t, "alice")
	bob := generateTestPair(t, "bob")
	carol := generateTestPair(t, "carol")

	ciphertext, err := EncryptAndSign("for bob only", bob.PublicKeyArmored, alice.PrivateKeyArmored, "")
	require.NoError(t, err)

	result, err := DecryptAndVerify(ciphertext, carol.PrivateKeyArmored, alice.PublicKeyArmored, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cipherchat_errors.ErrCryptoFailure))
	assert.Empty(t, result.Plaintext, "wrong key must never yield plaintext")
}

func TestUnsignedMessageSurfacesSignatureInvalid(t *testing.T) {
	alice := generateTestPair(t, "alice")
	bob := generateTestPair(t, "bob")

	// Encrypt to bob without any signature, then claim it came from
	// alice. It decrypts fine but must fail authentication as a
	// distinct outcome.
	bobKey, err := pgpcrypto.NewKeyFromArmored(bob.PublicKeyArmored)
	require.NoError(t, err)
	bobRing, err := pgpcrypto.NewKeyRing(bobKey)
	require.NoError(t, err)
	unsigned, err := bobRing.Encrypt(pgpcrypto.NewPlainMessageFromString("sneaky"), nil)
	require.NoError(t, err)
	armored, err := unsigned.GetArmored()
	require.NoError(t, err)

	result, err := DecryptAndVerify(armored, bob.PrivateKeyArmored, alice.PublicKeyArmored, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cipherchat_errors.ErrSignatureInvalid))
	assert.False(t, errors.Is(err, cipherchat_errors.ErrCryptoFailure))
	assert.False(t, result.SignatureValid)
}

func TestSignerFromDifferentKeySurfacesSignatureInvalid(t *testing.T) {
	alice := generateTestPair(t, "alice")
	bob := generateTestPair(t, "bob")
	mallory := generateTestPair(t, "mallory")

	// Signed by mallory, verified against alice.
	ciphertext, err := EncryptAndSign("impersonation", bob.PublicKeyArmored, mallory.PrivateKeyArmored, "")
	require.NoError(t, err)

	result, err := DecryptAndVerify(ciphertext, bob.PrivateKeyArmored, alice.PublicKeyArmored, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cipherchat_errors.ErrSignatureInvalid))
	assert.False(t, result.SignatureValid)
}
