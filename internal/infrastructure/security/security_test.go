package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateSecureKey(64)
	require.NoError(t, err)
	require.Len(t, key, 64)

	plaintext := `{"type":"exact_match","userIds":["u1","u2"]}`
	ciphertext, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := Decrypt(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptUniqueNonce(t *testing.T) {
	key, err := GenerateSecureKey(64)
	require.NoError(t, err)

	first, err := Encrypt("evidence", key)
	require.NoError(t, err)
	second, err := Encrypt("evidence", key)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key, err := GenerateSecureKey(64)
	require.NoError(t, err)
	other, err := GenerateSecureKey(64)
	require.NoError(t, err)

	ciphertext, err := Encrypt("evidence", key)
	require.NoError(t, err)

	_, err = Decrypt(ciphertext, other)
	require.Error(t, err)
}

func TestEncryptRejectsBadKey(t *testing.T) {
	_, err := Encrypt("evidence", "")
	require.Error(t, err)

	_, err = Encrypt("evidence", "short")
	require.Error(t, err)
}

func TestServiceTokenRoundTrip(t *testing.T) {
	secret := "test-jwt-secret"

	token, err := GenerateServiceToken("bot", secret, time.Hour)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "bot", ServiceFromClaims(claims))
}

func TestValidateJWTRejectsWrongSecret(t *testing.T) {
	token, err := GenerateServiceToken("bot", "right-secret", time.Hour)
	require.NoError(t, err)

	_, err = ValidateJWT(token, "wrong-secret")
	require.Error(t, err)
}

func TestValidateJWTRejectsExpired(t *testing.T) {
	token, err := GenerateServiceToken("bot", "secret", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateJWT(token, "secret")
	require.Error(t, err)
}

func TestGenerateULID(t *testing.T) {
	first := GenerateULID()
	second := GenerateULID()

	assert.Len(t, first, 26)
	assert.NotEqual(t, first, second)
}
