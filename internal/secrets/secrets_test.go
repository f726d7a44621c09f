package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher("not-a-hex-key")
	require.NoError(t, err)

	for _, plaintext := range []string{
		"",
		"bridge-password",
		"unicode ✓ пароль 密码",
		strings.Repeat("x", 4096),
	} {
		env, err := c.Encrypt(plaintext)
		require.NoError(t, err)

		got, err := c.Decrypt(env)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestHexKeyAccepted(t *testing.T) {
	hexKey := strings.Repeat("ab", 32)
	c1, err := NewCipher(hexKey)
	require.NoError(t, err)

	env, err := c1.Encrypt("secret")
	require.NoError(t, err)

	// Same hex key decrypts.
	c2, err := NewCipher(hexKey)
	require.NoError(t, err)
	got, err := c2.Decrypt(env)
	require.NoError(t, err)
	assert.Equal(t, "secret", got)

	// A different key fails authentication.
	c3, err := NewCipher("other-key")
	require.NoError(t, err)
	_, err = c3.Decrypt(env)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestEnvelopeShape(t *testing.T) {
	c, err := NewCipher("k")
	require.NoError(t, err)

	env, err := c.Encrypt("payload")
	require.NoError(t, err)

	// 16-byte IV and 16-byte tag, hex encoded.
	assert.Len(t, env.IV, 32)
	assert.Len(t, env.Tag, 32)
	assert.NotEmpty(t, env.Encrypted)
}

func TestDecryptRejectsTampering(t *testing.T) {
	c, err := NewCipher("k")
	require.NoError(t, err)

	env, err := c.Encrypt("payload")
	require.NoError(t, err)

	tampered := *env
	tampered.Tag = strings.Repeat("00", 16)
	_, err = c.Decrypt(&tampered)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	malformed := *env
	malformed.IV = "zz"
	_, err = c.Decrypt(&malformed)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
}
