package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_NoKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "")

	content := []byte(`{"attacker_ip": "198.51.100.9"}`)
	encrypted, err := EncryptState(content)
	require.NoError(t, err)
	assert.Equal(t, content, encrypted)

	decrypted, err := DecryptState(content)
	require.NoError(t, err)
	assert.Equal(t, content, decrypted)
}

func TestEncryptDecrypt_WithKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "lab-passphrase")

	content := []byte(`{"attacker_ip": "198.51.100.9"}`)
	encrypted, err := EncryptState(content)
	require.NoError(t, err)
	assert.NotEqual(t, content, encrypted)
	assert.True(t, IsEncrypted(encrypted))

	decrypted, err := DecryptState(encrypted)
	require.NoError(t, err)
	assert.Equal(t, content, decrypted)
}

func TestDecryptState_WrongKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "correct-passphrase")
	encrypted, err := EncryptState([]byte("secret"))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "wrong-passphrase")
	_, err = DecryptState(encrypted)
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestDecryptState_Truncated(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "passphrase")

	_, err := DecryptState([]byte("# LABCTL_ENCRYPTED_STATE\nAAAA"))
	assert.ErrorIs(t, err, ErrUnreadable)

	_, err = DecryptState([]byte("# LABCTL_ENCRYPTED_STATE\n!!not base64!!"))
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestDecryptState_MissingKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "passphrase")
	encrypted, err := EncryptState([]byte("secret"))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "")
	_, err = DecryptState(encrypted)
	assert.ErrorIs(t, err, ErrKeyMissing)
	assert.ErrorContains(t, err, EncryptionKeyEnvVar)
}

func TestIsEncrypted(t *testing.T) {
	assert.True(t, IsEncrypted([]byte("# LABCTL_ENCRYPTED_STATE\nbase64data")))
	assert.False(t, IsEncrypted([]byte("{}\n")))
	assert.False(t, IsEncrypted(nil))
}
