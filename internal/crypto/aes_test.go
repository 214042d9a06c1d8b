package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCBCRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	iv, err := RandomIV()
	require.NoError(t, err)

	plaintext := []byte("a nip-04 message of arbitrary length")
	ciphertext, err := EncryptCBC(key, iv, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := DecryptCBC(key, iv, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptCBCNoPaddingIsExactLength(t *testing.T) {
	key := make([]byte, NTAGKeySize)
	iv := make([]byte, 16)
	ciphertext := make([]byte, 16)
	out, err := DecryptCBCNoPadding(key, iv, ciphertext)
	require.NoError(t, err)
	assert.Len(t, out, 16)
}

func TestCMACIsDeterministicAndSixteenBytes(t *testing.T) {
	key, err := hex.DecodeString("2b7e151628aed2a6abf7158809cf4f3c")
	require.NoError(t, err)

	mac1, err := CMAC(key, []byte{})
	require.NoError(t, err)
	assert.Len(t, mac1, 16)

	mac2, err := CMAC(key, []byte{})
	require.NoError(t, err)
	assert.Equal(t, mac1, mac2)

	mac3, err := CMAC(key, []byte("non-empty"))
	require.NoError(t, err)
	assert.NotEqual(t, mac1, mac3)
}

func TestGenerateRandomKeyLength(t *testing.T) {
	k, err := GenerateRandomKey(NTAGKeySize)
	require.NoError(t, err)
	assert.Len(t, k, NTAGKeySize)

	k2, err := GenerateRandomKey(NTAGKeySize)
	require.NoError(t, err)
	assert.NotEqual(t, k, k2)
}
