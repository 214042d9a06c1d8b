// Package crypto provides the low-level primitives the tap-authentication and
// encrypted-config protocols are built from: raw AES-128-CBC (SUN PICC
// decryption), AES-CMAC (SDMMAC), AES-256-CBC envelopes (NIP-04), and the
// secp256k1 ECDH shared secret the nostr layer's NIP-04 encryption is keyed
// from. Schnorr signing lives in internal/nostr, not here.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"

	"github.com/aead/cmac"
)

const (
	// KeySize is the NIP-04 envelope key size (AES-256).
	KeySize = 32
	// NTAGKeySize is the size of each of the five NTAG 424 AES keys.
	NTAGKeySize = 16
)

// DecryptCBCNoPadding decrypts data with AES-CBC and no padding removal. The
// SUN PICC blob is fixed-length and was never padded by the tag, so stripping
// PKCS7 would corrupt it.
func DecryptCBCNoPadding(key, iv, ciphertext []byte) ([]byte, error) {
	if len(key) != NTAGKeySize {
		return nil, errors.New("key must be 16 bytes long")
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not a multiple of the block size")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plaintext, ciphertext)
	return plaintext, nil
}

// EncryptCBCNoPadding encrypts a single exact-multiple-of-block-size
// plaintext with AES-CBC and no padding. Used by test/provisioning tooling
// to build the PICC blob a genuine NTAG 424 DNA tag would have produced.
func EncryptCBCNoPadding(key, iv, plaintext []byte) ([]byte, error) {
	if len(key) != NTAGKeySize {
		return nil, errors.New("key must be 16 bytes long")
	}
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, errors.New("plaintext is not a multiple of the block size")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	ciphertext := make([]byte, len(plaintext))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, plaintext)
	return ciphertext, nil
}

// CMAC computes AES-CMAC(key, message) per NIST SP 800-38B.
func CMAC(key, message []byte) ([]byte, error) {
	h, err := cmac.New(aes.NewCipher, key)
	if err != nil {
		return nil, err
	}
	if _, err := h.Write(message); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// GenerateRandomKey returns n cryptographically random bytes, used to mint the
// per-card NTAG keys k0, k2, k3, k4 at Initialize time.
func GenerateRandomKey(n int) ([]byte, error) {
	key := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncryptCBC encrypts plaintext with AES-CBC, PKCS7 padding, and a caller
// supplied (random, per NIP-04) IV. Returns ciphertext only; the caller
// transports the IV alongside it.
func EncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, errors.New("key must be 32 bytes long")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, errors.New("iv must be 16 bytes long")
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

// DecryptCBC decrypts an AES-CBC/PKCS7 ciphertext produced by EncryptCBC.
func DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, errors.New("key must be 32 bytes long")
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not a multiple of the block size")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, errors.New("iv must be 16 bytes long")
	}

	plaintext := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plaintext, ciphertext)
	return pkcs7Unpad(plaintext)
}

// RandomIV returns a fresh random 16-byte CBC initialization vector.
func RandomIV() ([]byte, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	return iv, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("cannot unpad empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) || padLen > aes.BlockSize {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
