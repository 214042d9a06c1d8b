// Package configchannel implements the Encrypted Config Channel (C6): the
// card-data and card-config document shapes, the multi-recipient NIP-04
// envelope the wallet expects them wrapped in, and the inbound
// card-config-change apply path.
package configchannel

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lawalletio/card/internal/crypto"
)

// ErrInvalidEnvelope is returned when an inbound envelope cannot be
// decrypted for the given recipient.
var ErrInvalidEnvelope = errors.New("invalid config-channel envelope")

// envelopeWire is the exact canonical serialization spec.md §4.6 mandates:
// parallel ciphertext/recipient arrays rather than paired objects (the shape
// differs from internal/nostr's NIP-04 Envelope, which this module's own
// outbound scan/pay events use instead — see DESIGN.md).
type envelopeWire struct {
	EncAlgo    string   `json:"enc-algo"`
	Ciphertext []string `json:"ciphertext"`
	Recipients []string `json:"recipients"`
}

// Encrypt builds the §4.6 multi-recipient envelope JSON: plaintext is
// NIP-04-encrypted independently to each of recipients with senderPrivHex.
func Encrypt(senderPrivHex string, recipients []string, plaintext string) (string, error) {
	wire := envelopeWire{EncAlgo: "nip-04", Ciphertext: make([]string, len(recipients)), Recipients: append([]string{}, recipients...)}

	for i, recipient := range recipients {
		ct, err := encryptOne(senderPrivHex, recipient, plaintext)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt for recipient %s: %w", recipient, err)
		}
		wire.Ciphertext[i] = ct
	}

	buf, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("failed to serialize envelope: %w", err)
	}
	return string(buf), nil
}

func encryptOne(senderPrivHex, recipientPubHex, plaintext string) (string, error) {
	shared, err := crypto.SharedSecret(senderPrivHex, recipientPubHex)
	if err != nil {
		return "", err
	}
	key := sha256Key(shared)

	iv, err := crypto.RandomIV()
	if err != nil {
		return "", err
	}

	ciphertext, err := crypto.EncryptCBC(key, iv, []byte(plaintext))
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(ciphertext) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// Decrypt recovers plaintext from an envelope built by Encrypt, using
// recipientPrivHex and the sender's public key. recipientPubHex identifies
// which of the envelope's parallel ciphertext/recipient entries to use.
func Decrypt(content, recipientPrivHex, senderPubHex, recipientPubHex string) (string, error) {
	var wire envelopeWire
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		return "", fmt.Errorf("%w: not a json envelope", ErrInvalidEnvelope)
	}
	if wire.EncAlgo != "nip-04" || len(wire.Ciphertext) != len(wire.Recipients) {
		return "", fmt.Errorf("%w: malformed shape", ErrInvalidEnvelope)
	}

	idx := -1
	for i, r := range wire.Recipients {
		if r == recipientPubHex {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", fmt.Errorf("%w: not a recipient", ErrInvalidEnvelope)
	}

	plaintext, err := decryptOne(recipientPrivHex, senderPubHex, wire.Ciphertext[idx])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return plaintext, nil
}

func decryptOne(recipientPrivHex, senderPubHex, ciphertextField string) (string, error) {
	ctB64, ivB64, ok := splitCiphertextField(ciphertextField)
	if !ok {
		return "", errors.New("malformed ciphertext field")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ctB64)
	if err != nil {
		return "", err
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return "", err
	}

	shared, err := crypto.SharedSecret(recipientPrivHex, senderPubHex)
	if err != nil {
		return "", err
	}
	key := sha256Key(shared)

	plaintext, err := crypto.DecryptCBC(key, iv, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func splitCiphertextField(field string) (ct, iv string, ok bool) {
	const marker = "?iv="
	idx := -1
	for i := 0; i+len(marker) <= len(field); i++ {
		if field[i:i+len(marker)] == marker {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", "", false
	}
	return field[:idx], field[idx+len(marker):], true
}

func sha256Key(shared []byte) []byte {
	h := sha256.Sum256(shared)
	return h[:]
}
