package nostr

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lawalletio/card/internal/crypto"
)

// ErrInvalidEnvelope is returned when a NIP-04 envelope cannot be parsed or
// decrypted.
var ErrInvalidEnvelope = errors.New("invalid nip-04 envelope")

// Envelope is the module's multi-recipient NIP-04 wrapper. A single
// plaintext is encrypted once per recipient under a distinct ECDH shared
// secret, and every ciphertext travels in one JSON content payload so a
// single event can address several pubkeys (e.g. holder + card-writer).
type Envelope struct {
	EncAlgo    string      `json:"enc-algo"`
	Recipients []RecipItem `json:"recipients"`
}

// RecipItem is one recipient's ciphertext within an Envelope.
type RecipItem struct {
	Pubkey     string `json:"pubkey"`
	Ciphertext string `json:"ciphertext"`
}

// EncryptMany builds a multi-recipient envelope: plaintext encrypted once
// per recipient pubkey under senderPrivHex's shared secret with each.
func EncryptMany(senderPrivHex string, recipientPubkeys []string, plaintext string) (*Envelope, error) {
	if len(recipientPubkeys) == 0 {
		return nil, errors.New("nip-04: at least one recipient is required")
	}

	env := &Envelope{EncAlgo: "nip-04", Recipients: make([]RecipItem, 0, len(recipientPubkeys))}
	for _, pub := range recipientPubkeys {
		ct, err := encryptOne(senderPrivHex, pub, plaintext)
		if err != nil {
			return nil, fmt.Errorf("nip-04: encrypting for %s: %w", pub, err)
		}
		env.Recipients = append(env.Recipients, RecipItem{Pubkey: pub, Ciphertext: ct})
	}
	return env, nil
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
	ct, err := crypto.EncryptCBC(key, iv, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// DecryptFor decrypts the envelope entry addressed to recipientPubHex,
// using recipientPrivHex to re-derive the shared secret with senderPubHex.
func DecryptFor(env *Envelope, recipientPrivHex, senderPubHex, recipientPubHex string) (string, error) {
	var item *RecipItem
	for i := range env.Recipients {
		if strings.EqualFold(env.Recipients[i].Pubkey, recipientPubHex) {
			item = &env.Recipients[i]
			break
		}
	}
	if item == nil {
		return "", fmt.Errorf("%w: no entry for recipient", ErrInvalidEnvelope)
	}

	shared, err := crypto.SharedSecret(recipientPrivHex, senderPubHex)
	if err != nil {
		return "", err
	}
	key := sha256Key(shared)

	parts := strings.SplitN(item.Ciphertext, "?iv=", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: missing iv", ErrInvalidEnvelope)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding", ErrInvalidEnvelope)
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: bad iv encoding", ErrInvalidEnvelope)
	}

	pt, err := crypto.DecryptCBC(key, iv, ct)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return string(pt), nil
}

// ParseEnvelope parses an event's content field as a multi-recipient
// envelope. Falls back to a single-recipient classic NIP-04 string
// ("ciphertext?iv=...") addressed to singleRecipientPubkey when content is
// not a JSON envelope, matching how a plain NIP-04 DM looks on the wire.
func ParseEnvelope(content string, singleRecipientPubkey string) (*Envelope, error) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") {
		var env Envelope
		if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		if env.EncAlgo != "nip-04" || len(env.Recipients) == 0 {
			return nil, fmt.Errorf("%w: missing enc-algo or recipients", ErrInvalidEnvelope)
		}
		return &env, nil
	}

	if singleRecipientPubkey == "" {
		return nil, fmt.Errorf("%w: plain nip-04 content requires a known recipient", ErrInvalidEnvelope)
	}
	return &Envelope{
		EncAlgo:    "nip-04",
		Recipients: []RecipItem{{Pubkey: singleRecipientPubkey, Ciphertext: trimmed}},
	}, nil
}

// Marshal serializes the envelope the way EncryptMany's caller puts it into
// Event.Content.
func (e *Envelope) Marshal() (string, error) {
	buf, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func sha256Key(shared []byte) []byte {
	sum := sha256.Sum256(shared)
	return sum[:]
}
