// Package nostr implements the signed-event envelope the card module speaks
// to holders, the card-writer authority, and the event bus: NIP-01 event
// ids/signatures, NIP-04 multi-recipient encryption, and NIP-26 delegation.
package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// MaxEventAgeSeconds bounds how old an inbound event's created_at may be
// (§4.9). Events dated in the future are not rejected by this check.
const MaxEventAgeSeconds = 180

// Tag is a single nostr tag, e.g. ["p", "<pubkey>"].
type Tag []string

// Tags is the list of an event's tags, with lookup helpers.
type Tags []Tag

// Event is a nostr signed event as transported over HTTP bodies and the
// event bus.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// Errors surfaced by the preflight (§4.9). Callers decide the HTTP status.
var (
	ErrMalformedEvent    = errors.New("malformed event")
	ErrInvalidSignature  = errors.New("invalid event signature")
	ErrInvalidDelegation = errors.New("invalid delegation")
	ErrEventTooOld       = errors.New("event is too old")
	ErrUnexpectedPubkey  = errors.New("event pubkey mismatch")
)

// CanonicalID computes the NIP-01 event id: sha256 of the canonical JSON
// serialization [0, pubkey, created_at, kind, tags, content].
func CanonicalID(pubkey string, createdAt int64, kind int, tags Tags, content string) (string, error) {
	if tags == nil {
		tags = Tags{}
	}
	arr := []interface{}{0, pubkey, createdAt, kind, tags, content}
	buf, err := json.Marshal(arr)
	if err != nil {
		return "", fmt.Errorf("failed to serialize event for id: %w", err)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}

// Sign fills in ID, PubKey, and Sig on ev using sk (32-byte hex private key).
func Sign(ev *Event, skHex string) error {
	skBytes, err := hex.DecodeString(skHex)
	if err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}
	priv, pub := btcec.PrivKeyFromBytes(skBytes)
	pubHex := hex.EncodeToString(schnorrXOnly(pub))

	id, err := CanonicalID(pubHex, ev.CreatedAt, ev.Kind, ev.Tags, ev.Content)
	if err != nil {
		return err
	}
	idBytes, err := hex.DecodeString(id)
	if err != nil {
		return err
	}

	sig, err := schnorr.Sign(priv, idBytes)
	if err != nil {
		return fmt.Errorf("failed to sign event: %w", err)
	}

	ev.ID = id
	ev.PubKey = pubHex
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

func schnorrXOnly(pub *btcec.PublicKey) []byte {
	return schnorr.SerializePubKey(pub)
}

// VerifySignature checks ev.Sig against ev.ID (recomputed) and ev.PubKey.
func VerifySignature(ev *Event) error {
	wantID, err := CanonicalID(ev.PubKey, ev.CreatedAt, ev.Kind, ev.Tags, ev.Content)
	if err != nil {
		return err
	}
	if wantID != ev.ID {
		return fmt.Errorf("%w: id mismatch", ErrMalformedEvent)
	}

	pubBytes, err := hex.DecodeString(ev.PubKey)
	if err != nil || len(pubBytes) != 32 {
		return fmt.Errorf("%w: bad pubkey", ErrMalformedEvent)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	sigBytes, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return fmt.Errorf("%w: bad sig encoding", ErrMalformedEvent)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	idBytes, err := hex.DecodeString(ev.ID)
	if err != nil {
		return fmt.Errorf("%w: bad id encoding", ErrMalformedEvent)
	}

	if !sig.Verify(idBytes, pub) {
		return ErrInvalidSignature
	}
	return nil
}

// Get returns the first tag of the given name, or nil.
func (t Tags) Get(name string) Tag {
	for _, tag := range t {
		if len(tag) > 0 && tag[0] == name {
			return tag
		}
	}
	return nil
}

// GetAll returns every tag with the given name.
func (t Tags) GetAll(name string) []Tag {
	var out []Tag
	for _, tag := range t {
		if len(tag) > 0 && tag[0] == name {
			out = append(out, tag)
		}
	}
	return out
}

// DelegationConditions is the parsed form of a NIP-26 "conditions" string:
// "kind=N&created_at>S&created_at<U".
type DelegationConditions struct {
	Kind      int
	Since     int64
	Until     int64
	Raw       string
}

// ParseDelegationConditions parses and validates the conditions query string.
func ParseDelegationConditions(raw string) (*DelegationConditions, error) {
	parts := strings.Split(raw, "&")
	var kind *int
	var since, until *int64

	for _, p := range parts {
		switch {
		case strings.HasPrefix(p, "kind="):
			v, err := strconv.Atoi(strings.TrimPrefix(p, "kind="))
			if err != nil || v <= 0 {
				return nil, fmt.Errorf("%w: bad kind condition", ErrInvalidDelegation)
			}
			kind = &v
		case strings.HasPrefix(p, "created_at>"):
			v, err := strconv.ParseInt(strings.TrimPrefix(p, "created_at>"), 10, 64)
			if err != nil || v <= 0 {
				return nil, fmt.Errorf("%w: bad since condition", ErrInvalidDelegation)
			}
			since = &v
		case strings.HasPrefix(p, "created_at<"):
			v, err := strconv.ParseInt(strings.TrimPrefix(p, "created_at<"), 10, 64)
			if err != nil || v <= 0 {
				return nil, fmt.Errorf("%w: bad until condition", ErrInvalidDelegation)
			}
			until = &v
		default:
			return nil, fmt.Errorf("%w: unrecognized condition %q", ErrInvalidDelegation, p)
		}
	}

	if kind == nil || since == nil || until == nil {
		return nil, fmt.Errorf("%w: conditions must set kind, created_at> and created_at<", ErrInvalidDelegation)
	}
	if *since >= *until {
		return nil, fmt.Errorf("%w: since must be before until", ErrInvalidDelegation)
	}

	return &DelegationConditions{Kind: *kind, Since: *since, Until: *until, Raw: raw}, nil
}

// DelegationString is the message a delegator signs: nostr:delegation:<delegatee>:<conditions>.
func DelegationString(delegateePubkey, conditions string) string {
	return "nostr:delegation:" + delegateePubkey + ":" + conditions
}

// SignDelegationToken produces the hex-encoded Schnorr signature a
// delegator issues to authorize delegateePubkey under conditions.
func SignDelegationToken(delegatorPrivHex, delegateePubkey, conditions string) (string, error) {
	skBytes, err := hex.DecodeString(delegatorPrivHex)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	priv, _ := btcec.PrivKeyFromBytes(skBytes)

	hash := sha256.Sum256([]byte(DelegationString(delegateePubkey, conditions)))
	sig, err := schnorr.Sign(priv, hash[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign delegation: %w", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// VerifyDelegation checks that tokenHex is delegatorPubkey's Schnorr
// signature over DelegationString(delegateePubkey, conditions).
func VerifyDelegation(delegatorPubkey, delegateePubkey, conditions, tokenHex string) error {
	msg := DelegationString(delegateePubkey, conditions)
	hash := sha256.Sum256([]byte(msg))

	pubBytes, err := hex.DecodeString(delegatorPubkey)
	if err != nil || len(pubBytes) != 32 {
		return fmt.Errorf("%w: bad delegator pubkey", ErrInvalidDelegation)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDelegation, err)
	}

	sigBytes, err := hex.DecodeString(tokenHex)
	if err != nil {
		return fmt.Errorf("%w: bad token encoding", ErrInvalidDelegation)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDelegation, err)
	}

	if !sig.Verify(hash[:], pub) {
		return fmt.Errorf("%w: signature does not verify", ErrInvalidDelegation)
	}
	return nil
}

// Preflight runs the §4.9 signed-event preflight: structural validity,
// signature, delegation rewrite (event.pubkey becomes the delegator), max
// age, and an optional expected-pubkey check. now is injected for testability.
func Preflight(ev *Event, expectedPubkey string, now time.Time) error {
	if ev.ID == "" || ev.PubKey == "" || ev.Sig == "" {
		return ErrMalformedEvent
	}

	if err := VerifySignature(ev); err != nil {
		return err
	}

	if delTag := ev.Tags.Get("delegation"); delTag != nil {
		if len(delTag) != 4 {
			return fmt.Errorf("%w: malformed delegation tag", ErrInvalidDelegation)
		}
		delegator, conditions, token := delTag[1], delTag[2], delTag[3]

		parsed, err := ParseDelegationConditions(conditions)
		if err != nil {
			return err
		}
		if parsed.Kind != ev.Kind {
			return fmt.Errorf("%w: kind outside delegation conditions", ErrInvalidDelegation)
		}
		if ev.CreatedAt <= parsed.Since || ev.CreatedAt >= parsed.Until {
			return fmt.Errorf("%w: created_at outside delegation conditions", ErrInvalidDelegation)
		}
		if err := VerifyDelegation(delegator, ev.PubKey, conditions, token); err != nil {
			return err
		}
		ev.PubKey = delegator
	}

	age := now.Unix() - ev.CreatedAt
	if age > MaxEventAgeSeconds {
		return ErrEventTooOld
	}

	if expectedPubkey != "" && !strings.EqualFold(ev.PubKey, expectedPubkey) {
		return ErrUnexpectedPubkey
	}

	return nil
}
