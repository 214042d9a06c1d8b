// Package suuid encodes/decodes the short uuid form used in payment-request
// identifiers and LNURL-withdraw k1 values: a 22-character base64url
// rendering of a v4 UUID's 16 raw bytes.
package suuid

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidSUUID is returned when a string is not a well-formed suuid.
var ErrInvalidSUUID = errors.New("invalid suuid")

// New generates a fresh v4 UUID and returns its suuid form.
func New() (string, uuid.UUID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("generating uuid: %w", err)
	}
	return FromUUID(u), u, nil
}

// FromUUID encodes u as its 22-character suuid.
func FromUUID(u uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString(u[:])
}

// ToUUID decodes a suuid back into its source UUID.
func ToUUID(s string) (uuid.UUID, error) {
	if len(s) != 22 {
		return uuid.Nil, fmt.Errorf("%w: must be 22 characters", ErrInvalidSUUID)
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidSUUID, err)
	}
	if len(raw) != 16 {
		return uuid.Nil, fmt.Errorf("%w: decodes to %d bytes, want 16", ErrInvalidSUUID, len(raw))
	}
	var u uuid.UUID
	copy(u[:], raw)
	return u, nil
}
