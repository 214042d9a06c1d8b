// Package sun implements the NTAG 424 DNA SUN Verifier (C1): it decrypts
// the PICC datagram carried in the `p` query parameter, recomputes the
// SDMMAC carried in `c`, enforces counter monotonicity, and atomically
// persists the new counter.
package sun

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lawalletio/card/internal/crypto"
	"github.com/lawalletio/card/internal/registry"
)

var (
	ErrMalformedPLength    = errors.New("malformed p: wrong length")
	ErrMalformedPPrefix    = errors.New("malformed p: bad prefix")
	ErrMalformedPCtrTooOld = errors.New("malformed p: counter did not advance")
	ErrMalformedCLength    = errors.New("malformed c: wrong length")
	ErrMalformedCSDMMAC    = errors.New("malformed c: sdmmac mismatch")
	ErrNotFound            = errors.New("ntag not found")
)

var (
	pPattern = regexp.MustCompile(`^[A-F0-9]{32}$`)
	cPattern = regexp.MustCompile(`^[A-F0-9]{16}$`)
)

// sv2Prefix is the fixed 6-byte SV2 session-vector constant the NTAG 424
// DNA silicon prepends before the (cid || ctr) payload when deriving the
// SDMMAC session key.
var sv2Prefix = []byte{0x3C, 0xC3, 0x00, 0x01, 0x00, 0x80}

// Verifier runs C1 against the registry, using the module-wide k1.
type Verifier struct {
	store    *registry.Store
	moduleK1 string
}

// New constructs a Verifier bound to store and the module's AES k1 (hex).
func New(store *registry.Store, moduleK1Hex string) *Verifier {
	return &Verifier{store: store, moduleK1: moduleK1Hex}
}

// Result is the successful outcome of Verify.
type Result struct {
	NTAG   *registry.NTAG
	NewCtr int64
}

// Verify runs the full SUN/SDMMAC check for (p, c) and, on success,
// atomically advances the NTAG's counter.
func (v *Verifier) Verify(ctx context.Context, p, c string) (*Result, error) {
	if !pPattern.MatchString(p) {
		return nil, ErrMalformedPLength
	}
	if !cPattern.MatchString(c) {
		return nil, ErrMalformedCLength
	}

	moduleKey, err := hex.DecodeString(v.moduleK1)
	if err != nil {
		return nil, fmt.Errorf("invalid module k1 configuration: %w", err)
	}

	pBytes, err := hex.DecodeString(p)
	if err != nil {
		return nil, ErrMalformedPLength
	}

	zeroIV := make([]byte, 16)
	plain, err := crypto.DecryptCBCNoPadding(moduleKey, zeroIV, pBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt picc data: %w", err)
	}
	if len(plain) < 11 {
		return nil, ErrMalformedPLength
	}

	if plain[0] != 0xC7 {
		return nil, ErrMalformedPPrefix
	}

	cidBytes := plain[1:8]
	ctrBytes := plain[8:11]
	ctrNew := int64(ctrBytes[2])<<16 | int64(ctrBytes[1])<<8 | int64(ctrBytes[0])
	cid := hex.EncodeToString(cidBytes)

	ntag, err := v.store.GetNTAGByCidAndK1(ctx, cid, v.moduleK1)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up ntag: %w", err)
	}

	if ctrNew <= ntag.Ctr {
		return nil, ErrMalformedPCtrTooOld
	}

	sdmmac, err := computeSDMMAC(ntag.K2, cidBytes, ctrBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to compute sdmmac: %w", err)
	}
	if !strings.EqualFold(sdmmac, c) {
		return nil, ErrMalformedCSDMMAC
	}

	advanced, err := v.store.UpdateCounterConditional(ctx, cid, ctrNew)
	if err != nil {
		return nil, fmt.Errorf("failed to persist counter: %w", err)
	}
	if !advanced {
		return nil, ErrMalformedPCtrTooOld
	}

	return &Result{NTAG: ntag, NewCtr: ctrNew}, nil
}

// computeSDMMAC implements the double-layer CMAC (session-key derivation
// over an empty message, then odd-byte compression to 8 bytes) mandated by
// spec.md's Open Questions resolution.
func computeSDMMAC(k2Hex string, cidBytes, ctrBytes []byte) (string, error) {
	k2, err := hex.DecodeString(k2Hex)
	if err != nil {
		return "", fmt.Errorf("invalid ntag k2: %w", err)
	}

	sv2 := make([]byte, 0, len(sv2Prefix)+len(cidBytes)+len(ctrBytes))
	sv2 = append(sv2, sv2Prefix...)
	sv2 = append(sv2, cidBytes...)
	sv2 = append(sv2, ctrBytes...)

	sessionKey, err := crypto.CMAC(k2, sv2)
	if err != nil {
		return "", err
	}

	mac, err := crypto.CMAC(sessionKey, []byte{})
	if err != nil {
		return "", err
	}
	if len(mac) != 16 {
		return "", errors.New("unexpected cmac length")
	}

	tag := make([]byte, 8)
	for i := 0; i < 8; i++ {
		tag[i] = mac[2*i+1]
	}
	return hex.EncodeToString(tag), nil
}

// GeneratePC is the inverse of Verify used by tests and card-provisioning
// tooling: given a card's k2, cid, and counter, produce the (p, c) pair a
// genuine tag would emit. pad is appended after the counter to fill the
// PICC data block before encryption (the real tag pads with additional
// SUN metadata; callers pass whatever the test fixture needs).
func GeneratePC(moduleK1Hex, k2Hex, cid string, ctr int64, pad []byte) (p string, c string, err error) {
	moduleKey, err := hex.DecodeString(moduleK1Hex)
	if err != nil {
		return "", "", fmt.Errorf("invalid module k1: %w", err)
	}
	cidBytes, err := hex.DecodeString(cid)
	if err != nil || len(cidBytes) != 7 {
		return "", "", fmt.Errorf("invalid cid: %w", err)
	}

	ctrBytes := []byte{byte(ctr), byte(ctr >> 8), byte(ctr >> 16)}

	plain := make([]byte, 0, 1+7+3+len(pad))
	plain = append(plain, 0xC7)
	plain = append(plain, cidBytes...)
	plain = append(plain, ctrBytes...)
	plain = append(plain, pad...)
	for len(plain) < 16 {
		plain = append(plain, 0)
	}
	plain = plain[:16]

	zeroIV := make([]byte, 16)
	cipherBytes, err := crypto.EncryptCBCNoPadding(moduleKey, zeroIV, plain)
	if err != nil {
		return "", "", err
	}

	sdmmac, err := computeSDMMAC(k2Hex, cidBytes, ctrBytes)
	if err != nil {
		return "", "", err
	}

	return strings.ToUpper(hex.EncodeToString(cipherBytes)), strings.ToUpper(sdmmac), nil
}
