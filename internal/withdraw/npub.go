package withdraw

import (
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

var hex64Pattern = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)

// decodePubkey accepts either a hex-64 pubkey or a NIP-19 bech32 npub1...
// and returns the hex-64 form, per spec.md §4.7's extended-pay body.
func decodePubkey(raw string) (string, error) {
	if hex64Pattern.MatchString(raw) {
		return raw, nil
	}

	hrp, data, err := bech32.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("%w: malformed pubkey", ErrUnprocessable)
	}
	if hrp != "npub" {
		return "", fmt.Errorf("%w: unexpected bech32 prefix %q", ErrUnprocessable, hrp)
	}

	converted, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("%w: malformed npub payload", ErrUnprocessable)
	}
	if len(converted) != 32 {
		return "", fmt.Errorf("%w: npub payload wrong length", ErrUnprocessable)
	}

	return hex.EncodeToString(converted), nil
}
