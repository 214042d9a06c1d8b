package crypto

import (
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
)

// SharedSecret returns the NIP-04 ECDH shared secret: the raw x coordinate
// of privkey * pubkey (unhashed; callers derive the AES key from it), where
// pubkey is a 32-byte x-only nostr public key reinterpreted as a compressed
// secp256k1 point (0x02 prefix).
func SharedSecret(privHex, pubHex string) ([]byte, error) {
	privBytes, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, errors.New("invalid private key hex")
	}
	priv, _ := btcec.PrivKeyFromBytes(privBytes)

	pubBytes, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, errors.New("invalid public key hex")
	}
	if len(pubBytes) != 32 {
		return nil, errors.New("public key must be 32 bytes (x-only)")
	}
	compressed := append([]byte{0x02}, pubBytes...)
	pub, err := btcec.ParsePubKey(compressed)
	if err != nil {
		return nil, err
	}

	return btcec.GenerateSharedSecret(priv, pub), nil
}
