//go:build integration

package lifecycle

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) (privHex, pubHex string) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	privHex = hex.EncodeToString(priv.Serialize())
	pubHex = hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
	return
}

type fakeBus struct {
	published [][]byte
}

func (b *fakeBus) Publish(_ context.Context, _ string, data []byte) (string, error) {
	b.published = append(b.published, data)
	return "0", nil
}
