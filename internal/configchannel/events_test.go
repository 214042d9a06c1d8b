package configchannel

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
)

func TestBuildCardDataEventIsSignedAndDecryptableByHolder(t *testing.T) {
	modulePriv, modulePub := newKey(t)
	holderPriv, holderPub := newKey(t)

	doc := CardDataDocument{
		"card-uuid-1": {Design: DesignSummary{UUID: "design-1", Name: "To the moon", Description: "classic"}},
	}

	ev, err := BuildCardDataEvent(modulePriv, modulePub, holderPub, doc, time.Unix(1700000000, 0))
	require.NoError(t, err)
	require.NoError(t, nostr.VerifySignature(ev))
	assert.Equal(t, "card-data", ev.Tags.Get("t")[1])

	plaintext, err := Decrypt(ev.Content, holderPriv, modulePub, holderPub)
	require.NoError(t, err)
	assert.Contains(t, plaintext, "To the moon")
}

func TestBuildAndParseCardConfigChangeRoundTrips(t *testing.T) {
	modulePriv, modulePub := newKey(t)
	holderPriv, holderPub := newKey(t)
	_, merchantPub := newKey(t)

	doc := CardConfigDocument{
		TrustedMerchants: []MerchantRef{{Pubkey: merchantPub}},
		Cards: map[string]CardConfigEntry{
			"card-uuid-1": {
				Name: "My card", Description: "daily spending", Status: "ENABLED",
				Limits: []LimitEntry{{Name: "daily", Description: "daily cap", Token: "BTC", Amount: 100000, Delta: 86400}},
			},
		},
	}
	plaintextDocBytes, err := json.Marshal(doc)
	require.NoError(t, err)
	plaintextDoc := string(plaintextDocBytes)

	content, err := Encrypt(holderPriv, []string{modulePub}, plaintextDoc)
	require.NoError(t, err)

	ev := &nostr.Event{
		CreatedAt: time.Now().Unix(),
		Kind:      KindConfigChange,
		Tags:      nostr.Tags{{"t", "card-config-change"}, {"p", modulePub}},
		Content:   content,
	}
	require.NoError(t, nostr.Sign(ev, holderPriv))

	cfg, err := ParseConfigChange(ev, modulePriv, modulePub)
	require.NoError(t, err)
	assert.Equal(t, []string{merchantPub}, cfg.TrustedMerchants)

	entry, ok := cfg.Cards["card-uuid-1"]
	require.True(t, ok)
	assert.Equal(t, registry.CardEnabled, registry.CardStatus(*entry.Status))
	require.Len(t, entry.Limits, 1)
	assert.Equal(t, "BTC", entry.Limits[0].Token)
}
