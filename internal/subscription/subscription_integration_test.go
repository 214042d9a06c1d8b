//go:build integration

package subscription

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawalletio/card/internal/configchannel"
	"github.com/lawalletio/card/internal/lifecycle"
	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
	"github.com/lawalletio/card/internal/sun"
)

const testModuleK1 = "000102030405060708090a0b0c0d0e0f"

func newKey(t *testing.T) (privHex, pubHex string) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	privHex = hex.EncodeToString(priv.Serialize())
	pubHex = hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
	return
}

// fakeQueue drives Consume by replaying a fixed list of (messageID, data)
// pairs synchronously into the handler, once, then returning.
type fakeQueue struct {
	declared   []string
	deliveries [][2][]byte
}

func (q *fakeQueue) DeclareStream(_ context.Context, stream, group string) error {
	q.declared = append(q.declared, stream+"/"+group)
	return nil
}

func (q *fakeQueue) Consume(ctx context.Context, _, _, _ string, handler func(messageID string, data []byte) error) error {
	for _, d := range q.deliveries {
		if err := handler(string(d[0]), d[1]); err != nil {
			return err
		}
	}
	return nil
}

func seedHolderWithCard(t *testing.T, store *registry.Store, holderPub, modulePub, cid string, now time.Time) {
	t.Helper()
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `INSERT INTO designs (uuid, name, description) VALUES ($1, $2, $3)`,
		uuid.NewString(), "subscription-test-design", "seeded by subscription integration test")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	_, err = store.CreateNTAG(ctx, cid, 0, testModuleK1, registry.DesignRef{Name: "subscription-test-design"})
	require.NoError(t, err)

	require.NoError(t, store.UpsertHolder(ctx, holderPub, registry.NewDelegation{
		DelegatorPubKey: holderPub,
		Conditions:      "kind=1112",
		DelegationToken: "unused-in-this-test",
		Since:           now.Add(-time.Minute).Unix(),
		Until:           now.Add(24 * time.Hour).Unix(),
	}, nil))

	_, err = store.CreateCard(ctx, cid, holderPub, "classic", "classic card", []registry.DefaultLimit{
		{Name: "daily", Description: "daily limit", Token: "BTC", Amount: 100000, Delta: 86400},
	})
	require.NoError(t, err)
}

func buildConfigChangeEvent(t *testing.T, holderPriv, holderPub, modulePub string, doc configchannel.CardConfigDocument, now time.Time) *nostr.Event {
	t.Helper()
	plaintext, err := json.Marshal(doc)
	require.NoError(t, err)
	content, err := configchannel.Encrypt(holderPriv, []string{modulePub}, string(plaintext))
	require.NoError(t, err)

	ev := &nostr.Event{
		PubKey:    holderPub,
		CreatedAt: now.Unix(),
		Kind:      KindConfigChange,
		Tags:      nostr.Tags{{"t", "card-config-change"}, {"p", modulePub}},
		Content:   content,
	}
	require.NoError(t, nostr.Sign(ev, holderPriv))
	return ev
}

func TestLoopDispatchesConfigChangeAndAdvancesWatermark(t *testing.T) {
	store := registry.SetupTestStore(t)
	defer registry.TruncateAll(t, store)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	modulePriv, modulePub := newKey(t)
	holderPriv, holderPub := newKey(t)
	cid := "f0da0000000c0de"

	seedHolderWithCard(t, store, holderPub, modulePub, cid, now)

	orch := lifecycle.New(store, sun.New(store, testModuleK1), &noopBus{}, nil, lifecycle.Config{
		ModuleK1Hex:   testModuleK1,
		ModulePrivHex: modulePriv,
		ModulePubHex:  modulePub,
		OutboxStream:  "card.outbox",
	})

	doc := configchannel.CardConfigDocument{
		TrustedMerchants: []configchannel.MerchantRef{},
		Cards: map[string]configchannel.CardConfigEntry{},
	}
	ev := buildConfigChangeEvent(t, holderPriv, holderPub, modulePub, doc, now)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	q := &fakeQueue{deliveries: [][2][]byte{{[]byte("1-0"), raw}}}

	group := "card-config-change-loop"
	loop := New(store, q, Config{
		Stream:       "card.inbox",
		Group:        group,
		Consumer:     "worker-1",
		ModulePubHex: modulePub,
	}, map[string]Handler{
		"card-config-change": orch.ApplyConfigChange,
	}, func() time.Time { return now })

	require.NoError(t, loop.Run(ctx))
	assert.Len(t, q.declared, 1)

	watermark, err := store.GetWatermark(ctx, group)
	require.NoError(t, err)
	assert.Equal(t, ev.CreatedAt, watermark)
}

func TestLoopSkipsEventsNotAddressedToModule(t *testing.T) {
	store := registry.SetupTestStore(t)
	defer registry.TruncateAll(t, store)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	_, modulePub := newKey(t)
	_, otherPub := newKey(t)
	holderPriv, holderPub := newKey(t)

	ev := &nostr.Event{
		PubKey:    holderPub,
		CreatedAt: now.Unix(),
		Kind:      KindConfigChange,
		Tags:      nostr.Tags{{"t", "card-config-change"}, {"p", otherPub}},
		Content:   "irrelevant",
	}
	require.NoError(t, nostr.Sign(ev, holderPriv))
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	called := false
	q := &fakeQueue{deliveries: [][2][]byte{{[]byte("1-0"), raw}}}
	group := "card-config-change-loop-2"
	loop := New(store, q, Config{
		Stream:       "card.inbox",
		Group:        group,
		Consumer:     "worker-1",
		ModulePubHex: modulePub,
	}, map[string]Handler{
		"card-config-change": func(context.Context, *nostr.Event, time.Time) error {
			called = true
			return nil
		},
	}, func() time.Time { return now })

	require.NoError(t, loop.Run(ctx))
	assert.False(t, called)

	watermark, err := store.GetWatermark(ctx, group)
	require.NoError(t, err)
	assert.Zero(t, watermark)
}

type noopBus struct{}

func (noopBus) Publish(_ context.Context, _ string, _ []byte) (string, error) { return "0", nil }
