//go:build integration

package withdraw

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type fakeInvoiceDecoder struct {
	invoice *Invoice
}

func (f *fakeInvoiceDecoder) DecodeInvoice(_ context.Context, _ string) (*Invoice, error) {
	return f.invoice, nil
}

type fakeBalanceFetcher struct {
	balances map[string]int64
}

func (f *fakeBalanceFetcher) Balance(_ context.Context, _ string, tokens []string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, t := range tokens {
		out[t] = f.balances[t]
	}
	return out, nil
}

type fakeBus struct {
	published [][]byte
}

func (b *fakeBus) Publish(_ context.Context, _ string, data []byte) (string, error) {
	b.published = append(b.published, data)
	return "0", nil
}

func seedActivatedCard(t *testing.T, store *registry.Store, cid, holderPriv, holderPub, modulePub string, now time.Time) *registry.Card {
	t.Helper()
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `INSERT INTO designs (uuid, name, description) VALUES ($1, $2, $3)`,
		uuid.NewString(), "withdraw-test-design", "seeded by withdraw integration test")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	_, err = store.CreateNTAG(ctx, cid, 0, testModuleK1, registry.DesignRef{Name: "withdraw-test-design"})
	require.NoError(t, err)
	require.NoError(t, store.SetOTC(ctx, cid, "OTC-"+cid))

	since := now.Add(-time.Minute).Unix()
	until := now.Add(365 * 24 * time.Hour).Unix()
	conditions := "kind=1112&created_at>" + strconv.FormatInt(since, 10) + "&created_at<" + strconv.FormatInt(until, 10)
	token, err := nostr.SignDelegationToken(holderPriv, modulePub, conditions)
	require.NoError(t, err)

	require.NoError(t, store.UpsertHolder(ctx, holderPub, registry.NewDelegation{
		DelegatorPubKey: holderPub,
		Conditions:      conditions,
		DelegationToken: token,
		Since:           since,
		Until:           until,
	}, nil))

	card, err := store.CreateCard(ctx, cid, holderPub, "classic", "classic card", []registry.DefaultLimit{
		{Name: "daily", Description: "daily limit", Token: "BTC", Amount: 100000, Delta: 86400},
	})
	require.NoError(t, err)
	return card
}

func TestStandardScanThenPay(t *testing.T) {
	store := registry.SetupTestStore(t)
	defer registry.TruncateAll(t, store)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	modulePriv, modulePub := newKey(t)
	holderPriv, holderPub := newKey(t)
	cid := "f0da000000cafe"

	card := seedActivatedCard(t, store, cid, holderPriv, holderPub, modulePub, now)

	bus := &fakeBus{}
	decoder := &fakeInvoiceDecoder{invoice: &Invoice{AmountMsat: 1000}}
	balances := &fakeBalanceFetcher{balances: map[string]int64{"BTC": 50000}}

	d := New(store, sun.New(store, testModuleK1), decoder, balances, bus, Config{
		BaseURL:              "https://card.lawallet.ar",
		ModulePrivHex:        modulePriv,
		ModulePubHex:         modulePub,
		LedgerPubKey:         "ledger-pub",
		BtcGatewayPubKey:     "gateway-pub",
		PaymentRequestExpiry: 10 * time.Minute,
		OutboxStream:         "card.outbox",
	})

	ntag, err := store.GetNTAGByCid(ctx, cid)
	require.NoError(t, err)
	p, c, err := sun.GeneratePC(testModuleK1, ntag.K2, cid, 1, nil)
	require.NoError(t, err)

	scanResp, err := d.Scan(ctx, p, c, "", nil, now)
	require.NoError(t, err)
	standard, ok := scanResp.(*StandardScanResponse)
	require.True(t, ok)
	assert.Equal(t, "withdrawRequest", standard.Tag)
	assert.EqualValues(t, 100000, standard.MaxWithdrawable)
	assert.NotEmpty(t, standard.K1)

	payResp, err := d.StandardPay(ctx, standard.K1, "lnbc-fake-invoice", now)
	require.NoError(t, err)
	assert.Equal(t, "OK", payResp["status"])
	require.Len(t, bus.published, 1)

	var published nostr.Event
	require.NoError(t, json.Unmarshal(bus.published[0], &published))
	assert.Equal(t, "internal-transaction-start", published.Tags.GetAll("t")[0][1])

	remaining, err := store.Remaining(ctx, card.UUID, []string{"BTC"})
	require.NoError(t, err)
	assert.EqualValues(t, 99000, remaining["BTC"])

	_, err = d.StandardPay(ctx, standard.K1, "lnbc-fake-invoice", now)
	assert.ErrorIs(t, err, registry.ErrAlreadyUsed)
}

func TestStandardPayRejectsOverLimit(t *testing.T) {
	store := registry.SetupTestStore(t)
	defer registry.TruncateAll(t, store)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	modulePriv, modulePub := newKey(t)
	holderPriv, holderPub := newKey(t)
	cid := "f0da000000beef"

	seedActivatedCard(t, store, cid, holderPriv, holderPub, modulePub, now)

	bus := &fakeBus{}
	decoder := &fakeInvoiceDecoder{invoice: &Invoice{AmountMsat: 999999999}}
	balances := &fakeBalanceFetcher{balances: map[string]int64{"BTC": 50000}}

	d := New(store, sun.New(store, testModuleK1), decoder, balances, bus, Config{
		BaseURL:              "https://card.lawallet.ar",
		ModulePrivHex:        modulePriv,
		ModulePubHex:         modulePub,
		LedgerPubKey:         "ledger-pub",
		BtcGatewayPubKey:     "gateway-pub",
		PaymentRequestExpiry: 10 * time.Minute,
		OutboxStream:         "card.outbox",
	})

	ntag, err := store.GetNTAGByCid(ctx, cid)
	require.NoError(t, err)
	p, c, err := sun.GeneratePC(testModuleK1, ntag.K2, cid, 1, nil)
	require.NoError(t, err)

	scanResp, err := d.Scan(ctx, p, c, "", nil, now)
	require.NoError(t, err)
	standard := scanResp.(*StandardScanResponse)

	_, err = d.StandardPay(ctx, standard.K1, "lnbc-fake-invoice", now)
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Empty(t, bus.published)
}
