//go:build integration

package httpapi

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawalletio/card/internal/lifecycle"
	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
	"github.com/lawalletio/card/internal/sun"
	"github.com/lawalletio/card/internal/withdraw"
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

type fakeBus struct {
	published [][]byte
}

func (b *fakeBus) Publish(_ context.Context, _ string, data []byte) (string, error) {
	b.published = append(b.published, data)
	return "0", nil
}

type fakeInvoiceDecoder struct{ invoice *withdraw.Invoice }

func (f *fakeInvoiceDecoder) DecodeInvoice(_ context.Context, _ string) (*withdraw.Invoice, error) {
	return f.invoice, nil
}

type fakeBalanceFetcher struct{ balances map[string]int64 }

func (f *fakeBalanceFetcher) Balance(_ context.Context, _ string, tokens []string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, t := range tokens {
		out[t] = f.balances[t]
	}
	return out, nil
}

func newTestServer(t *testing.T, store *registry.Store, modulePriv, modulePub, writerPub string, now time.Time) *Server {
	t.Helper()
	bus := &fakeBus{}
	orch := lifecycle.New(store, sun.New(store, testModuleK1), bus, nil, lifecycle.Config{
		ModuleK1Hex:        testModuleK1,
		ModulePrivHex:      modulePriv,
		ModulePubHex:       modulePub,
		CardWriterPubKey:   writerPub,
		ResetExpirySeconds: 180,
		OutboxStream:       "card.outbox",
	})
	wd := withdraw.New(store, sun.New(store, testModuleK1),
		&fakeInvoiceDecoder{invoice: &withdraw.Invoice{AmountMsat: 1000}},
		&fakeBalanceFetcher{balances: map[string]int64{"BTC": 50000}},
		bus,
		withdraw.Config{
			BaseURL:              "https://card.lawallet.ar",
			ModulePrivHex:        modulePriv,
			ModulePubHex:         modulePub,
			LedgerPubKey:         "ledger-pub",
			BtcGatewayPubKey:     "gateway-pub",
			PaymentRequestExpiry: 10 * time.Minute,
			OutboxStream:         "card.outbox",
		})
	return New(orch, wd, func() time.Time { return now })
}

func signedEvent(t *testing.T, privHex, kindTag string, tags nostr.Tags, content string, now time.Time) *nostr.Event {
	t.Helper()
	ev := &nostr.Event{CreatedAt: now.Unix(), Kind: 1112, Tags: tags, Content: content}
	require.NoError(t, nostr.Sign(ev, privHex))
	return ev
}

func TestInitializeThenAssociate(t *testing.T) {
	store := registry.SetupTestStore(t)
	defer registry.TruncateAll(t, store)
	defer store.Close()

	now := time.Now()
	modulePriv, modulePub := newKey(t)
	writerPriv, writerPub := newKey(t)

	srv := newTestServer(t, store, modulePriv, modulePub, writerPub, now)

	ctx := context.Background()
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `INSERT INTO designs (uuid, name, description) VALUES ($1, $2, $3)`,
		uuid.NewString(), "httpapi-test-design", "seeded by httpapi integration test")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	initBody := `{"cid":"f0da00000001","ctr":0,"design":{"name":"httpapi-test-design"}}`
	initEv := signedEvent(t, writerPriv, "", nil, initBody, now)
	initEv.Kind = 1112

	payload, err := json.Marshal(initEv)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/ntag424", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var initResp struct {
		NTAG *registry.NTAG `json:"ntag"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &initResp))
	require.NotNil(t, initResp.NTAG)
	assert.Equal(t, "f0da00000001", initResp.NTAG.Cid)

	p, c, err := sun.GeneratePC(testModuleK1, initResp.NTAG.K2, "f0da00000001", 1, nil)
	require.NoError(t, err)

	assocEv := signedEvent(t, writerPriv, "", nil, `{"otc":"OTC-f0da00000001"}`, now)
	assocPayload, err := json.Marshal(assocEv)
	require.NoError(t, err)

	assocReq := httptest.NewRequest(http.MethodPatch, "/ntag424?p="+p+"&c="+c, bytes.NewReader(assocPayload))
	assocRec := httptest.NewRecorder()
	srv.ServeHTTP(assocRec, assocReq)
	assert.Equal(t, http.StatusNoContent, assocRec.Code)
}

func TestScanUndecodableTapReturns422(t *testing.T) {
	store := registry.SetupTestStore(t)
	defer registry.TruncateAll(t, store)
	defer store.Close()

	now := time.Now()
	modulePriv, modulePub := newKey(t)
	_, writerPub := newKey(t)
	srv := newTestServer(t, store, modulePriv, modulePub, writerPub, now)

	req := httptest.NewRequest(http.MethodGet, "/card/scan?p=00000000000000000000000000000000&c=0000000000000000", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ERROR", body.Status)
}
