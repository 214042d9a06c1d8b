//go:build integration

package lifecycle

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
	"github.com/lawalletio/card/internal/sun"
)

const testModuleK1 = "000102030405060708090a0b0c0d0e0f"

func seedDesign(t *testing.T, store *registry.Store, name string) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `INSERT INTO designs (uuid, name, description) VALUES ($1, $2, $3)`,
		uuid.NewString(), name, "seeded by lifecycle integration test")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
}

func newOrchestrator(t *testing.T, store *registry.Store, modulePriv, modulePub, writerPub string, admins []string) (*Orchestrator, *fakeBus) {
	t.Helper()
	bus := &fakeBus{}
	cfg := Config{
		ModuleK1Hex:        testModuleK1,
		ModulePrivHex:      modulePriv,
		ModulePubHex:       modulePub,
		CardWriterPubKey:   writerPub,
		AdminPubKeys:       admins,
		ResetExpirySeconds: 180,
		DefaultMerchants:   nil,
		DefaultLimits: []registry.DefaultLimit{
			{Name: "daily", Description: "daily limit", Token: "BTC", Amount: 100000, Delta: 86400},
		},
		OutboxStream: "card.outbox",
	}
	o := New(store, sun.New(store, testModuleK1), bus, nil, cfg)
	return o, bus
}

func delegate(t *testing.T, delegatorPriv, delegateePub string, now time.Time) (conditions, token string) {
	t.Helper()
	since := strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)
	until := strconv.FormatInt(now.Add(365*24*time.Hour).Unix(), 10)
	conditions = "kind=1112&created_at>" + since + "&created_at<" + until
	tok, err := nostr.SignDelegationToken(delegatorPriv, delegateePub, conditions)
	require.NoError(t, err)
	return conditions, tok
}

func TestFullLifecycleInitializeAssociateActivateTransfer(t *testing.T) {
	store := registry.SetupTestStore(t)
	defer registry.TruncateAll(t, store)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	modulePriv, modulePub := newKey(t)
	writerPriv, writerPub := newKey(t)
	holderPriv, holderPub := newKey(t)
	newHolderPriv, newHolderPub := newKey(t)

	o, bus := newOrchestrator(t, store, modulePriv, modulePub, writerPub, nil)

	seedDesign(t, store, "classic")

	cid := "f0da000000aabb"

	initContent, err := json.Marshal(map[string]any{
		"cid": cid,
		"ctr": 0,
		"design": map[string]string{
			"name": "classic",
		},
	})
	require.NoError(t, err)
	initEv := &nostr.Event{CreatedAt: now.Unix(), Kind: 1112, Content: string(initContent)}
	require.NoError(t, nostr.Sign(initEv, writerPriv))

	ntag, initResp, err := o.Initialize(ctx, initEv, now)
	require.NoError(t, err)
	assert.Equal(t, cid, ntag.Cid)
	assert.Equal(t, "ntag424-initialize-response", initResp.Tags.GetAll("t")[0][1])

	p, c, err := sun.GeneratePC(testModuleK1, ntag.K2, cid, 1, nil)
	require.NoError(t, err)

	assocContent, err := json.Marshal(map[string]string{"otc": "ONETIME1"})
	require.NoError(t, err)
	assocEv := &nostr.Event{CreatedAt: now.Unix(), Kind: 1112, Content: string(assocContent)}
	require.NoError(t, nostr.Sign(assocEv, writerPriv))

	require.NoError(t, o.Associate(ctx, assocEv, p, c, now))

	conditions, token := delegate(t, holderPriv, modulePub, now)
	activateContent, err := json.Marshal(map[string]any{
		"otc": "ONETIME1",
		"delegation": map[string]string{
			"conditions": conditions,
			"token":      token,
		},
	})
	require.NoError(t, err)
	activateEv := &nostr.Event{CreatedAt: now.Unix(), Kind: 1112, Content: string(activateContent)}
	require.NoError(t, nostr.Sign(activateEv, holderPriv))

	card, activateResp, err := o.Activate(ctx, activateEv, now)
	require.NoError(t, err)
	assert.Equal(t, holderPub, *card.HolderPubKey)
	assert.Equal(t, "card-activation-response", activateResp.Tags.GetAll("t")[0][1])
	assert.NotEmpty(t, bus.published)

	donationEv, err := o.BuildDonation(holderPriv, holderPub, card.UUID, now)
	require.NoError(t, err)

	newConditions, newToken := delegate(t, newHolderPriv, modulePub, now)
	donationEvBytes, err := json.Marshal(donationEv)
	require.NoError(t, err)
	var donationEvRoundtrip nostr.Event
	require.NoError(t, json.Unmarshal(donationEvBytes, &donationEvRoundtrip))

	acceptanceContent, err := json.Marshal(map[string]any{
		"delegation": map[string]string{
			"conditions": newConditions,
			"token":      newToken,
		},
		"donationEvent": donationEvRoundtrip,
	})
	require.NoError(t, err)
	acceptanceEv := &nostr.Event{
		CreatedAt: now.Unix(),
		Kind:      1112,
		Tags:      nostr.Tags{{"p", modulePub}, {"p", holderPub}},
		Content:   string(acceptanceContent),
	}
	require.NoError(t, nostr.Sign(acceptanceEv, newHolderPriv))

	transferredCard, transferResp, err := o.AcceptTransfer(ctx, acceptanceEv, now)
	require.NoError(t, err)
	assert.Equal(t, newHolderPub, *transferredCard.HolderPubKey)
	assert.Equal(t, "card-transfer-response", transferResp.Tags.GetAll("t")[0][1])
}

func TestAdminResetRequestAndClaim(t *testing.T) {
	store := registry.SetupTestStore(t)
	defer registry.TruncateAll(t, store)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	modulePriv, modulePub := newKey(t)
	writerPriv, writerPub := newKey(t)
	adminPriv, adminPub := newKey(t)
	targetPriv, targetPub := newKey(t)
	newHolderPriv, newHolderPub := newKey(t)

	o, _ := newOrchestrator(t, store, modulePriv, modulePub, writerPub, []string{adminPub})

	seedDesign(t, store, "classic")

	adminCid, targetCid := "f0da000000aaaa", "f0da000000bbbb"
	for _, cid := range []string{adminCid, targetCid} {
		content, err := json.Marshal(map[string]any{"cid": cid, "ctr": 0, "design": map[string]string{"name": "classic"}})
		require.NoError(t, err)
		ev := &nostr.Event{CreatedAt: now.Unix(), Kind: 1112, Content: string(content)}
		require.NoError(t, nostr.Sign(ev, writerPriv))
		_, _, err = o.Initialize(ctx, ev, now)
		require.NoError(t, err)
	}

	for otc, cid := range map[string]string{"ADMINOTC": adminCid, "TARGETOTC": targetCid} {
		p, c, err := sun.GeneratePC(testModuleK1, mustK2(t, store, cid), cid, 1, nil)
		require.NoError(t, err)
		content, err := json.Marshal(map[string]string{"otc": otc})
		require.NoError(t, err)
		ev := &nostr.Event{CreatedAt: now.Unix(), Kind: 1112, Content: string(content)}
		require.NoError(t, nostr.Sign(ev, writerPriv))
		require.NoError(t, o.Associate(ctx, ev, p, c, now))
	}

	adminConditions, adminToken := delegate(t, adminPriv, modulePub, now)
	activateAdmin(t, ctx, o, "ADMINOTC", adminPriv, adminConditions, adminToken, now)

	targetConditions, targetToken := delegate(t, targetPriv, modulePub, now)
	activateAdmin(t, ctx, o, "TARGETOTC", targetPriv, targetConditions, targetToken, now)

	pAdmin, cAdmin, err := sun.GeneratePC(testModuleK1, mustK2(t, store, adminCid), adminCid, 2, nil)
	require.NoError(t, err)
	pTarget, cTarget, err := sun.GeneratePC(testModuleK1, mustK2(t, store, targetCid), targetCid, 2, nil)
	require.NoError(t, err)

	nonce, err := o.RequestReset(ctx, ResetRequestBody{AdminP: pAdmin, AdminC: cAdmin, TargetP: pTarget, TargetC: cTarget})
	require.NoError(t, err)
	assert.NotEmpty(t, nonce)

	newConditions, newToken := delegate(t, newHolderPriv, modulePub, now)
	claimContent, err := json.Marshal(map[string]any{
		"otc": nonce,
		"delegation": map[string]string{
			"conditions": newConditions,
			"token":      newToken,
		},
	})
	require.NoError(t, err)
	claimEv := &nostr.Event{CreatedAt: now.Unix(), Kind: 1112, Content: string(claimContent)}
	require.NoError(t, nostr.Sign(claimEv, newHolderPriv))

	outcome, resp, err := o.ClaimReset(ctx, claimEv, now)
	require.NoError(t, err)
	assert.Equal(t, "card-reset-claim-response", resp.Tags.GetAll("t")[0][1])
	assert.True(t, outcome.IdentityTransferOkSent)
	assert.False(t, outcome.IdentityProviderOK, "no IdentityProvider configured in this test")

	targetCard, err := store.GetCardByNTAGCid(ctx, targetCid)
	require.NoError(t, err)
	require.NotNil(t, targetCard.HolderPubKey)
	assert.Equal(t, newHolderPub, *targetCard.HolderPubKey)
}

func activateAdmin(t *testing.T, ctx context.Context, o *Orchestrator, otc, holderPriv, conditions, token string, now time.Time) {
	t.Helper()
	content, err := json.Marshal(map[string]any{
		"otc": otc,
		"delegation": map[string]string{
			"conditions": conditions,
			"token":      token,
		},
	})
	require.NoError(t, err)
	ev := &nostr.Event{CreatedAt: now.Unix(), Kind: 1112, Content: string(content)}
	require.NoError(t, nostr.Sign(ev, holderPriv))
	_, _, err = o.Activate(ctx, ev, now)
	require.NoError(t, err)
}

func mustK2(t *testing.T, store *registry.Store, cid string) string {
	t.Helper()
	ntag, err := store.GetNTAGByCid(context.Background(), cid)
	require.NoError(t, err)
	return ntag.K2
}
