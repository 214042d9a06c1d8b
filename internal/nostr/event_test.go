package nostr

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKey(t *testing.T) (privHex string, pubHex string) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	privHex = hex.EncodeToString(priv.Serialize())
	pubHex = hex.EncodeToString(schnorrXOnly(priv.PubKey()))
	return
}

func TestSignAndVerifySignature(t *testing.T) {
	privHex, pubHex := newTestKey(t)

	ev := &Event{
		CreatedAt: time.Now().Unix(),
		Kind:      1112,
		Tags:      Tags{{"p", "abc"}},
		Content:   "hello",
	}
	require.NoError(t, Sign(ev, privHex))
	assert.Equal(t, pubHex, ev.PubKey)
	assert.NotEmpty(t, ev.ID)
	assert.NotEmpty(t, ev.Sig)

	require.NoError(t, VerifySignature(ev))
}

func TestVerifySignatureRejectsTamperedContent(t *testing.T) {
	privHex, _ := newTestKey(t)
	ev := &Event{CreatedAt: time.Now().Unix(), Kind: 1, Content: "original"}
	require.NoError(t, Sign(ev, privHex))

	ev.Content = "tampered"
	err := VerifySignature(ev)
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestVerifySignatureRejectsForgedSig(t *testing.T) {
	privHex, _ := newTestKey(t)
	otherPrivHex, _ := newTestKey(t)

	ev := &Event{CreatedAt: time.Now().Unix(), Kind: 1, Content: "hello"}
	require.NoError(t, Sign(ev, privHex))

	forged := &Event{CreatedAt: ev.CreatedAt, Kind: ev.Kind, Content: ev.Content}
	require.NoError(t, Sign(forged, otherPrivHex))
	ev.Sig = forged.Sig

	err := VerifySignature(ev)
	assert.Error(t, err)
}

func TestParseDelegationConditions(t *testing.T) {
	c, err := ParseDelegationConditions("kind=1112&created_at>1000&created_at<2000")
	require.NoError(t, err)
	assert.Equal(t, 1112, c.Kind)
	assert.EqualValues(t, 1000, c.Since)
	assert.EqualValues(t, 2000, c.Until)

	_, err = ParseDelegationConditions("kind=1112&created_at>2000&created_at<1000")
	assert.ErrorIs(t, err, ErrInvalidDelegation)

	_, err = ParseDelegationConditions("kind=1112")
	assert.ErrorIs(t, err, ErrInvalidDelegation)
}

func TestDelegationSignAndVerify(t *testing.T) {
	delegatorPriv, delegatorPub := newTestKey(t)
	_, delegateePub := newTestKey(t)

	conditions := "kind=1112&created_at>1000&created_at<9999999999"

	sig, err := SignDelegationToken(delegatorPriv, delegateePub, conditions)
	require.NoError(t, err)

	require.NoError(t, VerifyDelegation(delegatorPub, delegateePub, conditions, sig))

	err = VerifyDelegation(delegatorPub, "0000000000000000000000000000000000000000000000000000000000000", conditions, sig)
	assert.Error(t, err)
}

func TestPreflightAppliesDelegationAndAge(t *testing.T) {
	delegatorPriv, delegatorPub := newTestKey(t)
	delegateePriv, delegateePub := newTestKey(t)

	now := time.Now()
	conditions := "kind=1112&created_at>1&created_at<9999999999"
	sig, err := SignDelegationToken(delegatorPriv, delegateePub, conditions)
	require.NoError(t, err)

	ev := &Event{
		CreatedAt: now.Unix(),
		Kind:      1112,
		Tags:      Tags{{"delegation", delegatorPub, conditions, sig}},
		Content:   "hi",
	}
	require.NoError(t, Sign(ev, delegateePriv))

	require.NoError(t, Preflight(ev, delegatorPub, now))
	assert.Equal(t, delegatorPub, ev.PubKey)

	tooOld := &Event{CreatedAt: now.Add(-1 * time.Hour).Unix(), Kind: 1, Content: "x"}
	require.NoError(t, Sign(tooOld, delegateePriv))
	err = Preflight(tooOld, "", now)
	assert.ErrorIs(t, err, ErrEventTooOld)
}
