package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
)

type ResetRequestBody struct {
	AdminP  string `json:"adminP"`
	AdminC  string `json:"adminC"`
	TargetP string `json:"targetP"`
	TargetC string `json:"targetC"`
}

// RequestReset implements Admin-Reset-Request (`POST /card/reset/request`):
// resolves both the admin's and the target's cards via C1+C2, checks the
// admin is configured and the target isn't, and issues a ResetToken for the
// target holder. Returns the nonce.
func (o *Orchestrator) RequestReset(ctx context.Context, body ResetRequestBody) (string, error) {
	adminRes, err := o.verifier.Verify(ctx, body.AdminP, body.AdminC)
	if err != nil {
		return "", err
	}
	targetRes, err := o.verifier.Verify(ctx, body.TargetP, body.TargetC)
	if err != nil {
		return "", err
	}

	adminCard, err := o.store.GetCardByNTAGCid(ctx, adminRes.NTAG.Cid)
	if err != nil {
		return "", err
	}
	targetCard, err := o.store.GetCardByNTAGCid(ctx, targetRes.NTAG.Cid)
	if err != nil {
		return "", err
	}
	if adminCard.HolderPubKey == nil || targetCard.HolderPubKey == nil {
		return "", fmt.Errorf("%w: card has no holder", ErrUnprocessable)
	}
	adminPubKey := *adminCard.HolderPubKey
	targetPubKey := *targetCard.HolderPubKey

	if !o.isAdmin(adminPubKey) {
		return "", ErrNotAdmin
	}
	if o.isAdmin(targetPubKey) {
		return "", ErrTargetIsAdmin
	}
	if adminPubKey == targetPubKey {
		return "", ErrSameHolder
	}

	return o.store.IssueResetToken(ctx, targetPubKey)
}

type resetClaimDelegation struct {
	Conditions string `json:"conditions"`
	Token      string `json:"token"`
}

type resetClaimRequest struct {
	OTC        string               `json:"otc"`
	Delegation resetClaimDelegation `json:"delegation"`
}

// ResetOutcome reports which best-effort side effects of Admin-Reset-Claim
// succeeded, per spec.md §4.5.
type ResetOutcome struct {
	FundsTransferPublished bool   `json:"fundsTransferPublished"`
	IdentityTransferOkSent bool   `json:"identityTransferOkSent"`
	IdentityProviderOK     bool   `json:"identityProviderOk"`
	Name                   string `json:"name,omitempty"`
}

// ClaimReset implements Admin-Reset-Claim (`POST /card/reset/claim`): the
// new holder presents the admin-issued otc plus its own delegation. Clones
// the old holder's trusted merchants and reassigns all cards before the
// point of no return; the reset token is deleted unconditionally by
// registry.ClaimResetToken regardless of what follows.
func (o *Orchestrator) ClaimReset(ctx context.Context, ev *nostr.Event, now time.Time) (*ResetOutcome, *nostr.Event, error) {
	if err := nostr.Preflight(ev, "", now); err != nil {
		return nil, nil, err
	}
	newHolderPubKey := ev.PubKey

	var req resetClaimRequest
	if err := json.Unmarshal([]byte(ev.Content), &req); err != nil {
		return nil, nil, fmt.Errorf("%w: malformed reset claim content", ErrUnprocessable)
	}
	if req.OTC == "" {
		return nil, nil, fmt.Errorf("%w: missing otc", ErrUnprocessable)
	}

	conditions, err := nostr.ParseDelegationConditions(req.Delegation.Conditions)
	if err != nil {
		return nil, nil, err
	}
	if err := nostr.VerifyDelegation(newHolderPubKey, o.cfg.ModulePubHex, req.Delegation.Conditions, req.Delegation.Token); err != nil {
		return nil, nil, err
	}

	expiry := time.Duration(o.cfg.ResetExpirySeconds) * time.Second
	oldHolderPubKey, err := o.store.ClaimResetToken(ctx, req.OTC, expiry)
	if err != nil {
		return nil, nil, err
	}

	oldDelegation, err := o.store.CurrentDelegation(ctx, oldHolderPubKey)
	if err != nil && err != registry.ErrNotFound {
		return nil, nil, err
	}

	if err := o.store.UpsertHolder(ctx, newHolderPubKey, registry.NewDelegation{
		DelegatorPubKey: newHolderPubKey,
		Conditions:      req.Delegation.Conditions,
		DelegationToken: req.Delegation.Token,
		Since:           conditions.Since,
		Until:           conditions.Until,
	}, nil); err != nil {
		return nil, nil, err
	}

	tx, err := o.store.BeginTx(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin reset transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := o.store.CloneTrustedMerchants(ctx, tx, oldHolderPubKey, newHolderPubKey); err != nil {
		return nil, nil, err
	}
	if err := o.store.ReassignAllCards(ctx, tx, oldHolderPubKey, newHolderPubKey); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit reset reassignment: %w", err)
	}

	// Point of no return: the reset token is already consumed and the cards
	// already reassigned. Everything past here is best-effort and reported,
	// never rolled back (spec.md §4.5/§8).
	outcome := &ResetOutcome{}

	if oldDelegation != nil {
		if fundsEv, buildErr := o.buildFundsTransferEvent(oldHolderPubKey, newHolderPubKey, oldDelegation, now); buildErr == nil {
			if pubErr := o.publish(ctx, fundsEv); pubErr == nil {
				outcome.FundsTransferPublished = true
			}
		}
	}

	identityOkEv, buildErr := o.buildIdentityTransferOkEvent(oldHolderPubKey, newHolderPubKey, now)
	if buildErr == nil {
		if pubErr := o.publish(ctx, identityOkEv); pubErr == nil {
			outcome.IdentityTransferOkSent = true
		}
	}

	if o.identity != nil {
		if name, ok := o.identity.TransferIdentity(ctx, oldHolderPubKey, newHolderPubKey); ok {
			outcome.IdentityProviderOK = true
			outcome.Name = name
		}
	}

	// Also best-effort past the point of no return: the card reassignment
	// already committed regardless of whether the holder learns of it here.
	_ = o.publishCardDataAndConfig(ctx, newHolderPubKey, ev.ID, now)

	respContent, err := json.Marshal(outcome)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize reset claim response: %w", err)
	}
	resp := &nostr.Event{
		CreatedAt: now.Unix(),
		Kind:      21111,
		Tags:      nostr.Tags{{"t", "card-reset-claim-response"}, {"p", newHolderPubKey}, {"e", ev.ID}},
		Content:   string(respContent),
	}
	if err := nostr.Sign(resp, o.cfg.ModulePrivHex); err != nil {
		return nil, nil, fmt.Errorf("failed to sign reset claim response: %w", err)
	}

	return outcome, resp, nil
}

func (o *Orchestrator) buildFundsTransferEvent(oldHolderPubKey, newHolderPubKey string, delegation *registry.Delegation, now time.Time) (*nostr.Event, error) {
	content, err := json.Marshal(struct {
		From       string `json:"from"`
		To         string `json:"to"`
		Conditions string `json:"conditions"`
		Token      string `json:"delegationToken"`
	}{From: oldHolderPubKey, To: newHolderPubKey, Conditions: delegation.Conditions, Token: delegation.DelegationToken})
	if err != nil {
		return nil, err
	}
	ev := &nostr.Event{
		CreatedAt: now.Unix(),
		Kind:      1112,
		Tags: nostr.Tags{
			{"t", "funds-transfer"},
			{"p", oldHolderPubKey},
			{"p", newHolderPubKey},
			{"delegation", oldHolderPubKey, delegation.Conditions, delegation.DelegationToken},
		},
		Content: string(content),
	}
	if err := nostr.Sign(ev, o.cfg.ModulePrivHex); err != nil {
		return nil, err
	}
	return ev, nil
}

func (o *Orchestrator) buildIdentityTransferOkEvent(oldHolderPubKey, newHolderPubKey string, now time.Time) (*nostr.Event, error) {
	ev := &nostr.Event{
		CreatedAt: now.Unix(),
		Kind:      1112,
		Tags: nostr.Tags{
			{"t", "identity-transfer-ok"},
			{"p", oldHolderPubKey},
			{"p", newHolderPubKey},
		},
		Content: "",
	}
	if err := nostr.Sign(ev, o.cfg.ModulePrivHex); err != nil {
		return nil, err
	}
	return ev, nil
}
