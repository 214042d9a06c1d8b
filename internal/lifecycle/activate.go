package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
)

type activateDelegation struct {
	Conditions string `json:"conditions"`
	Token      string `json:"token"`
}

type activateRequest struct {
	OTC        string             `json:"otc"`
	Delegation activateDelegation `json:"delegation"`
}

// Activate implements the Activate transition (`POST /card`, request tag
// card-activation-request): a holder claims an associated-but-unactivated
// NTAG by presenting its otc and a delegation, and receives a fresh Card.
func (o *Orchestrator) Activate(ctx context.Context, ev *nostr.Event, now time.Time) (*registry.Card, *nostr.Event, error) {
	if err := nostr.Preflight(ev, "", now); err != nil {
		return nil, nil, err
	}
	holderPubKey := ev.PubKey

	var req activateRequest
	if err := json.Unmarshal([]byte(ev.Content), &req); err != nil {
		return nil, nil, fmt.Errorf("%w: malformed activate content", ErrUnprocessable)
	}
	if req.OTC == "" {
		return nil, nil, fmt.Errorf("%w: missing otc", ErrUnprocessable)
	}

	conditions, err := nostr.ParseDelegationConditions(req.Delegation.Conditions)
	if err != nil {
		return nil, nil, err
	}
	// The holder (delegator, == the request event's pubkey) authorizes the
	// module (delegatee) to later act on its behalf within these conditions
	// — see DESIGN.md's Activate-delegation resolution.
	if err := nostr.VerifyDelegation(holderPubKey, o.cfg.ModulePubHex, req.Delegation.Conditions, req.Delegation.Token); err != nil {
		return nil, nil, err
	}

	ntag, err := o.store.FindAvailableNTAGByOTC(ctx, req.OTC)
	if err != nil {
		return nil, nil, err
	}

	if err := o.store.UpsertHolder(ctx, holderPubKey, registry.NewDelegation{
		DelegatorPubKey: holderPubKey,
		Conditions:      req.Delegation.Conditions,
		DelegationToken: req.Delegation.Token,
		Since:           conditions.Since,
		Until:           conditions.Until,
	}, o.cfg.DefaultMerchants); err != nil {
		return nil, nil, err
	}

	design, err := o.store.GetDesign(ctx, ntag.DesignUUID)
	if err != nil {
		return nil, nil, err
	}

	card, err := o.store.CreateCard(ctx, ntag.Cid, holderPubKey, design.Name, design.Description, o.cfg.DefaultLimits)
	if err != nil {
		return nil, nil, err
	}

	if err := o.publishCardDataAndConfig(ctx, holderPubKey, ev.ID, now); err != nil {
		return nil, nil, fmt.Errorf("failed to publish card-data/card-config: %w", err)
	}

	respContent, err := json.Marshal(card)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize activation response: %w", err)
	}
	resp := &nostr.Event{
		CreatedAt: now.Unix(),
		Kind:      21111,
		Tags:      nostr.Tags{{"t", "card-activation-response"}, {"p", holderPubKey}, {"e", ev.ID}},
		Content:   string(respContent),
	}
	if err := nostr.Sign(resp, o.cfg.ModulePrivHex); err != nil {
		return nil, nil, fmt.Errorf("failed to sign activation response: %w", err)
	}

	return card, resp, nil
}
