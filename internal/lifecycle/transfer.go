package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
)

// BuildDonation signs the donation event the current holder publishes to
// begin a Card-Transfer: content is cardUUID, NIP-04-encrypted to the module.
func (o *Orchestrator) BuildDonation(donorPrivHex, donorPubHex, cardUUID string, now time.Time) (*nostr.Event, error) {
	env, err := nostr.EncryptMany(donorPrivHex, []string{o.cfg.ModulePubHex}, cardUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt donation: %w", err)
	}
	content, err := env.Marshal()
	if err != nil {
		return nil, err
	}

	ev := &nostr.Event{
		CreatedAt: now.Unix(),
		Kind:      1112,
		Tags:      nostr.Tags{{"t", "card-transfer-donation"}, {"p", o.cfg.ModulePubHex}},
		Content:   content,
	}
	if err := nostr.Sign(ev, donorPrivHex); err != nil {
		return nil, fmt.Errorf("failed to sign donation: %w", err)
	}
	return ev, nil
}

type acceptanceDelegation struct {
	Conditions string `json:"conditions"`
	Token      string `json:"token"`
}

type acceptanceRequest struct {
	Delegation    acceptanceDelegation `json:"delegation"`
	DonationEvent nostr.Event          `json:"donationEvent"`
}

// AcceptTransfer implements the acceptance half of Card-Transfer: verifies
// the new holder's delegation and the embedded donation, decrypts the
// donated cardUuid, and reassigns the card.
func (o *Orchestrator) AcceptTransfer(ctx context.Context, ev *nostr.Event, now time.Time) (*registry.Card, *nostr.Event, error) {
	if err := nostr.Preflight(ev, "", now); err != nil {
		return nil, nil, err
	}
	newHolderPubKey := ev.PubKey

	var req acceptanceRequest
	if err := json.Unmarshal([]byte(ev.Content), &req); err != nil {
		return nil, nil, fmt.Errorf("%w: malformed acceptance content", ErrUnprocessable)
	}

	donorPubKey := req.DonationEvent.PubKey
	secondP := ev.Tags.GetAll("p")
	matched := false
	for _, tag := range secondP {
		if len(tag) > 1 && tag[1] == donorPubKey {
			matched = true
			break
		}
	}
	if !matched {
		return nil, nil, fmt.Errorf("%w: donor pubkey not p-tagged", ErrDonorMismatch)
	}

	conditions, err := nostr.ParseDelegationConditions(req.Delegation.Conditions)
	if err != nil {
		return nil, nil, err
	}
	if err := nostr.VerifyDelegation(newHolderPubKey, o.cfg.ModulePubHex, req.Delegation.Conditions, req.Delegation.Token); err != nil {
		return nil, nil, err
	}

	donationEv := req.DonationEvent
	if err := nostr.VerifySignature(&donationEv); err != nil {
		return nil, nil, err
	}

	env, err := nostr.ParseEnvelope(donationEv.Content, o.cfg.ModulePubHex)
	if err != nil {
		return nil, nil, err
	}
	cardUUID, err := nostr.DecryptFor(env, o.cfg.ModulePrivHex, donorPubKey, o.cfg.ModulePubHex)
	if err != nil {
		return nil, nil, err
	}

	if err := o.store.TransferCard(ctx, cardUUID, donorPubKey, newHolderPubKey); err != nil {
		return nil, nil, err
	}
	if err := o.store.UpsertHolder(ctx, newHolderPubKey, registry.NewDelegation{
		DelegatorPubKey: newHolderPubKey,
		Conditions:      req.Delegation.Conditions,
		DelegationToken: req.Delegation.Token,
		Since:           conditions.Since,
		Until:           conditions.Until,
	}, o.cfg.DefaultMerchants); err != nil {
		return nil, nil, err
	}

	if err := o.publishCardDataAndConfig(ctx, newHolderPubKey, ev.ID, now); err != nil {
		return nil, nil, fmt.Errorf("failed to publish card-data/card-config: %w", err)
	}

	card, err := o.store.GetCardByUUID(ctx, cardUUID)
	if err != nil {
		return nil, nil, err
	}

	respContent, err := json.Marshal(card)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize transfer response: %w", err)
	}
	resp := &nostr.Event{
		CreatedAt: now.Unix(),
		Kind:      21111,
		Tags:      nostr.Tags{{"t", "card-transfer-response"}, {"p", newHolderPubKey}, {"e", ev.ID}},
		Content:   string(respContent),
	}
	if err := nostr.Sign(resp, o.cfg.ModulePrivHex); err != nil {
		return nil, nil, fmt.Errorf("failed to sign transfer response: %w", err)
	}

	return card, resp, nil
}
