package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/lawalletio/card/internal/configchannel"
	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
)

// buildCardDataAndConfigEvents renders (without publishing) the card-data and
// card-config events for holderPubKey's current cards, shared by
// RequestCardData/RequestCardConfig/PublishData.
func (o *Orchestrator) buildCardDataAndConfigEvents(ctx context.Context, holderPubKey, inReplyTo string, now time.Time) (dataEv, configEv *nostr.Event, err error) {
	cards, err := o.store.CardsOfHolder(ctx, holderPubKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list holder cards: %w", err)
	}

	designs := map[string]*registry.Design{}
	limitsByCard := map[string][]registry.Limit{}
	for _, c := range cards {
		ntag, ntagErr := o.store.GetNTAGByCid(ctx, c.NTAG424Cid)
		if ntagErr == nil {
			designs[c.UUID] = &registry.Design{UUID: ntag.DesignUUID}
		}
		limits, limitsErr := o.store.LimitsOf(ctx, c.UUID)
		if limitsErr == nil {
			limitsByCard[c.UUID] = limits
		}
	}

	merchants, err := o.store.TrustedMerchantsOf(ctx, holderPubKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list trusted merchants: %w", err)
	}

	dataDoc := configchannel.CardDataDocumentOf(cards, designs)
	dataEv, err = configchannel.BuildCardDataEvent(o.cfg.ModulePrivHex, o.cfg.ModulePubHex, holderPubKey, dataDoc, now)
	if err != nil {
		return nil, nil, err
	}

	configDoc := configchannel.CardConfigDocumentOf(merchants, cards, limitsByCard)
	configEv, err = configchannel.BuildCardConfigEvent(o.cfg.ModulePrivHex, o.cfg.ModulePubHex, holderPubKey, configDoc, inReplyTo, now)
	if err != nil {
		return nil, nil, err
	}

	return dataEv, configEv, nil
}

// RequestCardData implements `POST /card/data/request`: the holder asks for
// its current card-data, returned directly in the response (not published
// to the outbox) so the caller has it without waiting for an outbox delivery.
func (o *Orchestrator) RequestCardData(ctx context.Context, ev *nostr.Event, now time.Time) (*nostr.Event, error) {
	if err := nostr.Preflight(ev, "", now); err != nil {
		return nil, err
	}
	dataEv, _, err := o.buildCardDataAndConfigEvents(ctx, ev.PubKey, ev.ID, now)
	if err != nil {
		return nil, err
	}
	return dataEv, nil
}

// RequestCardConfig implements `POST /card/config/request`: returns the
// holder's current card-config payload directly, without publishing it.
func (o *Orchestrator) RequestCardConfig(ctx context.Context, ev *nostr.Event, now time.Time) (*nostr.Event, error) {
	if err := nostr.Preflight(ev, "", now); err != nil {
		return nil, err
	}
	_, configEv, err := o.buildCardDataAndConfigEvents(ctx, ev.PubKey, ev.ID, now)
	if err != nil {
		return nil, err
	}
	return configEv, nil
}

// PublishData implements `POST /card/publish-data`: republishes both
// card-data and card-config onto the outbox, for holders who missed the
// original delivery (e.g. after reconnecting a relay).
func (o *Orchestrator) PublishData(ctx context.Context, ev *nostr.Event, now time.Time) error {
	if err := nostr.Preflight(ev, "", now); err != nil {
		return err
	}
	return o.publishCardDataAndConfig(ctx, ev.PubKey, ev.ID, now)
}

// AdminDeleteNTAG implements `DELETE /ntag424`: the writer authority retires
// an NTAG outright (e.g. a misprovisioned or destroyed physical card).
func (o *Orchestrator) AdminDeleteNTAG(ctx context.Context, ev *nostr.Event, cid string, now time.Time) error {
	if err := nostr.Preflight(ev, o.cfg.CardWriterPubKey, now); err != nil {
		return err
	}
	if cid == "" {
		return fmt.Errorf("%w: missing cid", ErrUnprocessable)
	}
	return o.store.DeleteNTAG(ctx, cid)
}
