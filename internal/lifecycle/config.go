package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/lawalletio/card/internal/configchannel"
	"github.com/lawalletio/card/internal/nostr"
)

// ApplyConfigChange implements the inbound half of the Encrypted Config
// Channel (§4.6): decrypts a holder-published card-config-change event,
// applies it to the registry, and republishes a confirming card-data/
// card-config pair e-tagged to the request. Called by the subscription
// loop (C8) once its topic filter and preflight have already accepted ev.
func (o *Orchestrator) ApplyConfigChange(ctx context.Context, ev *nostr.Event, now time.Time) error {
	if err := nostr.Preflight(ev, "", now); err != nil {
		return err
	}

	addressed := false
	for _, tag := range ev.Tags.GetAll("p") {
		if len(tag) > 1 && tag[1] == o.cfg.ModulePubHex {
			addressed = true
			break
		}
	}
	if !addressed {
		return fmt.Errorf("%w: config-change not addressed to module", ErrUnprocessable)
	}

	cfg, err := configchannel.ParseConfigChange(ev, o.cfg.ModulePrivHex, o.cfg.ModulePubHex)
	if err != nil {
		return err
	}

	if err := o.store.ApplyConfig(ctx, ev.PubKey, cfg); err != nil {
		return err
	}

	if err := o.publishCardDataAndConfig(ctx, ev.PubKey, ev.ID, now); err != nil {
		return fmt.Errorf("failed to publish confirming card-config: %w", err)
	}
	return nil
}
