package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
)

type associateRequest struct {
	OTC string `json:"otc"`
}

// Associate implements the Associate transition (`PATCH /ntag424?p&c`):
// verifies the tap via C1, then binds the one-time-code to the NTAG.
func (o *Orchestrator) Associate(ctx context.Context, ev *nostr.Event, p, c string, now time.Time) error {
	if err := nostr.Preflight(ev, o.cfg.CardWriterPubKey, now); err != nil {
		return err
	}

	var req associateRequest
	if err := json.Unmarshal([]byte(ev.Content), &req); err != nil {
		return fmt.Errorf("%w: malformed associate content", ErrUnprocessable)
	}
	if req.OTC == "" {
		return fmt.Errorf("%w: missing otc", ErrUnprocessable)
	}

	res, err := o.verifier.Verify(ctx, p, c)
	if err != nil {
		return err
	}

	if err := o.store.SetOTC(ctx, res.NTAG.Cid, req.OTC); err != nil {
		if err == registry.ErrOTCConflict || err == registry.ErrOTCAlreadyBound {
			return registry.ErrConflict
		}
		return err
	}
	return nil
}
