package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
)

type initializeRequest struct {
	Cid    string `json:"cid"`
	Ctr    int64  `json:"ctr"`
	Design struct {
		UUID        string `json:"uuid"`
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"design"`
}

// Initialize implements the Initialize transition (`POST /ntag424`): the
// writer authority provisions a fresh NTAG. Returns the existing NTAG
// unchanged if cid was already initialized (idempotent).
func (o *Orchestrator) Initialize(ctx context.Context, ev *nostr.Event, now time.Time) (*registry.NTAG, *nostr.Event, error) {
	if err := nostr.Preflight(ev, o.cfg.CardWriterPubKey, now); err != nil {
		return nil, nil, err
	}

	var req initializeRequest
	if err := json.Unmarshal([]byte(ev.Content), &req); err != nil {
		return nil, nil, fmt.Errorf("%w: malformed initialize content", ErrUnprocessable)
	}
	if req.Cid == "" {
		return nil, nil, fmt.Errorf("%w: missing cid", ErrUnprocessable)
	}

	ref := registry.DesignRef{UUID: req.Design.UUID, Name: req.Design.Name}
	ntag, err := o.store.CreateNTAG(ctx, req.Cid, req.Ctr, o.cfg.ModuleK1Hex, ref)
	if err != nil {
		if err == registry.ErrDesignNotFound {
			return nil, nil, fmt.Errorf("%w: unknown design", ErrUnprocessable)
		}
		return nil, nil, err
	}

	respContent, err := json.Marshal(ntag)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to serialize ntag response: %w", err)
	}

	resp := &nostr.Event{
		CreatedAt: now.Unix(),
		Kind:      21111,
		Tags:      nostr.Tags{{"t", "ntag424-initialize-response"}, {"p", ev.PubKey}},
		Content:   string(respContent),
	}
	if err := nostr.Sign(resp, o.cfg.ModulePrivHex); err != nil {
		return nil, nil, fmt.Errorf("failed to sign initialize response: %w", err)
	}

	return ntag, resp, nil
}
