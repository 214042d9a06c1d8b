// Package subscription implements the Inbound Subscription Loop (C8): a
// consumer-group loop over the event bus that dispatches holder-published
// config-change events to their topic handlers, replaying at-most-once from
// a persisted high-watermark.
package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
	"github.com/lawalletio/card/pkg/logger"
	"go.uber.org/zap"
)

// KindConfigChange is the only event kind this loop accepts (spec.md §4.8).
const KindConfigChange = 1112

// Tolerance absorbs clock skew and out-of-order delivery: ~2x the maximum
// age a signed event may have to pass preflight.
const Tolerance = 360 * time.Second

// Handler processes one accepted event for a given topic ("t" tag value).
type Handler func(ctx context.Context, ev *nostr.Event, now time.Time) error

// Queue is the subset of pkg/queue.StreamQueue the loop consumes from.
type Queue interface {
	DeclareStream(ctx context.Context, stream, group string) error
	Consume(ctx context.Context, stream, group, consumer string, handler func(messageID string, data []byte) error) error
}

// Config names the stream/group/consumer this loop runs as, and the
// module's own pubkey, used to filter deliveries to events p-tagged to it.
type Config struct {
	Stream       string
	Group        string
	Consumer     string
	ModulePubHex string
}

// Loop dispatches inbound bus events by topic, skipping anything not
// addressed to this module, not a config-change, or outside the watermark
// tolerance window.
type Loop struct {
	store    *registry.Store
	queue    Queue
	handlers map[string]Handler
	cfg      Config
	now      func() time.Time
}

// New constructs a Loop. handlers maps a "t" tag value (e.g.
// "card-config-change") to the function that applies it. now defaults to
// time.Now when nil; tests override it for deterministic tolerance checks.
func New(store *registry.Store, q Queue, cfg Config, handlers map[string]Handler, now func() time.Time) *Loop {
	if now == nil {
		now = time.Now
	}
	return &Loop{store: store, queue: q, handlers: handlers, cfg: cfg, now: now}
}

// Run declares the consumer group and blocks consuming until ctx is
// cancelled. Resumes from the persisted watermark on restart.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.queue.DeclareStream(ctx, l.cfg.Stream, l.cfg.Group); err != nil {
		return fmt.Errorf("failed to declare subscription stream: %w", err)
	}
	return l.queue.Consume(ctx, l.cfg.Stream, l.cfg.Group, l.cfg.Consumer, l.handleMessage)
}

// handleMessage is the per-delivery entry point: an error return leaves the
// message unacked for XAutoClaim to redeliver, per the "handlers MUST be
// idempotent" requirement; a nil return acks regardless of whether the
// event was actually dispatched.
func (l *Loop) handleMessage(messageID string, data []byte) error {
	ctx := context.Background()
	now := l.now()

	var ev nostr.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		logger.Error("malformed bus message, dropping", zap.String("messageID", messageID), zap.Error(err))
		return nil
	}

	if ev.Kind != KindConfigChange {
		return nil
	}
	if !hasTag(ev.Tags, "p", l.cfg.ModulePubHex) {
		return nil
	}

	topic := firstTagValue(ev.Tags, "t")
	handler, ok := l.handlers[topic]
	if !ok {
		return nil
	}

	watermark, err := l.store.GetWatermark(ctx, l.cfg.Group)
	if err != nil {
		return fmt.Errorf("failed to read watermark: %w", err)
	}
	if ev.CreatedAt < watermark-int64(Tolerance.Seconds()) {
		logger.Info("event older than tolerance window, skipping", zap.String("messageID", messageID), zap.Int64("createdAt", ev.CreatedAt))
		return nil
	}

	if err := nostr.Preflight(&ev, "", now); err != nil {
		logger.Error("event failed preflight, dropping", zap.String("messageID", messageID), zap.Error(err))
		return nil
	}

	if err := handler(ctx, &ev, now); err != nil {
		return fmt.Errorf("handler for topic %q failed: %w", topic, err)
	}

	return l.store.AdvanceWatermark(ctx, l.cfg.Group, ev.CreatedAt)
}

func hasTag(tags nostr.Tags, name, value string) bool {
	for _, t := range tags.GetAll(name) {
		if len(t) > 1 && t[1] == value {
			return true
		}
	}
	return false
}

func firstTagValue(tags nostr.Tags, name string) string {
	all := tags.GetAll(name)
	if len(all) == 0 || len(all[0]) < 2 {
		return ""
	}
	return all[0][1]
}
