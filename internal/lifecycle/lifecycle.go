// Package lifecycle implements the Lifecycle Orchestrator (C5): the
// Initialize/Associate/Activate/Card-Transfer/Admin-Reset state machine that
// moves a physical NTAG from unprovisioned, through association with a
// holder, to an active self-custodial card.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lawalletio/card/internal/configchannel"
	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
	"github.com/lawalletio/card/internal/sun"
)

// Errors surfaced by the orchestrator; callers map these to HTTP statuses
// per spec.md §7.
var (
	ErrUnprocessable = errors.New("unprocessable request")
	ErrNotAdmin      = errors.New("pubkey is not an admin")
	ErrTargetIsAdmin = errors.New("target pubkey is an admin")
	ErrSameHolder    = errors.New("admin and target must differ")
	ErrDonorMismatch = errors.New("donor pubkey mismatch")
)

// IdentityProvider is the bounded-timeout external call Admin-Reset-Claim
// makes after reassigning cards. Implemented by internal/identityprovider.
type IdentityProvider interface {
	TransferIdentity(ctx context.Context, oldHolderPubKey, newHolderPubKey string) (name string, ok bool)
}

// EventBus is the subset of pkg/queue.StreamQueue the orchestrator needs to
// publish outbound signed events (card-data/card-config/funds-transfer/
// identity-transfer-ok) onto the event bus.
type EventBus interface {
	Publish(ctx context.Context, stream string, data []byte) (string, error)
}

// Config carries the module's identity and the writer/admin authorities.
type Config struct {
	ModuleK1Hex        string
	ModulePrivHex      string
	ModulePubHex       string
	CardWriterPubKey   string
	AdminPubKeys       []string
	ResetExpirySeconds int64
	DefaultMerchants   []string
	DefaultLimits      []registry.DefaultLimit
	OutboxStream       string
}

// Orchestrator runs C5 against the registry, C1 verifier, C6 config-channel
// publisher, and the event bus.
type Orchestrator struct {
	store    *registry.Store
	verifier *sun.Verifier
	bus      EventBus
	identity IdentityProvider
	cfg      Config
}

// New constructs an Orchestrator.
func New(store *registry.Store, verifier *sun.Verifier, bus EventBus, identity IdentityProvider, cfg Config) *Orchestrator {
	return &Orchestrator{store: store, verifier: verifier, bus: bus, identity: identity, cfg: cfg}
}

func (o *Orchestrator) isAdmin(pubkey string) bool {
	for _, a := range o.cfg.AdminPubKeys {
		if a == pubkey {
			return true
		}
	}
	return false
}

// publish best-effort publishes ev on the configured outbox stream. Errors
// are returned to the caller rather than logged here so callers can decide
// whether a given publish is on the critical path or best-effort (§4.5's
// Admin-Reset-Claim explicitly distinguishes the two).
func (o *Orchestrator) publish(ctx context.Context, ev *nostr.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	_, err = o.bus.Publish(ctx, o.cfg.OutboxStream, payload)
	return err
}

// publishCardDataAndConfig renders and publishes card-data and card-config
// for holderPubKey's current set of cards (Activate, Card-Transfer, C6
// inbound apply confirmation all call this).
func (o *Orchestrator) publishCardDataAndConfig(ctx context.Context, holderPubKey string, inReplyTo string, now time.Time) error {
	cards, err := o.store.CardsOfHolder(ctx, holderPubKey)
	if err != nil {
		return fmt.Errorf("failed to list holder cards: %w", err)
	}

	designs := map[string]*registry.Design{}
	limitsByCard := map[string][]registry.Limit{}
	for _, c := range cards {
		ntag, err := o.store.GetNTAGByCid(ctx, c.NTAG424Cid)
		if err == nil {
			designs[c.UUID] = &registry.Design{UUID: ntag.DesignUUID}
		}
		limits, err := o.store.LimitsOf(ctx, c.UUID)
		if err == nil {
			limitsByCard[c.UUID] = limits
		}
	}

	merchants, err := o.store.TrustedMerchantsOf(ctx, holderPubKey)
	if err != nil {
		return fmt.Errorf("failed to list trusted merchants: %w", err)
	}

	dataDoc := configchannel.CardDataDocumentOf(cards, designs)
	dataEv, err := configchannel.BuildCardDataEvent(o.cfg.ModulePrivHex, o.cfg.ModulePubHex, holderPubKey, dataDoc, now)
	if err != nil {
		return err
	}
	if err := o.publish(ctx, dataEv); err != nil {
		return fmt.Errorf("failed to publish card-data: %w", err)
	}

	configDoc := configchannel.CardConfigDocumentOf(merchants, cards, limitsByCard)
	configEv, err := configchannel.BuildCardConfigEvent(o.cfg.ModulePrivHex, o.cfg.ModulePubHex, holderPubKey, configDoc, inReplyTo, now)
	if err != nil {
		return err
	}
	if err := o.publish(ctx, configEv); err != nil {
		return fmt.Errorf("failed to publish card-config: %w", err)
	}

	return nil
}
