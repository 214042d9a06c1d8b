// Package withdraw implements the Withdrawal Dispatcher (C7): the
// scan-then-pay LNURL-withdraw flow and its multi-token extension, plus the
// diagnostic and identity side-channels reachable from the same scan
// dispatch header.
package withdraw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
	"github.com/lawalletio/card/internal/sun"
)

var (
	ErrUnprocessable  = errors.New("unprocessable request")
	ErrCardDisabled   = errors.New("card is disabled or unbound")
	ErrNoDelegation   = errors.New("holder has no active delegation")
	ErrInvoiceExpired = errors.New("invoice is expired")
	ErrLimitExceeded  = errors.New("requested amount exceeds a limit")
	ErrBadPaymentTag  = errors.New("payment request tag mismatch")
	ErrUnknownToken   = errors.New("token not present in scan response")
)

// InvoiceDecoder is the bounded-timeout BOLT11 decode surface internal/lnd
// exposes; *lnd.Client returns its own lnd.Invoice, so cmd/api bridges it
// with a small adapter.
type InvoiceDecoder interface {
	DecodeInvoice(ctx context.Context, bolt11 string) (*Invoice, error)
}

// Invoice mirrors the subset of lnd.Invoice the pay handlers need, so this
// package doesn't import internal/lnd directly for its own type.
type Invoice struct {
	AmountSats int64
	AmountMsat int64
	IsExpired  bool
}

// Msats prefers the invoice's native millisatoshi amount, falling back to
// satoshis*1000 (spec.md §4.7).
func (i *Invoice) Msats() int64 {
	if i.AmountMsat > 0 {
		return i.AmountMsat
	}
	return i.AmountSats * 1000
}

// BalanceFetcher queries the ledger events bus for a holder's current
// per-token balance.
type BalanceFetcher interface {
	Balance(ctx context.Context, holderPubKey string, tokens []string) (map[string]int64, error)
}

// EventBus is the outbound publish surface (same contract as
// internal/lifecycle.EventBus).
type EventBus interface {
	Publish(ctx context.Context, stream string, data []byte) (string, error)
}

// Config carries the module identity and the fixed counterparties every
// internal-transaction-start event references.
type Config struct {
	BaseURL              string
	ModulePrivHex        string
	ModulePubHex         string
	LedgerPubKey         string
	BtcGatewayPubKey     string
	FederationID         string
	PaymentRequestExpiry time.Duration
	OutboxStream         string
}

// Dispatcher runs C7 against the registry, C1 verifier, invoice decoder,
// balance fetcher, and event bus.
type Dispatcher struct {
	store    *registry.Store
	verifier *sun.Verifier
	invoices InvoiceDecoder
	balances BalanceFetcher
	bus      EventBus
	cfg      Config
}

// New constructs a Dispatcher.
func New(store *registry.Store, verifier *sun.Verifier, invoices InvoiceDecoder, balances BalanceFetcher, bus EventBus, cfg Config) *Dispatcher {
	return &Dispatcher{store: store, verifier: verifier, invoices: invoices, balances: balances, bus: bus, cfg: cfg}
}

func (d *Dispatcher) publish(ctx context.Context, ev *nostr.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	_, err = d.bus.Publish(ctx, d.cfg.OutboxStream, payload)
	return err
}

// resolveCard runs the C1 tap verification and loads the bound Card,
// rejecting disabled or unbound cards (the common preflight for every scan
// action, per spec.md §4.7).
func (d *Dispatcher) resolveCard(ctx context.Context, p, c string) (*registry.Card, error) {
	res, err := d.verifier.Verify(ctx, p, c)
	if err != nil {
		return nil, err
	}
	card, err := d.store.GetCardByNTAGCid(ctx, res.NTAG.Cid)
	if err != nil {
		return nil, err
	}
	if !card.Enabled || card.HolderPubKey == nil {
		return nil, ErrCardDisabled
	}
	return card, nil
}
