package withdraw

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
)

// StandardPay implements `GET /card/pay?k1&pr` (LUD-03): consumes k1,
// validates the decoded invoice against the scan response, the card's
// remaining limits, and the holder's bus-reported balance, records the
// Payment, and emits the signed internal-transaction-start event.
func (d *Dispatcher) StandardPay(ctx context.Context, k1, bolt11 string, now time.Time) (map[string]string, error) {
	invoice, err := d.invoices.DecodeInvoice(ctx, bolt11)
	if err != nil {
		return nil, fmt.Errorf("failed to decode invoice: %w", err)
	}
	if invoice.IsExpired {
		return nil, ErrInvoiceExpired
	}
	msats := invoice.Msats()

	tx, err := d.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin pay transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	preq, err := d.store.ConsumePaymentRequest(ctx, tx, k1, d.cfg.PaymentRequestExpiry)
	if err != nil {
		return nil, err
	}

	var scanResp StandardScanResponse
	if err := json.Unmarshal([]byte(preq.Response), &scanResp); err != nil || scanResp.Tag != "withdrawRequest" {
		return nil, ErrBadPaymentTag
	}
	if msats > scanResp.MaxWithdrawable {
		return nil, ErrLimitExceeded
	}

	card, err := d.store.GetCardByUUID(ctx, preq.CardUUID)
	if err != nil {
		return nil, err
	}
	if !card.Enabled || card.HolderPubKey == nil {
		return nil, ErrCardDisabled
	}

	remaining, err := d.store.Remaining(ctx, card.UUID, []string{"BTC"})
	if err != nil {
		return nil, err
	}
	if msats > remaining["BTC"] {
		return nil, ErrLimitExceeded
	}

	balance, err := d.balances.Balance(ctx, *card.HolderPubKey, []string{"BTC"})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}
	if msats > balance["BTC"] {
		return nil, ErrLimitExceeded
	}

	delegation, err := d.store.CurrentDelegation(ctx, *card.HolderPubKey)
	if err != nil {
		if err == registry.ErrNotFound {
			return nil, ErrNoDelegation
		}
		return nil, err
	}

	if _, err := d.store.InsertPayment(ctx, tx, card.UUID, "BTC", msats, preq.UUID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}

	ev, err := d.buildTransactionStartEvent(map[string]int64{"BTC": msats}, d.cfg.BtcGatewayPubKey, delegation, bolt11, now)
	if err != nil {
		return nil, err
	}
	if err := d.publish(ctx, ev); err != nil {
		return nil, fmt.Errorf("failed to publish transaction start: %w", err)
	}

	return map[string]string{"status": "OK"}, nil
}

type extendedPayRequest struct {
	K1     string           `json:"k1"`
	Pubkey string           `json:"pubkey"`
	Tokens map[string]int64 `json:"tokens"`
}

// ExtendedPay implements `POST /card/pay`: body is a signed event whose
// content names the k1, the recipient pubkey (hex or npub), and a
// multi-token amount map, each validated independently against the scan
// response, remaining limits, and balance.
func (d *Dispatcher) ExtendedPay(ctx context.Context, ev *nostr.Event, now time.Time) (map[string]string, error) {
	if err := nostr.Preflight(ev, "", now); err != nil {
		return nil, err
	}

	var req extendedPayRequest
	if err := json.Unmarshal([]byte(ev.Content), &req); err != nil {
		return nil, fmt.Errorf("%w: malformed pay content", ErrUnprocessable)
	}
	if req.K1 == "" || len(req.Tokens) == 0 {
		return nil, fmt.Errorf("%w: missing k1 or tokens", ErrUnprocessable)
	}

	recipientPubKey, err := decodePubkey(req.Pubkey)
	if err != nil {
		return nil, err
	}

	tx, err := d.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin pay transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	preq, err := d.store.ConsumePaymentRequest(ctx, tx, req.K1, d.cfg.PaymentRequestExpiry)
	if err != nil {
		return nil, err
	}

	var scanResp ExtendedScanResponse
	if err := json.Unmarshal([]byte(preq.Response), &scanResp); err != nil || scanResp.Tag != "laWallet:withdrawRequest" {
		return nil, ErrBadPaymentTag
	}

	card, err := d.store.GetCardByUUID(ctx, preq.CardUUID)
	if err != nil {
		return nil, err
	}
	if !card.Enabled || card.HolderPubKey == nil {
		return nil, ErrCardDisabled
	}

	tokens := make([]string, 0, len(req.Tokens))
	for token := range req.Tokens {
		tokens = append(tokens, token)
	}

	remaining, err := d.store.Remaining(ctx, card.UUID, tokens)
	if err != nil {
		return nil, err
	}
	balance, err := d.balances.Balance(ctx, *card.HolderPubKey, tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}

	for token, amount := range req.Tokens {
		tw, ok := scanResp.Tokens[token]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
		}
		if amount > tw.MaxWithdrawable || amount > remaining[token] || amount > balance[token] {
			return nil, fmt.Errorf("%w: %s", ErrLimitExceeded, token)
		}
	}

	delegation, err := d.store.CurrentDelegation(ctx, *card.HolderPubKey)
	if err != nil {
		if err == registry.ErrNotFound {
			return nil, ErrNoDelegation
		}
		return nil, err
	}

	for token, amount := range req.Tokens {
		if _, err := d.store.InsertPayment(ctx, tx, card.UUID, token, amount, preq.UUID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}

	txEv, err := d.buildTransactionStartEvent(req.Tokens, recipientPubKey, delegation, "", now)
	if err != nil {
		return nil, err
	}
	if err := d.publish(ctx, txEv); err != nil {
		return nil, fmt.Errorf("failed to publish transaction start: %w", err)
	}

	return map[string]string{"status": "OK"}, nil
}

func (d *Dispatcher) buildTransactionStartEvent(tokens map[string]int64, secondParty string, delegation *registry.Delegation, bolt11 string, now time.Time) (*nostr.Event, error) {
	content, err := json.Marshal(struct {
		Tokens map[string]int64 `json:"tokens"`
	}{Tokens: tokens})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction start content: %w", err)
	}

	tags := nostr.Tags{
		{"p", d.cfg.LedgerPubKey},
		{"p", secondParty},
		{"t", "internal-transaction-start"},
		{"delegation", delegation.DelegatorPubKey, delegation.Conditions, delegation.DelegationToken},
	}
	if bolt11 != "" {
		tags = append(tags, nostr.Tag{"bolt11", bolt11})
	}

	ev := &nostr.Event{
		CreatedAt: now.Unix(),
		Kind:      1112,
		Tags:      tags,
		Content:   string(content),
	}
	if err := nostr.Sign(ev, d.cfg.ModulePrivHex); err != nil {
		return nil, fmt.Errorf("failed to sign transaction start: %w", err)
	}
	return ev, nil
}
