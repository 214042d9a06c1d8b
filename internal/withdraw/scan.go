package withdraw

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lawalletio/card/internal/nostr"
	"github.com/lawalletio/card/internal/registry"
)

// ParseParam decodes the comma-separated `k=v` pairs of X-LaWallet-Param
// (spec.md §6), e.g. "federationId=fed1,tokens=BTC:USD".
func ParseParam(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		out[k] = v
	}
	return out
}

type StandardScanResponse struct {
	Tag                string `json:"tag"`
	Callback           string `json:"callback"`
	K1                 string `json:"k1"`
	DefaultDescription string `json:"defaultDescription"`
	MinWithdrawable    int64  `json:"minWithdrawable"`
	MaxWithdrawable    int64  `json:"maxWithdrawable"`
}

type TokenWithdrawable struct {
	MinWithdrawable int64 `json:"minWithdrawable"`
	MaxWithdrawable int64 `json:"maxWithdrawable"`
}

type ExtendedScanResponse struct {
	Tag                string                       `json:"tag"`
	Callback           string                       `json:"callback"`
	K1                 string                       `json:"k1"`
	DefaultDescription string                       `json:"defaultDescription"`
	Tokens             map[string]TokenWithdrawable `json:"tokens"`
}

type PayRequestDescriptor struct {
	Tag      string `json:"tag"`
	Callback string `json:"callback"`
}

type InfoResponse struct {
	Initialized   bool           `json:"initialized"`
	Associated    bool           `json:"associated"`
	Activated     bool           `json:"activated"`
	HasDelegation bool           `json:"hasDelegation"`
	HasIdentity   bool           `json:"hasIdentity"`
	NTAG          *registry.NTAG `json:"ntag,omitempty"`
	Card          *registry.Card `json:"card,omitempty"`
}

// Scan dispatches GET /card/scan?p&c by the X-LaWallet-Action header
// (action) and its X-LaWallet-Param payload (param), per spec.md §4.7/§6.
// Returns the JSON-serializable scan response, or a *nostr.Event for
// identityQuery.
func (d *Dispatcher) Scan(ctx context.Context, p, c, action string, param map[string]string, now time.Time) (any, error) {
	if d.cfg.FederationID != "" && param["federationId"] != "" && param["federationId"] != d.cfg.FederationID {
		action = ""
	}

	switch action {
	case "info":
		return d.scanInfo(ctx, p, c)
	case "identityQuery":
		return d.scanIdentityQuery(ctx, p, c, now)
	case "payRequest":
		return d.scanPayRequest(ctx, p, c)
	case "extendedScan":
		return d.scanExtended(ctx, p, c, param["tokens"])
	case "", "standard":
		return d.scanStandard(ctx, p, c)
	default:
		return nil, fmt.Errorf("%w: unknown scan action %q", ErrUnprocessable, action)
	}
}

func (d *Dispatcher) scanStandard(ctx context.Context, p, c string) (*StandardScanResponse, error) {
	card, err := d.resolveCard(ctx, p, c)
	if err != nil {
		return nil, err
	}

	remaining, err := d.store.Remaining(ctx, card.UUID, []string{"BTC"})
	if err != nil {
		return nil, err
	}

	resp := &StandardScanResponse{
		Tag:                "withdrawRequest",
		Callback:           d.cfg.BaseURL + "/card/pay",
		DefaultDescription: "LaWallet",
		MinWithdrawable:    0,
		MaxWithdrawable:    remaining["BTC"],
	}

	k1, err := d.issuePaymentRequest(ctx, card.UUID, resp)
	if err != nil {
		return nil, err
	}
	resp.K1 = k1
	return resp, nil
}

func (d *Dispatcher) scanExtended(ctx context.Context, p, c, tokensParam string) (*ExtendedScanResponse, error) {
	card, err := d.resolveCard(ctx, p, c)
	if err != nil {
		return nil, err
	}

	var tokens []string
	if tokensParam != "" {
		tokens = strings.Split(tokensParam, ":")
	}
	remaining, err := d.store.Remaining(ctx, card.UUID, tokens)
	if err != nil {
		return nil, err
	}

	tokenMap := make(map[string]TokenWithdrawable, len(remaining))
	for token, rem := range remaining {
		tokenMap[token] = TokenWithdrawable{MinWithdrawable: 0, MaxWithdrawable: rem}
	}

	resp := &ExtendedScanResponse{
		Tag:                "laWallet:withdrawRequest",
		Callback:           d.cfg.BaseURL + "/card/pay",
		DefaultDescription: "LaWallet",
		Tokens:             tokenMap,
	}

	k1, err := d.issuePaymentRequest(ctx, card.UUID, resp)
	if err != nil {
		return nil, err
	}
	resp.K1 = k1
	return resp, nil
}

func (d *Dispatcher) issuePaymentRequest(ctx context.Context, cardUUID string, resp any) (string, error) {
	rendered, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to serialize scan response: %w", err)
	}
	return d.store.IssuePaymentRequest(ctx, cardUUID, string(rendered))
}

func (d *Dispatcher) scanIdentityQuery(ctx context.Context, p, c string, now time.Time) (*nostr.Event, error) {
	card, err := d.resolveCard(ctx, p, c)
	if err != nil {
		return nil, err
	}

	ev := &nostr.Event{
		CreatedAt: now.Unix(),
		Kind:      21111,
		Tags:      nostr.Tags{{"t", "card-identity-response"}},
		Content:   *card.HolderPubKey,
	}
	if err := nostr.Sign(ev, d.cfg.ModulePrivHex); err != nil {
		return nil, fmt.Errorf("failed to sign identity response: %w", err)
	}
	return ev, nil
}

func (d *Dispatcher) scanPayRequest(ctx context.Context, p, c string) (*PayRequestDescriptor, error) {
	card, err := d.resolveCard(ctx, p, c)
	if err != nil {
		return nil, err
	}
	return &PayRequestDescriptor{
		Tag:      "payRequest",
		Callback: fmt.Sprintf("%s/lnurlp/%s/callback", d.cfg.BaseURL, *card.HolderPubKey),
	}, nil
}

func (d *Dispatcher) scanInfo(ctx context.Context, p, c string) (*InfoResponse, error) {
	res, err := d.verifier.Verify(ctx, p, c)
	if err != nil {
		return nil, err
	}

	// HasIdentity stays false: confirming it needs a round trip to the
	// external identity provider, which C7 deliberately doesn't depend on.
	info := &InfoResponse{Initialized: true, NTAG: res.NTAG}
	info.Associated = res.NTAG.OTC != nil

	card, err := d.store.GetCardByNTAGCid(ctx, res.NTAG.Cid)
	if err == nil {
		info.Activated = card.HolderPubKey != nil
		info.Card = card
		if card.HolderPubKey != nil {
			if _, delErr := d.store.CurrentDelegation(ctx, *card.HolderPubKey); delErr == nil {
				info.HasDelegation = true
			}
		}
	} else if err != registry.ErrNotFound {
		return nil, err
	}

	return info, nil
}
