// Package ledger implements withdraw.BalanceFetcher: a bounded-timeout HTTP
// query against the LaWallet federation's own ledger module for a holder's
// current per-token balance. spec.md §4.7's "balance fetched from the
// ledger events bus" names the holder's federation balance, not this
// module's own Lightning node balance — that distinction is why this client
// exists instead of reusing internal/lnd.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lawalletio/card/pkg/logger"

	"go.uber.org/zap"
)

// DefaultTimeout bounds every balance query, matching internal/identityprovider's
// default.
const DefaultTimeout = 5 * time.Second

// Client queries LAWALLET_API_BASE_URL for a pubkey's balance.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New constructs a Client. A nil httpClient defaults to one bounded by
// DefaultTimeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{httpClient: httpClient, baseURL: baseURL}
}

type balanceRequest struct {
	PubKey string   `json:"pubkey"`
	Tokens []string `json:"tokens"`
}

type balanceResponse struct {
	Balances map[string]int64 `json:"balances"`
}

// Balance implements withdraw.BalanceFetcher. On any transport or non-2xx
// failure it returns an error — unlike identityprovider's best-effort calls,
// a failed balance lookup must block the payment rather than silently
// proceed (spec.md §4.7 requires the check to succeed before funds move).
func (c *Client) Balance(ctx context.Context, holderPubKey string, tokens []string) (map[string]int64, error) {
	body, err := json.Marshal(balanceRequest{PubKey: holderPubKey, Tokens: tokens})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal balance request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/balance", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build balance request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("ledger balance request failed", zap.String("pubkey", holderPubKey), zap.Error(err))
		return nil, fmt.Errorf("ledger balance request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Error("ledger balance request returned error status",
			zap.String("pubkey", holderPubKey), zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("ledger balance request returned status %d", resp.StatusCode)
	}

	var out balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode ledger balance response: %w", err)
	}

	balances := out.Balances
	if balances == nil {
		balances = map[string]int64{}
	}
	for _, token := range tokens {
		if _, ok := balances[token]; !ok {
			balances[token] = 0
		}
	}
	return balances, nil
}
