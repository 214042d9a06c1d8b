// Package identityprovider implements the bounded-timeout HTTP client for
// the external identity provider Admin-Reset-Claim calls out to (spec.md
// §1 "deliberately out of scope", §5 "bounded timeout (recommend 5s);
// failure is non-fatal where annotated").
package identityprovider

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

// DefaultTimeout is the bounded timeout spec.md §5 recommends for identity
// provider calls.
const DefaultTimeout = 5 * time.Second

// Client implements internal/lifecycle.IdentityProvider against the
// IDENTITY_PROVIDER_API_BASE service.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New constructs a Client. httpClient defaults to one with DefaultTimeout
// when nil.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{httpClient: httpClient, baseURL: baseURL}
}

type transferIdentityRequest struct {
	OldHolderPubKey string `json:"oldHolderPubKey"`
	NewHolderPubKey string `json:"newHolderPubKey"`
}

type transferIdentityResponse struct {
	Name string `json:"name"`
}

// TransferIdentity notifies the identity provider that newHolderPubKey has
// taken over oldHolderPubKey's identity (Admin-Reset-Claim's third
// best-effort step). A non-2xx response or transport failure is reported
// as ok=false; the caller (internal/lifecycle) treats this as non-fatal.
func (c *Client) TransferIdentity(ctx context.Context, oldHolderPubKey, newHolderPubKey string) (name string, ok bool) {
	body, err := json.Marshal(transferIdentityRequest{OldHolderPubKey: oldHolderPubKey, NewHolderPubKey: newHolderPubKey})
	if err != nil {
		logger.Error("failed to serialize identity transfer request", zap.Error(err))
		return "", false
	}

	url := fmt.Sprintf("%s/identity/transfer", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		logger.Error("failed to build identity transfer request", zap.Error(err))
		return "", false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("identity provider call failed", zap.String("url", url), zap.Error(err))
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Error("identity provider returned error", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return "", false
	}

	var out transferIdentityResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		logger.Error("failed to decode identity provider response", zap.String("url", url), zap.Error(err))
		return "", false
	}

	logger.Info("identity transferred", zap.String("oldHolderPubKey", oldHolderPubKey), zap.String("newHolderPubKey", newHolderPubKey), zap.String("name", out.Name))
	return out.Name, true
}
