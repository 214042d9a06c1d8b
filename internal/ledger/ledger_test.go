package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lawalletio/card/pkg/logger"
)

func init() {
	_ = logger.Init("development")
}

func TestBalanceSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/balance", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body balanceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "holder-pubkey", body.PubKey)
		assert.ElementsMatch(t, []string{"BTC", "USD"}, body.Tokens)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(balanceResponse{Balances: map[string]int64{"BTC": 50000}})
	}))
	defer server.Close()

	client := New(server.URL, nil)
	balances, err := client.Balance(context.Background(), "holder-pubkey", []string{"BTC", "USD"})
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balances["BTC"])
	assert.Equal(t, int64(0), balances["USD"], "missing token defaults to 0, not absent")
}

func TestBalanceErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL, nil)
	_, err := client.Balance(context.Background(), "holder-pubkey", []string{"BTC"})
	require.Error(t, err)
}

func TestBalanceUnreachable(t *testing.T) {
	client := New("http://127.0.0.1:0", nil)
	_, err := client.Balance(context.Background(), "holder-pubkey", []string{"BTC"})
	require.Error(t, err)
}
