package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orbitax/custody/internal/custody/interfaces"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *FireblocksClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewFireblocksClient(Config{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		VaultAccountID: "0",
		Timeout:        2 * time.Second,
	}, zap.NewNop())
}

func TestAssetID(t *testing.T) {
	c := NewFireblocksClient(Config{}, zap.NewNop())

	tests := []struct {
		asset interfaces.Asset
		chain interfaces.Chain
		want  string
	}{
		{interfaces.AssetBTC, interfaces.ChainBitcoin, "BTC"},
		{interfaces.AssetETH, interfaces.ChainEthereum, "ETH"},
		{interfaces.AssetUSDC, interfaces.ChainEthereum, "USDC"},
		{interfaces.AssetUSDC, interfaces.ChainPolygon, "USDC_POLYGON"},
		{interfaces.AssetUSDT, interfaces.ChainEthereum, "USDT_ERC20"},
		{interfaces.AssetUSDT, interfaces.ChainPolygon, "USDT_POLYGON"},
	}
	for _, tt := range tests {
		got, err := c.AssetID(tt.asset, tt.chain)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := c.AssetID(interfaces.AssetBTC, interfaces.ChainPolygon)
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	_, err = c.AssetID(interfaces.Asset("XRP"), interfaces.ChainEthereum)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestPayoutSuccess(t *testing.T) {
	var captured transactionRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transactions", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(transactionResponse{
			ID:     "fb-tx-123",
			Status: "COMPLETED",
			TxHash: "0xabc123",
		})
	})

	result, err := client.Payout(context.Background(), &interfaces.PayoutRequest{
		AssetID:     "ETH",
		Amount:      decimal.RequireFromString("99"),
		Destination: "0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
		Memo:        "Withdrawal #42",
	})
	require.NoError(t, err)

	assert.Equal(t, "fb-tx-123", result.ProviderTxID)
	assert.Equal(t, "0xabc123", result.TxHash)
	assert.True(t, result.Submitted())

	assert.Equal(t, "ETH", captured.AssetID)
	assert.Equal(t, "99", captured.Amount)
	assert.Equal(t, "VAULT_ACCOUNT", captured.Source.Type)
	assert.Equal(t, "0", captured.Source.ID)
	assert.Equal(t, "ONE_TIME_ADDRESS", captured.Destination.Type)
	assert.Equal(t, "0x742d35Cc6634C0532925a3b844Bc454e4438f44e", captured.Destination.OneTimeAddress.Address)
	assert.Equal(t, "Withdrawal #42", captured.Note)
}

func TestPayoutIntermediateStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(transactionResponse{ID: "fb-tx-9", Status: "SUBMITTED"})
	})

	result, err := client.Payout(context.Background(), &interfaces.PayoutRequest{
		AssetID:     "BTC",
		Amount:      decimal.RequireFromString("0.1"),
		Destination: "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
	})
	require.NoError(t, err)
	assert.False(t, result.Submitted())
	assert.Empty(t, result.TxHash)
}

func TestPayoutProviderRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(providerError{Message: "destination address is blocked", Code: 1427})
	})

	_, err := client.Payout(context.Background(), &interfaces.PayoutRequest{
		AssetID:     "ETH",
		Amount:      decimal.RequireFromString("1"),
		Destination: "0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
	})
	assert.ErrorIs(t, err, interfaces.ErrProviderRejected)
	assert.Contains(t, err.Error(), "destination address is blocked")
}

func TestPayoutRejectedStatusInBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(transactionResponse{ID: "fb-tx-7", Status: "REJECTED"})
	})

	_, err := client.Payout(context.Background(), &interfaces.PayoutRequest{
		AssetID:     "ETH",
		Amount:      decimal.RequireFromString("1"),
		Destination: "0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
	})
	assert.ErrorIs(t, err, interfaces.ErrProviderRejected)
}

func TestPayoutProviderUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.Payout(context.Background(), &interfaces.PayoutRequest{
		AssetID:     "ETH",
		Amount:      decimal.RequireFromString("1"),
		Destination: "0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
	})
	assert.ErrorIs(t, err, interfaces.ErrProviderUnavailable)
}

func TestPayoutTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := NewFireblocksClient(Config{BaseURL: srv.URL, Timeout: time.Second}, zap.NewNop())
	_, err := client.Payout(context.Background(), &interfaces.PayoutRequest{
		AssetID:     "ETH",
		Amount:      decimal.RequireFromString("1"),
		Destination: "0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
	})
	assert.ErrorIs(t, err, interfaces.ErrProviderUnavailable)
}

func TestPayoutBoundedByTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
	})
	client.http.Timeout = 100 * time.Millisecond

	start := time.Now()
	_, err := client.Payout(context.Background(), &interfaces.PayoutRequest{
		AssetID:     "ETH",
		Amount:      decimal.RequireFromString("1"),
		Destination: "0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
	})
	assert.ErrorIs(t, err, interfaces.ErrProviderUnavailable)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestHealthCheck(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/vault/accounts/0", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	assert.NoError(t, client.HealthCheck(context.Background()))

	failing := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	assert.ErrorIs(t, failing.HealthCheck(context.Background()), interfaces.ErrProviderUnavailable)
}
