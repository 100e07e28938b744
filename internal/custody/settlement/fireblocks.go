// Package settlement adapts the withdrawal pipeline to the custody
// provider's wire contract. The adapter owns no business state: it maps the
// engine's asset vocabulary to provider asset IDs and executes payouts.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/orbitax/custody/internal/custody/interfaces"
	"github.com/orbitax/custody/pkg/metrics"
)

// Config holds the provider connection settings
type Config struct {
	BaseURL        string        `mapstructure:"base_url" json:"base_url"`
	APIKey         string        `mapstructure:"api_key" json:"api_key"`
	VaultAccountID string        `mapstructure:"vault_account_id" json:"vault_account_id"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout"`
}

// FireblocksClient implements interfaces.SettlementClient against a
// Fireblocks-shaped REST API.
type FireblocksClient struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewFireblocksClient creates a settlement client. The HTTP client timeout
// bounds every provider call so an unresponsive provider resolves to
// ErrProviderUnavailable instead of a stuck PROCESSING row.
func NewFireblocksClient(cfg Config, logger *zap.Logger) *FireblocksClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &FireblocksClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// providerAssetIDs maps (asset, chain) to the provider's own identifiers
var providerAssetIDs = map[interfaces.Asset]map[interfaces.Chain]string{
	interfaces.AssetBTC: {
		interfaces.ChainBitcoin: "BTC",
	},
	interfaces.AssetETH: {
		interfaces.ChainEthereum: "ETH",
	},
	interfaces.AssetUSDC: {
		interfaces.ChainEthereum: "USDC",
		interfaces.ChainPolygon:  "USDC_POLYGON",
	},
	interfaces.AssetUSDT: {
		interfaces.ChainEthereum: "USDT_ERC20",
		interfaces.ChainPolygon:  "USDT_POLYGON",
	},
}

// AssetID translates an (asset, chain) pair to the provider asset ID.
// Pure mapping, no I/O.
func (c *FireblocksClient) AssetID(asset interfaces.Asset, chain interfaces.Chain) (string, error) {
	chains, ok := providerAssetIDs[asset]
	if !ok {
		return "", fmt.Errorf("asset %s has no provider mapping: %w", asset, interfaces.ErrValidation)
	}
	id, ok := chains[chain]
	if !ok {
		return "", fmt.Errorf("asset %s not available on chain %s: %w", asset, chain, interfaces.ErrValidation)
	}
	return id, nil
}

// Wire types for the provider's transaction endpoint

type transactionRequest struct {
	AssetID     string                 `json:"assetId"`
	Amount      string                 `json:"amount"`
	Source      transactionSource      `json:"source"`
	Destination transactionDestination `json:"destination"`
	Note        string                 `json:"note,omitempty"`
}

type transactionSource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type transactionDestination struct {
	Type           string          `json:"type"`
	OneTimeAddress *oneTimeAddress `json:"oneTimeAddress,omitempty"`
}

type oneTimeAddress struct {
	Address string `json:"address"`
}

type transactionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	TxHash string `json:"txHash"`
}

type providerError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Payout instructs the provider to transfer funds on-chain. Transport and
// timeout failures classify as ErrProviderUnavailable; provider-level
// declines classify as ErrProviderRejected.
func (c *FireblocksClient) Payout(ctx context.Context, req *interfaces.PayoutRequest) (*interfaces.PayoutResult, error) {
	vault := req.VaultAccountID
	if vault == "" {
		vault = c.cfg.VaultAccountID
	}

	body, err := json.Marshal(&transactionRequest{
		AssetID: req.AssetID,
		Amount:  req.Amount.String(),
		Source:  transactionSource{Type: "VAULT_ACCOUNT", ID: vault},
		Destination: transactionDestination{
			Type:           "ONE_TIME_ADDRESS",
			OneTimeAddress: &oneTimeAddress{Address: req.Destination},
		},
		Note: req.Memo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payout request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build payout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("payout call failed: %v: %w", err, interfaces.ErrProviderUnavailable)
	}
	defer resp.Body.Close()
	metrics.SettlementLatency.Observe(time.Since(start).Seconds())

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.ProviderErrors.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("failed to read payout response: %v: %w", err, interfaces.ErrProviderUnavailable)
	}

	switch {
	case resp.StatusCode >= 500:
		metrics.ProviderErrors.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("provider returned %d: %w", resp.StatusCode, interfaces.ErrProviderUnavailable)
	case resp.StatusCode >= 400:
		metrics.ProviderErrors.WithLabelValues("rejected").Inc()
		var perr providerError
		if json.Unmarshal(payload, &perr) == nil && perr.Message != "" {
			return nil, fmt.Errorf("provider declined payout: %s: %w", perr.Message, interfaces.ErrProviderRejected)
		}
		return nil, fmt.Errorf("provider declined payout with status %d: %w", resp.StatusCode, interfaces.ErrProviderRejected)
	}

	var tx transactionResponse
	if err := json.Unmarshal(payload, &tx); err != nil {
		metrics.ProviderErrors.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("failed to decode payout response: %v: %w", err, interfaces.ErrProviderUnavailable)
	}

	switch tx.Status {
	case "REJECTED", "FAILED", "CANCELLED", "BLOCKED":
		metrics.ProviderErrors.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("provider reported payout status %s: %w", tx.Status, interfaces.ErrProviderRejected)
	}

	c.logger.Debug("payout submitted",
		zap.String("provider_tx_id", tx.ID),
		zap.String("status", tx.Status),
	)

	return &interfaces.PayoutResult{
		Status:       tx.Status,
		TxHash:       tx.TxHash,
		ProviderTxID: tx.ID,
	}, nil
}

// HealthCheck verifies the provider endpoint is reachable
func (c *FireblocksClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/vault/accounts/"+c.cfg.VaultAccountID, nil)
	if err != nil {
		return fmt.Errorf("failed to build health check request: %w", err)
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider unreachable: %v: %w", err, interfaces.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("provider health check returned %d: %w", resp.StatusCode, interfaces.ErrProviderUnavailable)
	}
	return nil
}
