package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var _ store.PriceOracle = (*HTTPOracle)(nil)

// priceResponse is the price feed payload, e.g. {"asset_id":"GROVE1","unit_price":"5.00"}
type priceResponse struct {
	AssetId   string          `json:"asset_id"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// HTTPOracle fetches unit prices from a JSON price feed with retry and a
// short-lived cache.
type HTTPOracle struct {
	baseURL    string
	httpClient *http.Client
	delay      time.Duration
	maxRetries int
	cache      *priceCache
}

// NewHTTPOracle creates a price feed client from configuration.
func NewHTTPOracle(cfg models.OracleConfig) *HTTPOracle {
	return &HTTPOracle{
		baseURL:    cfg.URL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		delay:      cfg.RetryDelay,
		maxRetries: cfg.RetryMax,
		cache:      newPriceCache(cfg.CacheTTL),
	}
}

// UnitPrice returns the current unit price of an asset.
func (o *HTTPOracle) UnitPrice(ctx context.Context, assetId string) (decimal.Decimal, error) {
	if price, ok := o.cache.get(assetId); ok {
		return price, nil
	}

	endpoint := fmt.Sprintf("%s/prices/%s", o.baseURL, url.PathEscape(assetId))
	body, err := o.fetchWithRetry(ctx, endpoint)
	if err != nil {
		return decimal.Zero, err
	}

	var resp priceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("parsing price response: %w", err)
	}
	if resp.UnitPrice.IsNegative() {
		return decimal.Zero, fmt.Errorf("price feed returned negative price %s for %s", resp.UnitPrice, assetId)
	}

	o.cache.set(assetId, resp.UnitPrice)
	zap.L().Debug("Fetched unit price",
		zap.String("asset_id", assetId),
		zap.String("unit_price", resp.UnitPrice.String()))
	return resp.UnitPrice, nil
}

func (o *HTTPOracle) fetchWithRetry(ctx context.Context, endpoint string) ([]byte, error) {
	var lastErr error
	for attempt := range o.maxRetries + 1 {
		if attempt > 0 {
			baseDelay := o.delay
			if baseDelay == 0 {
				baseDelay = 2 * time.Second
			}
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("creating price request: %w", err)
		}

		resp, err := o.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("price request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading price response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("price feed HTTP %d (attempt %d/%d)", resp.StatusCode, attempt+1, o.maxRetries+1)
			zap.L().Warn("Price feed request failed, retrying", zap.Error(lastErr))
			continue
		}

		return nil, fmt.Errorf("price feed HTTP %d: %s", resp.StatusCode, string(body))
	}

	return nil, lastErr
}
