package oracle

import (
	"context"
	"sync"

	"grove-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

var _ store.PriceOracle = (*StaticOracle)(nil)

// StaticOracle serves prices from an in-memory table. Unknown assets have no
// market reference and price at zero.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewStaticOracle(prices map[string]decimal.Decimal) *StaticOracle {
	table := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		table[k] = v
	}
	return &StaticOracle{prices: table}
}

func (o *StaticOracle) UnitPrice(_ context.Context, assetId string) (decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.prices[assetId], nil
}

// SetPrice updates the price of one asset.
func (o *StaticOracle) SetPrice(assetId string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[assetId] = price
}
