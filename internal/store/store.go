package store

import (
	"context"
	"time"

	"grove-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// TransferPort moves fungible balances between ledger accounts. Every call is
// fallible; callers check the result before touching their own state. The
// reference makes a call idempotent in backends that support it.
type TransferPort interface {
	Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal, reference string) error
	Mint(ctx context.Context, asset, to string, amount decimal.Decimal, reference string) error
	Burn(ctx context.Context, asset, from string, amount decimal.Decimal, reference string) error
	Balance(ctx context.Context, asset, account string) (decimal.Decimal, error)
}

// PriceOracle returns a reference unit price for an asset. A zero price means
// no market reference is available.
type PriceOracle interface {
	UnitPrice(ctx context.Context, assetId string) (decimal.Decimal, error)
}

// PoolCommit is the set of rows touched by one lending pool operation.
type PoolCommit struct {
	State     models.PoolState
	Positions []models.LiquidityPosition
	Loans     []models.Loan
}

// PoolStore persists lending pool state.
type PoolStore interface {
	LoadPool(ctx context.Context, asset string) (*models.PoolSnapshot, error)
	CommitPool(ctx context.Context, commit PoolCommit) error
}

// ReserveCommit is the set of rows touched by one reserve operation. A
// non-empty Operation key is recorded in the same transaction and may be
// committed only once.
type ReserveCommit struct {
	State         models.ReserveState
	Distributions []models.Distribution
	Payouts       []models.HolderPayout
	Operation     string
}

// ReserveStore persists revenue reserve state and the payout log.
type ReserveStore interface {
	LoadReserve(ctx context.Context, asset string) (*models.ReserveState, error)
	GetDistribution(ctx context.Context, id string) (*models.Distribution, error)
	ListDistributions(ctx context.Context, asset string) ([]models.Distribution, error)
	ListPayouts(ctx context.Context, distributionId string) ([]models.HolderPayout, error)
	CommitReserve(ctx context.Context, commit ReserveCommit) error
	OperationApplied(ctx context.Context, key string) (bool, error)
}

// HarvestStore persists harvest records.
type HarvestStore interface {
	InsertHarvest(ctx context.Context, harvest models.HarvestRecord) (int64, error)
	GetHarvest(ctx context.Context, assetId string, index int64) (*models.HarvestRecord, error)
	ListHarvests(ctx context.Context, assetId string) ([]models.HarvestRecord, error)
	LatestHarvestTime(ctx context.Context, assetId string) (time.Time, error)
	AttachDistribution(ctx context.Context, assetId string, index int64, distributionId string) error
	MarkDistributed(ctx context.Context, assetId string, index int64) error
}

// HoldingStore exposes token holder balances of grove tokens.
type HoldingStore interface {
	GetHoldings(ctx context.Context, assetId string) ([]models.Holding, error)
	SetHolding(ctx context.Context, holding models.Holding) error
}
