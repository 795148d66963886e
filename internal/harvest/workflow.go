package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"grove-ledger-go/internal/metrics"
	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/reserve"
	"grove-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	minGrade = 1
	maxGrade = 10

	// yield ceiling and oracle band, in percent
	yieldCeilingPct = 150
	priceFloorPct   = 50
	priceCeilPct    = 200

	bpsDenominator = 10_000
)

var hundred = decimal.NewFromInt(100)

// WorkflowConfig holds the harvest validation windows and the revenue split.
type WorkflowConfig struct {
	MinSpacing     time.Duration
	MaxStaleness   time.Duration
	FarmerShareBps int64
	SubBatchSize   int
}

// NewWorkflowConfig builds a workflow configuration from the loaded settings.
func NewWorkflowConfig(hc models.HarvestConfig) WorkflowConfig {
	return WorkflowConfig{
		MinSpacing:     hc.MinSpacing,
		MaxStaleness:   hc.MaxStaleness,
		FarmerShareBps: hc.FarmerShareBps,
		SubBatchSize:   hc.SubBatchSize,
	}
}

// Workflow records harvests of one grove asset and settles their revenue
// through the asset's reserve.
type Workflow struct {
	cfg      WorkflowConfig
	asset    models.GroveAsset
	harvests store.HarvestStore
	holdings store.HoldingStore
	oracle   store.PriceOracle
	reserve  *reserve.Reserve
	metrics  *metrics.LedgerMetrics
	now      func() time.Time

	mu sync.Mutex
}

// NewWorkflow wires the harvest workflow of a grove asset.
func NewWorkflow(cfg WorkflowConfig, harvests store.HarvestStore, holdings store.HoldingStore, oracle store.PriceOracle, rsv *reserve.Reserve, asset models.GroveAsset) (*Workflow, error) {
	if asset.Id == "" || asset.Owner == "" {
		return nil, fmt.Errorf("%w: grove asset needs an id and an owner", store.ErrValidation)
	}
	if cfg.FarmerShareBps < 0 || cfg.FarmerShareBps > bpsDenominator {
		return nil, fmt.Errorf("%w: farmer share %d bps out of range", store.ErrValidation, cfg.FarmerShareBps)
	}
	if cfg.SubBatchSize <= 0 {
		return nil, fmt.Errorf("%w: sub-batch size must be positive", store.ErrValidation)
	}
	if rsv.Config().AssetId != asset.Id {
		return nil, fmt.Errorf("%w: reserve belongs to %s, not %s", store.ErrValidation, rsv.Config().AssetId, asset.Id)
	}
	return &Workflow{
		cfg:      cfg,
		asset:    asset,
		harvests: harvests,
		holdings: holdings,
		oracle:   oracle,
		reserve:  rsv,
		metrics:  metrics.Ledger(),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// ReportHarvest validates and records a harvest. Only the asset owner (or an
// admin) may report.
func (w *Workflow) ReportHarvest(ctx context.Context, yieldQuantity decimal.Decimal, qualityGrade int, unitPrice decimal.Decimal) (*models.HarvestRecord, error) {
	actor, ok := models.ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: no actor in context", store.ErrUnauthorized)
	}
	if actor.Id != w.asset.Owner && !actor.HasRole(models.RoleAdmin) {
		return nil, fmt.Errorf("%w: %s does not own %s", store.ErrUnauthorized, actor.Id, w.asset.Id)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if err := w.validate(ctx, yieldQuantity, qualityGrade, unitPrice, now); err != nil {
		w.metrics.ObserveHarvest(w.asset.Id, "rejected")
		zap.L().Warn("Harvest report rejected",
			zap.String("asset_id", w.asset.Id),
			zap.String("reported_by", actor.Id),
			zap.String("yield", yieldQuantity.String()),
			zap.String("unit_price", unitPrice.String()),
			zap.Error(err))
		return nil, err
	}

	// whole revenue units, truncated
	revenue := yieldQuantity.Mul(unitPrice).Truncate(0)
	if !revenue.IsPositive() {
		return nil, fmt.Errorf("%w: revenue of %s x %s rounds to zero", store.ErrInvalidHarvest, yieldQuantity, unitPrice)
	}

	record := models.HarvestRecord{
		Id:            uuid.New().String(),
		AssetId:       w.asset.Id,
		YieldQuantity: yieldQuantity,
		QualityGrade:  qualityGrade,
		UnitPrice:     unitPrice,
		TotalRevenue:  revenue,
		ReportedBy:    actor.Id,
		HarvestedAt:   now,
	}
	index, err := w.harvests.InsertHarvest(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("failed to record harvest: %w", err)
	}
	record.Index = index

	w.metrics.ObserveHarvest(w.asset.Id, "reported")
	zap.L().Info("Harvest reported",
		zap.String("asset_id", w.asset.Id),
		zap.Int64("harvest_index", index),
		zap.String("yield", yieldQuantity.String()),
		zap.Int("grade", qualityGrade),
		zap.String("total_revenue", revenue.String()))
	return &record, nil
}

// validate runs the report checks in order; each failure is a distinct error.
func (w *Workflow) validate(ctx context.Context, yieldQuantity decimal.Decimal, grade int, unitPrice decimal.Decimal, now time.Time) error {
	if !yieldQuantity.IsPositive() || !unitPrice.IsPositive() || grade < minGrade || grade > maxGrade {
		return fmt.Errorf("%w: yield %s, grade %d, price %s", store.ErrInvalidHarvest, yieldQuantity, grade, unitPrice)
	}

	capacity := w.asset.ExpectedYieldPerUnit.Mul(decimal.NewFromInt(w.asset.UnitCount))
	if yieldQuantity.Mul(hundred).GreaterThan(capacity.Mul(decimal.NewFromInt(yieldCeilingPct))) {
		return fmt.Errorf("%w: %s against capacity %s", store.ErrYieldTooHigh, yieldQuantity, capacity)
	}

	if err := w.checkPrice(ctx, unitPrice); err != nil {
		return err
	}

	last, err := w.harvests.LatestHarvestTime(ctx, w.asset.Id)
	if err != nil {
		return fmt.Errorf("failed to read previous harvest: %w", err)
	}
	if !last.IsZero() && now.Sub(last) < w.cfg.MinSpacing {
		return fmt.Errorf("%w: previous harvest at %s", store.ErrHarvestTooSoon, last.Format(time.RFC3339))
	}
	return nil
}

// checkPrice rejects a unit price outside [0.5x, 2x] of the oracle price. An
// oracle without a price for the asset disables the check.
func (w *Workflow) checkPrice(ctx context.Context, unitPrice decimal.Decimal) error {
	if w.oracle == nil {
		return nil
	}
	ref, err := w.oracle.UnitPrice(ctx, w.asset.Id)
	if err != nil {
		zap.L().Warn("Price oracle unavailable, skipping price band check",
			zap.String("asset_id", w.asset.Id), zap.Error(err))
		return nil
	}
	if !ref.IsPositive() {
		return nil
	}
	scaled := unitPrice.Mul(hundred)
	if scaled.LessThan(ref.Mul(decimal.NewFromInt(priceFloorPct))) || scaled.GreaterThan(ref.Mul(decimal.NewFromInt(priceCeilPct))) {
		return fmt.Errorf("%w: %s against oracle %s", store.ErrPriceOutOfRange, unitPrice, ref)
	}
	return nil
}

// Split divides revenue into the farmer and investor shares. The farmer share
// is truncated; the investor share is the remainder.
func (w *Workflow) Split(totalRevenue decimal.Decimal) (farmer, investor decimal.Decimal) {
	farmer, _ = totalRevenue.Mul(decimal.NewFromInt(w.cfg.FarmerShareBps)).QuoRem(decimal.NewFromInt(bpsDenominator), 0)
	return farmer, totalRevenue.Sub(farmer)
}

// DistributeRevenue settles a harvest: it deposits the revenue into the
// reserve, pays the investor share to token holders in sub-batches, withdraws
// the farmer share to the owner and marks the harvest distributed. Individual
// holder failures show up in the report and do not block the harvest.
//
// A settlement that stops part way is resumed by calling DistributeRevenue
// again. The deposit, the distribution and the farmer withdrawal are keyed by
// the harvest id and never repeated.
func (w *Workflow) DistributeRevenue(ctx context.Context, harvestIndex int64) (*models.HarvestSettlement, error) {
	actor, ok := models.ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: no actor in context", store.ErrUnauthorized)
	}
	if !actor.HasRole(models.RoleOperator, models.RoleAdmin) {
		return nil, fmt.Errorf("%w: %s cannot distribute harvest revenue", store.ErrUnauthorized, actor.Id)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	h, err := w.Harvest(ctx, harvestIndex)
	if err != nil {
		return nil, err
	}
	if h.Distributed {
		return nil, fmt.Errorf("%w: %s#%d", store.ErrHarvestDistributed, w.asset.Id, harvestIndex)
	}
	if age := w.now().Sub(h.HarvestedAt); age > w.cfg.MaxStaleness {
		return nil, fmt.Errorf("%w: %s#%d is %s old", store.ErrHarvestStale, w.asset.Id, harvestIndex, age.Round(time.Hour))
	}

	holdings, err := w.holdings.GetHoldings(ctx, w.asset.Id)
	if err != nil {
		return nil, fmt.Errorf("failed to load holders: %w", err)
	}
	if len(holdings) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrNoHolders, w.asset.Id)
	}

	farmer, investor := w.Split(h.TotalRevenue)
	settlement := &models.HarvestSettlement{
		HarvestIndex:   harvestIndex,
		TotalRevenue:   h.TotalRevenue,
		FarmerShare:    farmer,
		InvestorShare:  investor,
		DistributionId: h.DistributionId,
		Report:         models.BatchReport{DistributionId: h.DistributionId, PaidAmount: decimal.Zero},
	}

	if settlement.DistributionId == "" {
		id, err := w.openDistribution(ctx, h, investor, holdings)
		if err != nil {
			return nil, err
		}
		settlement.DistributionId = id
		settlement.Report.DistributionId = id
	}

	if settlement.DistributionId != "" {
		report, err := w.payInvestors(ctx, settlement.DistributionId, holdings)
		settlement.Report = report
		if err != nil {
			return settlement, fmt.Errorf("investor payout of %s#%d incomplete: %w", w.asset.Id, harvestIndex, err)
		}
	}

	if farmer.IsPositive() {
		if err := w.reserve.WithdrawFarmerShare(ctx, farmer, reserve.WithKey(settlementKey(h, "farmer"))); err != nil {
			return settlement, fmt.Errorf("failed to pay farmer share of %s#%d: %w", w.asset.Id, harvestIndex, err)
		}
	}

	if err := w.harvests.MarkDistributed(ctx, w.asset.Id, harvestIndex); err != nil {
		zap.L().Error("Harvest settled but not marked distributed",
			zap.String("asset_id", w.asset.Id),
			zap.Int64("harvest_index", harvestIndex),
			zap.String("distribution_id", settlement.DistributionId),
			zap.Error(err))
		return settlement, fmt.Errorf("failed to mark harvest distributed: %w", err)
	}

	w.metrics.ObserveHarvest(w.asset.Id, "distributed")
	zap.L().Info("Harvest revenue distributed",
		zap.String("asset_id", w.asset.Id),
		zap.Int64("harvest_index", harvestIndex),
		zap.String("distribution_id", settlement.DistributionId),
		zap.String("farmer_share", farmer.String()),
		zap.String("investor_share", investor.String()),
		zap.Int("holders_paid", settlement.Report.SuccessCount),
		zap.Int("holders_failed", settlement.Report.FailureCount))
	return settlement, nil
}

// openDistribution deposits the harvest revenue and creates the investor
// distribution, linking it to the harvest. It returns an empty id when the
// investor share is zero.
func (w *Workflow) openDistribution(ctx context.Context, h *models.HarvestRecord, investor decimal.Decimal, holdings []models.Holding) (string, error) {
	supply := w.tokenSupply(holdings)
	distKey := settlementKey(h, "distribution")
	if investor.IsPositive() {
		created, err := w.reserve.Distribution(ctx, reserve.DistributionId(w.asset.Id, distKey))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
		// fail before moving funds when the distribution would be refused
		if created == nil {
			if err := w.reserve.CheckDistribution(investor, supply); err != nil {
				return "", fmt.Errorf("cannot distribute %s#%d: %w", w.asset.Id, h.Index, err)
			}
		}
	}

	if err := w.reserve.Deposit(ctx, w.asset.Owner, h.TotalRevenue, reserve.WithKey(settlementKey(h, "deposit"))); err != nil {
		return "", fmt.Errorf("failed to deposit revenue of %s#%d: %w", w.asset.Id, h.Index, err)
	}
	if !investor.IsPositive() {
		return "", nil
	}

	dist, err := w.reserve.DistributeRevenue(ctx, investor, supply, reserve.WithKey(distKey))
	if err != nil {
		zap.L().Error("Revenue deposited but distribution not created",
			zap.String("asset_id", w.asset.Id),
			zap.Int64("harvest_index", h.Index),
			zap.String("deposit", h.TotalRevenue.String()),
			zap.Error(err))
		return "", fmt.Errorf("failed to create distribution for %s#%d: %w", w.asset.Id, h.Index, err)
	}
	if err := w.harvests.AttachDistribution(ctx, w.asset.Id, h.Index, dist.Id); err != nil {
		zap.L().Error("Distribution created but not linked to harvest",
			zap.String("asset_id", w.asset.Id),
			zap.Int64("harvest_index", h.Index),
			zap.String("distribution_id", dist.Id),
			zap.Error(err))
		return "", fmt.Errorf("failed to link distribution %s: %w", dist.Id, err)
	}
	return dist.Id, nil
}

// settlementKey names one ledger step of a harvest settlement. Each step runs
// at most once per harvest, however often the settlement is resumed.
func settlementKey(h *models.HarvestRecord, step string) string {
	return "harvest:" + h.Id + ":" + step
}

func (w *Workflow) payInvestors(ctx context.Context, distributionId string, holdings []models.Holding) (models.BatchReport, error) {
	dist, err := w.reserve.Distribution(ctx, distributionId)
	if err != nil {
		return models.BatchReport{DistributionId: distributionId, PaidAmount: decimal.Zero}, err
	}
	if dist.Completed {
		return models.BatchReport{DistributionId: distributionId, PaidAmount: decimal.Zero, Completed: true}, nil
	}
	holders := lo.Map(holdings, func(h models.Holding, _ int) string { return h.Holder })
	amounts := lo.Map(holdings, func(h models.Holding, _ int) decimal.Decimal { return h.Amount })
	return w.reserve.DistributeBatchRevenue(ctx, distributionId, holders, amounts, w.cfg.SubBatchSize)
}

// tokenSupply is the configured supply of the asset, or the sum of the
// holdings when none is configured.
func (w *Workflow) tokenSupply(holdings []models.Holding) decimal.Decimal {
	if w.asset.TokenSupply.IsPositive() {
		return w.asset.TokenSupply
	}
	return lo.Reduce(holdings, func(sum decimal.Decimal, h models.Holding, _ int) decimal.Decimal {
		return sum.Add(h.Amount)
	}, decimal.Zero)
}

// Reserve returns the revenue reserve the workflow settles through.
func (w *Workflow) Reserve() *reserve.Reserve { return w.reserve }

// Asset returns the grove asset this workflow settles.
func (w *Workflow) Asset() models.GroveAsset { return w.asset }

// Harvest returns one harvest of the asset by index.
func (w *Workflow) Harvest(ctx context.Context, index int64) (*models.HarvestRecord, error) {
	h, err := w.harvests.GetHarvest(ctx, w.asset.Id, index)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w %s#%d", store.ErrHarvestNotFound, w.asset.Id, index)
	}
	return h, err
}

// Harvests returns every harvest of the asset in index order.
func (w *Workflow) Harvests(ctx context.Context) ([]models.HarvestRecord, error) {
	return w.harvests.ListHarvests(ctx, w.asset.Id)
}

// PendingHarvests returns undistributed harvests reported at least olderThan
// ago that are still fresh enough to settle.
func (w *Workflow) PendingHarvests(ctx context.Context, olderThan time.Duration) ([]models.HarvestRecord, error) {
	all, err := w.Harvests(ctx)
	if err != nil {
		return nil, err
	}
	now := w.now()
	return lo.Filter(all, func(h models.HarvestRecord, _ int) bool {
		age := now.Sub(h.HarvestedAt)
		return !h.Distributed && age >= olderThan && age <= w.cfg.MaxStaleness
	}), nil
}
