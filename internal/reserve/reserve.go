package reserve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"grove-ledger-go/internal/metrics"
	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultTransferTimeout = 15 * time.Second

// Config holds the guards of the revenue reserve of one grove asset.
type Config struct {
	AssetId         string
	RevenueAsset    string
	FarmerAccount   string
	Cooldown        time.Duration
	MinDistribution decimal.Decimal
	MaxDistribution decimal.Decimal // zero means unbounded
	MaxBatchSize    int
	MaxSubBatchSize int
	TransferTimeout time.Duration
}

// NewConfig builds the reserve configuration of a grove asset. Payouts are made
// in the asset's revenue currency and the farmer share goes to its owner.
func NewConfig(asset models.GroveAsset, rc models.ReserveConfig, transferTimeout time.Duration) Config {
	return Config{
		AssetId:         asset.Id,
		RevenueAsset:    asset.RevenueAsset,
		FarmerAccount:   asset.Owner,
		Cooldown:        rc.DistributionCooldown,
		MinDistribution: rc.MinDistribution,
		MaxDistribution: rc.MaxDistribution,
		MaxBatchSize:    rc.MaxBatchSize,
		MaxSubBatchSize: rc.MaxSubBatchSize,
		TransferTimeout: transferTimeout,
	}
}

func (c Config) validate() error {
	if c.AssetId == "" || c.RevenueAsset == "" {
		return fmt.Errorf("%w: reserve needs an asset id and a revenue asset", store.ErrValidation)
	}
	if c.FarmerAccount == "" {
		return fmt.Errorf("%w: reserve %s has no farmer account", store.ErrValidation, c.AssetId)
	}
	if c.MaxBatchSize <= 0 || c.MaxSubBatchSize <= 0 {
		return fmt.Errorf("%w: batch sizes must be positive", store.ErrValidation)
	}
	if c.MinDistribution.IsNegative() {
		return fmt.Errorf("%w: minimum distribution cannot be negative", store.ErrValidation)
	}
	return nil
}

// Account is the ledger account holding a grove asset's reserve.
func Account(assetId string) string { return "reserves:" + assetId }

// PayoutReference identifies the transfer of one holder's share. It is stable
// across retries so a backend never pays the same entry twice.
func PayoutReference(distributionId string, holderIndex int) string {
	return fmt.Sprintf("dist:%s:holder:%d", distributionId, holderIndex)
}

// Option adjusts a single reserve operation.
type Option func(*opSettings)

type opSettings struct {
	key string
}

// WithKey makes an operation idempotent under key. The key is recorded with
// the reserve state the operation commits, its transfer carries a reference
// derived from the key, and a repeated call with the same key returns without
// moving funds again.
func WithKey(key string) Option {
	return func(o *opSettings) { o.key = key }
}

func settings(opts []Option) opSettings {
	var o opSettings
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// refId is the reference suffix of the operation's transfer.
func (o opSettings) refId() string {
	if o.key != "" {
		return o.key
	}
	return uuid.New().String()
}

// DistributionId is the id of the distribution created under key.
func DistributionId(assetId, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("reserve:"+assetId+":distribution:"+key)).String()
}

// Reserve holds the revenue of a grove asset and pays it out to token holders
// in batches. Mutations of the reserve state are serialized; a distribution may
// have one payout run in flight.
type Reserve struct {
	cfg     Config
	store   store.ReserveStore
	port    store.TransferPort
	metrics *metrics.LedgerMetrics
	now     func() time.Time

	mu    sync.Mutex
	state models.ReserveState

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewReserve loads the persisted reserve of the configured asset.
func NewReserve(ctx context.Context, cfg Config, reserveStore store.ReserveStore, port store.TransferPort) (*Reserve, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = defaultTransferTimeout
	}

	r := &Reserve{
		cfg:      cfg,
		store:    reserveStore,
		port:     port,
		metrics:  metrics.Ledger(),
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
	if err := r.reload(ctx); err != nil {
		return nil, err
	}

	zap.L().Info("Revenue reserve loaded",
		zap.String("asset", cfg.AssetId),
		zap.String("revenue_asset", cfg.RevenueAsset),
		zap.String("total_reserve", r.state.TotalReserve.String()))
	return r, nil
}

func (r *Reserve) reload(ctx context.Context) error {
	state, err := r.store.LoadReserve(ctx, r.cfg.AssetId)
	if err != nil {
		return fmt.Errorf("failed to load reserve %s: %w", r.cfg.AssetId, err)
	}
	r.state = *state
	r.metrics.SetReserveBalance(r.cfg.AssetId, r.state.TotalReserve)
	return nil
}

// Deposit pulls amount from the depositor account into the reserve.
func (r *Reserve) Deposit(ctx context.Context, from string, amount decimal.Decimal, opts ...Option) error {
	if _, err := privileged(ctx, "deposit into the reserve"); err != nil {
		return err
	}
	if err := validateAmount(amount); err != nil {
		return err
	}

	o := settings(opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	if done, err := r.applied(ctx, "deposit", o.key); err != nil || done {
		return err
	}

	next := r.state
	next.TotalReserve = next.TotalReserve.Add(amount)

	legs := []store.Leg{{
		Kind: store.LegTransfer, Asset: r.cfg.RevenueAsset, From: from, To: Account(r.cfg.AssetId),
		Amount: amount, Reference: r.ref("deposit", o.refId()),
	}}
	if err := r.apply(ctx, "deposit", legs, store.ReserveCommit{State: next, Operation: o.key}); err != nil {
		return err
	}

	zap.L().Info("Revenue deposited",
		zap.String("asset", r.cfg.AssetId),
		zap.String("from", from),
		zap.String("amount", amount.String()),
		zap.String("total_reserve", r.state.TotalReserve.String()))
	return nil
}

// DistributeRevenue earmarks totalRevenue of the reserve for a new
// distribution over tokenSupply grove tokens.
func (r *Reserve) DistributeRevenue(ctx context.Context, totalRevenue, tokenSupply decimal.Decimal, opts ...Option) (*models.Distribution, error) {
	if _, err := privileged(ctx, "create distributions"); err != nil {
		return nil, err
	}
	o := settings(opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New().String()
	if o.key != "" {
		id = DistributionId(r.cfg.AssetId, o.key)
		done, err := r.applied(ctx, "distribute", o.key)
		if err != nil {
			return nil, err
		}
		if done {
			return r.Distribution(ctx, id)
		}
	}

	now := r.now()
	if err := r.guard(totalRevenue, tokenSupply, now); err != nil {
		return nil, err
	}
	if totalRevenue.GreaterThan(r.state.TotalReserve) {
		return nil, fmt.Errorf("%w: distribution %s exceeds reserve %s",
			store.ErrInsufficientReserve, totalRevenue, r.state.TotalReserve)
	}

	dist := models.Distribution{
		Id:               id,
		Asset:            r.cfg.AssetId,
		TotalRevenue:     totalRevenue,
		TotalTokenSupply: tokenSupply,
		CreatedAt:        now,
	}
	next := r.state
	next.TotalReserve = next.TotalReserve.Sub(totalRevenue)
	next.TotalDistributed = next.TotalDistributed.Add(totalRevenue)
	next.LastDistribution = now

	commit := store.ReserveCommit{State: next, Distributions: []models.Distribution{dist}, Operation: o.key}
	if err := r.apply(ctx, "distribute", nil, commit); err != nil {
		return nil, err
	}

	zap.L().Info("Distribution created",
		zap.String("asset", r.cfg.AssetId),
		zap.String("distribution_id", dist.Id),
		zap.String("total_revenue", totalRevenue.String()),
		zap.String("token_supply", tokenSupply.String()))
	return &dist, nil
}

// CheckDistribution reports whether a distribution of totalRevenue could be
// created now, leaving out the reserve balance check.
func (r *Reserve) CheckDistribution(totalRevenue, tokenSupply decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.guard(totalRevenue, tokenSupply, r.now())
}

// guard checks amount, bounds and cooldown of a new distribution. Callers hold mu.
func (r *Reserve) guard(totalRevenue, tokenSupply decimal.Decimal, now time.Time) error {
	if err := validateAmount(totalRevenue); err != nil {
		return err
	}
	if !tokenSupply.IsPositive() {
		return fmt.Errorf("%w: token supply must be positive, got %s", store.ErrValidation, tokenSupply)
	}
	if totalRevenue.LessThan(r.cfg.MinDistribution) ||
		(r.cfg.MaxDistribution.IsPositive() && totalRevenue.GreaterThan(r.cfg.MaxDistribution)) {
		return fmt.Errorf("%w: %s not within [%s, %s]", store.ErrDistributionBounds,
			totalRevenue, r.cfg.MinDistribution, r.cfg.MaxDistribution)
	}
	if !r.state.LastDistribution.IsZero() && now.Sub(r.state.LastDistribution) < r.cfg.Cooldown {
		return fmt.Errorf("%w: last distribution at %s, cooldown %s",
			store.ErrDistributionCooldown, r.state.LastDistribution.Format(time.RFC3339), r.cfg.Cooldown)
	}
	return nil
}

// WithdrawFarmerShare pays amount out of the reserve to the farmer account.
func (r *Reserve) WithdrawFarmerShare(ctx context.Context, amount decimal.Decimal, opts ...Option) error {
	if _, err := privileged(ctx, "withdraw the farmer share"); err != nil {
		return err
	}
	if err := validateAmount(amount); err != nil {
		return err
	}

	o := settings(opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	if done, err := r.applied(ctx, "farmer_withdrawal", o.key); err != nil || done {
		return err
	}
	if amount.GreaterThan(r.state.TotalReserve) {
		return fmt.Errorf("%w: withdrawal %s exceeds reserve %s",
			store.ErrInsufficientReserve, amount, r.state.TotalReserve)
	}

	next := r.state
	next.TotalReserve = next.TotalReserve.Sub(amount)
	next.FarmerWithdrawn = next.FarmerWithdrawn.Add(amount)

	legs := []store.Leg{{
		Kind: store.LegTransfer, Asset: r.cfg.RevenueAsset, From: Account(r.cfg.AssetId), To: r.cfg.FarmerAccount,
		Amount: amount, Reference: r.ref("farmer", o.refId()),
	}}
	if err := r.apply(ctx, "farmer_withdrawal", legs, store.ReserveCommit{State: next, Operation: o.key}); err != nil {
		return err
	}

	zap.L().Info("Farmer share withdrawn",
		zap.String("asset", r.cfg.AssetId),
		zap.String("farmer", r.cfg.FarmerAccount),
		zap.String("amount", amount.String()))
	return nil
}

// applied reports whether the keyed operation has already been committed.
// Callers hold mu.
func (r *Reserve) applied(ctx context.Context, op, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	done, err := r.store.OperationApplied(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check %s %s: %w", op, key, err)
	}
	if done {
		zap.L().Info("Reserve operation already applied",
			zap.String("asset", r.cfg.AssetId),
			zap.String("operation", op),
			zap.String("key", key))
	}
	return done, nil
}

// apply executes the legs of a single-party operation and commits the next
// reserve state. A failed leg or commit leaves the reserve as it was, except
// for keyed operations: their transfers are left in place on a failed commit
// and a repeated call re-runs the same references, which the backend applies
// once, and then commits.
func (r *Reserve) apply(ctx context.Context, op string, legs []store.Leg, commit store.ReserveCommit) error {
	if commit.State.TotalReserve.IsNegative() {
		r.metrics.IncInvariantViolation("reserve")
		zap.L().Error("Reserve invariant violated, operation halted",
			zap.String("asset", r.cfg.AssetId),
			zap.String("operation", op),
			zap.String("total_reserve", commit.State.TotalReserve.String()))
		if err := r.reload(ctx); err != nil {
			zap.L().Error("Failed to reload reserve state", zap.Error(err))
		}
		return fmt.Errorf("%w: reserve %s would be %s", store.ErrInvariantViolation, r.cfg.AssetId, commit.State.TotalReserve)
	}

	if err := store.ExecuteLegs(ctx, r.port, r.cfg.TransferTimeout, legs); err != nil {
		zap.L().Warn("Reserve operation aborted by transfer failure",
			zap.String("asset", r.cfg.AssetId),
			zap.String("operation", op),
			zap.Error(err))
		return err
	}
	if err := r.commit(ctx, commit); err != nil {
		if commit.Operation != "" {
			zap.L().Error("Failed to persist keyed reserve operation, transfers kept for retry",
				zap.String("asset", r.cfg.AssetId),
				zap.String("operation", op),
				zap.String("key", commit.Operation),
				zap.Error(err))
			return fmt.Errorf("failed to commit %s %s: %w", op, commit.Operation, err)
		}
		zap.L().Error("Failed to persist reserve state, reversing transfers",
			zap.String("asset", r.cfg.AssetId),
			zap.String("operation", op),
			zap.Error(err))
		store.Compensate(ctx, r.port, r.cfg.TransferTimeout, legs)
		return fmt.Errorf("failed to commit %s: %w", op, err)
	}
	return nil
}

// commit persists a reserve commit and installs its state. Callers hold mu.
func (r *Reserve) commit(ctx context.Context, commit store.ReserveCommit) error {
	if err := r.store.CommitReserve(ctx, commit); err != nil {
		if reloadErr := r.reload(ctx); reloadErr != nil {
			zap.L().Error("Failed to reload reserve state", zap.Error(reloadErr))
		}
		return err
	}
	commit.State.Version++
	commit.State.UpdatedAt = r.now()
	r.state = commit.State
	r.metrics.SetReserveBalance(r.cfg.AssetId, r.state.TotalReserve)
	return nil
}

func (r *Reserve) ref(op, id string) string {
	return fmt.Sprintf("reserve:%s:%s:%s", r.cfg.AssetId, op, id)
}

// State returns a copy of the reserve accounting.
func (r *Reserve) State() models.ReserveState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Config returns the reserve configuration.
func (r *Reserve) Config() Config { return r.cfg }

// Distribution returns a distribution of this reserve by id.
func (r *Reserve) Distribution(ctx context.Context, id string) (*models.Distribution, error) {
	dist, err := r.store.GetDistribution(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w %s", store.ErrDistributionNotFound, id)
		}
		return nil, err
	}
	if dist.Asset != r.cfg.AssetId {
		return nil, fmt.Errorf("%w %s for asset %s", store.ErrDistributionNotFound, id, r.cfg.AssetId)
	}
	return dist, nil
}

// Distributions lists every distribution of this reserve, oldest first.
func (r *Reserve) Distributions(ctx context.Context) ([]models.Distribution, error) {
	return r.store.ListDistributions(ctx, r.cfg.AssetId)
}

// Payouts returns the payout log of a distribution ordered by holder index.
func (r *Reserve) Payouts(ctx context.Context, distributionId string) ([]models.HolderPayout, error) {
	if _, err := r.Distribution(ctx, distributionId); err != nil {
		return nil, err
	}
	return r.store.ListPayouts(ctx, distributionId)
}

func privileged(ctx context.Context, action string) (models.Actor, error) {
	actor, ok := models.ActorFromContext(ctx)
	if !ok {
		return models.Actor{}, fmt.Errorf("%w: no actor in context", store.ErrUnauthorized)
	}
	if !actor.HasRole(models.RoleOperator, models.RoleAdmin) {
		return models.Actor{}, fmt.Errorf("%w: %s cannot %s", store.ErrUnauthorized, actor.Id, action)
	}
	return actor, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w, got %s", store.ErrInvalidAmount, amount)
	}
	if !amount.IsInteger() {
		return fmt.Errorf("%w: amounts are whole units, got %s", store.ErrValidation, amount)
	}
	return nil
}

// mulDiv returns a * b / c truncated toward zero.
func mulDiv(a, b, c decimal.Decimal) decimal.Decimal {
	q, _ := a.Mul(b).QuoRem(c, 0)
	return q
}
