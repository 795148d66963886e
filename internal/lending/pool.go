package lending

import (
	"context"
	"fmt"
	"maps"
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

var hundred = decimal.NewFromInt(100)

// Config holds the parameters of one asset pool. Ratios are percentages.
type Config struct {
	Asset                  string
	CollateralAsset        string
	CollateralizationRatio int64
	LiquidationThreshold   int64
	InterestRate           int64
	TransferTimeout        time.Duration
}

// NewConfig builds a pool configuration from the loaded lending settings.
func NewConfig(asset, collateralAsset string, lc models.LendingConfig, transferTimeout time.Duration) Config {
	if collateralAsset == "" {
		collateralAsset = asset
	}
	return Config{
		Asset:                  asset,
		CollateralAsset:        collateralAsset,
		CollateralizationRatio: lc.CollateralizationRatio,
		LiquidationThreshold:   lc.LiquidationThreshold,
		InterestRate:           lc.InterestRate,
		TransferTimeout:        transferTimeout,
	}
}

func (c Config) validate() error {
	if c.Asset == "" {
		return fmt.Errorf("%w: pool asset is required", store.ErrValidation)
	}
	if c.CollateralizationRatio < 100 {
		return fmt.Errorf("%w: collateralization ratio must be at least 100, got %d", store.ErrValidation, c.CollateralizationRatio)
	}
	if c.LiquidationThreshold <= 0 || c.LiquidationThreshold > 100 {
		return fmt.Errorf("%w: liquidation threshold must be in (0, 100], got %d", store.ErrValidation, c.LiquidationThreshold)
	}
	if c.InterestRate < 0 {
		return fmt.Errorf("%w: interest rate cannot be negative, got %d", store.ErrValidation, c.InterestRate)
	}
	return nil
}

// LiquidityAccount holds the pool's lendable funds.
func LiquidityAccount(asset string) string { return "pools:" + asset + ":liquidity" }

// CollateralAccount escrows collateral of active loans.
func CollateralAccount(asset string) string { return "pools:" + asset + ":collateral" }

// SeizedAccount receives the collateral of liquidated loans.
func SeizedAccount(asset string) string { return "pools:" + asset + ":seized" }

// ShareAsset is the LP share token of a pool, e.g. LPUSDC.
func ShareAsset(asset string) string { return "LP" + asset }

// Pool is a collateralized lending pool for a single asset. Mutations are
// serialized by the pool lock; a borrower may have one loan operation in flight.
type Pool struct {
	cfg     Config
	store   store.PoolStore
	port    store.TransferPort
	metrics *metrics.LedgerMetrics

	mu        sync.Mutex
	state     models.PoolState
	positions map[string]models.LiquidityPosition
	loans     map[string]models.Loan // active loans by borrower

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewPool loads the persisted state of the pool asset, or starts empty.
func NewPool(ctx context.Context, cfg Config, poolStore store.PoolStore, port store.TransferPort) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.CollateralAsset == "" {
		cfg.CollateralAsset = cfg.Asset
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = defaultTransferTimeout
	}

	p := &Pool{
		cfg:      cfg,
		store:    poolStore,
		port:     port,
		metrics:  metrics.Ledger(),
		inflight: make(map[string]struct{}),
	}
	if err := p.reload(ctx); err != nil {
		return nil, err
	}

	zap.L().Info("Lending pool loaded",
		zap.String("asset", cfg.Asset),
		zap.String("collateral_asset", cfg.CollateralAsset),
		zap.String("total_liquidity", p.state.TotalLiquidity.String()),
		zap.Int("providers", len(p.positions)),
		zap.Int("active_loans", len(p.loans)))
	return p, nil
}

func (p *Pool) reload(ctx context.Context) error {
	snapshot, err := p.store.LoadPool(ctx, p.cfg.Asset)
	if err != nil {
		return fmt.Errorf("failed to load pool %s: %w", p.cfg.Asset, err)
	}
	p.state = snapshot.State
	p.positions = make(map[string]models.LiquidityPosition, len(snapshot.Positions))
	for _, pos := range snapshot.Positions {
		p.positions[pos.Provider] = pos
	}
	p.loans = make(map[string]models.Loan)
	for _, loan := range snapshot.Loans {
		if loan.Status == models.LoanStatusActive {
			p.loans[loan.Borrower] = loan
		}
	}
	p.publish()
	return nil
}

// ProvideLiquidity pulls amount from the caller and mints LP shares. The first
// provider sets the 1:1 baseline.
func (p *Pool) ProvideLiquidity(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	actor, err := caller(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var shares decimal.Decimal
	switch {
	case p.state.TotalLPSupply.IsZero():
		shares = amount
	case p.state.TotalLiquidity.IsZero():
		return decimal.Zero, fmt.Errorf("%w: pool %s has outstanding shares but no liquidity", store.ErrValidation, p.cfg.Asset)
	default:
		shares = mulDiv(amount, p.state.TotalLPSupply, p.state.TotalLiquidity)
	}
	if !shares.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s is too small to mint a share", store.ErrValidation, amount)
	}

	next := p.begin()
	next.state.TotalLiquidity = next.state.TotalLiquidity.Add(amount)
	next.state.AvailableLiquidity = next.state.AvailableLiquidity.Add(amount)
	next.state.TotalLPSupply = next.state.TotalLPSupply.Add(shares)
	pos := next.position(actor.Id)
	pos.AmountProvided = pos.AmountProvided.Add(amount)
	pos.LPShareBalance = pos.LPShareBalance.Add(shares)
	next.putPosition(pos)

	opId := uuid.New().String()
	legs := []store.Leg{
		{Kind: store.LegTransfer, Asset: p.cfg.Asset, From: actor.Id, To: LiquidityAccount(p.cfg.Asset), Amount: amount, Reference: p.ref("provide", opId, 0)},
		{Kind: store.LegMint, Asset: ShareAsset(p.cfg.Asset), To: actor.Id, Amount: shares, Reference: p.ref("provide", opId, 1)},
	}
	if err := p.apply(ctx, "provide", legs, next); err != nil {
		return decimal.Zero, err
	}

	p.metrics.ObserveLiquidity(p.cfg.Asset, "provided")
	zap.L().Info("Liquidity provided",
		zap.String("asset", p.cfg.Asset),
		zap.String("provider", actor.Id),
		zap.String("amount", amount.String()),
		zap.String("shares", shares.String()))
	return shares, nil
}

// WithdrawLiquidity burns lpAmount shares and pays out their value. Capital out
// on loan cannot be withdrawn; the caller's accrued interest is swept to zero.
func (p *Pool) WithdrawLiquidity(ctx context.Context, lpAmount decimal.Decimal) (decimal.Decimal, error) {
	actor, err := caller(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if err := validateAmount(lpAmount); err != nil {
		return decimal.Zero, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	current, ok := p.positions[actor.Id]
	if !ok || current.LPShareBalance.LessThan(lpAmount) {
		return decimal.Zero, fmt.Errorf("%w: %s holds %s, requested %s",
			store.ErrInsufficientShares, actor.Id, current.LPShareBalance, lpAmount)
	}

	payout := mulDiv(lpAmount, p.state.TotalLiquidity, p.state.TotalLPSupply)
	if payout.GreaterThan(p.state.AvailableLiquidity) {
		return decimal.Zero, fmt.Errorf("%w: payout %s exceeds available %s",
			store.ErrInsufficientLiquidity, payout, p.state.AvailableLiquidity)
	}

	next := p.begin()
	next.state.TotalLiquidity = next.state.TotalLiquidity.Sub(payout)
	next.state.AvailableLiquidity = next.state.AvailableLiquidity.Sub(payout)
	next.state.TotalLPSupply = next.state.TotalLPSupply.Sub(lpAmount)
	pos := next.position(actor.Id)
	pos.LPShareBalance = pos.LPShareBalance.Sub(lpAmount)
	pos.AmountProvided = decimal.Max(pos.AmountProvided.Sub(payout), decimal.Zero)
	pos.AccruedInterest = decimal.Zero
	next.putPosition(pos)

	opId := uuid.New().String()
	legs := []store.Leg{
		{Kind: store.LegBurn, Asset: ShareAsset(p.cfg.Asset), From: actor.Id, Amount: lpAmount, Reference: p.ref("withdraw", opId, 0)},
	}
	if payout.IsPositive() {
		legs = append(legs, store.Leg{Kind: store.LegTransfer, Asset: p.cfg.Asset, From: LiquidityAccount(p.cfg.Asset), To: actor.Id, Amount: payout, Reference: p.ref("withdraw", opId, 1)})
	}
	if err := p.apply(ctx, "withdraw", legs, next); err != nil {
		return decimal.Zero, err
	}

	p.metrics.ObserveLiquidity(p.cfg.Asset, "withdrawn")
	zap.L().Info("Liquidity withdrawn",
		zap.String("asset", p.cfg.Asset),
		zap.String("provider", actor.Id),
		zap.String("shares", lpAmount.String()),
		zap.String("payout", payout.String()))
	return payout, nil
}

// TakeLoan escrows collateral and lends loanAmount to the caller.
func (p *Pool) TakeLoan(ctx context.Context, collateralAmount, loanAmount decimal.Decimal) (*models.Loan, error) {
	actor, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateAmount(loanAmount); err != nil {
		return nil, err
	}
	if err := validateAmount(collateralAmount); err != nil {
		return nil, err
	}

	release, err := p.acquireBorrower(actor.Id)
	if err != nil {
		return nil, err
	}
	defer release()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.loans[actor.Id]; exists {
		return nil, fmt.Errorf("%w: %s in pool %s", store.ErrActiveLoanExists, actor.Id, p.cfg.Asset)
	}
	if loanAmount.GreaterThan(p.state.AvailableLiquidity) {
		return nil, fmt.Errorf("%w: loan %s exceeds available %s",
			store.ErrInsufficientLiquidity, loanAmount, p.state.AvailableLiquidity)
	}
	// collateral >= loan * ratio / 100, compared without truncation
	if collateralAmount.Mul(hundred).LessThan(loanAmount.Mul(decimal.NewFromInt(p.cfg.CollateralizationRatio))) {
		return nil, fmt.Errorf("%w: collateral %s below %d%% of loan %s",
			store.ErrInsufficientCollateral, collateralAmount, p.cfg.CollateralizationRatio, loanAmount)
	}

	loan := models.Loan{
		Id:               uuid.New().String(),
		Asset:            p.cfg.Asset,
		Borrower:         actor.Id,
		Principal:        loanAmount,
		CollateralAmount: collateralAmount,
		LiquidationPrice: mulDiv(loanAmount, decimal.NewFromInt(p.cfg.LiquidationThreshold), hundred),
		RepayAmount:      mulDiv(loanAmount, decimal.NewFromInt(100+p.cfg.InterestRate), hundred),
		Status:           models.LoanStatusActive,
		OpenedAt:         time.Now().UTC(),
	}

	next := p.begin()
	next.state.AvailableLiquidity = next.state.AvailableLiquidity.Sub(loanAmount)
	next.state.TotalBorrowed = next.state.TotalBorrowed.Add(loanAmount)
	next.putLoan(loan)

	legs := []store.Leg{
		{Kind: store.LegTransfer, Asset: p.cfg.CollateralAsset, From: actor.Id, To: CollateralAccount(p.cfg.Asset), Amount: collateralAmount, Reference: p.ref("loan", loan.Id, 0)},
		{Kind: store.LegTransfer, Asset: p.cfg.Asset, From: LiquidityAccount(p.cfg.Asset), To: actor.Id, Amount: loanAmount, Reference: p.ref("loan", loan.Id, 1)},
	}
	if err := p.apply(ctx, "take_loan", legs, next); err != nil {
		return nil, err
	}

	p.metrics.ObserveLoan(p.cfg.Asset, "opened")
	zap.L().Info("Loan opened",
		zap.String("asset", p.cfg.Asset),
		zap.String("loan_id", loan.Id),
		zap.String("borrower", actor.Id),
		zap.String("principal", loanAmount.String()),
		zap.String("collateral", collateralAmount.String()),
		zap.String("repay_amount", loan.RepayAmount.String()))
	return &loan, nil
}

// RepayLoan settles the caller's active loan, returns the collateral, and fans
// the interest out to liquidity providers.
func (p *Pool) RepayLoan(ctx context.Context) (*models.Loan, error) {
	actor, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	release, err := p.acquireBorrower(actor.Id)
	if err != nil {
		return nil, err
	}
	defer release()

	p.mu.Lock()
	defer p.mu.Unlock()

	loan, ok := p.loans[actor.Id]
	if !ok {
		return nil, fmt.Errorf("%w: %s in pool %s", store.ErrNoActiveLoan, actor.Id, p.cfg.Asset)
	}

	interest := loan.RepayAmount.Sub(loan.Principal)
	next := p.begin()
	next.state.AvailableLiquidity = next.state.AvailableLiquidity.Add(loan.RepayAmount)
	next.state.TotalBorrowed = next.state.TotalBorrowed.Sub(loan.Principal)
	next.state.TotalLiquidity = next.state.TotalLiquidity.Add(interest)
	next.distributeInterest(interest, p.state.TotalLiquidity)

	closedAt := time.Now().UTC()
	loan.Status = models.LoanStatusRepaid
	loan.ClosedAt = &closedAt
	next.putLoan(loan)

	legs := []store.Leg{
		{Kind: store.LegTransfer, Asset: p.cfg.Asset, From: actor.Id, To: LiquidityAccount(p.cfg.Asset), Amount: loan.RepayAmount, Reference: p.ref("repay", loan.Id, 0)},
		{Kind: store.LegTransfer, Asset: p.cfg.CollateralAsset, From: CollateralAccount(p.cfg.Asset), To: actor.Id, Amount: loan.CollateralAmount, Reference: p.ref("repay", loan.Id, 1)},
	}
	if err := p.apply(ctx, "repay_loan", legs, next); err != nil {
		return nil, err
	}

	p.metrics.ObserveLoan(p.cfg.Asset, "repaid")
	zap.L().Info("Loan repaid",
		zap.String("asset", p.cfg.Asset),
		zap.String("loan_id", loan.Id),
		zap.String("borrower", actor.Id),
		zap.String("interest", interest.String()))
	return &loan, nil
}

// LiquidateLoan closes a borrower's active loan. The principal is written off
// against pool liquidity and the escrowed collateral moves to the seized
// account for operator disposition. Requires the liquidator or admin role.
func (p *Pool) LiquidateLoan(ctx context.Context, borrower string) (*models.Loan, error) {
	actor, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.HasRole(models.RoleLiquidator, models.RoleAdmin) {
		return nil, fmt.Errorf("%w: %s cannot liquidate loans", store.ErrUnauthorized, actor.Id)
	}

	release, err := p.acquireBorrower(borrower)
	if err != nil {
		return nil, err
	}
	defer release()

	p.mu.Lock()
	defer p.mu.Unlock()

	loan, ok := p.loans[borrower]
	if !ok {
		return nil, fmt.Errorf("%w: %s in pool %s", store.ErrNoActiveLoan, borrower, p.cfg.Asset)
	}

	next := p.begin()
	next.state.TotalBorrowed = next.state.TotalBorrowed.Sub(loan.Principal)
	next.state.TotalLiquidity = next.state.TotalLiquidity.Sub(loan.Principal)

	closedAt := time.Now().UTC()
	loan.Status = models.LoanStatusLiquidated
	loan.ClosedAt = &closedAt
	next.putLoan(loan)

	legs := []store.Leg{
		{Kind: store.LegTransfer, Asset: p.cfg.CollateralAsset, From: CollateralAccount(p.cfg.Asset), To: SeizedAccount(p.cfg.Asset), Amount: loan.CollateralAmount, Reference: p.ref("liquidate", loan.Id, 0)},
	}
	if err := p.apply(ctx, "liquidate_loan", legs, next); err != nil {
		return nil, err
	}

	p.metrics.ObserveLoan(p.cfg.Asset, "liquidated")
	zap.L().Warn("Loan liquidated",
		zap.String("asset", p.cfg.Asset),
		zap.String("loan_id", loan.Id),
		zap.String("borrower", borrower),
		zap.String("liquidator", actor.Id),
		zap.String("principal_written_off", loan.Principal.String()),
		zap.String("collateral_seized", loan.CollateralAmount.String()))
	return &loan, nil
}

// apply checks the invariant on the next state, executes the transfer legs,
// and commits. Nothing changes in memory unless every step succeeds.
func (p *Pool) apply(ctx context.Context, op string, legs []store.Leg, next *mutation) error {
	if err := checkInvariant(next.state, next.positions); err != nil {
		p.metrics.IncInvariantViolation("lending")
		zap.L().Error("Pool invariant violated, operation halted",
			zap.String("asset", p.cfg.Asset),
			zap.String("operation", op),
			zap.Error(err))
		if reloadErr := p.reload(ctx); reloadErr != nil {
			zap.L().Error("Failed to reload pool state", zap.Error(reloadErr))
		}
		return err
	}

	if err := store.ExecuteLegs(ctx, p.port, p.cfg.TransferTimeout, legs); err != nil {
		zap.L().Warn("Pool operation aborted by transfer failure",
			zap.String("asset", p.cfg.Asset),
			zap.String("operation", op),
			zap.Error(err))
		return err
	}

	commit := store.PoolCommit{State: next.state, Positions: next.changedPositions(), Loans: next.changedLoans}
	if err := p.store.CommitPool(ctx, commit); err != nil {
		zap.L().Error("Failed to persist pool state, reversing transfers",
			zap.String("asset", p.cfg.Asset),
			zap.String("operation", op),
			zap.Error(err))
		store.Compensate(ctx, p.port, p.cfg.TransferTimeout, legs)
		if reloadErr := p.reload(ctx); reloadErr != nil {
			zap.L().Error("Failed to reload pool state", zap.Error(reloadErr))
		}
		return fmt.Errorf("failed to commit %s: %w", op, err)
	}

	next.state.Version++
	next.state.UpdatedAt = time.Now().UTC()
	p.state = next.state
	p.positions = next.positions
	p.loans = next.activeLoans()
	p.publish()
	return nil
}

func (p *Pool) publish() {
	p.metrics.SetPoolLiquidity(p.cfg.Asset, p.state.TotalLiquidity, p.state.AvailableLiquidity, p.state.TotalBorrowed)
}

func (p *Pool) ref(op, id string, leg int) string {
	return fmt.Sprintf("pool:%s:%s:%s:%d", p.cfg.Asset, op, id, leg)
}

// acquireBorrower marks a borrower as having a loan operation in flight. A
// second operation for the same borrower is rejected, not queued.
func (p *Pool) acquireBorrower(borrower string) (func(), error) {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	if _, busy := p.inflight[borrower]; busy {
		return nil, fmt.Errorf("%w: %s", store.ErrBorrowerBusy, borrower)
	}
	p.inflight[borrower] = struct{}{}
	return func() {
		p.inflightMu.Lock()
		delete(p.inflight, borrower)
		p.inflightMu.Unlock()
	}, nil
}

// State returns a copy of the pool accounting.
func (p *Pool) State() models.PoolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Position returns a provider's position, or false if it has none.
func (p *Pool) Position(provider string) (models.LiquidityPosition, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[provider]
	return pos, ok
}

// Positions returns every provider position.
func (p *Pool) Positions() []models.LiquidityPosition {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.LiquidityPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out
}

// Loan returns a borrower's active loan, or false if there is none.
func (p *Pool) Loan(borrower string) (models.Loan, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	loan, ok := p.loans[borrower]
	return loan, ok
}

// SharePrice is totalLiquidity / totalLPSupply, or 1 for an empty pool.
func (p *Pool) SharePrice() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.TotalLPSupply.IsZero() {
		return decimal.NewFromInt(1)
	}
	return p.state.TotalLiquidity.DivRound(p.state.TotalLPSupply, 18)
}

// IsLiquidatable reports whether a borrower's collateral, valued at
// collateralValue, has fallen below the loan's liquidation price.
func (p *Pool) IsLiquidatable(borrower string, collateralValue decimal.Decimal) (bool, error) {
	loan, ok := p.Loan(borrower)
	if !ok {
		return false, fmt.Errorf("%w: %s in pool %s", store.ErrNoActiveLoan, borrower, p.cfg.Asset)
	}
	return collateralValue.LessThan(loan.LiquidationPrice), nil
}

// checkInvariant verifies totalLiquidity == available + borrowed, that LP
// shares sum to the supply, and that no bucket is negative.
func checkInvariant(state models.PoolState, positions map[string]models.LiquidityPosition) error {
	if !state.TotalLiquidity.Equal(state.AvailableLiquidity.Add(state.TotalBorrowed)) {
		return fmt.Errorf("%w: total %s != available %s + borrowed %s", store.ErrInvariantViolation,
			state.TotalLiquidity, state.AvailableLiquidity, state.TotalBorrowed)
	}
	if state.AvailableLiquidity.IsNegative() || state.TotalBorrowed.IsNegative() || state.TotalLPSupply.IsNegative() {
		return fmt.Errorf("%w: negative pool bucket (available %s, borrowed %s, supply %s)", store.ErrInvariantViolation,
			state.AvailableLiquidity, state.TotalBorrowed, state.TotalLPSupply)
	}
	shares := decimal.Zero
	for _, pos := range positions {
		if pos.LPShareBalance.IsNegative() {
			return fmt.Errorf("%w: negative share balance for %s", store.ErrInvariantViolation, pos.Provider)
		}
		shares = shares.Add(pos.LPShareBalance)
	}
	if !shares.Equal(state.TotalLPSupply) {
		return fmt.Errorf("%w: share balances %s != supply %s", store.ErrInvariantViolation, shares, state.TotalLPSupply)
	}
	return nil
}

// mutation is the pending next state of one pool operation.
type mutation struct {
	state        models.PoolState
	positions    map[string]models.LiquidityPosition
	loans        map[string]models.Loan
	changed      map[string]struct{}
	changedLoans []models.Loan
}

func (p *Pool) begin() *mutation {
	return &mutation{
		state:     p.state,
		positions: maps.Clone(p.positions),
		loans:     maps.Clone(p.loans),
		changed:   make(map[string]struct{}),
	}
}

func (m *mutation) position(provider string) models.LiquidityPosition {
	if pos, ok := m.positions[provider]; ok {
		return pos
	}
	return models.LiquidityPosition{
		Asset:           m.state.Asset,
		Provider:        provider,
		AmountProvided:  decimal.Zero,
		LPShareBalance:  decimal.Zero,
		AccruedInterest: decimal.Zero,
	}
}

func (m *mutation) putPosition(pos models.LiquidityPosition) {
	m.positions[pos.Provider] = pos
	m.changed[pos.Provider] = struct{}{}
}

func (m *mutation) putLoan(loan models.Loan) {
	m.loans[loan.Borrower] = loan
	m.changedLoans = append(m.changedLoans, loan)
}

func (m *mutation) changedPositions() []models.LiquidityPosition {
	out := make([]models.LiquidityPosition, 0, len(m.changed))
	for provider := range m.changed {
		out = append(out, m.positions[provider])
	}
	return out
}

func (m *mutation) activeLoans() map[string]models.Loan {
	active := make(map[string]models.Loan, len(m.loans))
	for borrower, loan := range m.loans {
		if loan.Status == models.LoanStatusActive {
			active[borrower] = loan
		}
	}
	return active
}

// distributeInterest credits each provider amountProvided * interest / base,
// truncated. Dust stays in the pool. The base is never smaller than the sum of
// provided amounts, so the credits never exceed the interest.
func (m *mutation) distributeInterest(interest, totalLiquidity decimal.Decimal) {
	if !interest.IsPositive() {
		return
	}
	provided := decimal.Zero
	for _, pos := range m.positions {
		if pos.AmountProvided.IsPositive() {
			provided = provided.Add(pos.AmountProvided)
		}
	}
	base := decimal.Max(totalLiquidity, provided)
	if base.IsZero() {
		return
	}
	for provider, pos := range m.positions {
		if !pos.AmountProvided.IsPositive() {
			continue
		}
		share := mulDiv(pos.AmountProvided, interest, base)
		if share.IsZero() {
			continue
		}
		pos.AccruedInterest = pos.AccruedInterest.Add(share)
		m.positions[provider] = pos
		m.changed[provider] = struct{}{}
	}
}

// mulDiv returns a * b / c truncated toward zero.
func mulDiv(a, b, c decimal.Decimal) decimal.Decimal {
	q, _ := a.Mul(b).QuoRem(c, 0)
	return q
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

func caller(ctx context.Context) (models.Actor, error) {
	actor, ok := models.ActorFromContext(ctx)
	if !ok {
		return models.Actor{}, fmt.Errorf("%w: no actor in context", store.ErrUnauthorized)
	}
	return actor, nil
}
