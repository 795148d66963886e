package harvest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grove-ledger-go/internal/database"
	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/oracle"
	"grove-ledger-go/internal/reserve"
	"grove-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const revenueAsset = "USDC"

var grove = models.GroveAsset{
	Id:                   "GROVE1",
	Symbol:               "GRV1",
	Owner:                "farmer",
	RevenueAsset:         revenueAsset,
	UnitCount:            100,
	ExpectedYieldPerUnit: decimal.NewFromInt(10),
	TokenSupply:          decimal.NewFromInt(100),
}

type failingPort struct {
	store.TransferPort
	mu     sync.Mutex
	failTo map[string]bool
}

func (p *failingPort) failFor(accounts ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failTo = make(map[string]bool, len(accounts))
	for _, a := range accounts {
		p.failTo[a] = true
	}
}

func (p *failingPort) Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal, ref string) error {
	p.mu.Lock()
	fail := p.failTo[to]
	p.mu.Unlock()
	if fail {
		return errors.New("injected transfer failure")
	}
	return p.TransferPort.Transfer(ctx, asset, from, to, amount, ref)
}

type unavailableOracle struct{}

func (unavailableOracle) UnitPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("price feed down")
}

type harness struct {
	db       *database.Service
	ledger   *database.SubledgerService
	port     *failingPort
	oracle   *oracle.StaticOracle
	workflow *Workflow
	clock    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	h := &harness{
		db:     db,
		ledger: db.Subledger(),
		oracle: oracle.NewStaticOracle(map[string]decimal.Decimal{grove.Id: decimal.NewFromInt(5)}),
		clock:  time.Now().UTC(),
	}
	h.port = &failingPort{TransferPort: h.ledger}

	rsv, err := reserve.NewReserve(context.Background(), reserve.NewConfig(grove, models.ReserveConfig{
		MinDistribution: decimal.NewFromInt(1),
		MaxDistribution: decimal.NewFromInt(1_000_000),
		MaxBatchSize:    100,
		MaxSubBatchSize: 50,
	}, time.Second), db, h.port)
	require.NoError(t, err)

	h.workflow, err = NewWorkflow(WorkflowConfig{
		MinSpacing:     7 * 24 * time.Hour,
		MaxStaleness:   365 * 24 * time.Hour,
		FarmerShareBps: 3000,
		SubBatchSize:   50,
	}, db, db, h.oracle, rsv, grove)
	require.NoError(t, err)
	h.workflow.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) hold(t *testing.T, holder string, amount int64) {
	t.Helper()
	require.NoError(t, h.db.SetHolding(context.Background(), models.Holding{
		AssetId: grove.Id, Holder: holder, Amount: decimal.NewFromInt(amount),
	}))
}

func (h *harness) fund(t *testing.T, account string, amount int64) {
	t.Helper()
	require.NoError(t, h.ledger.Mint(context.Background(), revenueAsset, account, decimal.NewFromInt(amount), "seed:"+account+":"+h.clock.String()))
}

func (h *harness) balance(t *testing.T, account string) decimal.Decimal {
	t.Helper()
	bal, err := h.ledger.Balance(context.Background(), revenueAsset, account)
	require.NoError(t, err)
	return bal
}

func owner() context.Context {
	return models.WithActor(context.Background(), models.Actor{Id: grove.Owner})
}

func operator() context.Context {
	return models.WithActor(context.Background(), models.Actor{Id: "ops", Roles: []models.Role{models.RoleOperator}})
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func requireDecimal(t *testing.T, want int64, got decimal.Decimal, msg string) {
	t.Helper()
	require.Truef(t, got.Equal(dec(want)), "%s: want %d, got %s", msg, want, got)
}

func TestReportHarvest_ComputesRevenue(t *testing.T) {
	h := newHarness(t)

	record, err := h.workflow.ReportHarvest(owner(), dec(1000), 8, dec(5))
	require.NoError(t, err)
	require.Equal(t, int64(0), record.Index)
	requireDecimal(t, 5000, record.TotalRevenue, "total revenue")
	require.False(t, record.Distributed)

	stored, err := h.workflow.Harvest(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, record.Id, stored.Id)
	require.Equal(t, grove.Owner, stored.ReportedBy)
}

func TestReportHarvest_ValidationChain(t *testing.T) {
	tests := []struct {
		name    string
		ctx     context.Context
		yield   decimal.Decimal
		grade   int
		price   decimal.Decimal
		wantErr error
	}{
		{"not the owner", models.WithActor(context.Background(), models.Actor{Id: "mallory"}), dec(100), 5, dec(5), store.ErrUnauthorized},
		{"no actor", context.Background(), dec(100), 5, dec(5), store.ErrUnauthorized},
		{"zero yield", owner(), dec(0), 5, dec(5), store.ErrInvalidHarvest},
		{"grade too low", owner(), dec(100), 0, dec(5), store.ErrInvalidHarvest},
		{"grade too high", owner(), dec(100), 11, dec(5), store.ErrInvalidHarvest},
		{"zero price", owner(), dec(100), 5, dec(0), store.ErrInvalidHarvest},
		{"yield above ceiling", owner(), dec(1501), 5, dec(5), store.ErrYieldTooHigh},
		{"price below band", owner(), dec(100), 5, decimal.RequireFromString("2.49"), store.ErrPriceOutOfRange},
		{"price above band", owner(), dec(100), 5, decimal.RequireFromString("10.01"), store.ErrPriceOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.workflow.ReportHarvest(tt.ctx, tt.yield, tt.grade, tt.price)
			require.ErrorIs(t, err, tt.wantErr)

			all, err := h.workflow.Harvests(context.Background())
			require.NoError(t, err)
			require.Empty(t, all)
		})
	}
}

func TestReportHarvest_BoundariesAccepted(t *testing.T) {
	h := newHarness(t)

	// the ceiling and both band edges are inclusive
	_, err := h.workflow.ReportHarvest(owner(), dec(1500), 10, decimal.RequireFromString("2.5"))
	require.NoError(t, err)

	h.clock = h.clock.Add(7 * 24 * time.Hour)
	_, err = h.workflow.ReportHarvest(owner(), dec(100), 1, dec(10))
	require.NoError(t, err)
}

func TestReportHarvest_MinimumSpacing(t *testing.T) {
	h := newHarness(t)

	_, err := h.workflow.ReportHarvest(owner(), dec(1000), 8, dec(5))
	require.NoError(t, err)

	h.clock = h.clock.Add(6 * 24 * time.Hour)
	_, err = h.workflow.ReportHarvest(owner(), dec(1000), 8, dec(5))
	require.ErrorIs(t, err, store.ErrHarvestTooSoon)
	require.ErrorIs(t, err, store.ErrDuplicateOperation)

	h.clock = h.clock.Add(24 * time.Hour)
	record, err := h.workflow.ReportHarvest(owner(), dec(1000), 8, dec(5))
	require.NoError(t, err)
	require.Equal(t, int64(1), record.Index)
}

func TestReportHarvest_NoMarketReference(t *testing.T) {
	h := newHarness(t)

	h.oracle.SetPrice(grove.Id, decimal.Zero)
	_, err := h.workflow.ReportHarvest(owner(), dec(100), 5, dec(100))
	require.NoError(t, err, "zero oracle price disables the band check")

	h.workflow.oracle = unavailableOracle{}
	h.clock = h.clock.Add(7 * 24 * time.Hour)
	_, err = h.workflow.ReportHarvest(owner(), dec(100), 5, dec(100))
	require.NoError(t, err, "unavailable oracle disables the band check")
}

func TestSplit(t *testing.T) {
	h := newHarness(t)

	farmer, investor := h.workflow.Split(dec(5000))
	requireDecimal(t, 1500, farmer, "farmer")
	requireDecimal(t, 3500, investor, "investor")

	farmer, investor = h.workflow.Split(dec(3333))
	requireDecimal(t, 999, farmer, "farmer truncated")
	requireDecimal(t, 2334, investor, "investor remainder")
}

func TestDistributeRevenue_SplitsRevenue(t *testing.T) {
	h := newHarness(t)
	h.hold(t, "alice", 60)
	h.hold(t, "bob", 40)
	h.fund(t, grove.Owner, 5000)

	_, err := h.workflow.ReportHarvest(owner(), dec(1000), 8, dec(5))
	require.NoError(t, err)

	settlement, err := h.workflow.DistributeRevenue(operator(), 0)
	require.NoError(t, err)
	requireDecimal(t, 5000, settlement.TotalRevenue, "total")
	requireDecimal(t, 1500, settlement.FarmerShare, "farmer share")
	requireDecimal(t, 3500, settlement.InvestorShare, "investor share")
	require.NotEmpty(t, settlement.DistributionId)
	require.Equal(t, 2, settlement.Report.SuccessCount)
	require.True(t, settlement.Report.Completed)

	requireDecimal(t, 2100, h.balance(t, "alice"), "alice")
	requireDecimal(t, 1400, h.balance(t, "bob"), "bob")
	requireDecimal(t, 1500, h.balance(t, grove.Owner), "farmer")
	requireDecimal(t, 0, h.balance(t, reserve.Account(grove.Id)), "reserve account")

	record, err := h.workflow.Harvest(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, record.Distributed)
	require.Equal(t, settlement.DistributionId, record.DistributionId)

	_, err = h.workflow.DistributeRevenue(operator(), 0)
	require.ErrorIs(t, err, store.ErrHarvestDistributed)
}

func TestDistributeRevenue_HolderFailureStillMarksDistributed(t *testing.T) {
	h := newHarness(t)
	h.hold(t, "alice", 60)
	h.hold(t, "bob", 40)
	h.fund(t, grove.Owner, 5000)
	_, err := h.workflow.ReportHarvest(owner(), dec(1000), 8, dec(5))
	require.NoError(t, err)

	h.port.failFor("bob")
	settlement, err := h.workflow.DistributeRevenue(operator(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, settlement.Report.SuccessCount)
	require.Equal(t, 1, settlement.Report.FailureCount)
	require.Equal(t, "bob", settlement.Report.FailedHolders[0].Holder)

	record, err := h.workflow.Harvest(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, record.Distributed)
	requireDecimal(t, 1400, h.balance(t, reserve.Account(grove.Id)), "bob's share stays in the reserve")
}

func TestDistributeRevenue_ResumesWithoutRepeatingDeposit(t *testing.T) {
	h := newHarness(t)
	h.hold(t, "alice", 60)
	h.hold(t, "bob", 40)
	h.fund(t, grove.Owner, 5000)
	_, err := h.workflow.ReportHarvest(owner(), dec(1000), 8, dec(5))
	require.NoError(t, err)

	h.port.failFor(grove.Owner)
	_, err = h.workflow.DistributeRevenue(operator(), 0)
	require.ErrorIs(t, err, store.ErrTransferFailed)

	record, err := h.workflow.Harvest(context.Background(), 0)
	require.NoError(t, err)
	require.False(t, record.Distributed)
	require.NotEmpty(t, record.DistributionId)

	h.port.failFor()
	settlement, err := h.workflow.DistributeRevenue(operator(), 0)
	require.NoError(t, err)
	require.Equal(t, record.DistributionId, settlement.DistributionId)

	requireDecimal(t, 2100, h.balance(t, "alice"), "alice paid once")
	requireDecimal(t, 1400, h.balance(t, "bob"), "bob paid once")
	requireDecimal(t, 1500, h.balance(t, grove.Owner), "farmer")
	requireDecimal(t, 0, h.balance(t, reserve.Account(grove.Id)), "reserve account")
}

// flakyHarvests fails the next MarkDistributed or AttachDistribution calls.
type flakyHarvests struct {
	store.HarvestStore
	failMarks    int
	failAttaches int
}

func (s *flakyHarvests) MarkDistributed(ctx context.Context, assetId string, index int64) error {
	if s.failMarks > 0 {
		s.failMarks--
		return errors.New("injected mark failure")
	}
	return s.HarvestStore.MarkDistributed(ctx, assetId, index)
}

func (s *flakyHarvests) AttachDistribution(ctx context.Context, assetId string, index int64, distributionId string) error {
	if s.failAttaches > 0 {
		s.failAttaches--
		return errors.New("injected attach failure")
	}
	return s.HarvestStore.AttachDistribution(ctx, assetId, index, distributionId)
}

func TestDistributeRevenue_ResumeAfterMarkFailurePaysFarmerOnce(t *testing.T) {
	h := newHarness(t)
	h.hold(t, "alice", 60)
	h.hold(t, "bob", 40)
	h.fund(t, grove.Owner, 5000)
	_, err := h.workflow.ReportHarvest(owner(), dec(1000), 8, dec(5))
	require.NoError(t, err)

	flaky := &flakyHarvests{HarvestStore: h.db, failMarks: 1}
	h.workflow.harvests = flaky

	_, err = h.workflow.DistributeRevenue(operator(), 0)
	require.Error(t, err)
	requireDecimal(t, 1500, h.balance(t, grove.Owner), "farmer paid")

	// unrelated revenue sitting in the reserve must not fund a second farmer payment
	h.fund(t, "buyer", 1500)
	require.NoError(t, h.workflow.Reserve().Deposit(operator(), "buyer", dec(1500)))

	_, err = h.workflow.DistributeRevenue(operator(), 0)
	require.NoError(t, err)
	requireDecimal(t, 1500, h.balance(t, grove.Owner), "farmer paid once")
	requireDecimal(t, 1500, h.workflow.Reserve().State().FarmerWithdrawn, "farmer withdrawn once")
	requireDecimal(t, 1500, h.balance(t, reserve.Account(grove.Id)), "unrelated deposit untouched")

	record, err := h.workflow.Harvest(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, record.Distributed)
}

func TestDistributeRevenue_ResumeWithoutHolderReserve(t *testing.T) {
	h := newHarness(t)
	h.hold(t, "alice", 100)
	h.fund(t, grove.Owner, 5000)
	_, err := h.workflow.ReportHarvest(owner(), dec(1000), 8, dec(5))
	require.NoError(t, err)

	h.workflow.harvests = &flakyHarvests{HarvestStore: h.db, failMarks: 1}
	_, err = h.workflow.DistributeRevenue(operator(), 0)
	require.Error(t, err)

	// with nothing left in the reserve the retry still completes
	_, err = h.workflow.DistributeRevenue(operator(), 0)
	require.NoError(t, err)
	requireDecimal(t, 1500, h.balance(t, grove.Owner), "farmer")
	requireDecimal(t, 3500, h.balance(t, "alice"), "alice")
}

func TestDistributeRevenue_ResumeAfterAttachFailure(t *testing.T) {
	h := newHarness(t)
	h.hold(t, "alice", 60)
	h.hold(t, "bob", 40)
	h.fund(t, grove.Owner, 5000)
	_, err := h.workflow.ReportHarvest(owner(), dec(1000), 8, dec(5))
	require.NoError(t, err)

	h.workflow.harvests = &flakyHarvests{HarvestStore: h.db, failAttaches: 1}
	_, err = h.workflow.DistributeRevenue(operator(), 0)
	require.Error(t, err)

	settlement, err := h.workflow.DistributeRevenue(operator(), 0)
	require.NoError(t, err)

	dists, err := h.workflow.Reserve().Distributions(context.Background())
	require.NoError(t, err)
	require.Len(t, dists, 1, "distribution created once")
	require.Equal(t, dists[0].Id, settlement.DistributionId)

	state := h.workflow.Reserve().State()
	requireDecimal(t, 3500, state.TotalDistributed, "distributed once")
	requireDecimal(t, 0, state.TotalReserve, "deposit counted once")
	requireDecimal(t, 2100, h.balance(t, "alice"), "alice")
	requireDecimal(t, 1400, h.balance(t, "bob"), "bob")
	requireDecimal(t, 1500, h.balance(t, grove.Owner), "farmer")
}

func TestDistributeRevenue_FarmerOnlyResumeDepositsOnce(t *testing.T) {
	h := newHarness(t)
	h.workflow.cfg.FarmerShareBps = 10_000
	h.hold(t, "alice", 100)
	h.fund(t, grove.Owner, 5000)
	_, err := h.workflow.ReportHarvest(owner(), dec(1000), 8, dec(5))
	require.NoError(t, err)

	h.workflow.harvests = &flakyHarvests{HarvestStore: h.db, failMarks: 1}
	_, err = h.workflow.DistributeRevenue(operator(), 0)
	require.Error(t, err)

	settlement, err := h.workflow.DistributeRevenue(operator(), 0)
	require.NoError(t, err)
	require.Empty(t, settlement.DistributionId)
	requireDecimal(t, 5000, h.balance(t, grove.Owner), "farmer keeps the whole revenue")
	requireDecimal(t, 0, h.workflow.Reserve().State().TotalReserve, "deposit counted once")
	requireDecimal(t, 0, h.balance(t, "alice"), "alice")
}

func TestDistributeRevenue_Guards(t *testing.T) {
	h := newHarness(t)
	h.fund(t, grove.Owner, 5000)

	_, err := h.workflow.DistributeRevenue(operator(), 3)
	require.ErrorIs(t, err, store.ErrHarvestNotFound)

	_, err = h.workflow.ReportHarvest(owner(), dec(1000), 8, dec(5))
	require.NoError(t, err)

	_, err = h.workflow.DistributeRevenue(owner(), 0)
	require.ErrorIs(t, err, store.ErrUnauthorized)

	_, err = h.workflow.DistributeRevenue(operator(), 0)
	require.ErrorIs(t, err, store.ErrNoHolders)

	h.hold(t, "alice", 100)
	h.clock = h.clock.Add(366 * 24 * time.Hour)
	_, err = h.workflow.DistributeRevenue(operator(), 0)
	require.ErrorIs(t, err, store.ErrHarvestStale)

	requireDecimal(t, 5000, h.balance(t, grove.Owner), "nothing deposited")
}

func TestPendingHarvests(t *testing.T) {
	h := newHarness(t)
	_, err := h.workflow.ReportHarvest(owner(), dec(1000), 8, dec(5))
	require.NoError(t, err)

	h.clock = h.clock.Add(time.Hour)
	pending, err := h.workflow.PendingHarvests(context.Background(), 2*time.Hour)
	require.NoError(t, err)
	require.Empty(t, pending)

	pending, err = h.workflow.PendingHarvests(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	h.clock = h.clock.Add(366 * 24 * time.Hour)
	pending, err = h.workflow.PendingHarvests(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	require.Empty(t, pending, "stale harvests are not pending")
}
