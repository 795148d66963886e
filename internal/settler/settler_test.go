package settler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grove-ledger-go/internal/database"
	"grove-ledger-go/internal/harvest"
	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/oracle"
	"grove-ledger-go/internal/reserve"
	"grove-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var grove = models.GroveAsset{
	Id:                   "GROVE7",
	Symbol:               "GRV7",
	Owner:                "farmer",
	RevenueAsset:         "USDC",
	UnitCount:            50,
	ExpectedYieldPerUnit: decimal.NewFromInt(20),
	TokenSupply:          decimal.NewFromInt(100),
}

type switchPort struct {
	store.TransferPort
	mu     sync.Mutex
	failTo string
}

func (p *switchPort) fail(to string) {
	p.mu.Lock()
	p.failTo = to
	p.mu.Unlock()
}

func (p *switchPort) Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal, ref string) error {
	p.mu.Lock()
	fail := p.failTo != "" && p.failTo == to
	p.mu.Unlock()
	if fail {
		return errors.New("injected transfer failure")
	}
	return p.TransferPort.Transfer(ctx, asset, from, to, amount, ref)
}

type harness struct {
	db       *database.Service
	ledger   *database.SubledgerService
	port     *switchPort
	workflow *harvest.Workflow
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewService(ctx, models.DatabaseConfig{Path: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1, PingTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	h := &harness{db: db, ledger: db.Subledger()}
	h.port = &switchPort{TransferPort: h.ledger}

	rsv, err := reserve.NewReserve(ctx, reserve.NewConfig(grove, models.ReserveConfig{
		MinDistribution: decimal.NewFromInt(1),
		MaxBatchSize:    100,
		MaxSubBatchSize: 50,
	}, time.Second), db, h.port)
	require.NoError(t, err)

	h.workflow, err = harvest.NewWorkflow(harvest.WorkflowConfig{
		MinSpacing:     time.Hour,
		MaxStaleness:   24 * time.Hour,
		FarmerShareBps: 3000,
		SubBatchSize:   50,
	}, db, db, oracle.NewStaticOracle(nil), rsv, grove)
	require.NoError(t, err)

	for holder, amount := range map[string]int64{"alice": 75, "bob": 25} {
		require.NoError(t, db.SetHolding(ctx, models.Holding{AssetId: grove.Id, Holder: holder, Amount: decimal.NewFromInt(amount)}))
	}
	require.NoError(t, h.ledger.Mint(ctx, grove.RevenueAsset, grove.Owner, decimal.NewFromInt(10_000), "seed:farmer"))
	return h
}

func (h *harness) report(t *testing.T) {
	t.Helper()
	ctx := models.WithActor(context.Background(), models.Actor{Id: grove.Owner})
	_, err := h.workflow.ReportHarvest(ctx, decimal.NewFromInt(1000), 7, decimal.NewFromInt(2))
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, account string) decimal.Decimal {
	t.Helper()
	bal, err := h.ledger.Balance(context.Background(), grove.RevenueAsset, account)
	require.NoError(t, err)
	return bal
}

func newSettler(t *testing.T, h *harness, interval time.Duration) *Settler {
	t.Helper()
	s, err := NewSettler(models.SettlerConfig{PollingInterval: interval, MaxAttempts: 3}, h.workflow)
	require.NoError(t, err)
	return s
}

func settlerCtx() context.Context {
	return models.WithActor(context.Background(), Actor)
}

func TestNewSettler_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := NewSettler(models.SettlerConfig{}, h.workflow)
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = NewSettler(models.SettlerConfig{PollingInterval: time.Second})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestTick_SettlesPendingHarvest(t *testing.T) {
	h := newHarness(t)
	h.report(t)
	s := newSettler(t, h, time.Minute)

	result := s.Tick(settlerCtx())
	require.Equal(t, 1, result.Settled)
	require.Zero(t, result.Failures)

	// 2000 revenue: 600 to the farmer, 1400 split 75/25
	require.True(t, h.balance(t, "alice").Equal(decimal.NewFromInt(1050)))
	require.True(t, h.balance(t, "bob").Equal(decimal.NewFromInt(350)))
	require.True(t, h.balance(t, grove.Owner).Equal(decimal.NewFromInt(10_000-2000+600)))

	result = s.Tick(settlerCtx())
	require.Zero(t, result.Settled, "distributed harvests are not settled twice")
}

func TestTick_RetriesFailedPayouts(t *testing.T) {
	h := newHarness(t)
	h.report(t)
	s := newSettler(t, h, time.Minute)

	h.port.fail("bob")
	result := s.Tick(settlerCtx())
	require.Equal(t, 1, result.Settled)
	require.Equal(t, 2, result.Failures, "settlement failure plus the failed retry in the same pass")
	require.True(t, h.balance(t, "bob").IsZero())

	h.port.fail("")
	result = s.Tick(settlerCtx())
	require.Equal(t, 1, result.Retried)
	require.Zero(t, result.Failures)
	require.True(t, h.balance(t, "bob").Equal(decimal.NewFromInt(350)))

	result = s.Tick(settlerCtx())
	require.Zero(t, result.Retried)
}

func TestTick_StopsRetryingAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	h.report(t)
	s := newSettler(t, h, time.Minute)

	h.port.fail("bob")
	s.Tick(settlerCtx()) // attempts 1 and 2
	s.Tick(settlerCtx()) // attempt 3

	result := s.Tick(settlerCtx())
	require.Zero(t, result.Retried)
	require.Zero(t, result.Failures)

	failed, err := h.workflow.Reserve().FailedPayouts(context.Background(), mustDistributionId(t, h))
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, 3, failed[0].Attempts)
}

func TestTick_NoHoldersIsNotAFailure(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.SetHolding(context.Background(), models.Holding{AssetId: grove.Id, Holder: "alice", Amount: decimal.Zero}))
	require.NoError(t, h.db.SetHolding(context.Background(), models.Holding{AssetId: grove.Id, Holder: "bob", Amount: decimal.Zero}))
	h.report(t)
	s := newSettler(t, h, time.Minute)

	result := s.Tick(settlerCtx())
	require.Zero(t, result.Settled)
	require.Zero(t, result.Failures)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	h.report(t)
	s := newSettler(t, h, 10*time.Millisecond)

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		rec, err := h.workflow.Harvest(context.Background(), 0)
		return err == nil && rec.Distributed
	}, 2*time.Second, 10*time.Millisecond)
	s.Stop()
}

func mustDistributionId(t *testing.T, h *harness) string {
	t.Helper()
	rec, err := h.workflow.Harvest(context.Background(), 0)
	require.NoError(t, err)
	require.NotEmpty(t, rec.DistributionId)
	return rec.DistributionId
}
