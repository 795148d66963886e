package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

func setupServiceTestDb(t *testing.T) *Service {
	t.Helper()
	service, err := NewService(context.Background(), models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(service.Close)
	return service
}

func TestNewService_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  models.DatabaseConfig
	}{
		{"empty path", models.DatabaseConfig{MaxOpenConns: 1, PingTimeout: time.Second}},
		{"no connections", models.DatabaseConfig{Path: ":memory:", PingTimeout: time.Second}},
		{"no ping timeout", models.DatabaseConfig{Path: ":memory:", MaxOpenConns: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewService(context.Background(), tt.cfg); err == nil {
				t.Error("Expected config error")
			}
		})
	}
}

func TestPoolStore_RoundTrip(t *testing.T) {
	service := setupServiceTestDb(t)
	ctx := context.Background()

	empty, err := service.LoadPool(ctx, "USDC")
	if err != nil {
		t.Fatalf("LoadPool failed: %v", err)
	}
	if empty.State.Version != 0 || !empty.State.TotalLiquidity.IsZero() {
		t.Fatalf("Expected empty pool, got %+v", empty.State)
	}

	opened := time.Now().UTC().Truncate(time.Second)
	commit := store.PoolCommit{
		State: models.PoolState{
			Asset:              "USDC",
			TotalLiquidity:     decimal.NewFromInt(1000),
			AvailableLiquidity: decimal.NewFromInt(0),
			TotalBorrowed:      decimal.NewFromInt(1000),
			TotalLPSupply:      decimal.NewFromInt(1000),
		},
		Positions: []models.LiquidityPosition{{
			Provider:        "alice",
			AmountProvided:  decimal.NewFromInt(1000),
			LPShareBalance:  decimal.NewFromInt(1000),
			AccruedInterest: decimal.Zero,
		}},
		Loans: []models.Loan{{
			Id:               "loan-1",
			Borrower:         "bob",
			Principal:        decimal.NewFromInt(1000),
			CollateralAmount: decimal.NewFromInt(1250),
			LiquidationPrice: decimal.NewFromInt(900),
			RepayAmount:      decimal.NewFromInt(1100),
			Status:           models.LoanStatusActive,
			OpenedAt:         opened,
		}},
	}
	if err := service.CommitPool(ctx, commit); err != nil {
		t.Fatalf("CommitPool failed: %v", err)
	}

	loaded, err := service.LoadPool(ctx, "USDC")
	if err != nil {
		t.Fatalf("LoadPool failed: %v", err)
	}
	if loaded.State.Version != 1 {
		t.Errorf("Expected version 1, got %d", loaded.State.Version)
	}
	if !loaded.State.TotalBorrowed.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Expected borrowed 1000, got %s", loaded.State.TotalBorrowed)
	}
	if len(loaded.Positions) != 1 || loaded.Positions[0].Provider != "alice" {
		t.Errorf("Unexpected positions: %+v", loaded.Positions)
	}
	if len(loaded.Loans) != 1 || loaded.Loans[0].Status != models.LoanStatusActive {
		t.Fatalf("Unexpected loans: %+v", loaded.Loans)
	}

	// A stale version is rejected
	if err := service.CommitPool(ctx, commit); !errors.Is(err, store.ErrConcurrentModification) {
		t.Errorf("Expected ErrConcurrentModification, got %v", err)
	}

	// Closed loans are immutable
	closed := opened.Add(time.Hour)
	commit.State.Version = 1
	commit.Loans[0].Status = models.LoanStatusRepaid
	commit.Loans[0].ClosedAt = &closed
	if err := service.CommitPool(ctx, commit); err != nil {
		t.Fatalf("CommitPool failed: %v", err)
	}
	commit.State.Version = 2
	commit.Loans[0].Status = models.LoanStatusActive
	if err := service.CommitPool(ctx, commit); err != nil {
		t.Fatalf("CommitPool failed: %v", err)
	}
	loaded, _ = service.LoadPool(ctx, "USDC")
	if loaded.Loans[0].Status != models.LoanStatusRepaid || loaded.Loans[0].ClosedAt == nil {
		t.Errorf("Expected loan to stay repaid, got %+v", loaded.Loans[0])
	}
}

func TestReserveStore_PayoutLog(t *testing.T) {
	service := setupServiceTestDb(t)
	ctx := context.Background()

	created := time.Now().UTC().Truncate(time.Second)
	dist := models.Distribution{
		Id:               "dist-1",
		Asset:            "GROVE1",
		TotalRevenue:     decimal.NewFromInt(3500),
		TotalTokenSupply: decimal.NewFromInt(100),
		HolderCount:      2,
		CreatedAt:        created,
	}
	err := service.CommitReserve(ctx, store.ReserveCommit{
		State: models.ReserveState{
			Asset:            "GROVE1",
			TotalReserve:     decimal.NewFromInt(1500),
			TotalDistributed: decimal.NewFromInt(3500),
			FarmerWithdrawn:  decimal.Zero,
			LastDistribution: created,
		},
		Distributions: []models.Distribution{dist},
		Payouts: []models.HolderPayout{
			{DistributionId: "dist-1", HolderIndex: 0, Holder: "alice", TokenAmount: decimal.NewFromInt(60), Share: decimal.NewFromInt(2100), Claimed: true, Attempts: 1},
			{DistributionId: "dist-1", HolderIndex: 1, Holder: "bob", TokenAmount: decimal.NewFromInt(40), Share: decimal.NewFromInt(1400), Attempts: 1, LastError: "transfer failed"},
		},
	})
	if err != nil {
		t.Fatalf("CommitReserve failed: %v", err)
	}

	state, err := service.LoadReserve(ctx, "GROVE1")
	if err != nil {
		t.Fatalf("LoadReserve failed: %v", err)
	}
	if !state.TotalReserve.Equal(decimal.NewFromInt(1500)) || state.Version != 1 {
		t.Errorf("Unexpected reserve state: %+v", state)
	}
	if !state.LastDistribution.Equal(created) {
		t.Errorf("Expected last distribution %v, got %v", created, state.LastDistribution)
	}

	payouts, err := service.ListPayouts(ctx, "dist-1")
	if err != nil {
		t.Fatalf("ListPayouts failed: %v", err)
	}
	if len(payouts) != 2 || !payouts[0].Claimed || payouts[1].Claimed {
		t.Fatalf("Unexpected payouts: %+v", payouts)
	}

	// A claimed payout is never overwritten
	err = service.CommitReserve(ctx, store.ReserveCommit{
		State: models.ReserveState{Asset: "GROVE1", TotalReserve: decimal.NewFromInt(1500), Version: 1},
		Payouts: []models.HolderPayout{
			{DistributionId: "dist-1", HolderIndex: 0, Holder: "alice", TokenAmount: decimal.NewFromInt(60), Share: decimal.NewFromInt(2100), Claimed: false, Attempts: 9},
		},
	})
	if err != nil {
		t.Fatalf("CommitReserve failed: %v", err)
	}
	payouts, _ = service.ListPayouts(ctx, "dist-1")
	if !payouts[0].Claimed || payouts[0].Attempts != 1 {
		t.Errorf("Expected claimed payout unchanged, got %+v", payouts[0])
	}

	got, err := service.GetDistribution(ctx, "dist-1")
	if err != nil {
		t.Fatalf("GetDistribution failed: %v", err)
	}
	if got.Completed || got.HolderCount != 2 {
		t.Errorf("Unexpected distribution: %+v", got)
	}
	if _, err := service.GetDistribution(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestHarvestStore_IndexAndDistributedFlag(t *testing.T) {
	service := setupServiceTestDb(t)
	ctx := context.Background()

	latest, err := service.LatestHarvestTime(ctx, "GROVE1")
	if err != nil || !latest.IsZero() {
		t.Fatalf("Expected no harvest yet, got %v %v", latest, err)
	}

	first := time.Now().UTC().Add(-14 * 24 * time.Hour).Truncate(time.Second)
	for i, at := range []time.Time{first, first.Add(7 * 24 * time.Hour)} {
		index, err := service.InsertHarvest(ctx, models.HarvestRecord{
			Id:            "h" + string(rune('a'+i)),
			AssetId:       "GROVE1",
			YieldQuantity: decimal.NewFromInt(1000),
			QualityGrade:  8,
			UnitPrice:     decimal.NewFromInt(5),
			TotalRevenue:  decimal.NewFromInt(5000),
			ReportedBy:    "farmer",
			HarvestedAt:   at,
		})
		if err != nil {
			t.Fatalf("InsertHarvest failed: %v", err)
		}
		if index != int64(i) {
			t.Errorf("Expected index %d, got %d", i, index)
		}
	}

	latest, err = service.LatestHarvestTime(ctx, "GROVE1")
	if err != nil {
		t.Fatalf("LatestHarvestTime failed: %v", err)
	}
	if !latest.Equal(first.Add(7 * 24 * time.Hour)) {
		t.Errorf("Unexpected latest harvest time %v", latest)
	}

	if err := service.AttachDistribution(ctx, "GROVE1", 0, "dist-1"); err != nil {
		t.Fatalf("AttachDistribution failed: %v", err)
	}
	if err := service.AttachDistribution(ctx, "GROVE1", 0, "dist-2"); !errors.Is(err, store.ErrDuplicateOperation) {
		t.Errorf("Expected second attach to fail, got %v", err)
	}

	if err := service.MarkDistributed(ctx, "GROVE1", 0); err != nil {
		t.Fatalf("MarkDistributed failed: %v", err)
	}
	if err := service.MarkDistributed(ctx, "GROVE1", 0); !errors.Is(err, store.ErrDuplicateOperation) {
		t.Errorf("Expected ErrDuplicateOperation, got %v", err)
	}

	h, err := service.GetHarvest(ctx, "GROVE1", 0)
	if err != nil {
		t.Fatalf("GetHarvest failed: %v", err)
	}
	if !h.Distributed || h.DistributionId != "dist-1" || !h.TotalRevenue.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("Unexpected harvest: %+v", h)
	}
	if _, err := service.GetHarvest(ctx, "GROVE1", 5); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	all, err := service.ListHarvests(ctx, "GROVE1")
	if err != nil || len(all) != 2 {
		t.Fatalf("Expected 2 harvests, got %d (%v)", len(all), err)
	}
}

func TestHoldingStore(t *testing.T) {
	service := setupServiceTestDb(t)
	ctx := context.Background()

	for _, h := range []models.Holding{
		{AssetId: "GROVE1", Holder: "carol", Amount: decimal.NewFromInt(30)},
		{AssetId: "GROVE1", Holder: "alice", Amount: decimal.NewFromInt(70)},
		{AssetId: "GROVE1", Holder: "dave", Amount: decimal.Zero},
	} {
		if err := service.SetHolding(ctx, h); err != nil {
			t.Fatalf("SetHolding failed: %v", err)
		}
	}

	holdings, err := service.GetHoldings(ctx, "GROVE1")
	if err != nil {
		t.Fatalf("GetHoldings failed: %v", err)
	}
	if len(holdings) != 2 {
		t.Fatalf("Expected 2 non-zero holdings, got %d", len(holdings))
	}
	if holdings[0].Holder != "alice" || holdings[1].Holder != "carol" {
		t.Errorf("Expected holders ordered by name, got %s, %s", holdings[0].Holder, holdings[1].Holder)
	}

	if err := service.SetHolding(ctx, models.Holding{AssetId: "GROVE1", Holder: "eve", Amount: decimal.NewFromInt(-1)}); !errors.Is(err, store.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

func TestReserveStore_OperationKey(t *testing.T) {
	service := setupServiceTestDb(t)
	ctx := context.Background()

	applied, err := service.OperationApplied(ctx, "harvest:h1:deposit")
	if err != nil || applied {
		t.Fatalf("Expected unknown operation, got applied=%v err=%v", applied, err)
	}

	err = service.CommitReserve(ctx, store.ReserveCommit{
		State:     models.ReserveState{Asset: "GROVE1", TotalReserve: decimal.NewFromInt(5000)},
		Operation: "harvest:h1:deposit",
	})
	if err != nil {
		t.Fatalf("CommitReserve failed: %v", err)
	}
	applied, err = service.OperationApplied(ctx, "harvest:h1:deposit")
	if err != nil || !applied {
		t.Fatalf("Expected recorded operation, got applied=%v err=%v", applied, err)
	}

	// the same key commits only once, and the state is left as it was
	err = service.CommitReserve(ctx, store.ReserveCommit{
		State:     models.ReserveState{Asset: "GROVE1", TotalReserve: decimal.NewFromInt(10000), Version: 1},
		Operation: "harvest:h1:deposit",
	})
	if !errors.Is(err, store.ErrDuplicateOperation) {
		t.Fatalf("Expected ErrDuplicateOperation, got %v", err)
	}
	state, err := service.LoadReserve(ctx, "GROVE1")
	if err != nil {
		t.Fatalf("LoadReserve failed: %v", err)
	}
	if !state.TotalReserve.Equal(decimal.NewFromInt(5000)) || state.Version != 1 {
		t.Errorf("Expected reserve unchanged, got %+v", state)
	}
}
