package prime

import (
	"context"
	"errors"
	"testing"
	"time"

	"grove-ledger-go/internal/database"
	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeWithdrawer struct {
	calls []CreateWithdrawalParams
	err   error
}

func (f *fakeWithdrawer) CreateWithdrawal(_ context.Context, params CreateWithdrawalParams) (*models.Withdrawal, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Withdrawal{
		ActivityId:     "activity-1",
		Asset:          params.Symbol,
		Network:        params.Network,
		Amount:         params.Amount,
		Destination:    params.DestinationAddress,
		IdempotencyKey: params.IdempotencyKey,
	}, nil
}

func setupOffRamp(t *testing.T) (*database.SubledgerService, *fakeWithdrawer, *OffRamp) {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{Path: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1, PingTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	ledger := db.Subledger()
	require.NoError(t, ledger.Mint(context.Background(), "USDC", "farmer", decimal.NewFromInt(1500), "seed"))

	fake := &fakeWithdrawer{}
	return ledger, fake, NewOffRamp(ledger, fake, "portfolio-1", time.Second)
}

func request(amount int64) OffRampRequest {
	return OffRampRequest{
		Account:        "farmer",
		Asset:          "USDC",
		Network:        "base-mainnet",
		WalletId:       "wallet-1",
		Amount:         decimal.NewFromInt(amount),
		Destination:    "0xabc",
		IdempotencyKey: "key-1",
	}
}

func balanceOf(t *testing.T, ledger *database.SubledgerService, account string) decimal.Decimal {
	t.Helper()
	bal, err := ledger.Balance(context.Background(), "USDC", account)
	require.NoError(t, err)
	return bal
}

func TestWithdraw_Success(t *testing.T) {
	ledger, fake, ramp := setupOffRamp(t)

	w, err := ramp.Withdraw(context.Background(), request(1000))
	require.NoError(t, err)
	require.Equal(t, "activity-1", w.ActivityId)

	require.Len(t, fake.calls, 1)
	require.Equal(t, "USDC", fake.calls[0].Symbol)
	require.Equal(t, "base-mainnet", fake.calls[0].Network)
	require.Equal(t, "portfolio-1", fake.calls[0].PortfolioId)
	require.Equal(t, "1000", fake.calls[0].Amount)

	require.True(t, balanceOf(t, ledger, "farmer").Equal(decimal.NewFromInt(500)))
	require.True(t, balanceOf(t, ledger, PendingAccount("USDC")).IsZero())
}

func TestWithdraw_PrimeFailureReleasesHold(t *testing.T) {
	ledger, fake, ramp := setupOffRamp(t)
	fake.err = errors.New("prime unavailable")

	_, err := ramp.Withdraw(context.Background(), request(1000))
	require.Error(t, err)

	require.True(t, balanceOf(t, ledger, "farmer").Equal(decimal.NewFromInt(1500)))
	require.True(t, balanceOf(t, ledger, PendingAccount("USDC")).IsZero())
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	ledger, fake, ramp := setupOffRamp(t)

	_, err := ramp.Withdraw(context.Background(), request(2000))
	require.ErrorIs(t, err, store.ErrInsufficientFunds)
	require.Empty(t, fake.calls)
	require.True(t, balanceOf(t, ledger, "farmer").Equal(decimal.NewFromInt(1500)))
}

func TestWithdraw_Validation(t *testing.T) {
	_, fake, ramp := setupOffRamp(t)

	req := request(0)
	_, err := ramp.Withdraw(context.Background(), req)
	require.ErrorIs(t, err, store.ErrInvalidAmount)

	req = request(10)
	req.Destination = ""
	_, err = ramp.Withdraw(context.Background(), req)
	require.ErrorIs(t, err, store.ErrValidation)
	require.Empty(t, fake.calls)
}
