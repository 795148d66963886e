package prime

import (
	"context"
	"fmt"
	"time"

	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Withdrawer submits blockchain withdrawals from a Prime wallet.
type Withdrawer interface {
	CreateWithdrawal(ctx context.Context, params CreateWithdrawalParams) (*models.Withdrawal, error)
}

var _ Withdrawer = (*Service)(nil)

// OffRampRequest moves a ledger balance out to an external address.
type OffRampRequest struct {
	Account        string // ledger account debited, usually a farmer
	Asset          string // ledger asset symbol, e.g. USDC
	Network        string // Prime network suffix, e.g. base-mainnet; empty for the default
	WalletId       string
	Amount         decimal.Decimal
	Destination    string
	IdempotencyKey string
}

// OffRamp holds ledger funds in a pending account while Prime executes the
// withdrawal, then burns them. A rejected withdrawal releases the hold.
type OffRamp struct {
	port        store.TransferPort
	prime       Withdrawer
	portfolioId string
	timeout     time.Duration
}

func NewOffRamp(port store.TransferPort, prime Withdrawer, portfolioId string, timeout time.Duration) *OffRamp {
	return &OffRamp{port: port, prime: prime, portfolioId: portfolioId, timeout: timeout}
}

// PendingAccount is the ledger account holding funds of withdrawals in flight.
func PendingAccount(asset string) string {
	return "offramp:pending:" + asset
}

func (o *OffRamp) Withdraw(ctx context.Context, req OffRampRequest) (*models.Withdrawal, error) {
	if req.Account == "" || req.Asset == "" || req.WalletId == "" || req.Destination == "" || req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: account, asset, wallet, destination and idempotency key are required", store.ErrValidation)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: withdrawal amount %s", store.ErrInvalidAmount, req.Amount)
	}

	balance, err := o.port.Balance(ctx, req.Asset, req.Account)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance of %s: %w", req.Account, err)
	}
	if balance.LessThan(req.Amount) {
		return nil, fmt.Errorf("%w: balance %s, requested %s, shortfall %s",
			store.ErrInsufficientFunds, balance, req.Amount, req.Amount.Sub(balance))
	}

	hold := store.Leg{
		Kind:      store.LegTransfer,
		Asset:     req.Asset,
		From:      req.Account,
		To:        PendingAccount(req.Asset),
		Amount:    req.Amount,
		Reference: "offramp:" + req.IdempotencyKey,
	}
	if err := store.Apply(ctx, o.port, o.timeout, hold); err != nil {
		return nil, fmt.Errorf("failed to hold funds: %w", err)
	}
	zap.L().Info("Funds held for withdrawal",
		zap.String("account", req.Account),
		zap.String("asset", req.Asset),
		zap.String("amount", req.Amount.String()),
		zap.String("idempotency_key", req.IdempotencyKey))

	withdrawal, err := o.prime.CreateWithdrawal(ctx, CreateWithdrawalParams{
		PortfolioId:        o.portfolioId,
		WalletId:           req.WalletId,
		DestinationAddress: req.Destination,
		Amount:             req.Amount.String(),
		Symbol:             req.Asset,
		Network:            req.Network,
		IdempotencyKey:     req.IdempotencyKey,
	})
	if err != nil {
		zap.L().Error("Prime withdrawal failed, releasing held funds",
			zap.String("account", req.Account),
			zap.String("asset", req.Asset),
			zap.String("amount", req.Amount.String()),
			zap.Error(err))
		store.Compensate(ctx, o.port, o.timeout, []store.Leg{hold})
		return nil, fmt.Errorf("prime withdrawal failed: %w", err)
	}

	settle := store.Leg{
		Kind:      store.LegBurn,
		Asset:     req.Asset,
		From:      PendingAccount(req.Asset),
		Amount:    req.Amount,
		Reference: hold.Reference + ":settled",
	}
	if err := store.Apply(context.WithoutCancel(ctx), o.port, o.timeout, settle); err != nil {
		zap.L().Error("Withdrawal submitted but held funds not burned",
			zap.String("activity_id", withdrawal.ActivityId),
			zap.String("pending_account", settle.From),
			zap.String("amount", req.Amount.String()),
			zap.Error(err))
		return withdrawal, fmt.Errorf("withdrawal %s submitted, settling ledger failed: %w", withdrawal.ActivityId, err)
	}

	zap.L().Info("Off-ramp withdrawal completed",
		zap.String("account", req.Account),
		zap.String("activity_id", withdrawal.ActivityId),
		zap.String("asset", req.Asset),
		zap.String("network", req.Network),
		zap.String("amount", req.Amount.String()),
		zap.String("destination", req.Destination))
	return withdrawal, nil
}
