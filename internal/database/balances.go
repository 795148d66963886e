package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Balance returns the current balance of an account for one asset (O(1) lookup)
func (s *SubledgerService) Balance(ctx context.Context, asset, account string) (decimal.Decimal, error) {
	zap.L().Debug("Getting balance", zap.String("account", account), zap.String("asset", asset))

	var balanceStr string
	err := s.db.QueryRowContext(ctx, queryGetBalance, account, asset).Scan(&balanceStr)
	if errors.Is(err, sql.ErrNoRows) {
		// No balance record means zero balance
		return decimal.Zero, nil
	}
	if err != nil {
		zap.L().Error("Failed to get balance", zap.String("account", account), zap.String("asset", asset), zap.Error(err))
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		zap.L().Error("Failed to parse balance", zap.String("balance_str", balanceStr), zap.Error(err))
		return decimal.Zero, fmt.Errorf("failed to parse balance: %w", err)
	}

	return balance, nil
}

// GetAllBalances returns all non-zero balances held by an account
func (s *SubledgerService) GetAllBalances(ctx context.Context, account string) ([]models.AccountBalance, error) {
	zap.L().Debug("Getting all balances", zap.String("account", account))

	rows, err := s.db.QueryContext(ctx, queryGetAllAccountBalances, account)
	if err != nil {
		zap.L().Error("Failed to get all balances", zap.String("account", account), zap.Error(err))
		return nil, fmt.Errorf("failed to get all balances: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var balances []models.AccountBalance
	for rows.Next() {
		var balance models.AccountBalance
		var balanceStr string
		var lastTxId sql.NullString
		err := rows.Scan(&balance.Id, &balance.Account, &balance.Asset, &balanceStr,
			&lastTxId, &balance.Version, &balance.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balance.LastTransactionId = lastTxId.String

		balance.Balance, err = decimal.NewFromString(balanceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
		}

		balances = append(balances, balance)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during balance row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}

	zap.L().Debug("Retrieved all balances", zap.String("account", account), zap.Int("count", len(balances)))
	return balances, nil
}

// ReconcileBalance verifies that the current balance matches the sum of all
// confirmed transactions. Amounts are stored as text, so the sum is taken here
// rather than in SQL to keep full decimal precision.
func (s *SubledgerService) ReconcileBalance(ctx context.Context, account, asset string) error {
	zap.L().Info("Reconciling balance", zap.String("account", account), zap.String("asset", asset))

	currentBalance, err := s.Balance(ctx, asset, account)
	if err != nil {
		return fmt.Errorf("failed to get current balance: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryReconcileBalance, account, asset)
	if err != nil {
		return fmt.Errorf("failed to calculate balance from transactions: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	calculatedBalance := decimal.Zero
	for rows.Next() {
		var amountStr string
		if err := rows.Scan(&amountStr); err != nil {
			return fmt.Errorf("failed to scan amount: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		calculatedBalance = calculatedBalance.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating transaction rows: %w", err)
	}

	// Check if balances match (exact decimal comparison)
	if !currentBalance.Equal(calculatedBalance) {
		zap.L().Error("Balance reconciliation failed",
			zap.String("account", account),
			zap.String("asset", asset),
			zap.String("current_balance", currentBalance.String()),
			zap.String("calculated_balance", calculatedBalance.String()),
			zap.String("difference", currentBalance.Sub(calculatedBalance).String()))
		return fmt.Errorf("%w: balance mismatch: current=%s, calculated=%s", store.ErrInvariantViolation, currentBalance.String(), calculatedBalance.String())
	}

	zap.L().Info("Balance reconciliation successful",
		zap.String("account", account),
		zap.String("asset", asset),
		zap.String("balance", currentBalance.String()))
	return nil
}
