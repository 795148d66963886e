package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// legParams contains the parameters for one side of a transfer
type legParams struct {
	Account         string
	Asset           string
	TransactionType string
	Amount          decimal.Decimal
	Reference       string
	Counterparty    string
}

// Transfer atomically debits one account and credits another. A reference that
// was already applied makes the call a no-op.
func (s *SubledgerService) Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal, reference string) error {
	return s.post(ctx, asset, from, to, amount, reference, "transfer")
}

// Mint credits an account from the world account.
func (s *SubledgerService) Mint(ctx context.Context, asset, to string, amount decimal.Decimal, reference string) error {
	return s.post(ctx, asset, WorldAccount, to, amount, reference, "mint")
}

// Burn debits an account into the world account.
func (s *SubledgerService) Burn(ctx context.Context, asset, from string, amount decimal.Decimal, reference string) error {
	return s.post(ctx, asset, from, WorldAccount, amount, reference, "burn")
}

func (s *SubledgerService) post(ctx context.Context, asset, from, to string, amount decimal.Decimal, reference, kind string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s amount must be positive, got %s", store.ErrValidation, kind, amount)
	}
	if from == to {
		return fmt.Errorf("%w: %s source and destination are both %s", store.ErrValidation, kind, from)
	}
	if reference == "" {
		reference = uuid.New().String()
	}

	zap.L().Debug("Posting subledger transfer",
		zap.String("kind", kind),
		zap.String("asset", asset),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("amount", amount.String()),
		zap.String("reference", reference))

	var existingId string
	err := s.db.QueryRowContext(ctx, queryCheckDuplicateReference, reference).Scan(&existingId)
	if err == nil {
		zap.L().Info("Transfer reference already applied, skipping",
			zap.String("reference", reference),
			zap.String("existing_tx_id", existingId))
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check for duplicate reference: %w", err)
	}

	// Start database transaction for atomicity
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	debit, err := s.applyLeg(ctx, tx, legParams{
		Account:         from,
		Asset:           asset,
		TransactionType: kind + "-out",
		Amount:          amount.Neg(),
		Reference:       reference,
		Counterparty:    to,
	})
	if err != nil {
		return err
	}
	credit, err := s.applyLeg(ctx, tx, legParams{
		Account:         to,
		Asset:           asset,
		TransactionType: kind + "-in",
		Amount:          amount,
		Reference:       reference,
		Counterparty:    from,
	})
	if err != nil {
		return err
	}

	if err := s.addJournalEntries(ctx, tx, debit, credit); err != nil {
		return fmt.Errorf("failed to add journal entries: %w", err)
	}

	// Commit transaction
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Subledger transfer posted",
		zap.String("kind", kind),
		zap.String("asset", asset),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("amount", amount.String()),
		zap.String("reference", reference))
	return nil
}

// applyLeg updates one account balance and records the transaction row
func (s *SubledgerService) applyLeg(ctx context.Context, tx *sql.Tx, params legParams) (*models.Transaction, error) {
	var currentBalanceStr string
	var accountId string
	var version int64

	err := tx.QueryRowContext(ctx, queryGetAccountBalance, params.Account, params.Asset).Scan(&accountId, &currentBalanceStr, &version)

	var currentBalance decimal.Decimal
	if errors.Is(err, sql.ErrNoRows) {
		accountId = uuid.New().String()
		currentBalance = decimal.Zero
		version = 1

		_, err = tx.ExecContext(ctx, queryInsertAccountBalance, accountId, params.Account, params.Asset, "0", 1)
		if err != nil {
			return nil, fmt.Errorf("failed to create account balance: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	} else {
		currentBalance, err = decimal.NewFromString(currentBalanceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse current balance '%s': %w", currentBalanceStr, err)
		}
	}

	newBalance := currentBalance.Add(params.Amount)
	if newBalance.IsNegative() && params.Account != WorldAccount {
		return nil, fmt.Errorf("%w: account %s holds %s %s, needs %s",
			store.ErrInsufficientFunds, params.Account, currentBalance, params.Asset, params.Amount.Neg())
	}

	transaction := &models.Transaction{
		Id:              uuid.New().String(),
		Account:         params.Account,
		Asset:           params.Asset,
		TransactionType: params.TransactionType,
		Amount:          params.Amount,
		BalanceBefore:   currentBalance,
		BalanceAfter:    newBalance,
		Reference:       params.Reference,
		Counterparty:    params.Counterparty,
		Status:          "confirmed",
		CreatedAt:       time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx, queryInsertTransaction,
		transaction.Id, transaction.Account, transaction.Asset, transaction.TransactionType,
		transaction.Amount.String(), transaction.BalanceBefore.String(), transaction.BalanceAfter.String(),
		transaction.Reference, transaction.Counterparty, transaction.Status, transaction.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	// Update account balance (with optimistic locking)
	result, err := tx.ExecContext(ctx, queryUpdateAccountBalance, newBalance.String(), transaction.Id, params.Account, params.Asset, version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
	}

	return transaction, nil
}

// addJournalEntries records the double-entry lines of a transfer: the
// receiving account is debited and the sending account credited.
func (s *SubledgerService) addJournalEntries(ctx context.Context, tx *sql.Tx, debit, credit *models.Transaction) error {
	entries := []struct {
		accountType  string
		accountId    string
		debitAmount  decimal.Decimal
		creditAmount decimal.Decimal
	}{
		{accountTypeFor(credit.Account), credit.Account + "_" + credit.Asset, credit.Amount, decimal.Zero},
		{accountTypeFor(debit.Account), debit.Account + "_" + debit.Asset, decimal.Zero, debit.Amount.Neg()},
	}

	for _, entry := range entries {
		_, err := tx.ExecContext(ctx, queryInsertJournalEntry,
			uuid.New().String(), debit.Reference, entry.accountType, entry.accountId,
			entry.debitAmount.String(), entry.creditAmount.String())
		if err != nil {
			return err
		}
	}
	return nil
}

func accountTypeFor(account string) string {
	if account == WorldAccount {
		return "system_issuance"
	}
	return "ledger_account"
}

// GetTransactionHistory returns paginated transaction history for an account
func (s *SubledgerService) GetTransactionHistory(ctx context.Context, account, asset string, limit, offset int) ([]models.Transaction, error) {
	zap.L().Debug("Getting transaction history",
		zap.String("account", account),
		zap.String("asset", asset),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	rows, err := s.db.QueryContext(ctx, queryGetTransactionHistory, account, asset, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var transactions []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var amountStr, balanceBeforeStr, balanceAfterStr string
		var reference, counterparty sql.NullString
		err := rows.Scan(&tx.Id, &tx.Account, &tx.Asset, &tx.TransactionType,
			&amountStr, &balanceBeforeStr, &balanceAfterStr,
			&reference, &counterparty, &tx.Status, &tx.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Reference = reference.String
		tx.Counterparty = counterparty.String

		if tx.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		if tx.BalanceBefore, err = decimal.NewFromString(balanceBeforeStr); err != nil {
			return nil, fmt.Errorf("failed to parse balance before '%s': %w", balanceBeforeStr, err)
		}
		if tx.BalanceAfter, err = decimal.NewFromString(balanceAfterStr); err != nil {
			return nil, fmt.Errorf("failed to parse balance after '%s': %w", balanceAfterStr, err)
		}

		transactions = append(transactions, tx)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during transaction row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	return transactions, nil
}
