package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LoadPool returns the persisted state of a lending pool. A pool that has
// never been committed comes back empty with version 0.
func (s *Service) LoadPool(ctx context.Context, asset string) (*models.PoolSnapshot, error) {
	snapshot := &models.PoolSnapshot{
		State: models.PoolState{
			Asset:              asset,
			TotalLiquidity:     decimal.Zero,
			AvailableLiquidity: decimal.Zero,
			TotalBorrowed:      decimal.Zero,
			TotalLPSupply:      decimal.Zero,
		},
	}

	var total, available, borrowed, supply string
	err := s.db.QueryRowContext(ctx, queryGetPoolState, asset).Scan(
		&snapshot.State.Asset, &total, &available, &borrowed, &supply,
		&snapshot.State.Version, &snapshot.State.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		zap.L().Debug("No persisted pool state, starting empty", zap.String("asset", asset))
		return snapshot, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pool state: %w", err)
	}
	if err := parseDecimals(
		decimalField{&snapshot.State.TotalLiquidity, total},
		decimalField{&snapshot.State.AvailableLiquidity, available},
		decimalField{&snapshot.State.TotalBorrowed, borrowed},
		decimalField{&snapshot.State.TotalLPSupply, supply},
	); err != nil {
		return nil, fmt.Errorf("failed to parse pool state: %w", err)
	}

	if snapshot.Positions, err = s.loadPositions(ctx, asset); err != nil {
		return nil, err
	}
	if snapshot.Loans, err = s.loadLoans(ctx, asset); err != nil {
		return nil, err
	}

	zap.L().Debug("Loaded pool state",
		zap.String("asset", asset),
		zap.Int64("version", snapshot.State.Version),
		zap.Int("positions", len(snapshot.Positions)),
		zap.Int("loans", len(snapshot.Loans)))
	return snapshot, nil
}

func (s *Service) loadPositions(ctx context.Context, asset string) ([]models.LiquidityPosition, error) {
	rows, err := s.db.QueryContext(ctx, queryGetPositions, asset)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer closeRows(rows)

	var positions []models.LiquidityPosition
	for rows.Next() {
		var p models.LiquidityPosition
		var provided, shares, interest string
		if err := rows.Scan(&p.Asset, &p.Provider, &provided, &shares, &interest, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		if err := parseDecimals(
			decimalField{&p.AmountProvided, provided},
			decimalField{&p.LPShareBalance, shares},
			decimalField{&p.AccruedInterest, interest},
		); err != nil {
			return nil, fmt.Errorf("failed to parse position for %s: %w", p.Provider, err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

func (s *Service) loadLoans(ctx context.Context, asset string) ([]models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, queryGetLoans, asset)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer closeRows(rows)

	var loans []models.Loan
	for rows.Next() {
		var l models.Loan
		var principal, collateral, liquidation, repay, status string
		var closedAt sql.NullTime
		if err := rows.Scan(&l.Id, &l.Asset, &l.Borrower, &principal, &collateral, &liquidation,
			&repay, &status, &l.OpenedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		if err := parseDecimals(
			decimalField{&l.Principal, principal},
			decimalField{&l.CollateralAmount, collateral},
			decimalField{&l.LiquidationPrice, liquidation},
			decimalField{&l.RepayAmount, repay},
		); err != nil {
			return nil, fmt.Errorf("failed to parse loan %s: %w", l.Id, err)
		}
		l.Status = models.LoanStatus(status)
		if closedAt.Valid {
			t := closedAt.Time
			l.ClosedAt = &t
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating loan rows: %w", err)
	}
	return loans, nil
}

// CommitPool writes the rows touched by one pool operation in a single
// transaction. The pool row is guarded by its version; a stale version
// fails with store.ErrConcurrentModification and nothing is written.
func (s *Service) CommitPool(ctx context.Context, commit store.PoolCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	st := commit.State
	result, err := tx.ExecContext(ctx, queryUpsertPoolState,
		st.Asset, st.TotalLiquidity.String(), st.AvailableLiquidity.String(),
		st.TotalBorrowed.String(), st.TotalLPSupply.String(), now, st.Version)
	if err != nil {
		return fmt.Errorf("failed to upsert pool state: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("pool %s at version %d - %w", st.Asset, st.Version, store.ErrConcurrentModification)
	}

	for _, p := range commit.Positions {
		_, err := tx.ExecContext(ctx, queryUpsertPosition,
			st.Asset, p.Provider, p.AmountProvided.String(), p.LPShareBalance.String(),
			p.AccruedInterest.String(), now)
		if err != nil {
			return fmt.Errorf("failed to upsert position for %s: %w", p.Provider, err)
		}
	}

	for _, l := range commit.Loans {
		var closedAt sql.NullTime
		if l.ClosedAt != nil {
			closedAt = sql.NullTime{Time: *l.ClosedAt, Valid: true}
		}
		_, err := tx.ExecContext(ctx, queryUpsertLoan,
			l.Id, st.Asset, l.Borrower, l.Principal.String(), l.CollateralAmount.String(),
			l.LiquidationPrice.String(), l.RepayAmount.String(), string(l.Status), l.OpenedAt, closedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert loan %s: %w", l.Id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pool state: %w", err)
	}

	zap.L().Debug("Committed pool state",
		zap.String("asset", st.Asset),
		zap.Int64("version", st.Version),
		zap.Int("positions", len(commit.Positions)),
		zap.Int("loans", len(commit.Loans)))
	return nil
}

type decimalField struct {
	dst *decimal.Decimal
	raw string
}

func parseDecimals(fields ...decimalField) error {
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("invalid decimal '%s': %w", f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		zap.L().Warn("Failed to close rows", zap.Error(err))
	}
}
