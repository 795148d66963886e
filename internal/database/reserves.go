package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/store"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LoadReserve returns the persisted reserve for an asset, or an empty one at
// version 0.
func (s *Service) LoadReserve(ctx context.Context, asset string) (*models.ReserveState, error) {
	state := &models.ReserveState{
		Asset:            asset,
		TotalReserve:     decimal.Zero,
		TotalDistributed: decimal.Zero,
		FarmerWithdrawn:  decimal.Zero,
	}

	var reserve, distributed, withdrawn string
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, queryGetReserveState, asset).Scan(
		&state.Asset, &reserve, &distributed, &withdrawn, &last, &state.Version, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reserve state: %w", err)
	}
	if err := parseDecimals(
		decimalField{&state.TotalReserve, reserve},
		decimalField{&state.TotalDistributed, distributed},
		decimalField{&state.FarmerWithdrawn, withdrawn},
	); err != nil {
		return nil, fmt.Errorf("failed to parse reserve state: %w", err)
	}
	if last.Valid {
		state.LastDistribution = last.Time
	}
	return state, nil
}

// GetDistribution returns a distribution by id
func (s *Service) GetDistribution(ctx context.Context, id string) (*models.Distribution, error) {
	row := s.db.QueryRowContext(ctx, queryGetDistribution, id)
	d, err := scanDistribution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("distribution %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get distribution: %w", err)
	}
	return d, nil
}

// ListDistributions returns the distributions of an asset, oldest first
func (s *Service) ListDistributions(ctx context.Context, asset string) ([]models.Distribution, error) {
	rows, err := s.db.QueryContext(ctx, queryListDistributions, asset)
	if err != nil {
		return nil, fmt.Errorf("failed to list distributions: %w", err)
	}
	defer closeRows(rows)

	var distributions []models.Distribution
	for rows.Next() {
		d, err := scanDistribution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan distribution: %w", err)
		}
		distributions = append(distributions, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating distribution rows: %w", err)
	}
	return distributions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDistribution(row rowScanner) (*models.Distribution, error) {
	var d models.Distribution
	var revenue, supply string
	var completedAt sql.NullTime
	if err := row.Scan(&d.Id, &d.Asset, &revenue, &supply, &d.HolderCount, &d.Completed,
		&d.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	if err := parseDecimals(
		decimalField{&d.TotalRevenue, revenue},
		decimalField{&d.TotalTokenSupply, supply},
	); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		d.CompletedAt = &t
	}
	return &d, nil
}

// ListPayouts returns the payout log of a distribution ordered by holder index
func (s *Service) ListPayouts(ctx context.Context, distributionId string) ([]models.HolderPayout, error) {
	rows, err := s.db.QueryContext(ctx, queryListPayouts, distributionId)
	if err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}
	defer closeRows(rows)

	var payouts []models.HolderPayout
	for rows.Next() {
		var p models.HolderPayout
		var tokens, share string
		if err := rows.Scan(&p.DistributionId, &p.HolderIndex, &p.Holder, &tokens, &share,
			&p.Claimed, &p.Attempts, &p.LastError, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		if err := parseDecimals(
			decimalField{&p.TokenAmount, tokens},
			decimalField{&p.Share, share},
		); err != nil {
			return nil, fmt.Errorf("failed to parse payout for %s: %w", p.Holder, err)
		}
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payout rows: %w", err)
	}
	return payouts, nil
}

// CommitReserve writes the rows touched by one reserve operation in a single
// transaction, guarded by the reserve version. Completed distributions and
// claimed payouts are never overwritten.
func (s *Service) CommitReserve(ctx context.Context, commit store.ReserveCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	st := commit.State
	var last sql.NullTime
	if !st.LastDistribution.IsZero() {
		last = sql.NullTime{Time: st.LastDistribution, Valid: true}
	}
	result, err := tx.ExecContext(ctx, queryUpsertReserveState,
		st.Asset, st.TotalReserve.String(), st.TotalDistributed.String(), st.FarmerWithdrawn.String(),
		last, now, st.Version)
	if err != nil {
		return fmt.Errorf("failed to upsert reserve state: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("reserve %s at version %d - %w", st.Asset, st.Version, store.ErrConcurrentModification)
	}

	if commit.Operation != "" {
		if _, err := tx.ExecContext(ctx, queryInsertReserveOperation, commit.Operation, st.Asset, now); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("reserve operation %s: %w", commit.Operation, store.ErrDuplicateOperation)
			}
			return fmt.Errorf("failed to record reserve operation %s: %w", commit.Operation, err)
		}
	}

	for _, d := range commit.Distributions {
		var completedAt sql.NullTime
		if d.CompletedAt != nil {
			completedAt = sql.NullTime{Time: *d.CompletedAt, Valid: true}
		}
		_, err := tx.ExecContext(ctx, queryUpsertDistribution,
			d.Id, st.Asset, d.TotalRevenue.String(), d.TotalTokenSupply.String(), d.HolderCount,
			d.Completed, d.CreatedAt, completedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert distribution %s: %w", d.Id, err)
		}
	}

	for _, p := range commit.Payouts {
		_, err := tx.ExecContext(ctx, queryUpsertPayout,
			p.DistributionId, p.HolderIndex, p.Holder, p.TokenAmount.String(), p.Share.String(),
			p.Claimed, p.Attempts, p.LastError, now)
		if err != nil {
			return fmt.Errorf("failed to upsert payout for %s: %w", p.Holder, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reserve state: %w", err)
	}

	zap.L().Debug("Committed reserve state",
		zap.String("asset", st.Asset),
		zap.Int64("version", st.Version),
		zap.Int("distributions", len(commit.Distributions)),
		zap.Int("payouts", len(commit.Payouts)),
		zap.String("operation", commit.Operation))
	return nil
}

// OperationApplied reports whether a keyed reserve operation has been committed.
func (s *Service) OperationApplied(ctx context.Context, key string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, queryReserveOperationExists, key).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up reserve operation: %w", err)
	}
	return n > 0, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}
