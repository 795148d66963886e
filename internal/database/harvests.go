package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/store"

	"go.uber.org/zap"
)

// InsertHarvest stores a new harvest record and returns its per-asset index,
// starting at 0.
func (s *Service) InsertHarvest(ctx context.Context, h models.HarvestRecord) (int64, error) {
	var index int64
	err := s.db.QueryRowContext(ctx, queryInsertHarvest,
		h.AssetId, h.AssetId, h.Id, h.YieldQuantity.String(), h.QualityGrade,
		h.UnitPrice.String(), h.TotalRevenue.String(), h.ReportedBy, h.HarvestedAt).Scan(&index)
	if err != nil {
		return 0, fmt.Errorf("failed to insert harvest: %w", err)
	}

	zap.L().Info("Harvest recorded",
		zap.String("asset_id", h.AssetId),
		zap.Int64("harvest_index", index),
		zap.String("total_revenue", h.TotalRevenue.String()))
	return index, nil
}

// GetHarvest returns one harvest of an asset by index
func (s *Service) GetHarvest(ctx context.Context, assetId string, index int64) (*models.HarvestRecord, error) {
	h, err := scanHarvest(s.db.QueryRowContext(ctx, queryGetHarvest, assetId, index))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("harvest %s#%d: %w", assetId, index, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get harvest: %w", err)
	}
	return h, nil
}

// ListHarvests returns every harvest of an asset in index order
func (s *Service) ListHarvests(ctx context.Context, assetId string) ([]models.HarvestRecord, error) {
	rows, err := s.db.QueryContext(ctx, queryListHarvests, assetId)
	if err != nil {
		return nil, fmt.Errorf("failed to list harvests: %w", err)
	}
	defer closeRows(rows)

	var harvests []models.HarvestRecord
	for rows.Next() {
		h, err := scanHarvest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan harvest: %w", err)
		}
		harvests = append(harvests, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating harvest rows: %w", err)
	}
	return harvests, nil
}

// LatestHarvestTime returns when the most recent harvest of an asset was
// reported, or the zero time if there is none.
func (s *Service) LatestHarvestTime(ctx context.Context, assetId string) (time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx, queryLatestHarvestTime, assetId).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest harvest time: %w", err)
	}
	return at, nil
}

// AttachDistribution links an undistributed harvest to the reserve
// distribution paying out its investor share. A harvest is linked once.
func (s *Service) AttachDistribution(ctx context.Context, assetId string, index int64, distributionId string) error {
	result, err := s.db.ExecContext(ctx, queryAttachHarvestDistribution, distributionId, assetId, index)
	if err != nil {
		return fmt.Errorf("failed to attach distribution to harvest: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("harvest %s#%d missing, distributed or already linked: %w", assetId, index, store.ErrDuplicateOperation)
	}
	return nil
}

// MarkDistributed flips the distributed flag of a harvest. The flag flips
// exactly once; a second call fails.
func (s *Service) MarkDistributed(ctx context.Context, assetId string, index int64) error {
	result, err := s.db.ExecContext(ctx, queryMarkHarvestDistributed, assetId, index)
	if err != nil {
		return fmt.Errorf("failed to mark harvest distributed: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("harvest %s#%d missing or already distributed: %w", assetId, index, store.ErrDuplicateOperation)
	}
	return nil
}

func scanHarvest(row rowScanner) (*models.HarvestRecord, error) {
	var h models.HarvestRecord
	var yield, price, revenue string
	if err := row.Scan(&h.Index, &h.Id, &h.AssetId, &yield, &h.QualityGrade, &price, &revenue,
		&h.Distributed, &h.DistributionId, &h.ReportedBy, &h.HarvestedAt); err != nil {
		return nil, err
	}
	if err := parseDecimals(
		decimalField{&h.YieldQuantity, yield},
		decimalField{&h.UnitPrice, price},
		decimalField{&h.TotalRevenue, revenue},
	); err != nil {
		return nil, err
	}
	return &h, nil
}
