package database

import (
	"context"
	"fmt"

	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/store"

	"go.uber.org/zap"
)

// GetHoldings returns the non-zero token balances of a grove asset ordered by
// holder, which fixes each holder's index within a distribution.
func (s *Service) GetHoldings(ctx context.Context, assetId string) ([]models.Holding, error) {
	rows, err := s.db.QueryContext(ctx, queryGetHoldings, assetId)
	if err != nil {
		return nil, fmt.Errorf("failed to get holdings: %w", err)
	}
	defer closeRows(rows)

	var holdings []models.Holding
	for rows.Next() {
		var h models.Holding
		var amount string
		if err := rows.Scan(&h.AssetId, &h.Holder, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		if err := parseDecimals(decimalField{&h.Amount, amount}); err != nil {
			return nil, fmt.Errorf("failed to parse holding for %s: %w", h.Holder, err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holding rows: %w", err)
	}
	return holdings, nil
}

// SetHolding records the token balance of one holder
func (s *Service) SetHolding(ctx context.Context, h models.Holding) error {
	if h.Amount.IsNegative() {
		return fmt.Errorf("%w: holding for %s cannot be negative", store.ErrValidation, h.Holder)
	}
	if _, err := s.db.ExecContext(ctx, queryUpsertHolding, h.AssetId, h.Holder, h.Amount.String()); err != nil {
		return fmt.Errorf("failed to set holding: %w", err)
	}
	zap.L().Debug("Holding set",
		zap.String("asset_id", h.AssetId),
		zap.String("holder", h.Holder),
		zap.String("amount", h.Amount.String()))
	return nil
}
