package formance

import (
	"context"
	"fmt"
	"math/big"

	"grove-ledger-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Balance returns the current balance of an account for one asset.
func (s *Service) Balance(ctx context.Context, asset, account string) (decimal.Decimal, error) {
	zap.L().Debug("Getting account balance from Formance",
		zap.String("account", account), zap.String("asset", asset))

	fAsset, err := formanceAsset(asset)
	if err != nil {
		return decimal.Zero, err
	}
	vols, err := s.getAccountVolumes(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}
	if bal := volumeBalance(vols, fAsset); bal != nil {
		return bigIntToDecimal(bal, asset), nil
	}
	return decimal.Zero, nil
}

// GetAllBalances returns all non-zero balances held by an account.
func (s *Service) GetAllBalances(ctx context.Context, account string) ([]models.AccountBalance, error) {
	zap.L().Debug("Getting all account balances from Formance", zap.String("account", account))

	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: account,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account %s: %w", account, err)
	}

	data := resp.V2AccountResponse.Data
	var updatedAt = data.FirstUsage
	if data.UpdatedAt != nil {
		updatedAt = data.UpdatedAt
	}

	var balances []models.AccountBalance
	for fAsset, vol := range data.Volumes {
		bal := volumeBalance(map[string]shared.V2Volume{fAsset: vol}, fAsset)
		if bal == nil || bal.Sign() == 0 {
			continue
		}
		symbol := assetSymbol(fAsset)
		balance := models.AccountBalance{
			Id:      account,
			Account: account,
			Asset:   symbol,
			Balance: bigIntToDecimal(bal, symbol),
		}
		if updatedAt != nil {
			balance.UpdatedAt = *updatedAt
		}
		balances = append(balances, balance)
	}
	return balances, nil
}

// ---------- helpers ----------

// getAccountVolumes fetches volumes for a single account via GetAccount (clean GET).
// An account that has never been used has no volumes.
func (s *Service) getAccountVolumes(ctx context.Context, address string) (map[string]shared.V2Volume, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: address,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		zap.L().Warn("Failed to get account volumes", zap.String("address", address), zap.Error(err))
		return nil, fmt.Errorf("failed to get account volumes for %s: %w", address, err)
	}
	return resp.V2AccountResponse.Data.Volumes, nil
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}

// bigIntToDecimal converts a *big.Int in smallest-unit to a human-readable decimal.
func bigIntToDecimal(raw *big.Int, symbol string) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(precisionFor(symbol)))
}

// assetSymbol extracts the symbol from a Formance asset like "USDC/6".
func assetSymbol(fAsset string) string {
	for i, c := range fAsset {
		if c == '/' {
			return fAsset[:i]
		}
	}
	return fAsset
}
