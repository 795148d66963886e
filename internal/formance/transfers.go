package formance

import (
	"context"
	"fmt"
	"math/big"

	"grove-ledger-go/internal/store"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// worldAccount is Formance's built-in unbounded source and sink.
const worldAccount = "world"

// numscriptTransfer moves funds between two ledger accounts. The world account
// may always overdraw, so the same script serves mint and burn.
const numscriptTransfer = `vars {
  asset $asset
  number $amount
  account $from_account
  account $to_account
  string $event_type
  string $amount_human
}

send [$asset $amount] (
  source = $from_account
  destination = $to_account
)

set_tx_meta("event_type", $event_type)
set_tx_meta("amount_human", $amount_human)
`

// Transfer moves amount of asset from one account to another. A reference that
// was already posted makes the call a no-op.
func (s *Service) Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal, reference string) error {
	return s.post(ctx, asset, from, to, amount, reference, "transfer")
}

// Mint credits an account out of @world.
func (s *Service) Mint(ctx context.Context, asset, to string, amount decimal.Decimal, reference string) error {
	return s.post(ctx, asset, worldAccount, to, amount, reference, "mint")
}

// Burn debits an account into @world.
func (s *Service) Burn(ctx context.Context, asset, from string, amount decimal.Decimal, reference string) error {
	return s.post(ctx, asset, from, worldAccount, amount, reference, "burn")
}

func (s *Service) post(ctx context.Context, asset, from, to string, amount decimal.Decimal, reference, kind string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s amount must be positive, got %s", store.ErrValidation, kind, amount)
	}
	if from == to {
		return fmt.Errorf("%w: %s source and destination are both %s", store.ErrValidation, kind, from)
	}
	fAsset, err := formanceAsset(asset)
	if err != nil {
		return err
	}
	smallAmt, err := toSmallestUnit(amount, asset)
	if err != nil {
		return err
	}
	if reference == "" {
		reference = uuid.New().String()
	}

	_, err = s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: strPtr(reference),
			Script: &shared.V2PostTransactionScript{
				Plain: numscriptTransfer,
				Vars: map[string]string{
					"asset":        fAsset,
					"amount":       smallAmt.String(),
					"from_account": from,
					"to_account":   to,
					"event_type":   kind,
					"amount_human": amount.String(),
				},
			},
		},
	})
	if err != nil {
		if isConflictError(err) {
			zap.L().Info("Transfer reference already posted, skipping",
				zap.String("reference", reference))
			return nil
		}
		if isInsufficientFundError(err) {
			return fmt.Errorf("%w: %s of %s %s from %s", store.ErrInsufficientFunds, kind, amount, asset, from)
		}
		return fmt.Errorf("error posting %s transaction: %w", kind, err)
	}

	zap.L().Info("Transfer posted in Formance",
		zap.String("kind", kind),
		zap.String("asset", asset),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("amount", amount.String()),
		zap.String("reference", reference))
	return nil
}

// toSmallestUnit converts an amount to the integer Formance representation,
// rejecting amounts finer than the asset precision.
func toSmallestUnit(amount decimal.Decimal, asset string) (*big.Int, error) {
	shifted := amount.Shift(int32(precisionFor(asset)))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("%w: %s has more than %d decimals for %s",
			store.ErrValidation, amount, precisionFor(asset), asset)
	}
	return shifted.BigInt(), nil
}
