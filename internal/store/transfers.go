package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LegKind selects which TransferPort call a Leg makes.
type LegKind int

const (
	LegTransfer LegKind = iota
	LegMint
	LegBurn
)

// Leg is one balance movement of a multi-step operation.
type Leg struct {
	Kind      LegKind
	Asset     string
	From      string
	To        string
	Amount    decimal.Decimal
	Reference string
}

// Reverse returns the movement that undoes this leg.
func (l Leg) Reverse() Leg {
	r := l
	r.Reference = l.Reference + ":reversal"
	switch l.Kind {
	case LegMint:
		r.Kind, r.From, r.To = LegBurn, l.To, ""
	case LegBurn:
		r.Kind, r.From, r.To = LegMint, "", l.From
	default:
		r.From, r.To = l.To, l.From
	}
	return r
}

// Apply performs a single leg bounded by timeout. Failures wrap ErrTransferFailed
// together with the port's own error.
func Apply(ctx context.Context, port TransferPort, timeout time.Duration, l Leg) error {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	switch l.Kind {
	case LegMint:
		err = port.Mint(tctx, l.Asset, l.To, l.Amount, l.Reference)
	case LegBurn:
		err = port.Burn(tctx, l.Asset, l.From, l.Amount, l.Reference)
	default:
		err = port.Transfer(tctx, l.Asset, l.From, l.To, l.Amount, l.Reference)
	}
	if err != nil {
		return fmt.Errorf("%w: %s %s %s -> %s: %w", ErrTransferFailed, l.Amount, l.Asset, l.From, l.To, err)
	}
	return nil
}

// ExecuteLegs applies legs in order. If one fails, the legs already applied
// are reversed so the ledger is left as it was.
func ExecuteLegs(ctx context.Context, port TransferPort, timeout time.Duration, legs []Leg) error {
	for i, l := range legs {
		if err := Apply(ctx, port, timeout, l); err != nil {
			Compensate(ctx, port, timeout, legs[:i])
			return err
		}
	}
	return nil
}

// Compensate reverses applied legs, newest first. It runs even when ctx is
// already cancelled; each reversal is still bounded by timeout.
func Compensate(ctx context.Context, port TransferPort, timeout time.Duration, applied []Leg) {
	ctx = context.WithoutCancel(ctx)
	for i := len(applied) - 1; i >= 0; i-- {
		rev := applied[i].Reverse()
		if err := Apply(ctx, port, timeout, rev); err != nil {
			zap.L().Error("Failed to reverse ledger leg, manual reconciliation required",
				zap.String("reference", applied[i].Reference),
				zap.String("asset", rev.Asset),
				zap.String("from", rev.From),
				zap.String("to", rev.To),
				zap.String("amount", rev.Amount.String()),
				zap.Error(err))
			continue
		}
		zap.L().Info("Reversed ledger leg", zap.String("reference", applied[i].Reference))
	}
}
