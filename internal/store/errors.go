package store

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every engine and backend. Specific errors wrap one
// of these roots so callers can branch on either.
var (
	ErrValidation             = errors.New("validation failed")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrTransferFailed         = errors.New("transfer failed")
	ErrDuplicateOperation     = errors.New("duplicate operation")
	ErrInvariantViolation     = errors.New("state invariant violation")
	ErrNotFound               = errors.New("not found")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
)

// Lending pool errors.
var (
	ErrInvalidAmount          = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrInsufficientShares     = fmt.Errorf("%w: insufficient lp shares", ErrInsufficientFunds)
	ErrInsufficientLiquidity  = fmt.Errorf("%w: insufficient available liquidity", ErrInsufficientFunds)
	ErrInsufficientCollateral = fmt.Errorf("%w: insufficient collateral", ErrInsufficientFunds)
	ErrActiveLoanExists       = fmt.Errorf("%w: borrower already has an active loan", ErrDuplicateOperation)
	ErrBorrowerBusy           = fmt.Errorf("%w: borrower has an operation in flight", ErrDuplicateOperation)
	ErrNoActiveLoan           = fmt.Errorf("%w: no active loan", ErrNotFound)
)

// Revenue reserve errors.
var (
	ErrInsufficientReserve  = fmt.Errorf("%w: insufficient reserve", ErrInsufficientFunds)
	ErrDistributionBounds   = fmt.Errorf("%w: distribution amount outside allowed bounds", ErrValidation)
	ErrDistributionCooldown = fmt.Errorf("%w: distribution cooldown active", ErrDuplicateOperation)
	ErrDistributionBusy     = fmt.Errorf("%w: distribution has a payout in flight", ErrDuplicateOperation)
	ErrDistributionComplete = fmt.Errorf("%w: distribution already completed", ErrDuplicateOperation)
	ErrDistributionNotFound = fmt.Errorf("%w: distribution", ErrNotFound)
	ErrBatchTooLarge        = fmt.Errorf("%w: batch too large", ErrValidation)
	ErrLengthMismatch       = fmt.Errorf("%w: holders and amounts length mismatch", ErrValidation)
)

// Harvest workflow errors.
var (
	ErrInvalidHarvest     = fmt.Errorf("%w: invalid harvest data", ErrValidation)
	ErrYieldTooHigh       = fmt.Errorf("%w: yield exceeds grove capacity", ErrValidation)
	ErrPriceOutOfRange    = fmt.Errorf("%w: unit price outside oracle band", ErrValidation)
	ErrHarvestTooSoon     = fmt.Errorf("%w: harvest reported too soon after previous", ErrDuplicateOperation)
	ErrHarvestNotFound    = fmt.Errorf("%w: harvest", ErrNotFound)
	ErrHarvestDistributed = fmt.Errorf("%w: harvest already distributed", ErrDuplicateOperation)
	ErrHarvestStale       = fmt.Errorf("%w: harvest too old to distribute", ErrValidation)
	ErrNoHolders          = fmt.Errorf("%w: asset has no token holders", ErrValidation)
)
