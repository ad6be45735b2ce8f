package vault

import (
	"errors"
	"fmt"

	"github.com/atmx/safelend-vault/internal/asset"
	"github.com/atmx/safelend-vault/internal/auth"
	"github.com/atmx/safelend-vault/internal/caps"
	"github.com/atmx/safelend-vault/internal/fixed"
	"github.com/atmx/safelend-vault/internal/liquidation"
	"github.com/atmx/safelend-vault/internal/ratemodel"
)

var (
	// ErrInvalidAmount is returned for zero amounts or share counts.
	ErrInvalidAmount = errors.New("vault: amount must be positive")

	// ErrPaused is returned by deposit and borrow while the vault is paused.
	ErrPaused = errors.New("vault: paused")

	// ErrReentrant is returned when a mutating operation is entered while
	// another one is still running.
	ErrReentrant = errors.New("vault: reentrant call")

	// ErrInsufficientShares is returned when withdrawing more shares than held.
	ErrInsufficientShares = errors.New("vault: insufficient shares")

	// ErrInsufficientLiquidity is returned when the vault's cash cannot
	// cover a borrow or withdrawal.
	ErrInsufficientLiquidity = errors.New("vault: insufficient liquidity")

	// ErrInsufficientCollateral is returned when a withdrawal exceeds the
	// caller's tracked collateral.
	ErrInsufficientCollateral = errors.New("vault: insufficient collateral")

	// ErrBorrowLimitExceeded is returned when a borrow exceeds the
	// collateral-backed headroom or a configured borrow cap.
	ErrBorrowLimitExceeded = errors.New("vault: borrow limit exceeded")

	// ErrUndercollateralized is returned when a withdrawal would push the
	// health factor below 1.0.
	ErrUndercollateralized = errors.New("vault: withdrawal would undercollateralize position")

	// ErrNotLiquidatable is returned when the borrower's health factor is
	// at or above 1.0.
	ErrNotLiquidatable = errors.New("vault: position is not liquidatable")

	// ErrNoDebt is returned by repay when the caller owes nothing.
	ErrNoDebt = errors.New("vault: no outstanding debt")

	// ErrZeroShares is returned when a deposit would mint no shares.
	ErrZeroShares = errors.New("vault: deposit would mint zero shares")

	// ErrLiquidationDisabled is returned when liquidations are switched off.
	ErrLiquidationDisabled = errors.New("vault: liquidation disabled")

	// ErrInvalidConfig is returned by New and ReplaceConfig for
	// out-of-range parameters.
	ErrInvalidConfig = errors.New("vault: invalid config")

	// ErrUnauthorized matches every *AuthorizationError.
	ErrUnauthorized = errors.New("vault: unauthorized")

	// ErrTransfer wraps failures reported by the asset collaborator.
	ErrTransfer = errors.New("vault: asset transfer failed")
)

// AuthorizationError reports a missing capability.
type AuthorizationError struct {
	Identity   string
	Capability auth.Capability
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("vault: %s lacks capability %s", e.Identity, e.Capability)
}

// Is makes errors.Is(err, ErrUnauthorized) hold.
func (e *AuthorizationError) Is(target error) bool {
	return target == ErrUnauthorized
}

// Class is a coarse error category.
type Class string

const (
	ClassNone          Class = ""
	ClassValidation    Class = "validation"
	ClassInsufficient  Class = "insufficient"
	ClassInvariant     Class = "invariant"
	ClassAuthorization Class = "authorization"
	ClassOverflow      Class = "overflow"
	ClassUnavailable   Class = "unavailable"
	ClassInternal      Class = "internal"
)

// Classify maps an error returned by this package to its category.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrUnauthorized):
		return ClassAuthorization
	case errors.Is(err, fixed.ErrOverflow):
		return ClassOverflow
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrZeroShares),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ratemodel.ErrInvalidParameters):
		return ClassValidation
	case errors.Is(err, ErrInsufficientShares),
		errors.Is(err, ErrInsufficientLiquidity),
		errors.Is(err, ErrInsufficientCollateral),
		errors.Is(err, asset.ErrInsufficientBalance),
		errors.Is(err, asset.ErrInsufficientAllowance):
		return ClassInsufficient
	case errors.Is(err, ErrBorrowLimitExceeded),
		errors.Is(err, ErrUndercollateralized),
		errors.Is(err, ErrNotLiquidatable),
		errors.Is(err, ErrNoDebt),
		errors.Is(err, ErrReentrant),
		errors.Is(err, liquidation.ErrNoDebt),
		errors.Is(err, caps.ErrPositionCapExceeded),
		errors.Is(err, caps.ErrTotalCapExceeded),
		errors.Is(err, caps.ErrUtilizationCapExceeded):
		return ClassInvariant
	case errors.Is(err, ErrPaused), errors.Is(err, ErrLiquidationDisabled):
		return ClassUnavailable
	default:
		return ClassInternal
	}
}
