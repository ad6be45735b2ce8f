// Package liquidation holds the pure solvency math for the vault: health
// factors, liquidation eligibility, partial-liquidation sizing and borrow
// headroom. Prices are implicitly 1:1 because collateral and debt are the
// same asset.
package liquidation

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/atmx/safelend-vault/internal/fixed"
)

// ErrNoDebt is returned by Amounts when the position has nothing to repay.
var ErrNoDebt = errors.New("liquidation: total debt is zero")

var (
	// CloseFactor caps the share of a position's debt that one liquidation
	// may repay (50%).
	CloseFactor = fixed.Percent(50)

	// MaxHealthFactor is reported for positions without debt.
	MaxHealthFactor = fixed.Max
)

// HealthFactor returns collateral·threshold/debt in fixed-point units, where
// fixed.Scale is exactly 1.0. Debt-free positions get MaxHealthFactor.
func HealthFactor(collateral, debt, threshold *uint256.Int) *uint256.Int {
	if debt.IsZero() {
		return fixed.Clone(MaxHealthFactor)
	}
	hf, err := fixed.MulDiv(collateral, threshold, debt)
	if err != nil {
		return fixed.Clone(MaxHealthFactor)
	}
	return hf
}

// IsLiquidatable reports whether hf is strictly below 1.0.
func IsLiquidatable(hf *uint256.Int) bool {
	return hf.Lt(fixed.Scale)
}

// Amounts sizes a partial liquidation. The requested debtToCover is capped
// at totalDebt·CloseFactor; the liquidator receives the proportional share
// of collateral plus the bonus:
//
//	collateral = covered · totalCollateral · (1 + bonus) / totalDebt
//
// The result never exceeds totalCollateral.
func Amounts(debtToCover, totalDebt, totalCollateral, bonus *uint256.Int) (collateral, covered *uint256.Int, err error) {
	if totalDebt.IsZero() {
		return nil, nil, ErrNoDebt
	}
	maxClose, err := fixed.MulScale(totalDebt, CloseFactor)
	if err != nil {
		return nil, nil, err
	}
	covered = fixed.Min(debtToCover, maxClose)

	share, err := fixed.Mul(covered, totalCollateral)
	if err != nil {
		return nil, nil, err
	}
	premium, err := fixed.Add(fixed.Scale, bonus)
	if err != nil {
		return nil, nil, err
	}
	denom, err := fixed.Mul(totalDebt, fixed.Scale)
	if err != nil {
		return nil, nil, err
	}
	collateral, err = fixed.MulDiv(share, premium, denom)
	if err != nil {
		return nil, nil, err
	}
	if collateral.Gt(totalCollateral) {
		collateral = fixed.Clone(totalCollateral)
	}
	return collateral, covered, nil
}

// MaxBorrow returns the remaining borrow headroom:
// max(0, collateral·collateralFactor − debt).
func MaxBorrow(collateral, collateralFactor, debt *uint256.Int) (*uint256.Int, error) {
	limit, err := fixed.MulScale(collateral, collateralFactor)
	if err != nil {
		return nil, err
	}
	return fixed.SubSat(limit, debt), nil
}
