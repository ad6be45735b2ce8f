package vault

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/atmx/safelend-vault/internal/fixed"
	"github.com/atmx/safelend-vault/internal/ratemodel"
)

// Config is the vault's risk configuration. It is only ever replaced as a
// whole, through ReplaceConfig.
type Config struct {
	// CollateralFactor bounds borrowing: debt ≤ collateral·CollateralFactor.
	CollateralFactor *uint256.Int

	// LiquidationThreshold weights collateral in the health factor.
	LiquidationThreshold *uint256.Int

	// LiquidationBonus is the liquidator's premium on seized collateral.
	LiquidationBonus *uint256.Int

	// ReserveFactor is the protocol's cut of accrued interest.
	ReserveFactor *uint256.Int

	RateModel ratemodel.RateModel

	// Oracle is carried for forward compatibility and never read: collateral
	// and debt are the same asset, priced 1:1.
	Oracle string

	LiquidationEnabled bool
	Paused             bool

	// PublicLiquidation lets any caller liquidate, not just holders of the
	// liquidation operator capability.
	PublicLiquidation bool
}

// DefaultConfig returns 75% collateral factor, 80% liquidation threshold,
// 5% bonus, 10% reserve factor and the default kinked rate model.
func DefaultConfig() Config {
	return Config{
		CollateralFactor:     fixed.Percent(75),
		LiquidationThreshold: fixed.Percent(80),
		LiquidationBonus:     fixed.Percent(5),
		ReserveFactor:        fixed.Percent(10),
		RateModel:            ratemodel.Default(),
		LiquidationEnabled:   true,
	}
}

// Validate checks that every factor lies in [0, 1] and a rate model is set.
func (c Config) Validate() error {
	factors := []struct {
		name  string
		value *uint256.Int
	}{
		{"collateral factor", c.CollateralFactor},
		{"liquidation threshold", c.LiquidationThreshold},
		{"liquidation bonus", c.LiquidationBonus},
		{"reserve factor", c.ReserveFactor},
	}
	for _, f := range factors {
		if f.value == nil {
			return fmt.Errorf("%w: %s is not set", ErrInvalidConfig, f.name)
		}
		if !fixed.InUnitRange(f.value) {
			return fmt.Errorf("%w: %s %s exceeds 1.0", ErrInvalidConfig, f.name, fixed.ToDecimal(f.value))
		}
	}
	if c.RateModel == nil {
		return fmt.Errorf("%w: rate model is not set", ErrInvalidConfig)
	}
	return nil
}

// Clone returns a copy that shares only the (stateless) rate model.
func (c Config) Clone() Config {
	out := c
	out.CollateralFactor = fixed.Clone(c.CollateralFactor)
	out.LiquidationThreshold = fixed.Clone(c.LiquidationThreshold)
	out.LiquidationBonus = fixed.Clone(c.LiquidationBonus)
	out.ReserveFactor = fixed.Clone(c.ReserveFactor)
	return out
}
