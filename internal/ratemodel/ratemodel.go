// Package ratemodel implements the utilization-driven interest-rate curve
// used by the lending vault.
//
// The default curve is the two-slope ("kinked") model popularised by
// Compound: borrow rates rise gently until utilization reaches the kink,
// then steeply above it to pull liquidity back into the pool.
//
//	u ≤ kink:  rate = base + u·multiplier
//	u > kink:  rate = base + kink·multiplier + (u − kink)·jumpMultiplier
//
// All rates are annualized fixed-point fractions (fixed.Scale == 100%).
// Models are stateless; pool quantities are passed as arguments.
package ratemodel

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/atmx/safelend-vault/internal/fixed"
)

// PeriodsPerYear is the number of accrual periods in a year, assuming a
// nominal 15-second period (365·24·3600 / 15).
const PeriodsPerYear = 2_102_400

// PeriodLengthSeconds is the nominal length of one accrual period.
const PeriodLengthSeconds = 15

var (
	// ErrInvalidParameters is returned by NewKinked for out-of-range inputs.
	ErrInvalidParameters = errors.New("ratemodel: kink must be in (0, 1]")

	// BaseRate is the default borrow rate at zero utilization (2%/year).
	BaseRate = fixed.Percent(2)

	// Multiplier is the default slope below the kink (10%/year).
	Multiplier = fixed.Percent(10)

	// JumpMultiplier is the default slope above the kink (50%/year).
	JumpMultiplier = fixed.Percent(50)

	// Kink is the default utilization at which the slope changes (80%).
	Kink = fixed.Percent(80)
)

var periodsPerYear = uint256.NewInt(PeriodsPerYear)

// RateModel converts pool state into annualized rates.
type RateModel interface {
	UtilizationRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error)
	BorrowRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error)
	SupplyRate(cash, borrows, reserves, reserveFactor *uint256.Int) (*uint256.Int, error)
}

// Kinked is the two-slope interest-rate model.
type Kinked struct {
	base       *uint256.Int
	multiplier *uint256.Int
	jump       *uint256.Int
	kink       *uint256.Int
}

// NewKinked builds a kinked model. The kink must lie in (0, Scale].
func NewKinked(base, multiplier, jump, kink *uint256.Int) (*Kinked, error) {
	if kink == nil || kink.IsZero() || kink.Gt(fixed.Scale) {
		return nil, ErrInvalidParameters
	}
	return &Kinked{
		base:       fixed.Clone(base),
		multiplier: fixed.Clone(multiplier),
		jump:       fixed.Clone(jump),
		kink:       fixed.Clone(kink),
	}, nil
}

// Default returns the model with the package default parameters.
func Default() *Kinked {
	m, _ := NewKinked(BaseRate, Multiplier, JumpMultiplier, Kink)
	return m
}

// Params returns copies of (base, multiplier, jump multiplier, kink).
func (m *Kinked) Params() (base, multiplier, jump, kink *uint256.Int) {
	return fixed.Clone(m.base), fixed.Clone(m.multiplier), fixed.Clone(m.jump), fixed.Clone(m.kink)
}

// UtilizationRate returns borrows / (cash + borrows − reserves), capped at
// 100%. It is zero when nothing is borrowed or the effective supply is not
// positive. Fails with fixed.ErrOverflow when borrows·Scale does not fit.
func (m *Kinked) UtilizationRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error) {
	return Utilization(cash, borrows, reserves)
}

// Utilization is the model-independent utilization formula.
func Utilization(cash, borrows, reserves *uint256.Int) (*uint256.Int, error) {
	if borrows.IsZero() {
		return fixed.Zero(), nil
	}
	scaled, err := fixed.Mul(borrows, fixed.Scale)
	if err != nil {
		return nil, err
	}
	gross, err := fixed.Add(cash, borrows)
	if err != nil {
		return nil, err
	}
	if !gross.Gt(reserves) {
		return fixed.Zero(), nil
	}
	denom := new(uint256.Int).Sub(gross, reserves)
	u := new(uint256.Int).Div(scaled, denom)
	if u.Gt(fixed.Scale) {
		return fixed.Clone(fixed.Scale), nil
	}
	return u, nil
}

// BorrowRate returns the annualized borrow rate at the current utilization.
func (m *Kinked) BorrowRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error) {
	u, err := m.UtilizationRate(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	return m.rateAt(u)
}

// rateAt evaluates the curve at utilization u.
func (m *Kinked) rateAt(u *uint256.Int) (*uint256.Int, error) {
	if !u.Gt(m.kink) {
		slope, err := fixed.MulScale(u, m.multiplier)
		if err != nil {
			return nil, err
		}
		return fixed.Add(m.base, slope)
	}

	normal, err := m.rateAt(m.kink)
	if err != nil {
		return nil, err
	}
	excess := new(uint256.Int).Sub(u, m.kink)
	jump, err := fixed.MulScale(excess, m.jump)
	if err != nil {
		return nil, err
	}
	return fixed.Add(normal, jump)
}

// SupplyRate returns u · borrowRate · (1 − reserveFactor): suppliers earn
// only on the lent-out fraction, minus the protocol's cut. Reserve factors
// above 100% are treated as 100%.
func (m *Kinked) SupplyRate(cash, borrows, reserves, reserveFactor *uint256.Int) (*uint256.Int, error) {
	u, err := m.UtilizationRate(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	borrowRate, err := m.rateAt(u)
	if err != nil {
		return nil, err
	}
	weighted, err := fixed.Mul(u, borrowRate)
	if err != nil {
		return nil, err
	}
	toSuppliers := fixed.SubSat(fixed.Scale, reserveFactor)
	return fixed.MulDiv(weighted, toSuppliers, scaleSquared)
}

var scaleSquared = new(uint256.Int).Mul(fixed.Scale, fixed.Scale)

// PerPeriod converts an annualized rate into a per-period rate. The
// division truncates toward zero.
func PerPeriod(annual *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(annual, periodsPerYear)
}
