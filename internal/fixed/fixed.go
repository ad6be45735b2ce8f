// Package fixed provides the 18-decimal fixed-point arithmetic used by every
// accounting path in the vault. Values are unsigned 256-bit integers where
// Scale (10^18) represents 1.0. Every multiplication is overflow-checked;
// nothing here wraps silently.
//
// Floating point is only used when exporting values to metrics.
package fixed

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits carried by a fixed-point value.
const Decimals = 18

var (
	// ErrOverflow is returned when an intermediate result does not fit in
	// 256 bits.
	ErrOverflow = errors.New("fixed: arithmetic overflow")

	// ErrDivisionByZero is returned by MulDiv when the divisor is zero.
	ErrDivisionByZero = errors.New("fixed: division by zero")

	// ErrNegative is returned when converting a negative decimal.
	ErrNegative = errors.New("fixed: negative value")
)

// Scale is 1.0 in fixed-point units. Treat as read-only.
var Scale = uint256.NewInt(1_000_000_000_000_000_000)

// Max is the largest representable value. Used as the "infinite" sentinel.
var Max = new(uint256.Int).SetAllOne()

// Zero returns a fresh zero value.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// New wraps a raw integer (no scaling).
func New(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// Units returns n whole units, i.e. n·Scale.
func Units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), Scale)
}

// Percent returns p percent of Scale (Percent(75) == 0.75).
func Percent(p uint64) *uint256.Int {
	v := new(uint256.Int).Mul(uint256.NewInt(p), Scale)
	return v.Div(v, uint256.NewInt(100))
}

// Clone returns a copy of x, treating nil as zero.
func Clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}

// Add returns x+y or ErrOverflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Mul returns x·y or ErrOverflow.
func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// SubSat returns x−y, or zero when y > x.
func SubSat(x, y *uint256.Int) *uint256.Int {
	if y.Gt(x) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(x, y)
}

// MulDiv returns ⌊x·y/d⌋ using a 512-bit intermediate product. It fails
// when d is zero or when the quotient itself exceeds 256 bits.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// MulScale returns ⌊x·y/Scale⌋, the product of two fixed-point values.
func MulScale(x, y *uint256.Int) (*uint256.Int, error) {
	return MulDiv(x, y, Scale)
}

// Min returns a copy of the smaller of x and y.
func Min(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return new(uint256.Int).Set(x)
	}
	return new(uint256.Int).Set(y)
}

// InUnitRange reports whether 0 ≤ x ≤ Scale.
func InUnitRange(x *uint256.Int) bool {
	return x != nil && !x.Gt(Scale)
}

// ToDecimal renders a fixed-point value as a decimal number of units.
func ToDecimal(x *uint256.Int) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x.ToBig(), -Decimals)
}

// FromDecimal converts a decimal number of units into fixed point. Digits
// beyond the 18th decimal place are truncated.
func FromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegative, d.String())
	}
	raw := d.Shift(Decimals).Truncate(0).BigInt()
	z, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// MustFromDecimalString parses a decimal literal such as "0.75". It panics on
// malformed input and is meant for package-level defaults.
func MustFromDecimalString(s string) *uint256.Int {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("fixed: invalid literal %q: %v", s, err))
	}
	z, err := FromDecimal(d)
	if err != nil {
		panic(fmt.Sprintf("fixed: invalid literal %q: %v", s, err))
	}
	return z
}

// Float approximates x as a float64 number of units, for metrics only.
func Float(x *uint256.Int) float64 {
	return ToDecimal(x).InexactFloat64()
}
