// Package amount converts human-readable asset amounts ("12.5") to and from
// the vault's 18-decimal fixed-point integers.
package amount

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/atmx/safelend-vault/internal/fixed"
)

// amountRegex matches a non-negative decimal such as 100 or 0.5. Precision
// is checked separately so over-precise input gets its own error.
var amountRegex = regexp.MustCompile(`^([0-9]+)(\.([0-9]+))?$`)

var (
	ErrInvalidAmount = errors.New("amount: invalid format")
	ErrTooPrecise    = errors.New("amount: more than 18 decimal places")
	ErrOutOfRange    = errors.New("amount: out of range")
)

// Parse converts a decimal string in asset units to fixed point.
func Parse(s string) (*uint256.Int, error) {
	matches := amountRegex.FindStringSubmatch(s)
	if matches == nil {
		return nil, fmt.Errorf("%w: %q (expected digits with optional fraction, e.g. 12.5)", ErrInvalidAmount, s)
	}
	if len(matches[3]) > fixed.Decimals {
		return nil, fmt.Errorf("%w: %q", ErrTooPrecise, s)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	x, err := fixed.FromDecimal(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrOutOfRange, s)
	}
	return x, nil
}

// ParseFraction parses a ratio such as "0.75" and requires it to lie in
// [0, 1].
func ParseFraction(s string) (*uint256.Int, error) {
	x, err := Parse(s)
	if err != nil {
		return nil, err
	}
	if !fixed.InUnitRange(x) {
		return nil, fmt.Errorf("%w: %q exceeds 1", ErrOutOfRange, s)
	}
	return x, nil
}

// Format renders a fixed-point value as a decimal string in asset units,
// without trailing zeros.
func Format(x *uint256.Int) string {
	return fixed.ToDecimal(x).String()
}

// Value is a fixed-point amount that travels as a decimal string in JSON.
type Value struct {
	*uint256.Int
}

// V wraps x.
func V(x *uint256.Int) Value {
	return Value{Int: x}
}

// MarshalJSON renders the amount as "12.5".
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Int == nil {
		return []byte(`"0"`), nil
	}
	return json.Marshal(Format(v.Int))
}

// UnmarshalJSON accepts a quoted decimal string.
func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: amounts must be strings", ErrInvalidAmount)
	}
	x, err := Parse(s)
	if err != nil {
		return err
	}
	v.Int = x
	return nil
}

// OrZero returns the wrapped value, or zero when unset.
func (v Value) OrZero() *uint256.Int {
	return fixed.Clone(v.Int)
}
