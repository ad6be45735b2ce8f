package fixed

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

func TestPercent(t *testing.T) {
	got := Percent(75)
	want := uint256.NewInt(750_000_000_000_000_000)
	if !got.Eq(want) {
		t.Errorf("Percent(75) = %s, want %s", got.Dec(), want.Dec())
	}
	if !Percent(100).Eq(Scale) {
		t.Errorf("Percent(100) should equal Scale")
	}
}

func TestMulOverflowDetected(t *testing.T) {
	if _, err := Mul(Max, New(2)); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	if _, err := Add(Max, New(1)); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestMulScale(t *testing.T) {
	got, err := MulScale(Units(100), Percent(75))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Eq(Units(75)) {
		t.Errorf("expected 75 units, got %s", got.Dec())
	}
}

func TestMulDiv_Errors(t *testing.T) {
	if _, err := MulDiv(New(1), New(1), Zero()); !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
	if _, err := MulDiv(Max, Max, New(1)); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestMulDiv_Truncates(t *testing.T) {
	got, err := MulDiv(New(10), New(1), New(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Uint64() != 3 {
		t.Errorf("expected 3, got %d", got.Uint64())
	}
}

func TestSubSat(t *testing.T) {
	if !SubSat(New(5), New(7)).IsZero() {
		t.Error("SubSat should floor at zero")
	}
	if SubSat(New(7), New(5)).Uint64() != 2 {
		t.Error("SubSat(7, 5) should be 2")
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	d := decimal.RequireFromString("12.3456789012345678912")
	x, err := FromDecimal(d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 19th digit is truncated.
	if x.Dec() != "12345678901234567891" {
		t.Errorf("unexpected raw value %s", x.Dec())
	}
	if !ToDecimal(x).Equal(decimal.RequireFromString("12.345678901234567891")) {
		t.Errorf("unexpected decimal %s", ToDecimal(x))
	}
}

func TestFromDecimal_Negative(t *testing.T) {
	if _, err := FromDecimal(decimal.NewFromInt(-1)); !errors.Is(err, ErrNegative) {
		t.Errorf("expected ErrNegative, got %v", err)
	}
}

func TestMustFromDecimalString(t *testing.T) {
	if !MustFromDecimalString("0.8").Eq(Percent(80)) {
		t.Error("0.8 should equal 80%")
	}
}
