package liquidation

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/atmx/safelend-vault/internal/fixed"
)

func u(n uint64) *uint256.Int {
	return fixed.Units(n)
}

// --- Health factor ---

func TestHealthFactor_ZeroDebtIsSentinel(t *testing.T) {
	hf := HealthFactor(u(100), fixed.Zero(), fixed.Percent(80))
	if !hf.Eq(MaxHealthFactor) {
		t.Errorf("expected sentinel, got %s", hf.Dec())
	}
	if IsLiquidatable(hf) {
		t.Error("debt-free position must not be liquidatable")
	}
}

func TestHealthFactor_Value(t *testing.T) {
	// 100 · 0.8 / 50 = 1.6
	hf := HealthFactor(u(100), u(50), fixed.Percent(80))
	if !hf.Eq(fixed.Percent(160)) {
		t.Errorf("expected 1.6, got %s", fixed.ToDecimal(hf))
	}
}

func TestHealthFactor_MonotonicInCollateral(t *testing.T) {
	prev := HealthFactor(u(10), u(50), fixed.Percent(80))
	for c := uint64(20); c <= 200; c += 10 {
		hf := HealthFactor(u(c), u(50), fixed.Percent(80))
		if !hf.Gt(prev) {
			t.Errorf("health factor did not increase at collateral=%d", c)
		}
		prev = hf
	}
}

func TestHealthFactor_MonotonicInDebt(t *testing.T) {
	prev := HealthFactor(u(100), u(1), fixed.Percent(80))
	for debt := uint64(2); debt <= 120; debt += 3 {
		hf := HealthFactor(u(100), u(debt), fixed.Percent(80))
		if !hf.Lt(prev) {
			t.Errorf("health factor did not decrease at debt=%d", debt)
		}
		prev = hf
	}
}

func TestIsLiquidatable_Boundary(t *testing.T) {
	if IsLiquidatable(fixed.Scale) {
		t.Error("health factor of exactly 1.0 is not liquidatable")
	}
	below := new(uint256.Int).SubUint64(fixed.Scale, 1)
	if !IsLiquidatable(below) {
		t.Error("health factor just below 1.0 is liquidatable")
	}
}

// --- Liquidation sizing ---

func TestAmounts_CappedAtCloseFactor(t *testing.T) {
	collateral, covered, err := Amounts(u(75), u(75), u(100), fixed.Percent(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	half := fixed.MustFromDecimalString("37.5")
	if !covered.Eq(half) {
		t.Errorf("expected covered=37.5, got %s", fixed.ToDecimal(covered))
	}
	// 37.5 · 100 · 1.05 / 75 = 52.5
	if !collateral.Eq(fixed.MustFromDecimalString("52.5")) {
		t.Errorf("expected collateral=52.5, got %s", fixed.ToDecimal(collateral))
	}
}

func TestAmounts_SmallRequestNotCapped(t *testing.T) {
	_, covered, err := Amounts(u(10), u(75), u(100), fixed.Percent(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !covered.Eq(u(10)) {
		t.Errorf("expected covered=10, got %s", fixed.ToDecimal(covered))
	}
}

func TestAmounts_NeverExceedsHalfDebt(t *testing.T) {
	for _, debt := range []uint64{1, 3, 75, 999} {
		_, covered, err := Amounts(u(debt*2), u(debt), u(debt*2), fixed.Percent(10))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		half := new(uint256.Int).Div(u(debt), uint256.NewInt(2))
		if covered.Gt(half) {
			t.Errorf("covered %s exceeds half of debt %d", covered.Dec(), debt)
		}
	}
}

func TestAmounts_BonusMakesCollateralExceedDebt(t *testing.T) {
	for _, bonus := range []uint64{1, 5, 10, 25} {
		collateral, covered, err := Amounts(u(40), u(80), u(100), fixed.Percent(bonus))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !collateral.Gt(covered) {
			t.Errorf("bonus %d%%: collateral %s should exceed covered %s",
				bonus, collateral.Dec(), covered.Dec())
		}
	}
}

func TestAmounts_CollateralCapped(t *testing.T) {
	// Deeply underwater: 10 collateral backing 100 debt, 50% bonus.
	collateral, _, err := Amounts(u(50), u(100), u(10), fixed.Percent(50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if collateral.Gt(u(10)) {
		t.Errorf("collateral %s exceeds position collateral", collateral.Dec())
	}
}

func TestAmounts_ZeroDebt(t *testing.T) {
	if _, _, err := Amounts(u(1), fixed.Zero(), u(10), fixed.Percent(5)); err != ErrNoDebt {
		t.Errorf("expected ErrNoDebt, got %v", err)
	}
}

// --- Borrow headroom ---

func TestMaxBorrow(t *testing.T) {
	got, err := MaxBorrow(u(100), fixed.Percent(75), u(50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Eq(u(25)) {
		t.Errorf("expected 25, got %s", fixed.ToDecimal(got))
	}

	got, err = MaxBorrow(u(100), fixed.Percent(75), u(90))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("expected 0 when debt exceeds limit, got %s", fixed.ToDecimal(got))
	}
}
