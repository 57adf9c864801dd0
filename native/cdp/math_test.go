package cdp

import (
	"errors"
	"math"
	"math/big"
	"testing"
)

func referenceRatio(value, debt uint64) *big.Int {
	out := new(big.Int).SetUint64(value)
	out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil))
	return out.Quo(out, new(big.Int).SetUint64(debt))
}

func TestCollateralRatioMatchesReference(t *testing.T) {
	cases := []struct {
		value uint64
		debt  uint64
	}{
		{108, 100 * unit},
		{115, 100 * unit},
		{1, 3},
		{7, 1_000_000_000_000_000_000},
		{123_456_789, 987_654_321_987_654_321},
		{math.MaxUint64 / 1_000_000, math.MaxUint64},
		{999_999_999_999, 7_777_777_777_777_777_777},
		{1_000_000, 333_333_333_333_333_333},
	}
	for _, tc := range cases {
		want := referenceRatio(tc.value, tc.debt)
		got, err := CollateralRatio(tc.value, tc.debt)
		if !want.IsUint64() {
			if !errors.Is(err, ErrOverflow) {
				t.Fatalf("ratio(%d, %d): expected overflow, got %d, %v", tc.value, tc.debt, got, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ratio(%d, %d): %v", tc.value, tc.debt, err)
		}
		if got != want.Uint64() {
			t.Fatalf("ratio(%d, %d) = %d, want %s", tc.value, tc.debt, got, want)
		}
	}
}

func TestCollateralRatioZeroDebt(t *testing.T) {
	got, err := CollateralRatio(0, 0)
	if err != nil || got != MaxICR {
		t.Fatalf("expected MaxICR, got %d, %v", got, err)
	}
	liquidatable, err := IsLiquidatable(0, 0, DefaultMinimumCollateralRatio)
	if err != nil || liquidatable {
		t.Fatalf("debt-free trove reported liquidatable: %v", err)
	}
}

func TestCollateralRatioOverflow(t *testing.T) {
	if _, err := CollateralRatio(math.MaxUint64, 1); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestIsLiquidatableBoundary(t *testing.T) {
	at, err := IsLiquidatable(115, 100*unit, DefaultMinimumCollateralRatio)
	if err != nil {
		t.Fatalf("boundary: %v", err)
	}
	if at {
		t.Fatalf("ICR equal to the minimum must not be liquidatable")
	}
	below, err := IsLiquidatable(114, 100*unit, DefaultMinimumCollateralRatio)
	if err != nil {
		t.Fatalf("below: %v", err)
	}
	if !below {
		t.Fatalf("ICR below the minimum must be liquidatable")
	}
}

func TestCollateralValue(t *testing.T) {
	value, err := CollateralValue(1_500_000, 12_340_000, 6)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if value != 18_510_000 {
		t.Fatalf("unexpected value %d", value)
	}
	if _, err := CollateralValue(1, 1, 39); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow for decimal 39, got %v", err)
	}
	if _, err := CollateralValue(math.MaxUint64, 100, 1); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow for oversized value, got %v", err)
	}
	if value, err := CollateralValue(math.MaxUint64, math.MaxUint64, 38); err != nil || value != 3 {
		t.Fatalf("expected 3 at decimal 38, got %d, %v", value, err)
	}
}

func TestProductSumHelpers(t *testing.T) {
	p := new(big.Int).Set(scaleFactor)
	next := nextProduct(p, 200*unit, 100*unit)
	if next.Cmp(big.NewInt(500_000_000_000_000_000)) != 0 {
		t.Fatalf("unexpected product %s", next)
	}
	inc := sumIncrement(120, p, 200*unit)
	if inc.Cmp(big.NewInt(600_000)) != 0 {
		t.Fatalf("unexpected increment %s", inc)
	}
	value, err := compounded(150*unit, next, p)
	if err != nil || value != 75*unit {
		t.Fatalf("unexpected compounded value %d, %v", value, err)
	}
	gain, err := collateralGain(150*unit, inc, new(big.Int), p)
	if err != nil || gain != 90 {
		t.Fatalf("unexpected gain %d, %v", gain, err)
	}
	if _, err := compounded(1, p, new(big.Int)); !errors.Is(err, ErrUninitializedDeposit) {
		t.Fatalf("expected uninitialized deposit, got %v", err)
	}
}
