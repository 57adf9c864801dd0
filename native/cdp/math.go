package cdp

import (
	"math"
	"math/big"

	"github.com/holiman/uint256"
)

// ScaleFactor is the fixed-point unit of the stability pool product factor P.
const ScaleFactor uint64 = 1_000_000_000_000_000_000

// MaxICR is reported for troves without debt.
const MaxICR uint64 = math.MaxUint64

// maxPriceDecimal is the largest exponent for which 10^decimal fits 128 bits.
const maxPriceDecimal = 38

var (
	scaleFactor = new(big.Int).SetUint64(ScaleFactor)
	maxUint64   = new(big.Int).SetUint64(math.MaxUint64)
)

// icrChunks multiply to 10^20: 10^12 aligns micro-USD collateral with 18-decimal
// debt and 10^8 converts the ratio to micro-percent.
var icrChunks = [...]uint64{1_000_000, 1_000_000, 1_000_000, 100}

func fits128(x *uint256.Int) bool { return x.BitLen() <= 128 }

func pow10(exp uint8) (*uint256.Int, bool) {
	if exp > maxPriceDecimal {
		return nil, false
	}
	out := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < exp; i++ {
		out.Mul(out, ten)
	}
	return out, true
}

// CollateralValue converts a collateral amount into micro-USD:
// amount * price / 10^decimal, with the result bounded to 64 bits.
func CollateralValue(amount, price uint64, decimal uint8) (uint64, error) {
	factor, ok := pow10(decimal)
	if !ok {
		return 0, newError(KindOverflow, "", "price decimal %d exceeds 128-bit range", decimal)
	}
	product := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(price))
	value := product.Div(product, factor)
	if !value.IsUint64() {
		return 0, newError(KindOverflow, "", "collateral value of %d at price %d/10^%d exceeds 64 bits", amount, price, decimal)
	}
	return value.Uint64(), nil
}

// CollateralRatio returns floor(value * 10^20 / debt) in micro-percent
// (115% == 115_000_000). The scaling is applied in chunks with carried
// remainders so every intermediate stays inside 128 bits.
func CollateralRatio(value, debt uint64) (uint64, error) {
	if debt == 0 {
		return MaxICR, nil
	}
	d := uint256.NewInt(debt)
	quotient := uint256.NewInt(value)
	remainder := new(uint256.Int)
	for i, chunk := range icrChunks {
		c := uint256.NewInt(chunk)
		if i == 0 {
			remainder.Mul(quotient, c)
			if !fits128(remainder) {
				return 0, newError(KindOverflow, "", "collateral ratio intermediate exceeds 128 bits")
			}
			quotient.Div(remainder, d)
			remainder.Mod(remainder, d)
			continue
		}
		quotient.Mul(quotient, c)
		remainder.Mul(remainder, c)
		if !fits128(quotient) || !fits128(remainder) {
			return 0, newError(KindOverflow, "", "collateral ratio intermediate exceeds 128 bits")
		}
		carry := new(uint256.Int).Div(remainder, d)
		quotient.Add(quotient, carry)
		if !fits128(quotient) {
			return 0, newError(KindOverflow, "", "collateral ratio intermediate exceeds 128 bits")
		}
		remainder.Mod(remainder, d)
	}
	if !quotient.IsUint64() {
		return 0, newError(KindOverflow, "", "collateral ratio %s exceeds 64 bits", quotient.Dec())
	}
	return quotient.Uint64(), nil
}

// IsLiquidatable reports ICR < minimumRatio. Troves without debt never are.
func IsLiquidatable(value, debt, minimumRatio uint64) (bool, error) {
	if debt == 0 {
		return false, nil
	}
	icr, err := CollateralRatio(value, debt)
	if err != nil {
		return false, err
	}
	return icr < minimumRatio, nil
}

// TroveICR prices collateral and returns the resulting ratio.
func TroveICR(collateral, debt, price uint64, decimal uint8) (uint64, error) {
	if debt == 0 {
		return MaxICR, nil
	}
	value, err := CollateralValue(collateral, price, decimal)
	if err != nil {
		return 0, err
	}
	return CollateralRatio(value, debt)
}

// mulDiv returns floor(a * b / c) bounded to 64 bits.
func mulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, newError(KindOverflow, "", "division by zero")
	}
	product := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	product.Div(product, uint256.NewInt(c))
	if !product.IsUint64() {
		return 0, newError(KindOverflow, "", "%d*%d/%d exceeds 64 bits", a, b, c)
	}
	return product.Uint64(), nil
}

// checkedAdd returns a+b or an overflow error naming what was summed.
func checkedAdd(a, b uint64, what string) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, newError(KindOverflow, "", "%s overflows: %d + %d", what, a, b)
	}
	return a + b, nil
}

// compounded applies the product factor to a recorded deposit:
// amount * pNow / pSnapshot.
func compounded(amount uint64, pNow, pSnapshot *big.Int) (uint64, error) {
	if pSnapshot == nil || pSnapshot.Sign() <= 0 {
		return 0, newError(KindUninitializedDeposit, "", "deposit has no product snapshot")
	}
	out := new(big.Int).SetUint64(amount)
	out.Mul(out, pNow)
	out.Quo(out, pSnapshot)
	if out.Cmp(maxUint64) > 0 {
		return 0, newError(KindOverflow, "", "compounded deposit exceeds 64 bits")
	}
	return out.Uint64(), nil
}

// collateralGain returns amount * (sNow - sSnapshot) / pSnapshot.
func collateralGain(amount uint64, sNow, sSnapshot, pSnapshot *big.Int) (uint64, error) {
	if pSnapshot == nil || pSnapshot.Sign() <= 0 {
		return 0, newError(KindUninitializedDeposit, "", "deposit has no product snapshot")
	}
	delta := new(big.Int).Sub(sNow, sSnapshot)
	if delta.Sign() <= 0 {
		return 0, nil
	}
	out := new(big.Int).SetUint64(amount)
	out.Mul(out, delta)
	out.Quo(out, pSnapshot)
	if out.Cmp(maxUint64) > 0 {
		return 0, newError(KindOverflow, "", "collateral gain exceeds 64 bits")
	}
	return out.Uint64(), nil
}

// sumIncrement is seized * P / totalStake, the per-unit increase of S.
func sumIncrement(seized uint64, p *big.Int, totalStake uint64) *big.Int {
	out := new(big.Int).SetUint64(seized)
	out.Mul(out, p)
	return out.Quo(out, new(big.Int).SetUint64(totalStake))
}

// nextProduct returns P * (T - D) / T. The caller handles T == D.
func nextProduct(p *big.Int, totalStake, debt uint64) *big.Int {
	out := new(big.Int).SetUint64(totalStake - debt)
	out.Mul(out, p)
	return out.Quo(out, new(big.Int).SetUint64(totalStake))
}
