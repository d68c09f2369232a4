package strategy

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// WAD is the fixed-point precision all fractions and floor prices use.
var WAD = big.NewInt(1_000_000_000_000_000_000)

// ErrZeroBase indicates a relative delta against a zero reference price.
var ErrZeroBase = errors.New("strategy: relative delta against zero base")

// FractionToWAD converts a plain fraction (0.01 == 1%) to WAD fixed point.
func FractionToWAD(f float64) *big.Int {
	return decimal.NewFromFloat(f).Mul(decimal.NewFromBigInt(WAD, 0)).BigInt()
}

// RelativeDelta computes WAD * |b-a| / a.
func RelativeDelta(a, b *big.Int) (*big.Int, error) {
	if a == nil || a.Sign() <= 0 {
		return nil, ErrZeroBase
	}
	diff := new(big.Int).Sub(b, a)
	diff.Abs(diff)
	diff.Mul(diff, WAD)
	return diff.Quo(diff, a), nil
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func clampZero(a *big.Int) *big.Int {
	if a.Sign() < 0 {
		return new(big.Int)
	}
	return new(big.Int).Set(a)
}
