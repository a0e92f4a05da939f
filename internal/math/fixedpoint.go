package math

import (
	"math/big"
	"sync"
)

// Scratch integers for intermediate products. Results handed to callers are
// always fresh allocations; pooled values never escape this package.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

var pow10Cache = buildPow10(78)

func buildPow10(n int) []*big.Int {
	ten := big.NewInt(10)
	cache := make([]*big.Int, n)
	cache[0] = big.NewInt(1)
	for i := 1; i < n; i++ {
		cache[i] = new(big.Int).Mul(cache[i-1], ten)
	}
	return cache
}

// Pow10 returns 10^n. The returned value must not be modified.
func Pow10(n int) *big.Int {
	if n < len(pow10Cache) {
		return pow10Cache[n]
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// DivRound returns numerator / denominator rounded with the given mode.
// A zero denominator yields zero.
func DivRound(numerator, denominator *big.Int, mode RoundingMode) *big.Int {
	if denominator.Sign() == 0 {
		return new(big.Int)
	}

	quotient := new(big.Int)
	remainder := getInt()
	defer putInt(remainder)

	// QuoRem truncates toward zero, so the remainder carries the numerator's sign.
	quotient.QuoRem(numerator, denominator, remainder)
	if remainder.Sign() == 0 {
		return quotient
	}

	negative := (numerator.Sign() < 0) != (denominator.Sign() < 0)
	step := int64(1)
	if negative {
		step = -1
	}

	switch mode {
	case RoundDown:
		return quotient
	case RoundUp:
		return quotient.Add(quotient, big.NewInt(step))
	}

	// Banker's rounding: compare 2*|remainder| against |denominator|
	twice := getInt()
	defer putInt(twice)
	twice.Abs(remainder)
	twice.Lsh(twice, 1)

	absDen := getInt()
	defer putInt(absDen)
	absDen.Abs(denominator)

	cmp := twice.Cmp(absDen)
	if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
		quotient.Add(quotient, big.NewInt(step))
	}
	return quotient
}

// rescale converts an exact amount between decimal counts.
func rescale(v *big.Int, from, to uint8, mode RoundingMode) *big.Int {
	switch {
	case from == to:
		return new(big.Int).Set(v)
	case to > from:
		return new(big.Int).Mul(v, Pow10(int(to-from)))
	default:
		return DivRound(v, Pow10(int(from-to)), mode)
	}
}
