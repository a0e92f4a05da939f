package math

import (
	"math/big"
	"time"
)

// BasisPointsScale is the denominator of yield rates.
const BasisPointsScale = 10_000

// PeriodYield computes the yield owed for one completed period:
// supply * basis * rateBps / 10_000, expressed with out decimals.
// basis is the per-unit amount the rate applies to (a bond's face value, or
// one whole denomination unit for plain tokens).
func PeriodYield(supply, basis ScaledDecimal, rateBps int64, out uint8) ScaledDecimal {
	if rateBps <= 0 || supply.Sign() <= 0 {
		return Zero(out)
	}
	notional := supply.Mul(basis, out)

	num := getInt()
	defer putInt(num)
	num.Mul(notional.int(), big.NewInt(rateBps))

	return ScaledDecimal{
		exact:    DivRound(num, big.NewInt(BasisPointsScale), RoundDown),
		decimals: out,
	}
}

// PeriodsElapsed returns how many whole intervals fit between start and at,
// capped at the schedule end.
func PeriodsElapsed(start, end time.Time, interval time.Duration, at time.Time) int64 {
	if interval <= 0 || at.Before(start) {
		return 0
	}
	if !end.IsZero() && at.After(end) {
		at = end
	}
	return int64(at.Sub(start) / interval)
}

// TotalPeriods returns the number of periods in a schedule.
func TotalPeriods(start, end time.Time, interval time.Duration) int64 {
	if interval <= 0 || end.IsZero() || !end.After(start) {
		return 0
	}
	return int64(end.Sub(start) / interval)
}
