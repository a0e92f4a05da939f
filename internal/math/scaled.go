package math

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// ValueDecimals is the precision of every base-currency value.
	ValueDecimals uint8 = 18

	// PercentDecimals is the precision of every percentage.
	PercentDecimals uint8 = 6
)

// PercentPolicy selects the bound applied by Percentage.
type PercentPolicy int

const (
	PercentClamped   PercentPolicy = iota // [0, 100]
	PercentUnbounded                      // [0, +inf)
)

// ScaledDecimal pairs an exact base-unit integer with its decimal count.
// Values are immutable: every operation returns a new ScaledDecimal.
// The zero value is zero with no decimals.
type ScaledDecimal struct {
	exact    *big.Int
	decimals uint8
}

// New copies exact; callers may keep mutating their integer.
func New(exact *big.Int, decimals uint8) ScaledDecimal {
	if exact == nil {
		return Zero(decimals)
	}
	return ScaledDecimal{exact: new(big.Int).Set(exact), decimals: decimals}
}

func FromInt64(v int64, decimals uint8) ScaledDecimal {
	return ScaledDecimal{exact: big.NewInt(v), decimals: decimals}
}

func Zero(decimals uint8) ScaledDecimal {
	return ScaledDecimal{exact: new(big.Int), decimals: decimals}
}

// ParseExact reads a base-unit integer string.
func ParseExact(s string, decimals uint8) (ScaledDecimal, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return ScaledDecimal{}, fmt.Errorf("invalid exact amount %q", s)
	}
	return ScaledDecimal{exact: v, decimals: decimals}, nil
}

// ParseScaled reads a human-scaled decimal string such as "12.5".
func ParseScaled(s string, decimals uint8) (ScaledDecimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ScaledDecimal{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return ScaledDecimal{}, fmt.Errorf("%q has more than %d decimals", s, decimals)
	}
	return ScaledDecimal{exact: shifted.BigInt(), decimals: decimals}, nil
}

func (s ScaledDecimal) int() *big.Int {
	if s.exact == nil {
		return new(big.Int)
	}
	return s.exact
}

// Exact returns a copy of the base-unit integer.
func (s ScaledDecimal) Exact() *big.Int {
	return new(big.Int).Set(s.int())
}

func (s ScaledDecimal) Decimals() uint8 {
	return s.decimals
}

// Decimal returns the scaled representation, exact / 10^decimals.
func (s ScaledDecimal) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(s.int(), -int32(s.decimals))
}

func (s ScaledDecimal) String() string {
	return s.Decimal().String()
}

func (s ScaledDecimal) ExactString() string {
	return s.int().String()
}

func (s ScaledDecimal) Sign() int {
	return s.int().Sign()
}

func (s ScaledDecimal) IsZero() bool {
	return s.Sign() == 0
}

// Rescale converts to another decimal count with half-even rounding.
func (s ScaledDecimal) Rescale(decimals uint8) ScaledDecimal {
	return ScaledDecimal{exact: rescale(s.int(), s.decimals, decimals, RoundHalfEven), decimals: decimals}
}

// Cmp compares values independent of their decimal counts.
func (s ScaledDecimal) Cmp(o ScaledDecimal) int {
	if s.decimals == o.decimals {
		return s.int().Cmp(o.int())
	}
	d := s.decimals
	if o.decimals > d {
		d = o.decimals
	}
	a := rescale(s.int(), s.decimals, d, RoundDown)
	b := rescale(o.int(), o.decimals, d, RoundDown)
	return a.Cmp(b)
}

func (s ScaledDecimal) Equal(o ScaledDecimal) bool {
	return s.Cmp(o) == 0
}

// Add returns s + o in s's decimal count.
func (s ScaledDecimal) Add(o ScaledDecimal) ScaledDecimal {
	other := rescale(o.int(), o.decimals, s.decimals, RoundHalfEven)
	return ScaledDecimal{exact: other.Add(s.int(), other), decimals: s.decimals}
}

// Sub returns s - o in s's decimal count.
func (s ScaledDecimal) Sub(o ScaledDecimal) ScaledDecimal {
	other := rescale(o.int(), o.decimals, s.decimals, RoundHalfEven)
	return ScaledDecimal{exact: other.Sub(s.int(), other), decimals: s.decimals}
}

func (s ScaledDecimal) Neg() ScaledDecimal {
	return ScaledDecimal{exact: new(big.Int).Neg(s.int()), decimals: s.decimals}
}

// Mul returns s * o expressed with out decimals.
func (s ScaledDecimal) Mul(o ScaledDecimal, out uint8) ScaledDecimal {
	product := getInt()
	defer putInt(product)
	product.Mul(s.int(), o.int())

	from := int(s.decimals) + int(o.decimals)
	var exact *big.Int
	if from >= int(out) {
		exact = DivRound(product, Pow10(from-int(out)), RoundHalfEven)
	} else {
		exact = new(big.Int).Mul(product, Pow10(int(out)-from))
	}
	return ScaledDecimal{exact: exact, decimals: out}
}

// DivRatio returns s / o expressed with out decimals. Division by zero yields zero.
func (s ScaledDecimal) DivRatio(o ScaledDecimal, out uint8) ScaledDecimal {
	if o.IsZero() {
		return Zero(out)
	}
	// s/o = (s.exact / 10^sd) / (o.exact / 10^od), scaled by 10^out
	num := new(big.Int).Mul(s.int(), Pow10(int(o.decimals)+int(out)))
	den := new(big.Int).Mul(o.int(), Pow10(int(s.decimals)))
	return ScaledDecimal{exact: DivRound(num, den, RoundHalfEven), decimals: out}
}

// Percentage returns s / of * 100 with PercentDecimals, bounded by policy.
// A zero denominator yields zero.
func (s ScaledDecimal) Percentage(of ScaledDecimal, policy PercentPolicy) ScaledDecimal {
	if of.IsZero() {
		return Zero(PercentDecimals)
	}
	ratio := s.Mul(FromInt64(100, 0), s.decimals).DivRatio(of, PercentDecimals)
	if ratio.Sign() < 0 {
		return Zero(PercentDecimals)
	}
	if policy == PercentClamped && ratio.int().Cmp(hundredPercent) > 0 {
		return ScaledDecimal{exact: new(big.Int).Set(hundredPercent), decimals: PercentDecimals}
	}
	return ratio
}

var hundredPercent = new(big.Int).Mul(big.NewInt(100), Pow10(int(PercentDecimals)))

// Max returns the larger of s and o.
func Max(s, o ScaledDecimal) ScaledDecimal {
	if s.Cmp(o) >= 0 {
		return s
	}
	return o
}

type scaledJSON struct {
	Exact    string `json:"exact"`
	Value    string `json:"value"`
	Decimals uint8  `json:"decimals"`
}

func (s ScaledDecimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(scaledJSON{
		Exact:    s.ExactString(),
		Value:    s.String(),
		Decimals: s.decimals,
	})
}

func (s *ScaledDecimal) UnmarshalJSON(data []byte) error {
	var j scaledJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	parsed, err := ParseExact(j.Exact, j.Decimals)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
