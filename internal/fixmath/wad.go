// Package fixmath provides WAD fixed-point arithmetic: all internal value
// arithmetic carries 18 fractional digits, with products and quotients
// rounded back to 18 digits half-away-from-zero.
package fixmath

import (
	"github.com/shopspring/decimal"
)

// Places is the WAD fractional precision.
const Places int32 = 18

var (
	Zero = decimal.Zero
	One  = decimal.New(1, 0)
	Two  = decimal.New(2, 0)
)

// Mul returns a*b rounded to WAD precision.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Round(Places)
}

// Div returns a/b rounded to WAD precision. Panics on zero divisor,
// matching integer division semantics; callers guard degenerate state.
func Div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, Places)
}

// Frac returns a*num/den in one rounding step, so that proportional
// splits of a quantity conserve value better than Mul-then-Div.
func Frac(a, num, den decimal.Decimal) decimal.Decimal {
	return a.Mul(num).DivRound(den, Places)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// FromInt converts an integer count (e.g. elapsed ticks) to a decimal.
func FromInt(v int64) decimal.Decimal {
	return decimal.New(v, 0)
}

// IsMultipleOf reports whether v is a whole multiple of step.
func IsMultipleOf(v, step decimal.Decimal) bool {
	if step.IsZero() {
		return false
	}
	return v.Mod(step).IsZero()
}

// MustParse parses a decimal literal and panics on malformed input.
// Intended for constants and test fixtures only.
func MustParse(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
