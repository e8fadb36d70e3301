package fixmath

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return MustParse(s)
}

func TestDivRoundsTo18Places(t *testing.T) {
	// 70000/9 does not terminate; the quotient carries exactly 18 digits.
	got := Div(d("70000"), d("9"))
	assert.Equal(t, "7777.777777777777777778", got.String())

	got = Div(d("70000"), d("11"))
	assert.Equal(t, "6363.636363636363636364", got.String())

	// Exact quotients stay exact.
	assert.True(t, Div(d("10"), d("4")).Equal(d("2.5")))
}

func TestMulRoundsHalfAwayFromZero(t *testing.T) {
	tiny := decimal.New(5, -19) // 0.00000000000000000005
	assert.Equal(t, "0.000000000000000001", Mul(tiny, One).String())
	assert.Equal(t, "-0.000000000000000001", Mul(tiny.Neg(), One).String())

	assert.True(t, Mul(d("7000"), d("2")).Equal(d("14000")))
}

func TestFracSingleRounding(t *testing.T) {
	// One third of 100, computed in a single rounding step.
	got := Frac(d("100"), d("1"), d("3"))
	assert.Equal(t, "33.333333333333333333", got.String())

	// Proportional split of an entry value: 2 of 3 contracts.
	got = Frac(d("700"), d("2"), d("3"))
	assert.Equal(t, "466.666666666666666667", got.String())
}

func TestClampMinMax(t *testing.T) {
	lo, hi := d("-0.005"), d("0.005")
	assert.True(t, Clamp(d("0.01"), lo, hi).Equal(hi))
	assert.True(t, Clamp(d("-0.01"), lo, hi).Equal(lo))
	assert.True(t, Clamp(d("0.001"), lo, hi).Equal(d("0.001")))

	assert.True(t, Min(d("1"), d("2")).Equal(One))
	assert.True(t, Max(d("1"), d("2")).Equal(Two))
}

func TestIsMultipleOf(t *testing.T) {
	assert.True(t, IsMultipleOf(d("10"), One))
	assert.True(t, IsMultipleOf(d("1.5"), d("0.5")))
	assert.False(t, IsMultipleOf(d("1.5"), One))
	assert.False(t, IsMultipleOf(d("1"), Zero))
}

func TestMustParse(t *testing.T) {
	require.Panics(t, func() { MustParse("not a number") })
	assert.True(t, MustParse("42.5").Equal(d("42.5")))
}
