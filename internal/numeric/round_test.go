package numeric

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSumMoneyIsOrderIndependent(t *testing.T) {
	values := []decimal.Decimal{d("10.005"), d("10.004"), d("10.006"), d("0"), d("0")}
	reversed := []decimal.Decimal{values[4], values[3], values[2], values[1], values[0]}
	shuffled := []decimal.Decimal{values[2], values[0], values[4], values[1], values[3]}

	want := d("30.02")
	require.True(t, want.Equal(SumMoney(values...)), SumMoney(values...).String())
	require.True(t, want.Equal(SumMoney(reversed...)))
	require.True(t, want.Equal(SumMoney(shuffled...)))
}

func TestRoundingScales(t *testing.T) {
	require.Equal(t, "1.235", Quantity(d("1.2345")).StringFixed(3))
	require.Equal(t, "-1.01", Money(d("-1.005")).StringFixed(2))
	require.Equal(t, "0.3333", BaseValue(d("0.33333")).StringFixed(4))
	require.Equal(t, "2.000001", Cost(d("2.0000005")).StringFixed(6))
}

func TestByRatioUsesPredecessorPair(t *testing.T) {
	// 12 ordered boxes were stored as 144 base units.
	require.True(t, d("60").Equal(ByRatio(d("5"), d("12"), d("144"))))
	// A third of a line converted from 10 -> 3.333 base keeps the line's own ratio.
	require.Equal(t, "1.111", ByRatio(d("3.333"), d("10"), d("3.333")).StringFixed(3))
	require.True(t, d("4").Equal(ByRatio(d("4"), decimal.Zero, decimal.Zero)))
}

func TestCalculateLineTotals(t *testing.T) {
	totals := CalculateLineTotals(d("3"), d("19.99"), d("10"), d("11"), false)
	require.Equal(t, "59.97", totals.Gross.StringFixed(2))
	require.Equal(t, "6.00", totals.Discount.StringFixed(2))
	require.Equal(t, "53.97", totals.Net.StringFixed(2))
	require.Equal(t, "5.94", totals.Tax.StringFixed(2))
	require.Equal(t, "59.91", totals.Total.StringFixed(2))

	inclusive := CalculateLineTotals(d("1"), d("111"), decimal.Zero, d("11"), true)
	require.Equal(t, "100.00", inclusive.Net.StringFixed(2))
	require.Equal(t, "11.00", inclusive.Tax.StringFixed(2))
	require.Equal(t, "111.00", inclusive.Total.StringFixed(2))
}

func TestToBaseAndClamp(t *testing.T) {
	require.Equal(t, "15750.00", ToBase(d("1.05"), d("15000")).StringFixed(2))
	require.Equal(t, "7.00", ToBase(d("7"), decimal.Zero).StringFixed(2))
	require.True(t, ClampZero(d("-0.001")).IsZero())
}
