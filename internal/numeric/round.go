// Package numeric holds the canonical decimal scales used across the ledger.
// Every persisted quantity, money and cost figure passes through one of these
// helpers before it is stored or compared.
package numeric

import "github.com/shopspring/decimal"

const (
	// QuantityScale applies to every document and stock quantity.
	QuantityScale int32 = 3
	// MoneyScale applies to prices, line totals and header totals.
	MoneyScale int32 = 2
	// BaseValueScale applies to cost-basis values (qty * unit cost) and revenue variance.
	BaseValueScale int32 = 4
	// CostScale applies to unit costs and moving averages.
	CostScale int32 = 6
)

var hundred = decimal.NewFromInt(100)

// Quantity rounds to 3dp, half away from zero.
func Quantity(d decimal.Decimal) decimal.Decimal { return d.Round(QuantityScale) }

// Money rounds to 2dp, half away from zero.
func Money(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyScale) }

// BaseValue rounds to 4dp.
func BaseValue(d decimal.Decimal) decimal.Decimal { return d.Round(BaseValueScale) }

// Cost rounds to 6dp.
func Cost(d decimal.Decimal) decimal.Decimal { return d.Round(CostScale) }

// SumMoney rounds each value to 2dp before adding, so the total does not
// depend on summation order.
func SumMoney(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(Money(v))
	}
	return total
}

// SumQuantity rounds each value to 3dp before adding.
func SumQuantity(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(Quantity(v))
	}
	return total
}

// ByRatio derives a base quantity for qty using the predecessor line's own
// ordered/base pair instead of a fresh conversion lookup.
func ByRatio(qty, predecessorQty, predecessorBase decimal.Decimal) decimal.Decimal {
	if predecessorQty.IsZero() {
		return Quantity(qty)
	}
	return Quantity(qty.Mul(predecessorBase).Div(predecessorQty))
}

// ToBase converts a document currency amount into base currency at 2dp.
func ToBase(amount, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return Money(amount)
	}
	return Money(amount.Mul(rate))
}

// ClampZero returns max(0, d).
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
