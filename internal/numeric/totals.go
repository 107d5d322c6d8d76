package numeric

import "github.com/shopspring/decimal"

// LineTotals holds the rounded monetary breakdown of one document line.
type LineTotals struct {
	Gross    decimal.Decimal
	Discount decimal.Decimal
	Net      decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// CalculateLineTotals computes gross, discount, tax and total for a line.
// Percentages are expressed as 0-100. When inclusive is set the unit price
// already contains tax and the net is extracted from the discounted gross.
func CalculateLineTotals(quantity, unitPrice, discountPercent, taxPercent decimal.Decimal, inclusive bool) LineTotals {
	gross := Money(quantity.Mul(unitPrice))
	discount := Money(gross.Mul(discountPercent).Div(hundred))
	afterDiscount := gross.Sub(discount)

	var net, tax decimal.Decimal
	if inclusive {
		divisor := decimal.NewFromInt(1).Add(taxPercent.Div(hundred))
		net = Money(afterDiscount.Div(divisor))
		tax = afterDiscount.Sub(net)
	} else {
		net = afterDiscount
		tax = Money(net.Mul(taxPercent).Div(hundred))
	}
	return LineTotals{
		Gross:    gross,
		Discount: discount,
		Net:      net,
		Tax:      tax,
		Total:    net.Add(tax),
	}
}
