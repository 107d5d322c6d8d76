package accounting

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/numeric"
)

// Header carries the document fields every event needs.
type Header struct {
	Ref          docref.Ref
	DocNumber    string
	CompanyID    int64
	BranchID     int64
	OccurredAt   time.Time
	Currency     string
	ExchangeRate decimal.Decimal
}

func (h Header) event(lines []Line) Event {
	return Event{
		SourceID:     SourceID(h.Ref),
		Document:     DocumentRef{Kind: h.Ref.Kind, ID: h.Ref.ID},
		DocNumber:    h.DocNumber,
		CompanyID:    h.CompanyID,
		BranchID:     h.BranchID,
		OccurredAt:   h.OccurredAt,
		Currency:     h.Currency,
		ExchangeRate: h.ExchangeRate,
		Lines:        lines,
	}
}

// signed appends amount on dir, flipping direction for negative values and
// dropping zeros.
func signed(lines []Line, role Role, dir Direction, amount decimal.Decimal) []Line {
	amount = numeric.Money(amount)
	switch {
	case amount.IsZero():
		return lines
	case amount.IsNegative():
		if dir == Debit {
			dir = Credit
		} else {
			dir = Debit
		}
		amount = amount.Neg()
	}
	return append(lines, Line{Role: role, Direction: dir, Amount: amount})
}

// InvoiceFigures are the committed base-currency totals of a posted invoice.
type InvoiceFigures struct {
	TotalBase         decimal.Decimal // receivable, tax included
	TaxBase           decimal.Decimal
	DeliveryValueBase decimal.Decimal // cost-basis value consumed
}

// InvoicePosting debits receivable for the invoice total and credits tax and
// the cost-basis value to revenue. The difference goes to revenue_variance,
// so the event balances whatever the inputs.
func InvoicePosting(h Header, f InvoiceFigures) Event {
	receivable := numeric.Money(f.TotalBase)
	tax := numeric.Money(f.TaxBase)
	revenue := numeric.Money(f.DeliveryValueBase)
	variance := receivable.Sub(tax).Sub(revenue)

	var lines []Line
	lines = signed(lines, RoleReceivable, Debit, receivable)
	lines = signed(lines, RoleTaxPayable, Credit, tax)
	lines = signed(lines, RoleRevenue, Credit, revenue)
	lines = signed(lines, RoleRevenueVariance, Credit, variance)
	return h.event(lines)
}

// DeliveryPosting moves the issued cost from inventory to COGS.
func DeliveryPosting(h Header, costValue decimal.Decimal) Event {
	var lines []Line
	lines = signed(lines, RoleCOGS, Debit, costValue)
	lines = signed(lines, RoleInventory, Credit, costValue)
	return h.event(lines)
}

// ReturnPosting moves the returned cost back from COGS to inventory.
func ReturnPosting(h Header, costValue decimal.Decimal) Event {
	var lines []Line
	lines = signed(lines, RoleInventory, Debit, costValue)
	lines = signed(lines, RoleCOGS, Credit, costValue)
	return h.event(lines)
}
