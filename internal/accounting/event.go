// Package accounting builds balanced double-entry payloads from committed
// document totals and hands them to the accounting bus after commit.
package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/numeric"
)

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: event lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("accounting: event requires at least two lines")
	// ErrSourceRequired indicates a missing source id or document ref.
	ErrSourceRequired = errors.New("accounting: source required")
)

// Role is the account role the ledger maps to a concrete account.
type Role string

const (
	RoleReceivable      Role = "receivable"
	RoleRevenue         Role = "revenue"
	RoleRevenueVariance Role = "revenue_variance"
	RoleTaxPayable      Role = "tax_payable"
	RoleInventory       Role = "inventory"
	RoleCOGS            Role = "cost_of_goods_sold"
)

// Direction is debit or credit.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// Line is one (account-role, direction, amount) entry in base currency.
type Line struct {
	Role      Role            `json:"role"`
	Direction Direction       `json:"direction"`
	Amount    decimal.Decimal `json:"amount"`
}

// Event is the payload dispatched to the accounting bus.
type Event struct {
	SourceID     uuid.UUID       `json:"source_id"`
	Document     DocumentRef     `json:"document"`
	DocNumber    string          `json:"doc_number"`
	CompanyID    int64           `json:"company_id"`
	BranchID     int64           `json:"branch_id"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Currency     string          `json:"currency"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Lines        []Line          `json:"lines"`
}

// DocumentRef is the wire form of docref.Ref.
type DocumentRef struct {
	Kind docref.Kind `json:"kind"`
	ID   int64       `json:"id"`
}

// Ref converts back to docref.Ref.
func (d DocumentRef) Ref() docref.Ref { return docref.Ref{Kind: d.Kind, ID: d.ID} }

// namespace seeds deterministic source ids.
var namespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("odyssey-o2c/accounting"))

// SourceID derives the deterministic id of the posting event for ref so a
// replayed emission dedupes downstream.
func SourceID(ref docref.Ref) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("%s:post", ref)))
}

// Totals sums debits and credits.
func (e Event) Totals() (debit, credit decimal.Decimal) {
	for _, l := range e.Lines {
		switch l.Direction {
		case Debit:
			debit = debit.Add(l.Amount)
		case Credit:
			credit = credit.Add(l.Amount)
		}
	}
	return debit, credit
}

// IsZero reports an event that moves no money.
func (e Event) IsZero() bool {
	debit, credit := e.Totals()
	return debit.IsZero() && credit.IsZero()
}

// Validate checks the balancing rule and line shape.
func (e Event) Validate() error {
	if e.SourceID == uuid.Nil || e.Document.ID == 0 {
		return ErrSourceRequired
	}
	if len(e.Lines) < 2 {
		return ErrTooFewLines
	}
	for idx, l := range e.Lines {
		if l.Amount.IsNegative() {
			return fmt.Errorf("accounting: line %d negative amount", idx)
		}
		if l.Direction != Debit && l.Direction != Credit {
			return fmt.Errorf("accounting: line %d direction %q", idx, l.Direction)
		}
		if l.Role == "" {
			return fmt.Errorf("accounting: line %d missing role", idx)
		}
	}
	debit, credit := e.Totals()
	if !numeric.Money(debit).Equal(numeric.Money(credit)) {
		return fmt.Errorf("%w: debit %s credit %s", ErrUnbalanced, debit.StringFixed(2), credit.StringFixed(2))
	}
	return nil
}
