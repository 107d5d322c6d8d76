package delivery

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/statemachine"
)

var (
	// ErrDeliveryNotFound indicates a missing or soft-deleted delivery.
	ErrDeliveryNotFound = errors.New("delivery: not found")
	// ErrDeliveryLineNotFound indicates a referenced delivery line that does not exist.
	ErrDeliveryLineNotFound = errors.New("delivery: line not found")
	// ErrCannotEdit indicates a mutation of a delivery that is no longer DRAFT.
	ErrCannotEdit = errors.New("delivery: only DRAFT deliveries can be changed")
	// ErrOrderNotOpen indicates an order that cannot be delivered against.
	ErrOrderNotOpen = errors.New("delivery: order is not open for delivery")
)

// Status enumerates delivery lifecycle states.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPosted    Status = "POSTED"
	StatusCancelled Status = "CANCELLED"
)

// Transitions is the delivery lifecycle.
var Transitions = statemachine.Table[Status]{
	StatusDraft: {StatusPosted, StatusCancelled},
}

// Delivery ships part of one order from one location.
type Delivery struct {
	ID                     int64
	CompanyID              int64
	BranchID               int64
	OrderID                int64
	LocationID             int64
	DocNumber              string
	DocPrefix              string
	DocYear                int
	DocSeq                 int
	DeliveryDate           time.Time
	Currency               string
	ExchangeRate           decimal.Decimal
	Status                 Status
	CostValueBase          decimal.Decimal
	InventoryTransactionID *int64
	Notes                  string
	CreatedBy              int64
	PostedBy               *int64
	PostedAt               *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
	DeletedAt              *time.Time
	Lines                  []Line
}

// Line draws from exactly one order line. Invoices and returns later draw
// from it; UnitCostBase is fixed when the delivery posts.
type Line struct {
	ID          int64
	DeliveryID  int64
	OrderLineID int64
	LineNo      int
	ProductID   int64
	VariantID   int64
	LotID       int64

	Quantity             decimal.Decimal
	QuantityBase         decimal.Decimal
	QuantityInvoiced     decimal.Decimal
	QuantityInvoicedBase decimal.Decimal
	QuantityReturned     decimal.Decimal
	QuantityReturnedBase decimal.Decimal
	UnitCostBase         decimal.Decimal
	ValueBase            decimal.Decimal

	// header fields joined when locking lines for downstream postings
	OrderID        int64
	DeliveryStatus Status
}

// Remaining is what invoices and returns may still draw from the line.
func (l Line) Remaining() decimal.Decimal {
	return l.Quantity.Sub(l.QuantityInvoiced).Sub(l.QuantityReturned)
}

// CreateDeliveryRequest is the input of Service.Create.
type CreateDeliveryRequest struct {
	OrderID      int64       `json:"order_id" validate:"required,gt=0"`
	LocationID   int64       `json:"location_id,omitempty" validate:"gte=0"`
	DeliveryDate time.Time   `json:"delivery_date" validate:"required"`
	Notes        string      `json:"notes,omitempty" validate:"max=2000"`
	Lines        []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// LineInput asks to ship Quantity of an order line, in its ordering unit.
type LineInput struct {
	OrderLineID int64           `json:"order_line_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
}
