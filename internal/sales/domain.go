package sales

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/inventory"
	"github.com/odyssey-erp/odyssey-o2c/internal/numeric"
)

var (
	// ErrOrderNotFound indicates a missing or soft-deleted order.
	ErrOrderNotFound = errors.New("sales: order not found")
	// ErrOrderLineNotFound indicates a line id outside the order.
	ErrOrderLineNotFound = errors.New("sales: order line not found")
	// ErrCannotEdit indicates a mutation outside DRAFT/QUOTE.
	ErrCannotEdit = errors.New("sales: order can only be changed in DRAFT or QUOTE")
)

// OrderStatus enumerates order lifecycle states.
type OrderStatus string

const (
	StatusDraft              OrderStatus = "DRAFT"
	StatusQuote              OrderStatus = "QUOTE"
	StatusConfirmed          OrderStatus = "CONFIRMED"
	StatusPartiallyDelivered OrderStatus = "PARTIALLY_DELIVERED"
	StatusDelivered          OrderStatus = "DELIVERED"
	StatusClosed             OrderStatus = "CLOSED"
	StatusCancelled          OrderStatus = "CANCELLED"
)

// Editable reports whether header and lines may still be replaced.
func (s OrderStatus) Editable() bool {
	return s == StatusDraft || s == StatusQuote
}

// Open reports whether downstream documents may draw from the order.
func (s OrderStatus) Open() bool {
	return s == StatusConfirmed || s == StatusPartiallyDelivered || s == StatusDelivered
}

// Order is the sales order header.
type Order struct {
	ID           int64
	CompanyID    int64
	BranchID     int64
	CustomerID   int64
	LocationID   int64
	DocNumber    string
	DocPrefix    string
	DocYear      int
	DocSeq       int
	OrderDate    time.Time
	Currency     string
	ExchangeRate decimal.Decimal
	Status       OrderStatus
	Subtotal     decimal.Decimal
	TaxAmount    decimal.Decimal
	TotalAmount  decimal.Decimal
	TotalBase    decimal.Decimal
	Notes        string
	CreatedBy    int64
	ConfirmedBy  *int64
	ConfirmedAt  *time.Time
	ClosedAt     *time.Time
	CancelledBy  *int64
	CancelledAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
	Lines        []OrderLine
}

// OrderLine carries the ordered quantity and the running counters every
// downstream document draws from. Reserved holds the outstanding reservation,
// which shrinks as deliveries consume it.
type OrderLine struct {
	ID        int64
	OrderID   int64
	LineNo    int
	ProductID int64
	VariantID int64
	LotID     int64
	UOMID     int64
	BaseUOMID int64

	Quantity              decimal.Decimal
	QuantityBase          decimal.Decimal
	QuantityReserved      decimal.Decimal
	QuantityReservedBase  decimal.Decimal
	QuantityDelivered     decimal.Decimal
	QuantityDeliveredBase decimal.Decimal
	QuantityReturned      decimal.Decimal
	QuantityReturnedBase  decimal.Decimal
	QuantityInvoiced      decimal.Decimal
	QuantityInvoicedBase  decimal.Decimal
	AmountInvoiced        decimal.Decimal

	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	DiscountAmount  decimal.Decimal
	TaxPercent      decimal.Decimal
	TaxAmount       decimal.Decimal
	TaxInclusive    bool
	LineSubtotal    decimal.Decimal
	LineTotal       decimal.Decimal
	PriceRuleID     *int64
	TaxRuleID       *int64
}

// CounterKey is the stock counter the line reserves against.
func (l OrderLine) CounterKey(locationID int64) inventory.CounterKey {
	return inventory.CounterKey{LocationID: locationID, VariantID: l.VariantID, LotID: l.LotID}
}

// RemainingToDeliver is quantity - delivered in ordering units.
func (l OrderLine) RemainingToDeliver() decimal.Decimal {
	return l.Quantity.Sub(l.QuantityDelivered)
}

// RemainingToInvoice is delivered - invoiced in ordering units.
func (l OrderLine) RemainingToInvoice() decimal.Decimal {
	return l.QuantityDelivered.Sub(l.QuantityInvoiced)
}

// RemainingToReturn is delivered - returned in ordering units.
func (l OrderLine) RemainingToReturn() decimal.Decimal {
	return l.QuantityDelivered.Sub(l.QuantityReturned)
}

// ToBase converts an ordering-unit quantity with the line's own ratio.
func (l OrderLine) ToBase(qty decimal.Decimal) decimal.Decimal {
	return numeric.ByRatio(qty, l.Quantity, l.QuantityBase)
}

// FromBase converts a base quantity back to ordering units.
func (l OrderLine) FromBase(base decimal.Decimal) decimal.Decimal {
	return numeric.ByRatio(base, l.QuantityBase, l.Quantity)
}

// SetReservedBase stores the outstanding reservation in both units.
func (l *OrderLine) SetReservedBase(base decimal.Decimal) {
	l.QuantityReservedBase = numeric.Quantity(numeric.ClampZero(base))
	l.QuantityReserved = l.FromBase(l.QuantityReservedBase)
}

// CreateOrderRequest is the input of Service.Create.
type CreateOrderRequest struct {
	CustomerID   int64            `json:"customer_id" validate:"required,gt=0"`
	LocationID   int64            `json:"location_id" validate:"required,gt=0"`
	OrderDate    time.Time        `json:"order_date" validate:"required"`
	Currency     string           `json:"currency" validate:"required,len=3"`
	ExchangeRate decimal.Decimal  `json:"exchange_rate"`
	Notes        string           `json:"notes,omitempty" validate:"max=2000"`
	Lines        []OrderLineInput `json:"lines" validate:"required,min=1,dive"`
}

// OrderLineInput describes one ordered line. Nil price or tax fields are
// quoted through the pricing collaborators.
type OrderLineInput struct {
	ProductID       int64            `json:"product_id" validate:"required,gt=0"`
	VariantID       int64            `json:"variant_id" validate:"required,gt=0"`
	LotID           int64            `json:"lot_id,omitempty" validate:"gte=0"`
	UOMID           int64            `json:"uom_id" validate:"required,gt=0"`
	BaseUOMID       int64            `json:"base_uom_id" validate:"required,gt=0"`
	Quantity        decimal.Decimal  `json:"quantity"`
	UnitPrice       *decimal.Decimal `json:"unit_price,omitempty"`
	DiscountPercent decimal.Decimal  `json:"discount_percent"`
	TaxPercent      *decimal.Decimal `json:"tax_percent,omitempty"`
	TaxInclusive    *bool            `json:"tax_inclusive,omitempty"`
}

// UpdateOrderRequest changes a DRAFT/QUOTE order. Lines, when present,
// replace every existing line.
type UpdateOrderRequest struct {
	OrderDate    *time.Time       `json:"order_date,omitempty"`
	ExchangeRate *decimal.Decimal `json:"exchange_rate,omitempty"`
	Notes        *string          `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Lines        []OrderLineInput `json:"lines,omitempty" validate:"omitempty,min=1,dive"`
}
