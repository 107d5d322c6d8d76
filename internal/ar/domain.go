package ar

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/statemachine"
)

var (
	// ErrInvoiceNotFound indicates a missing or soft-deleted invoice.
	ErrInvoiceNotFound = errors.New("ar: invoice not found")
	// ErrCannotEdit indicates a mutation of an invoice that is no longer DRAFT.
	ErrCannotEdit = errors.New("ar: only DRAFT invoices can be changed")
	// ErrLineMismatch indicates a delivery line outside the invoice's order or order line.
	ErrLineMismatch = errors.New("ar: delivery line does not belong to the invoiced order line")
	// ErrDeliveryNotPosted indicates a delivery line of a delivery that has not shipped.
	ErrDeliveryNotPosted = errors.New("ar: delivery is not posted")
)

// InvoiceStatus enumerates AR invoice statuses.
type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "DRAFT"
	StatusPosted    InvoiceStatus = "POSTED"
	StatusCancelled InvoiceStatus = "CANCELLED"
)

// Transitions is the invoice lifecycle.
var Transitions = statemachine.Table[InvoiceStatus]{
	StatusDraft: {StatusPosted, StatusCancelled},
}

// Invoice bills delivered quantities of one order. Base figures are fixed
// when the invoice posts.
type Invoice struct {
	ID                int64
	CompanyID         int64
	BranchID          int64
	CustomerID        int64
	OrderID           int64
	DocNumber         string
	DocPrefix         string
	DocYear           int
	DocSeq            int
	InvoiceDate       time.Time
	DueDate           time.Time
	Currency          string
	ExchangeRate      decimal.Decimal
	Status            InvoiceStatus
	Subtotal          decimal.Decimal
	TaxAmount         decimal.Decimal
	TotalAmount       decimal.Decimal
	SubtotalBase      decimal.Decimal
	TaxBase           decimal.Decimal
	TotalBase         decimal.Decimal
	DeliveryValueBase decimal.Decimal
	RevenueVariance   decimal.Decimal
	Notes             string
	CreatedBy         int64
	PostedBy          *int64
	PostedAt          *time.Time
	CancelledAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
	Lines             []Line
}

// Line references one order line and exactly one delivery line.
type Line struct {
	ID             int64
	InvoiceID      int64
	OrderLineID    int64
	DeliveryLineID int64
	LineNo         int
	ProductID      int64
	VariantID      int64

	Quantity     decimal.Decimal
	QuantityBase decimal.Decimal

	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	DiscountAmount  decimal.Decimal
	TaxPercent      decimal.Decimal
	TaxAmount       decimal.Decimal
	TaxInclusive    bool
	LineSubtotal    decimal.Decimal
	LineTotal       decimal.Decimal

	LineTotalBase     decimal.Decimal
	TaxBase           decimal.Decimal
	DeliveryValueBase decimal.Decimal
	RevenueVariance   decimal.Decimal
}

// CreateInvoiceRequest is the input of Service.Create.
type CreateInvoiceRequest struct {
	OrderID     int64       `json:"order_id" validate:"required,gt=0"`
	InvoiceDate time.Time   `json:"invoice_date" validate:"required"`
	DueDate     time.Time   `json:"due_date" validate:"required"`
	Notes       string      `json:"notes,omitempty" validate:"max=2000"`
	Lines       []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// LineInput bills Quantity of a delivery line. Price fields default to the
// order line's agreed terms.
type LineInput struct {
	DeliveryLineID  int64            `json:"delivery_line_id" validate:"required,gt=0"`
	Quantity        decimal.Decimal  `json:"quantity"`
	UnitPrice       *decimal.Decimal `json:"unit_price,omitempty"`
	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`
	TaxPercent      *decimal.Decimal `json:"tax_percent,omitempty"`
	TaxInclusive    *bool            `json:"tax_inclusive,omitempty"`
}

// UpdateInvoiceRequest changes a DRAFT invoice. Lines, when present, replace
// every existing line.
type UpdateInvoiceRequest struct {
	InvoiceDate *time.Time  `json:"invoice_date,omitempty"`
	DueDate     *time.Time  `json:"due_date,omitempty"`
	Notes       *string     `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Lines       []LineInput `json:"lines,omitempty" validate:"omitempty,min=1,dive"`
}
