// Package returns takes delivered goods back into stock at the cost basis
// they left with.
package returns

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/statemachine"
)

var (
	// ErrReturnNotFound indicates a missing or soft-deleted return.
	ErrReturnNotFound = errors.New("returns: not found")
	// ErrCannotEdit indicates a mutation of a return that is no longer DRAFT.
	ErrCannotEdit = errors.New("returns: only DRAFT returns can be changed")
	// ErrLineMismatch indicates a delivery line outside the returned delivery.
	ErrLineMismatch = errors.New("returns: delivery line does not belong to the returned delivery")
	// ErrDeliveryNotPosted indicates a return against a delivery that has not shipped.
	ErrDeliveryNotPosted = errors.New("returns: delivery is not posted")
)

// Status enumerates return lifecycle states.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPosted    Status = "POSTED"
	StatusCancelled Status = "CANCELLED"
)

// Transitions is the return lifecycle.
var Transitions = statemachine.Table[Status]{
	StatusDraft: {StatusPosted, StatusCancelled},
}

// Return references one delivery and, through it, one order.
type Return struct {
	ID                     int64
	CompanyID              int64
	BranchID               int64
	OrderID                int64
	DeliveryID             int64
	LocationID             int64
	DocNumber              string
	DocPrefix              string
	DocYear                int
	DocSeq                 int
	ReturnDate             time.Time
	Currency               string
	ExchangeRate           decimal.Decimal
	Status                 Status
	CostValueBase          decimal.Decimal
	InventoryTransactionID *int64
	Reason                 string
	CreatedBy              int64
	PostedBy               *int64
	PostedAt               *time.Time
	CancelledAt            *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
	DeletedAt              *time.Time
	Lines                  []Line
}

// Line returns quantity of one delivery line.
type Line struct {
	ID             int64
	ReturnID       int64
	DeliveryLineID int64
	OrderLineID    int64
	LineNo         int
	ProductID      int64
	VariantID      int64
	LotID          int64
	Quantity       decimal.Decimal
	QuantityBase   decimal.Decimal
	UnitCostBase   decimal.Decimal
	ValueBase      decimal.Decimal
}

// CreateReturnRequest is the input of Service.Create. LocationID defaults to
// the delivery's location.
type CreateReturnRequest struct {
	DeliveryID int64       `json:"delivery_id" validate:"required,gt=0"`
	LocationID int64       `json:"location_id,omitempty" validate:"gte=0"`
	ReturnDate time.Time   `json:"return_date" validate:"required"`
	Reason     string      `json:"reason,omitempty" validate:"max=2000"`
	Lines      []LineInput `json:"lines" validate:"required,min=1,dive"`
}

// LineInput returns Quantity of a delivery line, in its ordering unit.
type LineInput struct {
	DeliveryLineID int64           `json:"delivery_line_id" validate:"required,gt=0"`
	Quantity       decimal.Decimal `json:"quantity"`
}

// UpdateReturnRequest changes a DRAFT return. Lines, when present, replace
// every existing line.
type UpdateReturnRequest struct {
	ReturnDate *time.Time  `json:"return_date,omitempty"`
	Reason     *string     `json:"reason,omitempty" validate:"omitempty,max=2000"`
	Lines      []LineInput `json:"lines,omitempty" validate:"omitempty,min=1,dive"`
}
