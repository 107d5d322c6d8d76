package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
)

// TransactionType enumerates supported inventory movements.
type TransactionType string

const (
	// TransactionTypeReceipt re-receives stock, e.g. from a sales return.
	TransactionTypeReceipt TransactionType = "RECEIPT"
	// TransactionTypeIssue ships stock out, e.g. for a delivery.
	TransactionTypeIssue TransactionType = "ISSUE"
)

var (
	// ErrCounterNotFound indicates a missing stock counter row.
	ErrCounterNotFound = errors.New("inventory: stock counter not found")
	// ErrNegativeStock indicates an issue would drive on-hand below zero.
	ErrNegativeStock = errors.New("inventory: insufficient stock")
	// ErrInvalidQuantity indicates a zero or negative movement quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative unit cost.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must not be negative")
	// ErrLocationRequired indicates a movement without a location.
	ErrLocationRequired = errors.New("inventory: location and variant required")
)

// CounterKey identifies one stock counter row. LotID zero means "no lot".
type CounterKey struct {
	LocationID int64
	VariantID  int64
	LotID      int64
}

// Less orders keys for deterministic lock acquisition.
func (k CounterKey) Less(o CounterKey) bool {
	if k.LocationID != o.LocationID {
		return k.LocationID < o.LocationID
	}
	if k.VariantID != o.VariantID {
		return k.VariantID < o.VariantID
	}
	return k.LotID < o.LotID
}

// StockCounter holds on-hand and reserved base quantities for one key.
type StockCounter struct {
	CounterKey
	QtyOnHand   decimal.Decimal
	QtyReserved decimal.Decimal
	AvgCost     decimal.Decimal
	UpdatedAt   time.Time
}

// Available returns on_hand - reserved. It may be negative after oversell.
func (c StockCounter) Available() decimal.Decimal {
	return c.QtyOnHand.Sub(c.QtyReserved)
}

// Transaction models the header of inventory transaction.
type Transaction struct {
	ID         int64
	Code       string
	Type       TransactionType
	LocationID int64
	Source     docref.Ref
	Note       string
	PostedAt   time.Time
	CreatedBy  int64
}

// TransactionLine models each variant movement line; Qty is signed.
type TransactionLine struct {
	TransactionID int64
	VariantID     int64
	LotID         int64
	Qty           decimal.Decimal
	UnitCost      decimal.Decimal
}

// StockCardEntry describes the running balance after one movement line.
type StockCardEntry struct {
	TransactionID int64
	Key           CounterKey
	TxCode        string
	TxType        TransactionType
	PostedAt      time.Time
	QtyIn         decimal.Decimal
	QtyOut        decimal.Decimal
	BalanceQty    decimal.Decimal
	UnitCost      decimal.Decimal
	BalanceCost   decimal.Decimal
}

// MovementLine is one base-UOM quantity to receive or issue.
type MovementLine struct {
	VariantID int64
	LotID     int64
	QtyBase   decimal.Decimal
	// UnitCost is required for receipts and ignored for issues.
	UnitCost decimal.Decimal
}

// MovementInput is shared by Receipt and Issue.
type MovementInput struct {
	LocationID int64
	Date       time.Time
	Lines      []MovementLine
	Source     docref.Ref
	ActorID    int64
	Note       string
}

// CostLayer reports the value each movement line carried.
type CostLayer struct {
	VariantID int64
	LotID     int64
	Qty       decimal.Decimal
	UnitCost  decimal.Decimal
	Value     decimal.Decimal
}

// MovementResult references the persisted inventory transaction.
type MovementResult struct {
	TransactionID int64
	Code          string
	Layers        []CostLayer
}
