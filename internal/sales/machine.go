package sales

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/statemachine"
)

// Transitions is the order lifecycle. CANCELLED is reachable from every
// non-terminal state.
var Transitions = statemachine.Table[OrderStatus]{
	StatusDraft:              {StatusQuote, StatusConfirmed, StatusCancelled},
	StatusQuote:              {StatusConfirmed, StatusCancelled},
	StatusConfirmed:          {StatusPartiallyDelivered, StatusDelivered, StatusCancelled},
	StatusPartiallyDelivered: {StatusPartiallyDelivered, StatusDelivered, StatusClosed, StatusCancelled},
	StatusDelivered:          {StatusClosed, StatusCancelled},
}

// NewMachine builds the order state machine; confirmation is maker-checker
// guarded when policy enables it.
func NewMachine(policy statemachine.PolicyFunc) *statemachine.Machine[OrderStatus] {
	return statemachine.New("sales_order", Transitions).
		GuardInto(StatusConfirmed, statemachine.MakerChecker[OrderStatus](policy))
}

// FulfilmentStatus derives the status a delivery posting moves the order to.
func FulfilmentStatus(lines []OrderLine, tolerance decimal.Decimal) OrderStatus {
	anyDelivered := false
	allDelivered := true
	for _, l := range lines {
		if l.QuantityDelivered.IsPositive() {
			anyDelivered = true
		}
		if l.RemainingToDeliver().GreaterThan(tolerance) {
			allDelivered = false
		}
	}
	switch {
	case anyDelivered && allDelivered:
		return StatusDelivered
	case anyDelivered:
		return StatusPartiallyDelivered
	default:
		return StatusConfirmed
	}
}
