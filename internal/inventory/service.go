package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/numeric"
)

// Service posts stock movements against counters inside the caller's
// transaction. Costing is a moving average per counter.
type Service struct {
	allowNeg  bool
	tolerance decimal.Decimal
	now       func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
	Tolerance          decimal.Decimal
}

// NewService builds Service.
func NewService(cfg ServiceConfig) *Service {
	tol := cfg.Tolerance
	if tol.IsZero() {
		tol = decimal.RequireFromString("0.0001")
	}
	return &Service{allowNeg: cfg.AllowNegativeStock, tolerance: tol, now: func() time.Time { return time.Now().UTC() }}
}

// Receipt brings stock in at the given unit costs.
func (s *Service) Receipt(ctx context.Context, store MovementStore, input MovementInput) (MovementResult, error) {
	if err := validateInput(input, true); err != nil {
		return MovementResult{}, err
	}
	return s.postMovement(ctx, store, TransactionTypeReceipt, input)
}

// Issue ships stock out at the counter's current average cost.
func (s *Service) Issue(ctx context.Context, store MovementStore, input MovementInput) (MovementResult, error) {
	if err := validateInput(input, false); err != nil {
		return MovementResult{}, err
	}
	return s.postMovement(ctx, store, TransactionTypeIssue, input)
}

func validateInput(input MovementInput, receipt bool) error {
	if input.LocationID == 0 || len(input.Lines) == 0 {
		return ErrLocationRequired
	}
	if err := input.Source.Validate(); err != nil {
		return fmt.Errorf("inventory: source: %w", err)
	}
	for _, line := range input.Lines {
		if line.VariantID == 0 {
			return ErrLocationRequired
		}
		if !line.QtyBase.IsPositive() {
			return ErrInvalidQuantity
		}
		if receipt && line.UnitCost.IsNegative() {
			return ErrInvalidUnitCost
		}
	}
	return nil
}

func movementCode(txType TransactionType, input MovementInput) string {
	prefix := "RCV"
	if txType == TransactionTypeIssue {
		prefix = "ISS"
	}
	return fmt.Sprintf("%s-%s-%d", prefix, input.Source.Kind, input.Source.ID)
}

func (s *Service) postMovement(ctx context.Context, store MovementStore, txType TransactionType, input MovementInput) (MovementResult, error) {
	postedAt := input.Date
	if postedAt.IsZero() {
		postedAt = s.now()
	}
	code := movementCode(txType, input)
	header := Transaction{
		Code:       code,
		Type:       txType,
		LocationID: input.LocationID,
		Source:     input.Source,
		Note:       input.Note,
		PostedAt:   postedAt,
		CreatedBy:  input.ActorID,
	}
	txID, err := store.InsertTransaction(ctx, header)
	if err != nil {
		return MovementResult{}, err
	}

	// lock counters in key order; lines keep their input order in the result
	order := make([]int, len(input.Lines))
	keys := make([]CounterKey, len(input.Lines))
	for i, line := range input.Lines {
		order[i] = i
		keys[i] = CounterKey{LocationID: input.LocationID, VariantID: line.VariantID, LotID: line.LotID}
	}
	sortIndexByKey(order, keys)

	layers := make([]CostLayer, len(input.Lines))
	txLines := make([]TransactionLine, len(input.Lines))
	for _, idx := range order {
		line := input.Lines[idx]
		key := keys[idx]
		counter, err := LockCounter(ctx, store, key)
		if err != nil {
			return MovementResult{}, err
		}
		qty := numeric.Quantity(line.QtyBase)
		change := qty
		if txType == TransactionTypeIssue {
			change = qty.Neg()
		}
		newQty := numeric.Quantity(counter.QtyOnHand.Add(change))
		if !s.allowNeg && newQty.LessThan(s.tolerance.Neg()) {
			return MovementResult{}, fmt.Errorf("%w: variant %d at location %d has %s, needs %s",
				ErrNegativeStock, key.VariantID, key.LocationID, counter.QtyOnHand.StringFixed(3), qty.StringFixed(3))
		}

		var unitCost, newAvg decimal.Decimal
		if txType == TransactionTypeReceipt {
			unitCost = numeric.Cost(line.UnitCost)
			totalCost := counter.QtyOnHand.Mul(counter.AvgCost).Add(qty.Mul(unitCost))
			if !newQty.IsZero() {
				newAvg = numeric.Cost(totalCost.Div(newQty))
			}
			if newAvg.IsNegative() {
				newAvg = unitCost
			}
		} else {
			unitCost = counter.AvgCost
			if newQty.Abs().LessThan(s.tolerance) {
				newQty = decimal.Zero
			}
			if newQty.IsPositive() {
				newAvg = counter.AvgCost
			}
		}

		counter.QtyOnHand = newQty
		counter.AvgCost = newAvg
		counter.UpdatedAt = postedAt
		if err := store.SaveCounter(ctx, counter); err != nil {
			return MovementResult{}, err
		}

		txLines[idx] = TransactionLine{TransactionID: txID, VariantID: key.VariantID, LotID: key.LotID, Qty: change, UnitCost: unitCost}
		layers[idx] = CostLayer{
			VariantID: key.VariantID,
			LotID:     key.LotID,
			Qty:       qty,
			UnitCost:  unitCost,
			Value:     numeric.BaseValue(qty.Mul(unitCost)),
		}
		entry := StockCardEntry{
			TransactionID: txID,
			Key:           key,
			TxCode:        code,
			TxType:        txType,
			PostedAt:      postedAt,
			BalanceQty:    newQty,
			UnitCost:      unitCost,
			BalanceCost:   newAvg,
		}
		if txType == TransactionTypeReceipt {
			entry.QtyIn = qty
		} else {
			entry.QtyOut = qty
		}
		if err := store.InsertCardEntry(ctx, entry); err != nil {
			return MovementResult{}, err
		}
	}
	if err := store.InsertTransactionLines(ctx, txID, txLines); err != nil {
		return MovementResult{}, err
	}
	return MovementResult{TransactionID: txID, Code: code, Layers: layers}, nil
}

func sortIndexByKey(order []int, keys []CounterKey) {
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && keys[order[j]].Less(keys[order[j-1]]); j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
}
