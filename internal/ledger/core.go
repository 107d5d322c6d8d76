// Package ledger enforces that no document line draws more quantity than its
// predecessor line has remaining. It is pure arithmetic: callers lock and read
// the predecessor rows, run every check through a Plan, and only then mutate.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/numeric"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
)

var (
	// ErrExceedsRemaining indicates a proposal larger than the predecessor's remaining quantity.
	ErrExceedsRemaining = errors.New("ledger: quantity exceeds remaining")
	// ErrNonPositive indicates a zero or negative proposal.
	ErrNonPositive = errors.New("ledger: quantity must be positive")
)

// DefaultTolerance absorbs conversion rounding when comparing quantities.
var DefaultTolerance = decimal.RequireFromString("0.0005")

// LineRef names the predecessor line a proposal draws from.
type LineRef struct {
	Kind string // e.g. "order_line", "delivery_line"
	ID   int64
}

func (r LineRef) String() string { return fmt.Sprintf("%s#%d", r.Kind, r.ID) }

// Core holds the tolerance band.
type Core struct {
	Tolerance decimal.Decimal
}

// NewCore returns a Core; a negative tolerance falls back to the default.
func NewCore(tolerance decimal.Decimal) Core {
	if tolerance.IsNegative() {
		tolerance = DefaultTolerance
	}
	return Core{Tolerance: tolerance}
}

// Reconcile checks proposed against the freshly locked remaining quantity and
// returns the quantity to apply. The full proposal is applied or the call is
// rejected; nothing is truncated.
func (c Core) Reconcile(line LineRef, proposed, remaining decimal.Decimal) (decimal.Decimal, error) {
	applied := numeric.Quantity(proposed)
	if !applied.IsPositive() {
		return decimal.Zero, shared.NewBusinessError("NON_POSITIVE_QUANTITY", ErrNonPositive,
			"%s: proposed %s", line, applied.StringFixed(numeric.QuantityScale))
	}
	if applied.Sub(remaining).GreaterThan(c.Tolerance) {
		return decimal.Zero, shared.NewBusinessError("EXCEEDS_REMAINING", ErrExceedsRemaining,
			"%s: proposed %s, remaining %s",
			line, applied.StringFixed(numeric.QuantityScale), numeric.Quantity(remaining).StringFixed(numeric.QuantityScale))
	}
	return applied, nil
}

// Within reports whether value does not exceed limit beyond the tolerance.
func (c Core) Within(value, limit decimal.Decimal) bool {
	return !value.Sub(limit).GreaterThan(c.Tolerance)
}

// SortedIDs returns ids deduplicated in ascending order. Lock helpers use it
// so overlapping postings always acquire row locks in the same order.
func SortedIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
