// Package uom adapts unit-of-measure conversion for document lines. The
// conversion factors themselves are owned by master data; this package only
// applies them.
package uom

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/numeric"
)

// ErrNoConversionPath is returned when two units cannot be related.
var ErrNoConversionPath = errors.New("uom: no conversion path")

// Converter converts a quantity between units. Implementations must be pure.
type Converter interface {
	Convert(qty decimal.Decimal, fromUOM, toUOM int64) (decimal.Decimal, error)
}

// Table converts through a shared base: every unit registers how many base
// units one of it represents. Two units are convertible when they share a base.
type Table struct {
	mu      sync.RWMutex
	factors map[int64]factor
}

type factor struct {
	base  int64
	ratio decimal.Decimal
}

// NewTable returns an empty conversion table.
func NewTable() *Table {
	return &Table{factors: make(map[int64]factor)}
}

// Register declares that one unit of uomID equals ratio units of baseUOM.
func (t *Table) Register(uomID, baseUOM int64, ratio decimal.Decimal) error {
	if !ratio.IsPositive() {
		return fmt.Errorf("uom: ratio for %d must be positive", uomID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.factors[uomID] = factor{base: baseUOM, ratio: ratio}
	if _, ok := t.factors[baseUOM]; !ok {
		t.factors[baseUOM] = factor{base: baseUOM, ratio: decimal.NewFromInt(1)}
	}
	return nil
}

// Convert implements Converter. The result is rounded to quantity scale.
func (t *Table) Convert(qty decimal.Decimal, fromUOM, toUOM int64) (decimal.Decimal, error) {
	if fromUOM == toUOM {
		return numeric.Quantity(qty), nil
	}
	t.mu.RLock()
	from, okFrom := t.factors[fromUOM]
	to, okTo := t.factors[toUOM]
	t.mu.RUnlock()
	if !okFrom || !okTo || from.base != to.base {
		return decimal.Zero, fmt.Errorf("%w: %d -> %d", ErrNoConversionPath, fromUOM, toUOM)
	}
	return numeric.Quantity(qty.Mul(from.ratio).Div(to.ratio)), nil
}
