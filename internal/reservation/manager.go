// Package reservation commits and releases base-UOM quantity against stock
// counters. It is the only writer of qty_reserved.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/inventory"
	"github.com/odyssey-erp/odyssey-o2c/internal/numeric"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
)

// Strictness selects how a request beyond available stock is handled.
type Strictness string

const (
	// StrictnessSoft reserves what is available and lets the rest oversell.
	StrictnessSoft Strictness = "soft"
	// StrictnessHard rejects any request beyond available stock.
	StrictnessHard Strictness = "hard"
)

// ParseStrictness reads a config value; anything but "soft" is hard.
func ParseStrictness(s string) Strictness {
	if strings.EqualFold(strings.TrimSpace(s), string(StrictnessSoft)) {
		return StrictnessSoft
	}
	return StrictnessHard
}

var (
	// ErrInsufficientAvailable is returned by hard reservations beyond available stock.
	ErrInsufficientAvailable = errors.New("reservation: insufficient available stock")
	// ErrInvalidQuantity indicates a negative request.
	ErrInvalidQuantity = errors.New("reservation: quantity must not be negative")
)

// Metrics receives reservation outcomes.
type Metrics interface {
	ObserveShortfall(shortfall decimal.Decimal)
}

// Manager applies reservations under row locks held by the caller's transaction.
type Manager struct {
	tolerance decimal.Decimal
	metrics   Metrics
}

// NewManager constructs a Manager. metrics may be nil.
func NewManager(tolerance decimal.Decimal, metrics Metrics) *Manager {
	return &Manager{tolerance: tolerance, metrics: metrics}
}

// Reserve locks the counter for key and reserves up to requested base units.
// It returns the quantity actually reserved, which under soft strictness can
// be less than requested.
func (m *Manager) Reserve(ctx context.Context, store inventory.CounterStore, key inventory.CounterKey, requested decimal.Decimal, strictness Strictness) (decimal.Decimal, error) {
	requested = numeric.Quantity(requested)
	if requested.IsNegative() {
		return decimal.Zero, ErrInvalidQuantity
	}
	if requested.IsZero() {
		return decimal.Zero, nil
	}
	counter, err := inventory.LockCounter(ctx, store, key)
	if err != nil {
		return decimal.Zero, err
	}
	available := counter.Available()

	reserved := requested
	if requested.Sub(available).GreaterThan(m.tolerance) {
		if strictness != StrictnessSoft {
			return decimal.Zero, shared.NewBusinessError("INSUFFICIENT_AVAILABLE", ErrInsufficientAvailable,
				"variant %d at location %d: requested %s, available %s",
				key.VariantID, key.LocationID, requested.StringFixed(3), numeric.Quantity(available).StringFixed(3))
		}
		reserved = decimal.Min(requested, numeric.ClampZero(available))
		if m.metrics != nil {
			m.metrics.ObserveShortfall(requested.Sub(reserved))
		}
	}
	reserved = numeric.Quantity(reserved)
	if reserved.IsZero() {
		return decimal.Zero, nil
	}
	counter.QtyReserved = numeric.Quantity(counter.QtyReserved.Add(reserved))
	if err := store.SaveCounter(ctx, counter); err != nil {
		return decimal.Zero, fmt.Errorf("reservation: save counter: %w", err)
	}
	return reserved, nil
}

// Release returns released base units to available stock. The counter never
// drops below zero, so repeating a release is harmless.
func (m *Manager) Release(ctx context.Context, store inventory.CounterStore, key inventory.CounterKey, released decimal.Decimal) (inventory.StockCounter, error) {
	released = numeric.Quantity(released)
	if released.IsNegative() {
		return inventory.StockCounter{}, ErrInvalidQuantity
	}
	counter, err := inventory.LockCounter(ctx, store, key)
	if err != nil {
		return inventory.StockCounter{}, err
	}
	if released.IsZero() {
		return counter, nil
	}
	counter.QtyReserved = numeric.ClampZero(numeric.Quantity(counter.QtyReserved.Sub(released)))
	if err := store.SaveCounter(ctx, counter); err != nil {
		return inventory.StockCounter{}, fmt.Errorf("reservation: save counter: %w", err)
	}
	return counter, nil
}

// Request is one line of a multi-line reservation.
type Request struct {
	Key       inventory.CounterKey
	Requested decimal.Decimal
	// Ref lets the caller map results back to its own lines.
	Ref int64
}

// Result reports the reserved base quantity for one Request.
type Result struct {
	Request
	Reserved decimal.Decimal
}

// ReserveAll reserves every request with counters locked in ascending key
// order. Under hard strictness the first rejection aborts the batch and the
// caller's transaction must roll back.
func (m *Manager) ReserveAll(ctx context.Context, store inventory.CounterStore, requests []Request, strictness Strictness) ([]Result, error) {
	ordered := make([]Request, len(requests))
	copy(ordered, requests)
	sortRequests(ordered)

	results := make([]Result, 0, len(ordered))
	for _, req := range ordered {
		reserved, err := m.Reserve(ctx, store, req.Key, req.Requested, strictness)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{Request: req, Reserved: reserved})
	}
	return results, nil
}

// ReleaseAll releases every request in ascending key order.
func (m *Manager) ReleaseAll(ctx context.Context, store inventory.CounterStore, requests []Request) error {
	ordered := make([]Request, len(requests))
	copy(ordered, requests)
	sortRequests(ordered)
	for _, req := range ordered {
		if _, err := m.Release(ctx, store, req.Key, req.Requested); err != nil {
			return err
		}
	}
	return nil
}

func sortRequests(reqs []Request) {
	for i := 1; i < len(reqs); i++ {
		for j := i; j > 0 && less(reqs[j], reqs[j-1]); j-- {
			reqs[j], reqs[j-1] = reqs[j-1], reqs[j]
		}
	}
}

func less(a, b Request) bool {
	if a.Key != b.Key {
		return a.Key.Less(b.Key)
	}
	return a.Ref < b.Ref
}
