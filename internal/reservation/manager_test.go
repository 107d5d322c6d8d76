package reservation

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-o2c/internal/inventory"
	"github.com/odyssey-erp/odyssey-o2c/internal/ledger"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
)

// counterStore stands in for stock_counters; mu plays the row lock and is
// held by the test for the span of one "transaction".
type counterStore struct {
	mu       sync.Mutex
	counters map[inventory.CounterKey]inventory.StockCounter
	order    []inventory.CounterKey
}

func newCounterStore() *counterStore {
	return &counterStore{counters: make(map[inventory.CounterKey]inventory.StockCounter)}
}

func (s *counterStore) GetCounterForUpdate(_ context.Context, key inventory.CounterKey) (inventory.StockCounter, error) {
	c, ok := s.counters[key]
	if !ok {
		return inventory.StockCounter{}, inventory.ErrCounterNotFound
	}
	s.order = append(s.order, key)
	return c, nil
}

func (s *counterStore) InsertCounter(_ context.Context, key inventory.CounterKey) error {
	if _, ok := s.counters[key]; !ok {
		s.counters[key] = inventory.ZeroCounter(key)
	}
	return nil
}

func (s *counterStore) SaveCounter(_ context.Context, c inventory.StockCounter) error {
	s.counters[c.CounterKey] = c
	return nil
}

type shortfallRecorder struct{ total decimal.Decimal }

func (r *shortfallRecorder) ObserveShortfall(q decimal.Decimal) { r.total = r.total.Add(q) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var key = inventory.CounterKey{LocationID: 1, VariantID: 100}

func seed(store *counterStore, onHand, reserved string) {
	store.counters[key] = inventory.StockCounter{CounterKey: key, QtyOnHand: dec(onHand), QtyReserved: dec(reserved)}
}

func TestHardReservationRejectsBeyondAvailable(t *testing.T) {
	store := newCounterStore()
	seed(store, "50", "0")
	m := NewManager(ledger.DefaultTolerance, nil)

	reserved, err := m.Reserve(context.Background(), store, key, dec("70"), StrictnessHard)
	require.ErrorIs(t, err, ErrInsufficientAvailable)
	require.ErrorIs(t, err, shared.ErrBusinessRule)
	require.True(t, reserved.IsZero())
	require.True(t, store.counters[key].QtyReserved.IsZero())
}

func TestSoftReservationReservesAvailable(t *testing.T) {
	store := newCounterStore()
	seed(store, "50", "10")
	rec := &shortfallRecorder{}
	m := NewManager(ledger.DefaultTolerance, rec)

	reserved, err := m.Reserve(context.Background(), store, key, dec("70"), StrictnessSoft)
	require.NoError(t, err)
	require.True(t, dec("40").Equal(reserved), reserved.String())
	require.True(t, dec("50").Equal(store.counters[key].QtyReserved))
	require.True(t, dec("30").Equal(rec.total))

	// nothing left: soft reserves zero and still succeeds
	reserved, err = m.Reserve(context.Background(), store, key, dec("5"), StrictnessSoft)
	require.NoError(t, err)
	require.True(t, reserved.IsZero())
}

func TestReservationWithinToleranceIsFull(t *testing.T) {
	store := newCounterStore()
	seed(store, "10", "0")
	m := NewManager(ledger.DefaultTolerance, nil)
	reserved, err := m.Reserve(context.Background(), store, key, dec("10.0004"), StrictnessHard)
	require.NoError(t, err)
	require.Equal(t, "10.000", reserved.StringFixed(3))
}

func TestReserveCreatesMissingCounter(t *testing.T) {
	store := newCounterStore()
	m := NewManager(ledger.DefaultTolerance, nil)
	reserved, err := m.Reserve(context.Background(), store, key, dec("3"), StrictnessSoft)
	require.NoError(t, err)
	require.True(t, reserved.IsZero())
	_, ok := store.counters[key]
	require.True(t, ok)
}

func TestReleaseIsIdempotentAndClamps(t *testing.T) {
	store := newCounterStore()
	seed(store, "50", "30")
	m := NewManager(ledger.DefaultTolerance, nil)
	ctx := context.Background()

	counter, err := m.Release(ctx, store, key, dec("20"))
	require.NoError(t, err)
	require.True(t, dec("10").Equal(counter.QtyReserved))

	counter, err = m.Release(ctx, store, key, dec("20"))
	require.NoError(t, err)
	require.True(t, counter.QtyReserved.IsZero())

	counter, err = m.Release(ctx, store, key, dec("20"))
	require.NoError(t, err)
	require.True(t, counter.QtyReserved.IsZero())

	_, err = m.Release(ctx, store, key, dec("-1"))
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestReserveAllLocksInKeyOrder(t *testing.T) {
	store := newCounterStore()
	m := NewManager(ledger.DefaultTolerance, nil)
	k1 := inventory.CounterKey{LocationID: 2, VariantID: 1}
	k2 := inventory.CounterKey{LocationID: 1, VariantID: 9}
	k3 := inventory.CounterKey{LocationID: 1, VariantID: 3}
	for _, k := range []inventory.CounterKey{k1, k2, k3} {
		store.counters[k] = inventory.StockCounter{CounterKey: k, QtyOnHand: dec("5")}
	}

	results, err := m.ReserveAll(context.Background(), store, []Request{
		{Key: k1, Requested: dec("1"), Ref: 1},
		{Key: k2, Requested: dec("2"), Ref: 2},
		{Key: k3, Requested: dec("3"), Ref: 3},
	}, StrictnessHard)
	require.NoError(t, err)
	require.Equal(t, []inventory.CounterKey{k3, k2, k1}, store.order)
	require.Len(t, results, 3)
	require.Equal(t, int64(3), results[0].Ref)

	require.NoError(t, m.ReleaseAll(context.Background(), store, []Request{{Key: k1, Requested: dec("1")}}))
	require.True(t, store.counters[k1].QtyReserved.IsZero())
}

func TestConcurrentHardReservationsNeverOversell(t *testing.T) {
	store := newCounterStore()
	seed(store, "50", "0")
	m := NewManager(ledger.DefaultTolerance, nil)

	var wg sync.WaitGroup
	var okMu sync.Mutex
	succeeded := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.mu.Lock()
			_, err := m.Reserve(context.Background(), store, key, dec("10"), StrictnessHard)
			store.mu.Unlock()
			if err == nil {
				okMu.Lock()
				succeeded++
				okMu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 5, succeeded)
	require.True(t, dec("50").Equal(store.counters[key].QtyReserved))
}

func TestParseStrictness(t *testing.T) {
	require.Equal(t, StrictnessSoft, ParseStrictness(" Soft "))
	require.Equal(t, StrictnessHard, ParseStrictness("hard"))
	require.Equal(t, StrictnessHard, ParseStrictness(""))
}
