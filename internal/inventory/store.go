package inventory

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

// CounterStore is the transaction-scoped access to stock counters. Every
// method runs inside the caller's transaction.
type CounterStore interface {
	// GetCounterForUpdate reads the row under an exclusive lock or returns ErrCounterNotFound.
	GetCounterForUpdate(ctx context.Context, key CounterKey) (StockCounter, error)
	// InsertCounter creates a zero row; a concurrent insert of the same key is not an error.
	InsertCounter(ctx context.Context, key CounterKey) error
	SaveCounter(ctx context.Context, counter StockCounter) error
}

// MovementStore adds the movement journal to CounterStore.
type MovementStore interface {
	CounterStore
	InsertTransaction(ctx context.Context, tx Transaction) (int64, error)
	InsertTransactionLines(ctx context.Context, txID int64, lines []TransactionLine) error
	InsertCardEntry(ctx context.Context, entry StockCardEntry) error
}

// LockCounter returns the counter for key under an exclusive lock, creating
// a zero row first when none exists and then locking it again so two callers
// racing on a missing row both end up serialized on the same lock.
func LockCounter(ctx context.Context, store CounterStore, key CounterKey) (StockCounter, error) {
	counter, err := store.GetCounterForUpdate(ctx, key)
	if err == nil {
		return counter, nil
	}
	if !errors.Is(err, ErrCounterNotFound) {
		return StockCounter{}, err
	}
	if err := store.InsertCounter(ctx, key); err != nil {
		return StockCounter{}, err
	}
	return store.GetCounterForUpdate(ctx, key)
}

// SortKeys orders keys ascending by (location, variant, lot).
func SortKeys(keys []CounterKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// ZeroCounter returns an empty counter for key.
func ZeroCounter(key CounterKey) StockCounter {
	return StockCounter{CounterKey: key, QtyOnHand: decimal.Zero, QtyReserved: decimal.Zero, AvgCost: decimal.Zero}
}
