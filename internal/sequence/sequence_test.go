package sequence

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
)

// memStore keeps numbers per scope; deleted numbers stay in the slice.
type memStore struct {
	mu      sync.Mutex
	numbers map[string][]int
}

func (m *memStore) LockScope(context.Context, Scope) error { return nil }

func (m *memStore) MaxSequence(_ context.Context, scope Scope) (int, error) {
	highest := 0
	for _, n := range m.numbers[scope.LockKey()] {
		if n > highest {
			highest = n
		}
	}
	return highest, nil
}

func (m *memStore) insert(scope Scope, seq int) {
	m.numbers[scope.LockKey()] = append(m.numbers[scope.LockKey()], seq)
}

var tenant = shared.TenantContext{CompanyID: 1, BranchID: 4, CompanyCode: "ACME", BranchCode: "JKT"}

func TestNextFormatsAndIncrements(t *testing.T) {
	store := &memStore{numbers: map[string][]int{}}
	gen := NewGenerator()
	scope := NewScope(docref.KindOrder, tenant, 2026)

	n, err := gen.Next(context.Background(), store, scope)
	require.NoError(t, err)
	require.Equal(t, "SO-ACME-JKT-26-00001", n.Value)
	store.insert(scope, n.Seq)

	// a soft-deleted document keeps its number, so the next one skips it
	store.insert(scope, 2)
	n, err = gen.Next(context.Background(), store, scope)
	require.NoError(t, err)
	require.Equal(t, 3, n.Seq)

	// other year and other prefix are separate series
	n, err = gen.Next(context.Background(), store, NewScope(docref.KindOrder, tenant, 2027))
	require.NoError(t, err)
	require.Equal(t, "SO-ACME-JKT-27-00001", n.Value)
	n, err = gen.Next(context.Background(), store, NewScope(docref.KindInvoice, tenant, 2026))
	require.NoError(t, err)
	require.Equal(t, "SI-ACME-JKT-26-00001", n.Value)
}

func TestNextIsGaplessUnderSerializedInserts(t *testing.T) {
	store := &memStore{numbers: map[string][]int{}}
	gen := NewGenerator()
	scope := NewScope(docref.KindDelivery, tenant, 2026)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// the mutex stands in for the advisory lock held until commit
			store.mu.Lock()
			defer store.mu.Unlock()
			n, err := gen.Next(context.Background(), store, scope)
			if err == nil {
				store.insert(scope, n.Seq)
			}
		}()
	}
	wg.Wait()

	seen := map[int]bool{}
	for _, n := range store.numbers[scope.LockKey()] {
		require.False(t, seen[n], fmt.Sprintf("duplicate %d", n))
		seen[n] = true
	}
	for i := 1; i <= 20; i++ {
		require.True(t, seen[i], fmt.Sprintf("gap at %d", i))
	}
}

func TestParse(t *testing.T) {
	p, err := Parse("SR-ACME-JKT-26-00042")
	require.NoError(t, err)
	require.Equal(t, Parsed{Prefix: "SR", CompanyCode: "ACME", BranchCode: "JKT", YearSegment: "26", Seq: 42}, p)

	_, err = Parse("SR-ACME-26-00042")
	require.ErrorIs(t, err, ErrInvalidNumber)
	_, err = Parse("SR-ACME-JKT-2026-00042")
	require.ErrorIs(t, err, ErrInvalidNumber)
}

func TestScopeValidation(t *testing.T) {
	_, err := NewGenerator().Next(context.Background(), &memStore{}, NewScope(docref.KindOrder, shared.TenantContext{}, 2026))
	require.Error(t, err)
	bad := NewScope(docref.KindOrder, shared.TenantContext{CompanyCode: "A-B", BranchCode: "X", BranchID: 1}, 2026)
	require.Error(t, bad.Validate())
}
