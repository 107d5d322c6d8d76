package sequence

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
)

// tables maps each kind to the header table carrying its numbering columns.
var tables = map[docref.Kind]string{
	docref.KindOrder:    "sales_orders",
	docref.KindDelivery: "deliveries",
	docref.KindInvoice:  "sales_invoices",
	docref.KindReturn:   "sales_returns",
}

// TxStore implements Store on an open transaction.
type TxStore struct {
	q db.Querier
}

// NewTxStore binds the store to a transaction.
func NewTxStore(q db.Querier) *TxStore {
	return &TxStore{q: q}
}

// LockScope takes a transaction scoped advisory lock.
func (s *TxStore) LockScope(ctx context.Context, scope Scope) error {
	_, err := s.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scope.LockKey())
	return db.Classify("sequence: lock scope", err)
}

// MaxSequence reads the highest number without filtering deleted_at.
func (s *TxStore) MaxSequence(ctx context.Context, scope Scope) (int, error) {
	table, ok := tables[scope.Kind]
	if !ok {
		return 0, fmt.Errorf("sequence: no table for %s", scope.Kind)
	}
	var highest int
	err := s.q.QueryRow(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(doc_seq), 0) FROM %s
WHERE branch_id=$1 AND doc_prefix=$2 AND doc_year=$3`, table), scope.BranchID, scope.Prefix, scope.Year).Scan(&highest)
	if err != nil {
		return 0, db.Classify("sequence: highest", err)
	}
	return highest, nil
}
