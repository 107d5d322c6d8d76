package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
)

// TxStore implements MovementStore on an open pgx transaction.
type TxStore struct {
	q db.Querier
}

// NewTxStore binds the store to tx.
func NewTxStore(q db.Querier) *TxStore {
	return &TxStore{q: q}
}

// GetCounterForUpdate locks the stock counter row.
func (s *TxStore) GetCounterForUpdate(ctx context.Context, key CounterKey) (StockCounter, error) {
	counter := StockCounter{CounterKey: key}
	err := s.q.QueryRow(ctx, `SELECT qty_on_hand, qty_reserved, avg_cost, updated_at
FROM stock_counters
WHERE location_id=$1 AND variant_id=$2 AND lot_id=$3
FOR UPDATE`, key.LocationID, key.VariantID, key.LotID).
		Scan(&counter.QtyOnHand, &counter.QtyReserved, &counter.AvgCost, &counter.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockCounter{}, ErrCounterNotFound
	}
	if err != nil {
		return StockCounter{}, db.Classify("inventory: lock counter", err)
	}
	return counter, nil
}

// InsertCounter creates a zero counter if absent.
func (s *TxStore) InsertCounter(ctx context.Context, key CounterKey) error {
	_, err := s.q.Exec(ctx, `INSERT INTO stock_counters (location_id, variant_id, lot_id, qty_on_hand, qty_reserved, avg_cost, updated_at)
VALUES ($1, $2, $3, 0, 0, 0, NOW())
ON CONFLICT (location_id, variant_id, lot_id) DO NOTHING`, key.LocationID, key.VariantID, key.LotID)
	return db.Classify("inventory: insert counter", err)
}

// SaveCounter writes back a locked counter.
func (s *TxStore) SaveCounter(ctx context.Context, counter StockCounter) error {
	_, err := s.q.Exec(ctx, `UPDATE stock_counters
SET qty_on_hand=$4, qty_reserved=$5, avg_cost=$6, updated_at=NOW()
WHERE location_id=$1 AND variant_id=$2 AND lot_id=$3`,
		counter.LocationID, counter.VariantID, counter.LotID, counter.QtyOnHand, counter.QtyReserved, counter.AvgCost)
	return db.Classify("inventory: save counter", err)
}

// InsertTransaction stores the movement header.
func (s *TxStore) InsertTransaction(ctx context.Context, tx Transaction) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO inventory_transactions (code, tx_type, location_id, source_kind, source_id, note, posted_at, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`, tx.Code, tx.Type, tx.LocationID, string(tx.Source.Kind), tx.Source.ID, tx.Note, tx.PostedAt, tx.CreatedBy).Scan(&id)
	if err != nil {
		return 0, db.Classify("inventory: insert transaction", err)
	}
	return id, nil
}

// InsertTransactionLines stores the movement lines.
func (s *TxStore) InsertTransactionLines(ctx context.Context, txID int64, lines []TransactionLine) error {
	if len(lines) == 0 {
		return nil
	}
	for _, line := range lines {
		if _, err := s.q.Exec(ctx, `INSERT INTO inventory_transaction_lines (transaction_id, variant_id, lot_id, qty, unit_cost)
VALUES ($1, $2, $3, $4, $5)`, txID, line.VariantID, line.LotID, line.Qty, line.UnitCost); err != nil {
			return db.Classify("inventory: insert lines", err)
		}
	}
	return nil
}

// InsertCardEntry appends to the stock card.
func (s *TxStore) InsertCardEntry(ctx context.Context, entry StockCardEntry) error {
	_, err := s.q.Exec(ctx, `INSERT INTO inventory_cards (transaction_id, location_id, variant_id, lot_id, tx_code, tx_type, posted_at, qty_in, qty_out, balance_qty, unit_cost, balance_cost)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.TransactionID, entry.Key.LocationID, entry.Key.VariantID, entry.Key.LotID, entry.TxCode, entry.TxType,
		entry.PostedAt, entry.QtyIn, entry.QtyOut, entry.BalanceQty, entry.UnitCost, entry.BalanceCost)
	return db.Classify("inventory: insert card", err)
}
