package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/ledger"
	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
	"github.com/odyssey-erp/odyssey-o2c/internal/sales"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
)

// LineStore is the delivery access invoice and return postings draw from.
type LineStore interface {
	// DeliveryHeader reads a live delivery header without locking it.
	DeliveryHeader(ctx context.Context, id int64) (Delivery, error)
	// LockDeliveryLines locks ids in ascending order, joined with their header.
	LockDeliveryLines(ctx context.Context, ids []int64) ([]Line, error)
	SaveDeliveryLine(ctx context.Context, line Line) error
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	sales.LineStore
	sales.Support
	LineStore
	LockDelivery(ctx context.Context, id int64) (Delivery, error)
	DeliveryLines(ctx context.Context, deliveryID int64) ([]Line, error)
	InsertDelivery(ctx context.Context, d Delivery) (int64, error)
	InsertDeliveryLine(ctx context.Context, line Line) (int64, error)
	SaveDelivery(ctx context.Context, d Delivery) error
	SoftDeleteDelivery(ctx context.Context, id int64, at time.Time) error
}

// RepositoryPort is what Service needs from storage.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDelivery(ctx context.Context, id int64) (Delivery, error)
}

// Repository provides PostgreSQL backed persistence for deliveries.
type Repository struct {
	pool *pgxpool.Pool
	opts db.TxOptions
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, opts db.TxOptions) *Repository {
	return &Repository{pool: pool, opts: opts}
}

type txRepo struct {
	*sales.OrderTx
	*sales.TxSupport
	*LineTx
}

// WithTx wraps callback in a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, r.opts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{OrderTx: sales.NewOrderTx(tx), TxSupport: sales.NewTxSupport(tx), LineTx: NewLineTx(tx)})
	})
}

// GetDelivery loads a live delivery with its lines.
func (r *Repository) GetDelivery(ctx context.Context, id int64) (Delivery, error) {
	q := NewLineTx(r.pool)
	d, err := q.DeliveryHeader(ctx, id)
	if err != nil {
		return Delivery{}, err
	}
	d.Lines, err = q.DeliveryLines(ctx, id)
	return d, err
}

// ResolveHeader implements docref.Resolver.
func (r *Repository) ResolveHeader(ctx context.Context, id int64) (docref.Header, error) {
	d, err := NewLineTx(r.pool).scanDelivery(ctx, deliverySelect+` WHERE id=$1`, id)
	if err != nil {
		return docref.Header{}, err
	}
	return docref.Header{
		Ref:       docref.Delivery(d.ID),
		Number:    d.DocNumber,
		Status:    string(d.Status),
		CompanyID: d.CompanyID,
		BranchID:  d.BranchID,
		DeletedAt: d.DeletedAt,
	}, nil
}

// LineTx implements LineStore and the delivery header statements on a
// transaction. Invoice and return repositories embed it.
type LineTx struct {
	q db.Querier
}

// NewLineTx binds LineTx to a transaction or pool.
func NewLineTx(q db.Querier) *LineTx {
	return &LineTx{q: q}
}

const deliverySelect = `SELECT id, company_id, branch_id, order_id, location_id, doc_number, doc_prefix, doc_year, doc_seq,
  delivery_date, currency, exchange_rate, status, cost_value_base, inventory_transaction_id, notes, created_by,
  posted_by, posted_at, created_at, updated_at, deleted_at
FROM deliveries`

const lineSelect = `SELECT l.id, l.delivery_id, l.order_line_id, l.line_no, l.product_id, l.variant_id, l.lot_id,
  l.quantity, l.quantity_base, l.quantity_invoiced, l.quantity_invoiced_base, l.quantity_returned, l.quantity_returned_base,
  l.unit_cost_base, l.value_base, d.order_id, d.status
FROM delivery_lines l
JOIN deliveries d ON d.id = l.delivery_id`

func (t *LineTx) scanDelivery(ctx context.Context, sql string, args ...any) (Delivery, error) {
	var d Delivery
	err := t.q.QueryRow(ctx, sql, args...).Scan(
		&d.ID, &d.CompanyID, &d.BranchID, &d.OrderID, &d.LocationID,
		&d.DocNumber, &d.DocPrefix, &d.DocYear, &d.DocSeq,
		&d.DeliveryDate, &d.Currency, &d.ExchangeRate, &d.Status, &d.CostValueBase, &d.InventoryTransactionID,
		&d.Notes, &d.CreatedBy, &d.PostedBy, &d.PostedAt, &d.CreatedAt, &d.UpdatedAt, &d.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, fmt.Errorf("%w: %w", ErrDeliveryNotFound, shared.ErrNotFound)
	}
	if err != nil {
		return Delivery{}, db.Classify("delivery: load", err)
	}
	return d, nil
}

func (t *LineTx) scanLines(ctx context.Context, sql string, args ...any) ([]Line, error) {
	rows, err := t.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, db.Classify("delivery: load lines", err)
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.DeliveryID, &l.OrderLineID, &l.LineNo, &l.ProductID, &l.VariantID, &l.LotID,
			&l.Quantity, &l.QuantityBase, &l.QuantityInvoiced, &l.QuantityInvoicedBase, &l.QuantityReturned, &l.QuantityReturnedBase,
			&l.UnitCostBase, &l.ValueBase, &l.OrderID, &l.DeliveryStatus); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify("delivery: load lines", err)
	}
	return lines, nil
}

// DeliveryHeader implements LineStore.
func (t *LineTx) DeliveryHeader(ctx context.Context, id int64) (Delivery, error) {
	return t.scanDelivery(ctx, deliverySelect+` WHERE id=$1 AND deleted_at IS NULL`, id)
}

// LockDelivery locks a live delivery header.
func (t *LineTx) LockDelivery(ctx context.Context, id int64) (Delivery, error) {
	return t.scanDelivery(ctx, deliverySelect+` WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, id)
}

// DeliveryLines reads the lines of one delivery in line order.
func (t *LineTx) DeliveryLines(ctx context.Context, deliveryID int64) ([]Line, error) {
	return t.scanLines(ctx, lineSelect+` WHERE l.delivery_id=$1 ORDER BY l.line_no, l.id`, deliveryID)
}

// LockDeliveryLines implements LineStore with one batched statement.
func (t *LineTx) LockDeliveryLines(ctx context.Context, ids []int64) ([]Line, error) {
	sorted := ledger.SortedIDs(ids)
	if len(sorted) == 0 {
		return nil, nil
	}
	lines, err := t.scanLines(ctx, lineSelect+` WHERE l.id = ANY($1) AND d.deleted_at IS NULL ORDER BY l.id FOR UPDATE OF l`, sorted)
	if err != nil {
		return nil, err
	}
	if len(lines) != len(sorted) {
		return nil, shared.NewBusinessError("DELIVERY_LINE_NOT_FOUND", ErrDeliveryLineNotFound,
			"found %d of %d referenced delivery lines", len(lines), len(sorted))
	}
	return lines, nil
}

// SaveDeliveryLine writes back the counters and cost basis of a locked line.
func (t *LineTx) SaveDeliveryLine(ctx context.Context, l Line) error {
	_, err := t.q.Exec(ctx, `UPDATE delivery_lines SET
  quantity_invoiced=$2, quantity_invoiced_base=$3, quantity_returned=$4, quantity_returned_base=$5,
  unit_cost_base=$6, value_base=$7
WHERE id=$1`,
		l.ID, l.QuantityInvoiced, l.QuantityInvoicedBase, l.QuantityReturned, l.QuantityReturnedBase, l.UnitCostBase, l.ValueBase)
	return db.Classify("delivery: save line", err)
}

// InsertDelivery stores a DRAFT header.
func (t *LineTx) InsertDelivery(ctx context.Context, d Delivery) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO deliveries (company_id, branch_id, order_id, location_id, doc_number, doc_prefix, doc_year, doc_seq,
  delivery_date, currency, exchange_rate, status, cost_value_base, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, $13, $14, NOW(), NOW())
RETURNING id`,
		d.CompanyID, d.BranchID, d.OrderID, d.LocationID, d.DocNumber, d.DocPrefix, d.DocYear, d.DocSeq,
		d.DeliveryDate, d.Currency, d.ExchangeRate, d.Status, d.Notes, d.CreatedBy).Scan(&id)
	if err != nil {
		return 0, db.Classify("delivery: insert", err)
	}
	return id, nil
}

// InsertDeliveryLine stores one line.
func (t *LineTx) InsertDeliveryLine(ctx context.Context, l Line) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO delivery_lines (delivery_id, order_line_id, line_no, product_id, variant_id, lot_id,
  quantity, quantity_base)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		l.DeliveryID, l.OrderLineID, l.LineNo, l.ProductID, l.VariantID, l.LotID, l.Quantity, l.QuantityBase).Scan(&id)
	if err != nil {
		return 0, db.Classify("delivery: insert line", err)
	}
	return id, nil
}

// SaveDelivery writes back the mutable header fields.
func (t *LineTx) SaveDelivery(ctx context.Context, d Delivery) error {
	_, err := t.q.Exec(ctx, `UPDATE deliveries SET
  status=$2, cost_value_base=$3, inventory_transaction_id=$4, notes=$5, posted_by=$6, posted_at=$7, updated_at=NOW()
WHERE id=$1`,
		d.ID, d.Status, d.CostValueBase, d.InventoryTransactionID, d.Notes, d.PostedBy, d.PostedAt)
	return db.Classify("delivery: save", err)
}

// SoftDeleteDelivery hides a draft; its number stays taken.
func (t *LineTx) SoftDeleteDelivery(ctx context.Context, id int64, at time.Time) error {
	_, err := t.q.Exec(ctx, `UPDATE deliveries SET deleted_at=$2, updated_at=$2 WHERE id=$1 AND deleted_at IS NULL`, id, at)
	return db.Classify("delivery: delete", err)
}
