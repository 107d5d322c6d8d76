package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/inventory"
	"github.com/odyssey-erp/odyssey-o2c/internal/ledger"
	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
	"github.com/odyssey-erp/odyssey-o2c/internal/sequence"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
)

// LineStore is the order access shared by every posting that draws from an
// order. All methods run inside the caller's transaction.
type LineStore interface {
	// LockOrder locks the header row. Soft-deleted orders are not found.
	LockOrder(ctx context.Context, id int64) (Order, error)
	// LockOrderLines locks the given lines of orderID in ascending id order,
	// or every line when ids is empty, and returns them in that order.
	LockOrderLines(ctx context.Context, orderID int64, ids []int64) ([]OrderLine, error)
	// OrderLines reads every line without locking.
	OrderLines(ctx context.Context, orderID int64) ([]OrderLine, error)
	SaveOrderLine(ctx context.Context, line OrderLine) error
	SaveOrder(ctx context.Context, order Order) error
}

// Support is the cross-cutting access every posting transaction needs.
type Support interface {
	Inventory() inventory.MovementStore
	Sequences() sequence.Store
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	LineStore
	Support
	InsertOrder(ctx context.Context, order Order) (int64, error)
	InsertOrderLine(ctx context.Context, line OrderLine) (int64, error)
	DeleteOrderLines(ctx context.Context, orderID int64) error
	SoftDeleteOrder(ctx context.Context, id int64, at time.Time) error
}

// RepositoryPort is what Service needs from storage.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (Order, error)
}

// Repository provides PostgreSQL backed persistence for orders.
type Repository struct {
	pool *pgxpool.Pool
	opts db.TxOptions
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, opts db.TxOptions) *Repository {
	return &Repository{pool: pool, opts: opts}
}

type txRepo struct {
	*OrderTx
	*TxSupport
	tx pgx.Tx
}

// WithTx wraps callback in a READ COMMITTED transaction with row locks.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, r.opts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{OrderTx: NewOrderTx(tx), TxSupport: NewTxSupport(tx), tx: tx})
	})
}

// GetOrder loads a live order with its lines.
func (r *Repository) GetOrder(ctx context.Context, id int64) (Order, error) {
	q := NewOrderTx(r.pool)
	order, err := q.scanOrder(ctx, orderSelect+` WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return Order{}, err
	}
	order.Lines, err = q.OrderLines(ctx, id)
	return order, err
}

// ResolveHeader implements docref.Resolver.
func (r *Repository) ResolveHeader(ctx context.Context, id int64) (docref.Header, error) {
	order, err := NewOrderTx(r.pool).scanOrder(ctx, orderSelect+` WHERE id=$1`, id)
	if err != nil {
		return docref.Header{}, err
	}
	return docref.Header{
		Ref:       docref.Order(order.ID),
		Number:    order.DocNumber,
		Status:    string(order.Status),
		CompanyID: order.CompanyID,
		BranchID:  order.BranchID,
		DeletedAt: order.DeletedAt,
	}, nil
}

func (t *txRepo) InsertOrder(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sales_orders (company_id, branch_id, customer_id, location_id, doc_number, doc_prefix, doc_year, doc_seq,
  order_date, currency, exchange_rate, status, subtotal, tax_amount, total_amount, total_base, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW(), NOW())
RETURNING id`,
		o.CompanyID, o.BranchID, o.CustomerID, o.LocationID, o.DocNumber, o.DocPrefix, o.DocYear, o.DocSeq,
		o.OrderDate, o.Currency, o.ExchangeRate, o.Status, o.Subtotal, o.TaxAmount, o.TotalAmount, o.TotalBase, o.Notes, o.CreatedBy).Scan(&id)
	if err != nil {
		return 0, db.Classify("sales: insert order", err)
	}
	return id, nil
}

func (t *txRepo) InsertOrderLine(ctx context.Context, l OrderLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO sales_order_lines (order_id, line_no, product_id, variant_id, lot_id, uom_id, base_uom_id,
  quantity, quantity_base, unit_price, discount_percent, discount_amount, tax_percent, tax_amount, tax_inclusive,
  line_subtotal, line_total, price_rule_id, tax_rule_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
RETURNING id`,
		l.OrderID, l.LineNo, l.ProductID, l.VariantID, l.LotID, l.UOMID, l.BaseUOMID,
		l.Quantity, l.QuantityBase, l.UnitPrice, l.DiscountPercent, l.DiscountAmount, l.TaxPercent, l.TaxAmount, l.TaxInclusive,
		l.LineSubtotal, l.LineTotal, l.PriceRuleID, l.TaxRuleID).Scan(&id)
	if err != nil {
		return 0, db.Classify("sales: insert order line", err)
	}
	return id, nil
}

func (t *txRepo) DeleteOrderLines(ctx context.Context, orderID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM sales_order_lines WHERE order_id=$1`, orderID)
	return db.Classify("sales: delete order lines", err)
}

func (t *txRepo) SoftDeleteOrder(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE sales_orders SET deleted_at=$2, updated_at=$2 WHERE id=$1 AND deleted_at IS NULL`, id, at)
	return db.Classify("sales: delete order", err)
}

// OrderTx implements LineStore. Downstream repositories embed it so every
// posting locks order rows with the same statements.
type OrderTx struct {
	q db.Querier
}

// NewOrderTx binds OrderTx to a transaction or pool.
func NewOrderTx(q db.Querier) *OrderTx {
	return &OrderTx{q: q}
}

const orderSelect = `SELECT id, company_id, branch_id, customer_id, location_id, doc_number, doc_prefix, doc_year, doc_seq,
  order_date, currency, exchange_rate, status, subtotal, tax_amount, total_amount, total_base, notes, created_by,
  confirmed_by, confirmed_at, closed_at, cancelled_by, cancelled_at, created_at, updated_at, deleted_at
FROM sales_orders`

const lineSelect = `SELECT id, order_id, line_no, product_id, variant_id, lot_id, uom_id, base_uom_id,
  quantity, quantity_base, quantity_reserved, quantity_reserved_base, quantity_delivered, quantity_delivered_base,
  quantity_returned, quantity_returned_base, quantity_invoiced, quantity_invoiced_base, amount_invoiced,
  unit_price, discount_percent, discount_amount, tax_percent, tax_amount, tax_inclusive, line_subtotal, line_total,
  price_rule_id, tax_rule_id
FROM sales_order_lines`

func (o *OrderTx) scanOrder(ctx context.Context, sql string, args ...any) (Order, error) {
	var order Order
	err := o.q.QueryRow(ctx, sql, args...).Scan(
		&order.ID, &order.CompanyID, &order.BranchID, &order.CustomerID, &order.LocationID,
		&order.DocNumber, &order.DocPrefix, &order.DocYear, &order.DocSeq,
		&order.OrderDate, &order.Currency, &order.ExchangeRate, &order.Status,
		&order.Subtotal, &order.TaxAmount, &order.TotalAmount, &order.TotalBase, &order.Notes, &order.CreatedBy,
		&order.ConfirmedBy, &order.ConfirmedAt, &order.ClosedAt, &order.CancelledBy, &order.CancelledAt,
		&order.CreatedAt, &order.UpdatedAt, &order.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w: %w", ErrOrderNotFound, shared.ErrNotFound)
	}
	if err != nil {
		return Order{}, db.Classify("sales: load order", err)
	}
	return order, nil
}

func (o *OrderTx) scanLines(ctx context.Context, sql string, args ...any) ([]OrderLine, error) {
	rows, err := o.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, db.Classify("sales: load order lines", err)
	}
	defer rows.Close()
	var lines []OrderLine
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.LineNo, &l.ProductID, &l.VariantID, &l.LotID, &l.UOMID, &l.BaseUOMID,
			&l.Quantity, &l.QuantityBase, &l.QuantityReserved, &l.QuantityReservedBase, &l.QuantityDelivered, &l.QuantityDeliveredBase,
			&l.QuantityReturned, &l.QuantityReturnedBase, &l.QuantityInvoiced, &l.QuantityInvoicedBase, &l.AmountInvoiced,
			&l.UnitPrice, &l.DiscountPercent, &l.DiscountAmount, &l.TaxPercent, &l.TaxAmount, &l.TaxInclusive,
			&l.LineSubtotal, &l.LineTotal, &l.PriceRuleID, &l.TaxRuleID); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify("sales: load order lines", err)
	}
	return lines, nil
}

// LockOrder implements LineStore.
func (o *OrderTx) LockOrder(ctx context.Context, id int64) (Order, error) {
	return o.scanOrder(ctx, orderSelect+` WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, id)
}

// LockOrderLines implements LineStore with one batched statement.
func (o *OrderTx) LockOrderLines(ctx context.Context, orderID int64, ids []int64) ([]OrderLine, error) {
	if len(ids) == 0 {
		return o.scanLines(ctx, lineSelect+` WHERE order_id=$1 ORDER BY id FOR UPDATE`, orderID)
	}
	sorted := ledger.SortedIDs(ids)
	lines, err := o.scanLines(ctx, lineSelect+` WHERE order_id=$1 AND id = ANY($2) ORDER BY id FOR UPDATE`, orderID, sorted)
	if err != nil {
		return nil, err
	}
	if len(lines) != len(sorted) {
		return nil, shared.NewBusinessError("ORDER_LINE_NOT_FOUND", ErrOrderLineNotFound,
			"order %d has %d of %d referenced lines", orderID, len(lines), len(sorted))
	}
	return lines, nil
}

// OrderLines implements LineStore.
func (o *OrderTx) OrderLines(ctx context.Context, orderID int64) ([]OrderLine, error) {
	return o.scanLines(ctx, lineSelect+` WHERE order_id=$1 ORDER BY line_no, id`, orderID)
}

// SaveOrderLine writes back the running counters of a locked line.
func (o *OrderTx) SaveOrderLine(ctx context.Context, l OrderLine) error {
	_, err := o.q.Exec(ctx, `UPDATE sales_order_lines SET
  quantity_reserved=$2, quantity_reserved_base=$3, quantity_delivered=$4, quantity_delivered_base=$5,
  quantity_returned=$6, quantity_returned_base=$7, quantity_invoiced=$8, quantity_invoiced_base=$9, amount_invoiced=$10
WHERE id=$1`,
		l.ID, l.QuantityReserved, l.QuantityReservedBase, l.QuantityDelivered, l.QuantityDeliveredBase,
		l.QuantityReturned, l.QuantityReturnedBase, l.QuantityInvoiced, l.QuantityInvoicedBase, l.AmountInvoiced)
	return db.Classify("sales: save order line", err)
}

// SaveOrder writes back the mutable header fields of a locked order.
func (o *OrderTx) SaveOrder(ctx context.Context, order Order) error {
	_, err := o.q.Exec(ctx, `UPDATE sales_orders SET
  order_date=$2, exchange_rate=$3, status=$4, subtotal=$5, tax_amount=$6, total_amount=$7, total_base=$8, notes=$9,
  confirmed_by=$10, confirmed_at=$11, closed_at=$12, cancelled_by=$13, cancelled_at=$14, updated_at=NOW()
WHERE id=$1`,
		order.ID, order.OrderDate, order.ExchangeRate, order.Status, order.Subtotal, order.TaxAmount, order.TotalAmount, order.TotalBase,
		order.Notes, order.ConfirmedBy, order.ConfirmedAt, order.ClosedAt, order.CancelledBy, order.CancelledAt)
	return db.Classify("sales: save order", err)
}

// TxSupport implements Support on a transaction.
type TxSupport struct {
	q db.Querier
}

// NewTxSupport binds TxSupport to tx.
func NewTxSupport(q db.Querier) *TxSupport {
	return &TxSupport{q: q}
}

// Inventory returns the stock counter and movement store.
func (s *TxSupport) Inventory() inventory.MovementStore { return inventory.NewTxStore(s.q) }

// Sequences returns the numbering store.
func (s *TxSupport) Sequences() sequence.Store { return sequence.NewTxStore(s.q) }

// RecordAudit writes an audit_logs row in the same transaction.
func (s *TxSupport) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.NewAuditLogger(s.q).Record(ctx, log)
}
