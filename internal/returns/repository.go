package returns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-o2c/internal/delivery"
	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
	"github.com/odyssey-erp/odyssey-o2c/internal/sales"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	sales.LineStore
	sales.Support
	delivery.LineStore
	LockReturn(ctx context.Context, id int64) (Return, error)
	ReturnLines(ctx context.Context, returnID int64) ([]Line, error)
	InsertReturn(ctx context.Context, r Return) (int64, error)
	InsertReturnLine(ctx context.Context, line Line) (int64, error)
	DeleteReturnLines(ctx context.Context, returnID int64) error
	SaveReturn(ctx context.Context, r Return) error
	SaveReturnLine(ctx context.Context, line Line) error
	SoftDeleteReturn(ctx context.Context, id int64, at time.Time) error
}

// RepositoryPort is what Service needs from storage.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReturn(ctx context.Context, id int64) (Return, error)
}

// Repository provides PostgreSQL backed persistence for returns.
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
	*delivery.LineTx
	*returnTx
}

// WithTx wraps callback in a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, r.opts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			OrderTx:   sales.NewOrderTx(tx),
			TxSupport: sales.NewTxSupport(tx),
			LineTx:    delivery.NewLineTx(tx),
			returnTx:  &returnTx{q: tx},
		})
	})
}

// GetReturn loads a live return with its lines.
func (r *Repository) GetReturn(ctx context.Context, id int64) (Return, error) {
	q := &returnTx{q: r.pool}
	ret, err := q.scanReturn(ctx, returnSelect+` WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return Return{}, err
	}
	ret.Lines, err = q.ReturnLines(ctx, id)
	return ret, err
}

// ResolveHeader implements docref.Resolver.
func (r *Repository) ResolveHeader(ctx context.Context, id int64) (docref.Header, error) {
	ret, err := (&returnTx{q: r.pool}).scanReturn(ctx, returnSelect+` WHERE id=$1`, id)
	if err != nil {
		return docref.Header{}, err
	}
	return docref.Header{
		Ref:       docref.Return(ret.ID),
		Number:    ret.DocNumber,
		Status:    string(ret.Status),
		CompanyID: ret.CompanyID,
		BranchID:  ret.BranchID,
		DeletedAt: ret.DeletedAt,
	}, nil
}

type returnTx struct {
	q db.Querier
}

const returnSelect = `SELECT id, company_id, branch_id, order_id, delivery_id, location_id, doc_number, doc_prefix, doc_year, doc_seq,
  return_date, currency, exchange_rate, status, cost_value_base, inventory_transaction_id, reason, created_by,
  posted_by, posted_at, cancelled_at, created_at, updated_at, deleted_at
FROM sales_returns`

const returnLineSelect = `SELECT id, return_id, delivery_line_id, order_line_id, line_no, product_id, variant_id, lot_id,
  quantity, quantity_base, unit_cost_base, value_base
FROM sales_return_lines`

func (t *returnTx) scanReturn(ctx context.Context, sql string, args ...any) (Return, error) {
	var r Return
	err := t.q.QueryRow(ctx, sql, args...).Scan(
		&r.ID, &r.CompanyID, &r.BranchID, &r.OrderID, &r.DeliveryID, &r.LocationID,
		&r.DocNumber, &r.DocPrefix, &r.DocYear, &r.DocSeq,
		&r.ReturnDate, &r.Currency, &r.ExchangeRate, &r.Status, &r.CostValueBase, &r.InventoryTransactionID,
		&r.Reason, &r.CreatedBy, &r.PostedBy, &r.PostedAt, &r.CancelledAt, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Return{}, fmt.Errorf("%w: %w", ErrReturnNotFound, shared.ErrNotFound)
	}
	if err != nil {
		return Return{}, db.Classify("returns: load", err)
	}
	return r, nil
}

func (t *returnTx) LockReturn(ctx context.Context, id int64) (Return, error) {
	return t.scanReturn(ctx, returnSelect+` WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, id)
}

func (t *returnTx) ReturnLines(ctx context.Context, returnID int64) ([]Line, error) {
	rows, err := t.q.Query(ctx, returnLineSelect+` WHERE return_id=$1 ORDER BY line_no, id`, returnID)
	if err != nil {
		return nil, db.Classify("returns: load lines", err)
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.ReturnID, &l.DeliveryLineID, &l.OrderLineID, &l.LineNo, &l.ProductID, &l.VariantID, &l.LotID,
			&l.Quantity, &l.QuantityBase, &l.UnitCostBase, &l.ValueBase); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify("returns: load lines", err)
	}
	return lines, nil
}

func (t *returnTx) InsertReturn(ctx context.Context, r Return) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO sales_returns (company_id, branch_id, order_id, delivery_id, location_id,
  doc_number, doc_prefix, doc_year, doc_seq, return_date, currency, exchange_rate, status, cost_value_base, reason, created_by,
  created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 0, $14, $15, NOW(), NOW())
RETURNING id`,
		r.CompanyID, r.BranchID, r.OrderID, r.DeliveryID, r.LocationID,
		r.DocNumber, r.DocPrefix, r.DocYear, r.DocSeq, r.ReturnDate, r.Currency, r.ExchangeRate, r.Status, r.Reason, r.CreatedBy).Scan(&id)
	if err != nil {
		return 0, db.Classify("returns: insert", err)
	}
	return id, nil
}

func (t *returnTx) InsertReturnLine(ctx context.Context, l Line) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO sales_return_lines (return_id, delivery_line_id, order_line_id, line_no, product_id, variant_id, lot_id,
  quantity, quantity_base)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`,
		l.ReturnID, l.DeliveryLineID, l.OrderLineID, l.LineNo, l.ProductID, l.VariantID, l.LotID, l.Quantity, l.QuantityBase).Scan(&id)
	if err != nil {
		return 0, db.Classify("returns: insert line", err)
	}
	return id, nil
}

func (t *returnTx) DeleteReturnLines(ctx context.Context, returnID int64) error {
	_, err := t.q.Exec(ctx, `DELETE FROM sales_return_lines WHERE return_id=$1`, returnID)
	return db.Classify("returns: delete lines", err)
}

func (t *returnTx) SaveReturn(ctx context.Context, r Return) error {
	_, err := t.q.Exec(ctx, `UPDATE sales_returns SET
  return_date=$2, status=$3, cost_value_base=$4, inventory_transaction_id=$5, reason=$6,
  posted_by=$7, posted_at=$8, cancelled_at=$9, updated_at=NOW()
WHERE id=$1`,
		r.ID, r.ReturnDate, r.Status, r.CostValueBase, r.InventoryTransactionID, r.Reason, r.PostedBy, r.PostedAt, r.CancelledAt)
	return db.Classify("returns: save", err)
}

func (t *returnTx) SaveReturnLine(ctx context.Context, l Line) error {
	_, err := t.q.Exec(ctx, `UPDATE sales_return_lines SET quantity_base=$2, unit_cost_base=$3, value_base=$4 WHERE id=$1`,
		l.ID, l.QuantityBase, l.UnitCostBase, l.ValueBase)
	return db.Classify("returns: save line", err)
}

func (t *returnTx) SoftDeleteReturn(ctx context.Context, id int64, at time.Time) error {
	_, err := t.q.Exec(ctx, `UPDATE sales_returns SET deleted_at=$2, updated_at=$2 WHERE id=$1 AND deleted_at IS NULL`, id, at)
	return db.Classify("returns: delete", err)
}
