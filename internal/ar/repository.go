package ar

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
	LockInvoice(ctx context.Context, id int64) (Invoice, error)
	InvoiceLines(ctx context.Context, invoiceID int64) ([]Line, error)
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	InsertInvoiceLine(ctx context.Context, line Line) (int64, error)
	DeleteInvoiceLines(ctx context.Context, invoiceID int64) error
	SaveInvoice(ctx context.Context, inv Invoice) error
	SaveInvoiceLine(ctx context.Context, line Line) error
	SoftDeleteInvoice(ctx context.Context, id int64, at time.Time) error
}

// RepositoryPort defines data access methods for AR.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
}

// Repository provides PostgreSQL backed persistence for invoices.
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
	*invoiceTx
}

// WithTx wraps callback in a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, r.opts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			OrderTx:   sales.NewOrderTx(tx),
			TxSupport: sales.NewTxSupport(tx),
			LineTx:    delivery.NewLineTx(tx),
			invoiceTx: &invoiceTx{q: tx},
		})
	})
}

// GetInvoice loads a live invoice with its lines.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	q := &invoiceTx{q: r.pool}
	inv, err := q.scanInvoice(ctx, invoiceSelect+` WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return Invoice{}, err
	}
	inv.Lines, err = q.InvoiceLines(ctx, id)
	return inv, err
}

// ResolveHeader implements docref.Resolver.
func (r *Repository) ResolveHeader(ctx context.Context, id int64) (docref.Header, error) {
	inv, err := (&invoiceTx{q: r.pool}).scanInvoice(ctx, invoiceSelect+` WHERE id=$1`, id)
	if err != nil {
		return docref.Header{}, err
	}
	return docref.Header{
		Ref:       docref.Invoice(inv.ID),
		Number:    inv.DocNumber,
		Status:    string(inv.Status),
		CompanyID: inv.CompanyID,
		BranchID:  inv.BranchID,
		DeletedAt: inv.DeletedAt,
	}, nil
}

type invoiceTx struct {
	q db.Querier
}

const invoiceSelect = `SELECT id, company_id, branch_id, customer_id, order_id, doc_number, doc_prefix, doc_year, doc_seq,
  invoice_date, due_date, currency, exchange_rate, status, subtotal, tax_amount, total_amount,
  subtotal_base, tax_base, total_base, delivery_value_base, revenue_variance, notes, created_by,
  posted_by, posted_at, cancelled_at, created_at, updated_at, deleted_at
FROM sales_invoices`

const invoiceLineSelect = `SELECT id, invoice_id, order_line_id, delivery_line_id, line_no, product_id, variant_id,
  quantity, quantity_base, unit_price, discount_percent, discount_amount, tax_percent, tax_amount, tax_inclusive,
  line_subtotal, line_total, line_total_base, tax_base, delivery_value_base, revenue_variance
FROM sales_invoice_lines`

func (t *invoiceTx) scanInvoice(ctx context.Context, sql string, args ...any) (Invoice, error) {
	var inv Invoice
	err := t.q.QueryRow(ctx, sql, args...).Scan(
		&inv.ID, &inv.CompanyID, &inv.BranchID, &inv.CustomerID, &inv.OrderID,
		&inv.DocNumber, &inv.DocPrefix, &inv.DocYear, &inv.DocSeq,
		&inv.InvoiceDate, &inv.DueDate, &inv.Currency, &inv.ExchangeRate, &inv.Status,
		&inv.Subtotal, &inv.TaxAmount, &inv.TotalAmount,
		&inv.SubtotalBase, &inv.TaxBase, &inv.TotalBase, &inv.DeliveryValueBase, &inv.RevenueVariance,
		&inv.Notes, &inv.CreatedBy, &inv.PostedBy, &inv.PostedAt, &inv.CancelledAt,
		&inv.CreatedAt, &inv.UpdatedAt, &inv.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, fmt.Errorf("%w: %w", ErrInvoiceNotFound, shared.ErrNotFound)
	}
	if err != nil {
		return Invoice{}, db.Classify("ar: load invoice", err)
	}
	return inv, nil
}

func (t *invoiceTx) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return t.scanInvoice(ctx, invoiceSelect+` WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, id)
}

func (t *invoiceTx) InvoiceLines(ctx context.Context, invoiceID int64) ([]Line, error) {
	rows, err := t.q.Query(ctx, invoiceLineSelect+` WHERE invoice_id=$1 ORDER BY line_no, id`, invoiceID)
	if err != nil {
		return nil, db.Classify("ar: load invoice lines", err)
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.OrderLineID, &l.DeliveryLineID, &l.LineNo, &l.ProductID, &l.VariantID,
			&l.Quantity, &l.QuantityBase, &l.UnitPrice, &l.DiscountPercent, &l.DiscountAmount, &l.TaxPercent, &l.TaxAmount, &l.TaxInclusive,
			&l.LineSubtotal, &l.LineTotal, &l.LineTotalBase, &l.TaxBase, &l.DeliveryValueBase, &l.RevenueVariance); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify("ar: load invoice lines", err)
	}
	return lines, nil
}

func (t *invoiceTx) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO sales_invoices (company_id, branch_id, customer_id, order_id, doc_number, doc_prefix, doc_year, doc_seq,
  invoice_date, due_date, currency, exchange_rate, status, subtotal, tax_amount, total_amount, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW(), NOW())
RETURNING id`,
		inv.CompanyID, inv.BranchID, inv.CustomerID, inv.OrderID, inv.DocNumber, inv.DocPrefix, inv.DocYear, inv.DocSeq,
		inv.InvoiceDate, inv.DueDate, inv.Currency, inv.ExchangeRate, inv.Status, inv.Subtotal, inv.TaxAmount, inv.TotalAmount,
		inv.Notes, inv.CreatedBy).Scan(&id)
	if err != nil {
		return 0, db.Classify("ar: insert invoice", err)
	}
	return id, nil
}

func (t *invoiceTx) InsertInvoiceLine(ctx context.Context, l Line) (int64, error) {
	var id int64
	err := t.q.QueryRow(ctx, `INSERT INTO sales_invoice_lines (invoice_id, order_line_id, delivery_line_id, line_no, product_id, variant_id,
  quantity, quantity_base, unit_price, discount_percent, discount_amount, tax_percent, tax_amount, tax_inclusive, line_subtotal, line_total)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
RETURNING id`,
		l.InvoiceID, l.OrderLineID, l.DeliveryLineID, l.LineNo, l.ProductID, l.VariantID,
		l.Quantity, l.QuantityBase, l.UnitPrice, l.DiscountPercent, l.DiscountAmount, l.TaxPercent, l.TaxAmount, l.TaxInclusive,
		l.LineSubtotal, l.LineTotal).Scan(&id)
	if err != nil {
		return 0, db.Classify("ar: insert invoice line", err)
	}
	return id, nil
}

func (t *invoiceTx) DeleteInvoiceLines(ctx context.Context, invoiceID int64) error {
	_, err := t.q.Exec(ctx, `DELETE FROM sales_invoice_lines WHERE invoice_id=$1`, invoiceID)
	return db.Classify("ar: delete invoice lines", err)
}

func (t *invoiceTx) SaveInvoice(ctx context.Context, inv Invoice) error {
	_, err := t.q.Exec(ctx, `UPDATE sales_invoices SET
  invoice_date=$2, due_date=$3, status=$4, subtotal=$5, tax_amount=$6, total_amount=$7,
  subtotal_base=$8, tax_base=$9, total_base=$10, delivery_value_base=$11, revenue_variance=$12,
  notes=$13, posted_by=$14, posted_at=$15, cancelled_at=$16, updated_at=NOW()
WHERE id=$1`,
		inv.ID, inv.InvoiceDate, inv.DueDate, inv.Status, inv.Subtotal, inv.TaxAmount, inv.TotalAmount,
		inv.SubtotalBase, inv.TaxBase, inv.TotalBase, inv.DeliveryValueBase, inv.RevenueVariance,
		inv.Notes, inv.PostedBy, inv.PostedAt, inv.CancelledAt)
	return db.Classify("ar: save invoice", err)
}

func (t *invoiceTx) SaveInvoiceLine(ctx context.Context, l Line) error {
	_, err := t.q.Exec(ctx, `UPDATE sales_invoice_lines SET
  quantity_base=$2, line_total_base=$3, tax_base=$4, delivery_value_base=$5, revenue_variance=$6
WHERE id=$1`,
		l.ID, l.QuantityBase, l.LineTotalBase, l.TaxBase, l.DeliveryValueBase, l.RevenueVariance)
	return db.Classify("ar: save invoice line", err)
}

func (t *invoiceTx) SoftDeleteInvoice(ctx context.Context, id int64, at time.Time) error {
	_, err := t.q.Exec(ctx, `UPDATE sales_invoices SET deleted_at=$2, updated_at=$2 WHERE id=$1 AND deleted_at IS NULL`, id, at)
	return db.Classify("ar: delete invoice", err)
}
