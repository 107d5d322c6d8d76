// Package pricing defines the price and tax collaborators consulted when a
// document line carries no explicit override. Rule evaluation lives in the
// pricing engine; this package only reads its published results.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
)

var (
	// ErrNoPrice indicates no published price for the request.
	ErrNoPrice = errors.New("pricing: no price")
	// ErrNoTax indicates no tax assignment for the product.
	ErrNoTax = errors.New("pricing: no tax rate")
)

// QuoteContext carries the document context prices and taxes depend on.
type QuoteContext struct {
	CompanyID  int64
	BranchID   int64
	CustomerID int64
	Currency   string
	Date       time.Time
}

// PriceRequest identifies what is being priced.
type PriceRequest struct {
	ProductID int64
	VariantID int64
	UOMID     int64
	Quantity  decimal.Decimal
	Context   QuoteContext
}

// PriceQuote is the pricing engine's answer.
type PriceQuote struct {
	Price    decimal.Decimal
	Currency string
	RuleID   *int64
}

// TaxQuote is the tax engine's answer; Rate is a percentage.
type TaxQuote struct {
	Rate      decimal.Decimal
	Inclusive bool
	RuleID    *int64
}

// Pricer quotes unit prices.
type Pricer interface {
	Quote(ctx context.Context, req PriceRequest) (PriceQuote, error)
}

// Taxer quotes tax rates.
type Taxer interface {
	Quote(ctx context.Context, productID int64, qc QuoteContext) (TaxQuote, error)
}

// Catalog reads published prices and tax assignments.
type Catalog struct {
	q db.Querier
}

// NewCatalog constructs Catalog.
func NewCatalog(q db.Querier) *Catalog {
	return &Catalog{q: q}
}

// Prices returns a Pricer backed by price_list_items.
func (c *Catalog) Prices() Pricer { return catalogPricer{c} }

// Taxes returns a Taxer backed by product_taxes.
func (c *Catalog) Taxes() Taxer { return catalogTaxer{c} }

type catalogPricer struct{ c *Catalog }

func (p catalogPricer) Quote(ctx context.Context, req PriceRequest) (PriceQuote, error) {
	var quote PriceQuote
	var ruleID *int64
	err := p.c.q.QueryRow(ctx, `SELECT price, currency, id FROM price_list_items
WHERE company_id=$1 AND variant_id=$2 AND uom_id=$3 AND currency=$4
  AND valid_from <= $5 AND (valid_to IS NULL OR valid_to >= $5)
ORDER BY valid_from DESC
LIMIT 1`, req.Context.CompanyID, req.VariantID, req.UOMID, req.Context.Currency, req.Context.Date).
		Scan(&quote.Price, &quote.Currency, &ruleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return PriceQuote{}, fmt.Errorf("%w: variant %d uom %d %s", ErrNoPrice, req.VariantID, req.UOMID, req.Context.Currency)
	}
	if err != nil {
		return PriceQuote{}, err
	}
	quote.RuleID = ruleID
	return quote, nil
}

type catalogTaxer struct{ c *Catalog }

func (t catalogTaxer) Quote(ctx context.Context, productID int64, qc QuoteContext) (TaxQuote, error) {
	var quote TaxQuote
	var ruleID *int64
	err := t.c.q.QueryRow(ctx, `SELECT rate, inclusive, id FROM product_taxes
WHERE company_id=$1 AND product_id=$2
ORDER BY id DESC
LIMIT 1`, qc.CompanyID, productID).Scan(&quote.Rate, &quote.Inclusive, &ruleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return TaxQuote{}, fmt.Errorf("%w: product %d", ErrNoTax, productID)
	}
	if err != nil {
		return TaxQuote{}, err
	}
	quote.RuleID = ruleID
	return quote, nil
}
