package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/app"
	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
)

const (
	companyID  int64 = 1
	locationID int64 = 100

	uomPiece int64 = 1
	uomBox   int64 = 2
	uomKg    int64 = 3
	uomGram  int64 = 4
)

type product struct {
	productID int64
	variantID int64
	uomID     int64
	price     string
	taxRate   string
	inclusive bool
	onHand    string
	avgCost   string
}

var products = []product{
	{productID: 1, variantID: 1, uomID: uomPiece, price: "10.00", taxRate: "11", onHand: "500", avgCost: "6.000000"},
	{productID: 2, variantID: 2, uomID: uomPiece, price: "25.00", taxRate: "11", inclusive: true, onHand: "120", avgCost: "14.500000"},
	{productID: 3, variantID: 3, uomID: uomKg, price: "42.50", taxRate: "0", onHand: "80.5", avgCost: "30.000000"},
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	fmt.Println("→ Seeding company policy...")
	if err := seedPolicy(ctx, pool, cfg); err != nil {
		log.Fatalf("seed policy: %v", err)
	}
	fmt.Println("→ Seeding units of measure...")
	if err := seedUOM(ctx, pool); err != nil {
		log.Fatalf("seed uom: %v", err)
	}
	fmt.Println("→ Seeding price list and taxes...")
	if err := seedPricing(ctx, pool); err != nil {
		log.Fatalf("seed pricing: %v", err)
	}
	fmt.Println("→ Seeding opening stock...")
	if err := seedStock(ctx, pool); err != nil {
		log.Fatalf("seed stock: %v", err)
	}

	fmt.Printf("✓ Seed complete at %s (company=%d location=%d products=%d)\n",
		time.Now().Format(time.RFC3339), companyID, locationID, len(products))
}

func seedPolicy(ctx context.Context, pool *pgxpool.Pool, cfg *app.Config) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO company_policies (company_id, maker_checker, reservation_strictness)
		VALUES ($1, $2, $3)
		ON CONFLICT (company_id) DO UPDATE
		SET maker_checker = EXCLUDED.maker_checker,
		    reservation_strictness = EXCLUDED.reservation_strictness,
		    updated_at = NOW()`, companyID, cfg.MakerChecker, cfg.ReservationStrictness)
	return err
}

func seedUOM(ctx context.Context, pool *pgxpool.Pool) error {
	conversions := []struct {
		unitID int64
		baseID int64
		ratio  string
	}{
		{uomPiece, uomPiece, "1"},
		{uomBox, uomPiece, "12"},
		{uomKg, uomKg, "1"},
		{uomGram, uomKg, "0.001"},
	}
	batch := &pgx.Batch{}
	for _, c := range conversions {
		batch.Queue(`
			INSERT INTO uom_conversions (unit_id, base_unit_id, ratio)
			VALUES ($1, $2, $3)
			ON CONFLICT (unit_id) DO UPDATE SET base_unit_id = EXCLUDED.base_unit_id, ratio = EXCLUDED.ratio`,
			c.unitID, c.baseID, decimal.RequireFromString(c.ratio))
	}
	return pool.SendBatch(ctx, batch).Close()
}

func seedPricing(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Re-running the seed replaces the company's rows.
	if _, err := tx.Exec(ctx, `DELETE FROM price_list_items WHERE company_id = $1`, companyID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM product_taxes WHERE company_id = $1`, companyID); err != nil {
		return err
	}
	validFrom := time.Date(time.Now().Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	for _, p := range products {
		price := decimal.RequireFromString(p.price)
		if _, err := tx.Exec(ctx, `
			INSERT INTO price_list_items (company_id, variant_id, uom_id, currency, price, valid_from)
			VALUES ($1, $2, $3, 'IDR', $4, $5)`, companyID, p.variantID, p.uomID, price, validFrom); err != nil {
			return err
		}
		if p.uomID == uomPiece {
			box := price.Mul(decimal.NewFromInt(12)).Round(2)
			if _, err := tx.Exec(ctx, `
				INSERT INTO price_list_items (company_id, variant_id, uom_id, currency, price, valid_from)
				VALUES ($1, $2, $3, 'IDR', $4, $5)`, companyID, p.variantID, uomBox, box, validFrom); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO product_taxes (company_id, product_id, rate, inclusive)
			VALUES ($1, $2, $3, $4)`, companyID, p.productID, decimal.RequireFromString(p.taxRate), p.inclusive); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func seedStock(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, p := range products {
		// Reservations survive a re-seed; only on-hand and cost are reset.
		if _, err := tx.Exec(ctx, `
			INSERT INTO stock_counters (location_id, variant_id, lot_id, qty_on_hand, qty_reserved, avg_cost, updated_at)
			VALUES ($1, $2, 0, $3, 0, $4, NOW())
			ON CONFLICT (location_id, variant_id, lot_id) DO UPDATE
			SET qty_on_hand = EXCLUDED.qty_on_hand, avg_cost = EXCLUDED.avg_cost, updated_at = NOW()`,
			locationID, p.variantID, decimal.RequireFromString(p.onHand), decimal.RequireFromString(p.avgCost)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
