package uom

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
)

// Load builds a Table from uom_conversions.
func Load(ctx context.Context, q db.Querier) (*Table, error) {
	rows, err := q.Query(ctx, `SELECT unit_id, base_unit_id, ratio FROM uom_conversions ORDER BY unit_id`)
	if err != nil {
		return nil, fmt.Errorf("uom: load conversions: %w", err)
	}
	defer rows.Close()

	table := NewTable()
	for rows.Next() {
		var (
			unitID, baseID int64
			ratio          decimal.Decimal
		)
		if err := rows.Scan(&unitID, &baseID, &ratio); err != nil {
			return nil, err
		}
		if err := table.Register(unitID, baseID, ratio); err != nil {
			return nil, err
		}
	}
	return table, rows.Err()
}
