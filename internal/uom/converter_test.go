package uom

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	pcs  int64 = 1
	box  int64 = 2
	pack int64 = 3
	kg   int64 = 9
)

func TestTableConvertsThroughBase(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register(box, pcs, decimal.NewFromInt(12)))
	require.NoError(t, table.Register(pack, pcs, decimal.NewFromInt(5)))

	got, err := table.Convert(decimal.NewFromInt(3), box, pcs)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(36).Equal(got))

	got, err = table.Convert(decimal.NewFromInt(1), box, pack)
	require.NoError(t, err)
	require.Equal(t, "2.400", got.StringFixed(3))

	got, err = table.Convert(decimal.RequireFromString("1.23456"), pcs, pcs)
	require.NoError(t, err)
	require.Equal(t, "1.235", got.StringFixed(3))
}

func TestTableMissingPath(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Register(box, pcs, decimal.NewFromInt(12)))
	_, err := table.Convert(decimal.NewFromInt(1), box, kg)
	require.ErrorIs(t, err, ErrNoConversionPath)
	require.Error(t, table.Register(pack, pcs, decimal.Zero))
}
