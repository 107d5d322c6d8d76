package accounting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
)

type recordingBus struct {
	events []Event
	err    error
}

func (b *recordingBus) Dispatch(_ context.Context, ev Event) error {
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, ev)
	return nil
}

type resultCounter map[string]int

func (r resultCounter) ObserveEmit(result string) { r[result]++ }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func header(ref docref.Ref) Header {
	return Header{Ref: ref, DocNumber: "SI-ACME-JKT-26-00001", CompanyID: 1, BranchID: 2,
		OccurredAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Currency: "IDR", ExchangeRate: decimal.NewFromInt(1)}
}

func sumRole(ev Event, role Role) (Direction, decimal.Decimal) {
	for _, l := range ev.Lines {
		if l.Role == role {
			return l.Direction, l.Amount
		}
	}
	return "", decimal.Zero
}

func TestInvoicePostingBalancesWithVariance(t *testing.T) {
	ev := InvoicePosting(header(docref.Invoice(1)), InvoiceFigures{
		TotalBase:         dec("1110.00"),
		TaxBase:           dec("110.00"),
		DeliveryValueBase: dec("612.34567"),
	})
	require.NoError(t, ev.Validate())
	dir, amt := sumRole(ev, RoleRevenue)
	require.Equal(t, Credit, dir)
	require.Equal(t, "612.35", amt.StringFixed(2))
	dir, amt = sumRole(ev, RoleRevenueVariance)
	require.Equal(t, Credit, dir)
	require.Equal(t, "387.65", amt.StringFixed(2))

	// a loss-making sale flips the variance to a debit
	loss := InvoicePosting(header(docref.Invoice(2)), InvoiceFigures{TotalBase: dec("100"), DeliveryValueBase: dec("130")})
	require.NoError(t, loss.Validate())
	dir, amt = sumRole(loss, RoleRevenueVariance)
	require.Equal(t, Debit, dir)
	require.Equal(t, "30.00", amt.StringFixed(2))
}

func TestEmitterSkipsZeroAndDispatches(t *testing.T) {
	bus := &recordingBus{}
	results := resultCounter{}
	emitter := NewEmitter(bus, nil, results)

	emitter.Emit(context.Background(), InvoicePosting(header(docref.Invoice(1)), InvoiceFigures{}))
	require.Empty(t, bus.events)
	require.Equal(t, 1, results[ResultSkipped])

	ev := DeliveryPosting(header(docref.Delivery(4)), dec("250.5"))
	emitter.Emit(context.Background(), ev)
	require.Len(t, bus.events, 1)
	require.Equal(t, SourceID(docref.Delivery(4)), bus.events[0].SourceID)
	require.Equal(t, 1, results[ResultDispatched])
}

func TestEmitterSwallowsFailures(t *testing.T) {
	bus := &recordingBus{err: errors.New("broker down")}
	results := resultCounter{}
	emitter := NewEmitter(bus, nil, results)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NotPanics(t, func() {
		emitter.Emit(ctx, ReturnPosting(header(docref.Return(3)), dec("10")))
	})
	require.Equal(t, 1, results[ResultFailed])

	unbalanced := DeliveryPosting(header(docref.Delivery(4)), dec("10"))
	unbalanced.Lines[0].Amount = dec("11")
	emitter.Emit(context.Background(), unbalanced)
	require.Equal(t, 1, results[ResultUnbalanced])
}

func TestSourceIDIsDeterministic(t *testing.T) {
	require.Equal(t, SourceID(docref.Invoice(9)), SourceID(docref.Invoice(9)))
	require.NotEqual(t, SourceID(docref.Invoice(9)), SourceID(docref.Delivery(9)))
}
