package delivery_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-o2c/internal/accounting"
	"github.com/odyssey-erp/odyssey-o2c/internal/delivery"
	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/inventory"
	"github.com/odyssey-erp/odyssey-o2c/internal/ledger"
	"github.com/odyssey-erp/odyssey-o2c/internal/sales"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
	"github.com/odyssey-erp/odyssey-o2c/internal/testing/memstore"
)

var (
	dec   = memstore.Dec
	maker = memstore.Scope(memstore.Maker)
)

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func createDelivery(f *memstore.Fixture, order sales.Order, qty ...string) (delivery.Delivery, error) {
	req := delivery.CreateDeliveryRequest{OrderID: order.ID, DeliveryDate: f.Now}
	for i, q := range qty {
		req.Lines = append(req.Lines, delivery.LineInput{OrderLineID: order.Lines[i].ID, Quantity: dec(q)})
	}
	return f.Deliveries.Create(context.Background(), maker, req)
}

func TestPostIssuesStockAndConsumesReservation(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "20", "2.5")
	order := f.ConfirmedOrder(t, memstore.Line(1, "10", "4"))
	assertDecimal(t, "10", f.Counter(1).QtyReserved)

	d, err := createDelivery(f, order, "4")
	require.NoError(t, err)
	require.Equal(t, "DO-ACME-JKT-26-00001", d.DocNumber)
	require.Equal(t, delivery.StatusDraft, d.Status)
	require.Equal(t, memstore.LocationID, d.LocationID)

	posted, err := f.Deliveries.Post(context.Background(), maker, d.ID)
	require.NoError(t, err)
	require.Equal(t, delivery.StatusPosted, posted.Status)
	require.NotNil(t, posted.InventoryTransactionID)
	assertDecimal(t, "10", posted.CostValueBase)
	assertDecimal(t, "2.5", posted.Lines[0].UnitCostBase)

	counter := f.Counter(1)
	assertDecimal(t, "16", counter.QtyOnHand)
	assertDecimal(t, "6", counter.QtyReserved)

	line := f.Store.OrderLine(order.Lines[0].ID)
	assertDecimal(t, "4", line.QuantityDelivered)
	assertDecimal(t, "6", line.QuantityReservedBase)

	got, err := f.Sales.Get(context.Background(), maker, order.ID)
	require.NoError(t, err)
	require.Equal(t, sales.StatusPartiallyDelivered, got.Status)

	events := f.Bus.Events()
	require.Len(t, events, 1)
	require.NoError(t, events[0].Validate())
	require.Equal(t, accounting.SourceID(docref.Delivery(posted.ID)), events[0].SourceID)

	movements := f.Store.Movements()
	require.Len(t, movements, 1)
	require.Equal(t, inventory.TransactionTypeIssue, movements[0].Type)
}

func TestPostingFinalQuantityDeliversOrder(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "20", "1")
	f.Stock(2, "20", "1")
	order := f.ConfirmedOrder(t, memstore.Line(1, "5", "4"), memstore.Line(2, "3", "4"))

	f.PostedDelivery(t, order, "2", "3")
	f.PostedDelivery(t, order, "3")

	got, err := f.Sales.Get(context.Background(), maker, order.ID)
	require.NoError(t, err)
	require.Equal(t, sales.StatusDelivered, got.Status)
	for _, l := range got.Lines {
		assertDecimal(t, "0", l.QuantityReservedBase)
	}
	assertDecimal(t, "0", f.Counter(1).QtyReserved)

	_, err = createDelivery(f, got, "1")
	require.ErrorIs(t, err, delivery.ErrOrderNotOpen)
}

func TestOverDeliveryIsRejected(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "20", "1")
	order := f.ConfirmedOrder(t, memstore.Line(1, "5", "4"))

	_, err := createDelivery(f, order, "5.001")
	require.ErrorIs(t, err, ledger.ErrExceedsRemaining)
	require.Equal(t, "EXCEEDS_REMAINING", shared.CodeOf(err))

	// within tolerance is accepted
	_, err = createDelivery(f, order, "5.0004")
	require.NoError(t, err)
}

func TestSecondDraftFailsAtPosting(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "20", "1")
	order := f.ConfirmedOrder(t, memstore.Line(1, "5", "4"))

	first, err := createDelivery(f, order, "4")
	require.NoError(t, err)
	second, err := createDelivery(f, order, "3")
	require.NoError(t, err)

	_, err = f.Deliveries.Post(context.Background(), maker, first.ID)
	require.NoError(t, err)
	_, err = f.Deliveries.Post(context.Background(), maker, second.ID)
	require.ErrorIs(t, err, ledger.ErrExceedsRemaining)

	got, err := f.Deliveries.Get(context.Background(), maker, second.ID)
	require.NoError(t, err)
	require.Equal(t, delivery.StatusDraft, got.Status)
	assertDecimal(t, "4", f.Store.OrderLine(order.Lines[0].ID).QuantityDelivered)
}

func TestInsufficientStockRollsBackPosting(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Policy.Policy.Strictness = "soft"
	f.Stock(1, "2", "1")
	order := f.ConfirmedOrder(t, memstore.Line(1, "5", "4"))
	d, err := createDelivery(f, order, "5")
	require.NoError(t, err)

	_, err = f.Deliveries.Post(context.Background(), maker, d.ID)
	require.ErrorIs(t, err, inventory.ErrNegativeStock)
	require.Equal(t, "INSUFFICIENT_STOCK", shared.CodeOf(err))

	counter := f.Counter(1)
	assertDecimal(t, "2", counter.QtyOnHand)
	assertDecimal(t, "2", counter.QtyReserved)
	line := f.Store.OrderLine(order.Lines[0].ID)
	assertDecimal(t, "0", line.QuantityDelivered)
	assertDecimal(t, "2", line.QuantityReservedBase)
	require.Empty(t, f.Store.Movements())
	require.Empty(t, f.Bus.Events())
}

func TestPostLocksInDocumentThenLineThenCounterOrder(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "20", "1")
	f.Stock(2, "20", "1")
	order := f.ConfirmedOrder(t, memstore.Line(2, "5", "4"), memstore.Line(1, "5", "4"))
	req := delivery.CreateDeliveryRequest{OrderID: order.ID, DeliveryDate: f.Now, Lines: []delivery.LineInput{
		{OrderLineID: order.Lines[1].ID, Quantity: dec("1")},
		{OrderLineID: order.Lines[0].ID, Quantity: dec("1")},
	}}
	d, err := f.Deliveries.Create(context.Background(), maker, req)
	require.NoError(t, err)

	f.Store.ResetLocks()
	_, err = f.Deliveries.Post(context.Background(), maker, d.ID)
	require.NoError(t, err)

	locks := f.Store.Locks()
	require.GreaterOrEqual(t, len(locks), 5)
	require.Equal(t, []string{
		"delivery:" + itoa(d.ID),
		"order:" + itoa(order.ID),
		"order_line:" + itoa(order.Lines[0].ID),
		"order_line:" + itoa(order.Lines[1].ID),
	}, locks[:4])
	require.Equal(t, "counter:100/1/0", locks[4])
}

func TestCancelAndDeleteOnlyDrafts(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "20", "1")
	ctx := context.Background()
	order := f.ConfirmedOrder(t, memstore.Line(1, "5", "4"))

	d, err := createDelivery(f, order, "1")
	require.NoError(t, err)
	cancelled, err := f.Deliveries.Cancel(ctx, maker, d.ID)
	require.NoError(t, err)
	require.Equal(t, delivery.StatusCancelled, cancelled.Status)
	_, err = f.Deliveries.Post(ctx, maker, d.ID)
	require.Error(t, err)

	other, err := createDelivery(f, order, "1")
	require.NoError(t, err)
	require.NoError(t, f.Deliveries.Delete(ctx, maker, other.ID))
	_, err = f.Deliveries.Get(ctx, maker, other.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	posted := f.PostedDelivery(t, order, "1")
	require.Error(t, f.Deliveries.Delete(ctx, maker, posted.ID))
	_, err = f.Deliveries.Cancel(ctx, maker, posted.ID)
	require.Error(t, err)
}
