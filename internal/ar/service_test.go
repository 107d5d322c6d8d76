package ar_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-o2c/internal/accounting"
	"github.com/odyssey-erp/odyssey-o2c/internal/ar"
	"github.com/odyssey-erp/odyssey-o2c/internal/delivery"
	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/ledger"
	"github.com/odyssey-erp/odyssey-o2c/internal/sales"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
	"github.com/odyssey-erp/odyssey-o2c/internal/testing/memstore"
)

var (
	dec     = memstore.Dec
	maker   = memstore.Scope(memstore.Maker)
	checker = memstore.Scope(memstore.Checker)
)

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func bill(dl delivery.Line, qty string) ar.LineInput {
	return ar.LineInput{DeliveryLineID: dl.ID, Quantity: dec(qty)}
}

func createInvoice(f *memstore.Fixture, order sales.Order, lines ...ar.LineInput) (ar.Invoice, error) {
	return f.Invoices.Create(context.Background(), maker, ar.CreateInvoiceRequest{
		OrderID:     order.ID,
		InvoiceDate: f.Now,
		DueDate:     f.Now.AddDate(0, 0, 30),
		Lines:       lines,
	})
}

func invoiceEvents(f *memstore.Fixture) []accounting.Event {
	var out []accounting.Event
	for _, ev := range f.Bus.Events() {
		if ev.Document.Kind == docref.KindInvoice {
			out = append(out, ev)
		}
	}
	return out
}

func TestInvoiceCannotExceedDeliveredQuantity(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "100", "6")
	order := f.ConfirmedOrder(t, memstore.Line(1, "100", "10"))
	d := f.PostedDelivery(t, order, "60")
	assertDecimal(t, "60", f.Store.OrderLine(order.Lines[0].ID).QuantityDelivered)

	first, err := createInvoice(f, order, bill(d.Lines[0], "40"))
	require.NoError(t, err)
	require.Equal(t, "SI-ACME-JKT-26-00001", first.DocNumber)
	second, err := createInvoice(f, order, bill(d.Lines[0], "30"))
	require.NoError(t, err)

	posted, err := f.Invoices.Post(context.Background(), maker, first.ID)
	require.NoError(t, err)
	require.Equal(t, ar.StatusPosted, posted.Status)
	assertDecimal(t, "40", f.Store.OrderLine(order.Lines[0].ID).QuantityInvoiced)
	assertDecimal(t, "40", f.Store.DeliveryLine(d.Lines[0].ID).QuantityInvoiced)

	_, err = f.Invoices.Post(context.Background(), maker, second.ID)
	require.ErrorIs(t, err, ledger.ErrExceedsRemaining)
	require.ErrorIs(t, err, shared.ErrBusinessRule)
	assertDecimal(t, "40", f.Store.OrderLine(order.Lines[0].ID).QuantityInvoiced)

	_, err = createInvoice(f, order, bill(d.Lines[0], "30"))
	require.ErrorIs(t, err, ledger.ErrExceedsRemaining)
}

func TestPostingIsAllOrNothing(t *testing.T) {
	f := memstore.NewFixture(t)
	for v := int64(1); v <= 3; v++ {
		f.Stock(v, "50", "2")
	}
	order := f.ConfirmedOrder(t,
		memstore.Line(1, "10", "5"), memstore.Line(2, "10", "5"), memstore.Line(3, "10", "5"))
	d := f.PostedDelivery(t, order, "10", "10", "10")

	wide, err := createInvoice(f, order, bill(d.Lines[0], "5"), bill(d.Lines[1], "5"), bill(d.Lines[2], "5"))
	require.NoError(t, err)
	narrow, err := createInvoice(f, order, bill(d.Lines[2], "10"))
	require.NoError(t, err)
	_, err = f.Invoices.Post(context.Background(), maker, narrow.ID)
	require.NoError(t, err)

	_, err = f.Invoices.Post(context.Background(), maker, wide.ID)
	require.ErrorIs(t, err, ledger.ErrExceedsRemaining)

	for i := 0; i < 2; i++ {
		assertDecimal(t, "0", f.Store.OrderLine(order.Lines[i].ID).QuantityInvoiced)
		assertDecimal(t, "0", f.Store.DeliveryLine(d.Lines[i].ID).QuantityInvoiced)
		assertDecimal(t, "0", f.Store.OrderLine(order.Lines[i].ID).AmountInvoiced)
	}
	got, err := f.Invoices.Get(context.Background(), maker, wide.ID)
	require.NoError(t, err)
	require.Equal(t, ar.StatusDraft, got.Status)
}

func TestPostedInvoiceEmitsBalancedEvent(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "100", "6")
	taxed := memstore.Line(1, "50", "10")
	rate := dec("11")
	taxed.TaxPercent = &rate
	order := f.ConfirmedOrder(t, taxed)
	d := f.PostedDelivery(t, order, "50")

	inv, err := createInvoice(f, order, bill(d.Lines[0], "40"))
	require.NoError(t, err)
	assertDecimal(t, "400.00", inv.Subtotal)
	assertDecimal(t, "44.00", inv.TaxAmount)

	posted, err := f.Invoices.Post(context.Background(), maker, inv.ID)
	require.NoError(t, err)
	assertDecimal(t, "444.00", posted.TotalBase)
	assertDecimal(t, "44.00", posted.TaxBase)
	assertDecimal(t, "400.00", posted.SubtotalBase)
	assertDecimal(t, "240", posted.DeliveryValueBase)
	assertDecimal(t, "160", posted.RevenueVariance)
	assertDecimal(t, "400.00", f.Store.OrderLine(order.Lines[0].ID).AmountInvoiced)

	events := invoiceEvents(f)
	require.Len(t, events, 1)
	ev := events[0]
	require.NoError(t, ev.Validate())
	require.Equal(t, accounting.SourceID(docref.Invoice(posted.ID)), ev.SourceID)
	debit, credit := ev.Totals()
	require.True(t, debit.Equal(credit))
	assertDecimal(t, "444.00", debit)
	roles := map[accounting.Role]decimal.Decimal{}
	for _, l := range ev.Lines {
		roles[l.Role] = l.Amount
	}
	assertDecimal(t, "240.00", roles[accounting.RoleRevenue])
	assertDecimal(t, "160.00", roles[accounting.RoleRevenueVariance])
	assertDecimal(t, "44.00", roles[accounting.RoleTaxPayable])
}

func TestForeignCurrencyInvoiceConvertsToBase(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "10", "6000")
	ctx := context.Background()
	order, err := f.Sales.Create(ctx, maker, sales.CreateOrderRequest{
		CustomerID:   memstore.CustomerID,
		LocationID:   memstore.LocationID,
		OrderDate:    f.Now,
		Currency:     "USD",
		ExchangeRate: dec("15000"),
		Lines:        []sales.OrderLineInput{memstore.Line(1, "4", "2.5")},
	})
	require.NoError(t, err)
	assertDecimal(t, "150000.00", order.TotalBase)
	order, err = f.Sales.Confirm(ctx, maker, order.ID)
	require.NoError(t, err)
	d := f.PostedDelivery(t, order, "4")

	inv, err := createInvoice(f, order, bill(d.Lines[0], "4"))
	require.NoError(t, err)
	require.Equal(t, "USD", inv.Currency)
	posted, err := f.Invoices.Post(ctx, maker, inv.ID)
	require.NoError(t, err)
	assertDecimal(t, "150000.00", posted.TotalBase)
	assertDecimal(t, "24000", posted.DeliveryValueBase)
	assertDecimal(t, "126000", posted.RevenueVariance)
}

func TestZeroAmountInvoiceSkipsEmission(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "10", "1")
	order := f.ConfirmedOrder(t, memstore.Line(1, "2", "10"))
	d := f.PostedDelivery(t, order, "2")

	free := bill(d.Lines[0], "2")
	zero := decimal.Zero
	free.UnitPrice = &zero
	inv, err := createInvoice(f, order, free)
	require.NoError(t, err)
	posted, err := f.Invoices.Post(context.Background(), maker, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ar.StatusPosted, posted.Status)
	require.Empty(t, invoiceEvents(f))
	assertDecimal(t, "2", f.Store.OrderLine(order.Lines[0].ID).QuantityInvoiced)
}

func TestEmissionFailureDoesNotFailPosting(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "10", "1")
	order := f.ConfirmedOrder(t, memstore.Line(1, "2", "10"))
	d := f.PostedDelivery(t, order, "2")
	inv, err := createInvoice(f, order, bill(d.Lines[0], "2"))
	require.NoError(t, err)

	f.Bus.Err = context.DeadlineExceeded
	posted, err := f.Invoices.Post(context.Background(), maker, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ar.StatusPosted, posted.Status)
}

func TestPostRequiresCheckerUnderMakerChecker(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "10", "1")
	order := f.ConfirmedOrder(t, memstore.Line(1, "2", "10"))
	d := f.PostedDelivery(t, order, "2")
	inv, err := createInvoice(f, order, bill(d.Lines[0], "2"))
	require.NoError(t, err)

	f.Policy.Policy.MakerChecker = true
	_, err = f.Invoices.Post(context.Background(), maker, inv.ID)
	require.ErrorIs(t, err, shared.ErrMakerChecker)

	posted, err := f.Invoices.Post(context.Background(), checker, inv.ID)
	require.NoError(t, err)
	require.Equal(t, memstore.Checker, *posted.PostedBy)
}

func TestInvoiceLinesMustComeFromPostedDeliveriesOfTheOrder(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "50", "1")
	ctx := context.Background()
	order := f.ConfirmedOrder(t, memstore.Line(1, "10", "10"))
	other := f.ConfirmedOrder(t, memstore.Line(1, "10", "10"))
	foreign := f.PostedDelivery(t, other, "5")

	draft, err := f.Deliveries.Create(ctx, maker, delivery.CreateDeliveryRequest{
		OrderID: order.ID, DeliveryDate: f.Now,
		Lines: []delivery.LineInput{{OrderLineID: order.Lines[0].ID, Quantity: dec("5")}},
	})
	require.NoError(t, err)

	_, err = createInvoice(f, order, bill(draft.Lines[0], "1"))
	require.ErrorIs(t, err, ar.ErrDeliveryNotPosted)
	_, err = createInvoice(f, order, bill(foreign.Lines[0], "1"))
	require.ErrorIs(t, err, ar.ErrLineMismatch)
}

func TestUpdateCancelAndDeleteDrafts(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "50", "1")
	ctx := context.Background()
	order := f.ConfirmedOrder(t, memstore.Line(1, "10", "10"))
	d := f.PostedDelivery(t, order, "10")

	inv, err := createInvoice(f, order, bill(d.Lines[0], "2"))
	require.NoError(t, err)
	updated, err := f.Invoices.Update(ctx, maker, inv.ID, ar.UpdateInvoiceRequest{
		Lines: []ar.LineInput{bill(d.Lines[0], "3")},
	})
	require.NoError(t, err)
	require.Len(t, updated.Lines, 1)
	assertDecimal(t, "30.00", updated.Subtotal)

	cancelled, err := f.Invoices.Cancel(ctx, maker, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ar.StatusCancelled, cancelled.Status)
	_, err = f.Invoices.Post(ctx, maker, inv.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	gone, err := createInvoice(f, order, bill(d.Lines[0], "1"))
	require.NoError(t, err)
	require.NoError(t, f.Invoices.Delete(ctx, maker, gone.ID))
	_, err = f.Invoices.Get(ctx, maker, gone.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	posted, err := createInvoice(f, order, bill(d.Lines[0], "1"))
	require.NoError(t, err)
	_, err = f.Invoices.Post(ctx, maker, posted.ID)
	require.NoError(t, err)
	_, err = f.Invoices.Update(ctx, maker, posted.ID, ar.UpdateInvoiceRequest{Lines: []ar.LineInput{bill(d.Lines[0], "1")}})
	require.ErrorIs(t, err, ar.ErrCannotEdit)
	require.ErrorIs(t, f.Invoices.Delete(ctx, maker, posted.ID), ar.ErrCannotEdit)
	assertDecimal(t, "1", f.Store.OrderLine(order.Lines[0].ID).QuantityInvoiced)
}
