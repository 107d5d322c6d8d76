package sales_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-o2c/internal/ledger"
	"github.com/odyssey-erp/odyssey-o2c/internal/pricing"
	"github.com/odyssey-erp/odyssey-o2c/internal/reservation"
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

func draft(t *testing.T, f *memstore.Fixture, lines ...sales.OrderLineInput) sales.Order {
	t.Helper()
	order, err := f.Sales.Create(context.Background(), maker, sales.CreateOrderRequest{
		CustomerID: memstore.CustomerID,
		LocationID: memstore.LocationID,
		OrderDate:  f.Now,
		Currency:   "idr",
		Lines:      lines,
	})
	require.NoError(t, err)
	return order
}

func TestCreateNumbersAndTotalsOrder(t *testing.T) {
	f := memstore.NewFixture(t)
	taxed := memstore.Line(1, "3", "33.333")
	rate := dec("11")
	taxed.TaxPercent = &rate

	first := draft(t, f, taxed, memstore.Line(2, "2", "10"))
	require.Equal(t, "SO-ACME-JKT-26-00001", first.DocNumber)
	require.Equal(t, sales.StatusDraft, first.Status)
	require.Equal(t, "IDR", first.Currency)
	require.Len(t, first.Lines, 2)
	assertDecimal(t, "33.33", first.Lines[0].UnitPrice)
	assertDecimal(t, "11.00", first.Lines[0].TaxAmount)
	assertDecimal(t, "99.99", first.Lines[0].LineSubtotal)
	assertDecimal(t, "119.99", first.Subtotal)
	assertDecimal(t, "11.00", first.TaxAmount)
	assertDecimal(t, "130.99", first.TotalAmount)
	assertDecimal(t, "130.99", first.TotalBase)

	second := draft(t, f, memstore.Line(1, "1", "5"))
	require.Equal(t, "SO-ACME-JKT-26-00002", second.DocNumber)

	audits := f.Store.Audits()
	require.Len(t, audits, 2)
	require.Equal(t, "sales_order.create", audits[0].Action)
}

func TestCreateConvertsToBaseUnit(t *testing.T) {
	f := memstore.NewFixture(t)
	boxes := memstore.Line(1, "2", "120")
	boxes.UOMID = memstore.UOMBox

	order := draft(t, f, boxes)
	assertDecimal(t, "2", order.Lines[0].Quantity)
	assertDecimal(t, "24", order.Lines[0].QuantityBase)
	assertDecimal(t, "240.00", order.Subtotal)
}

func TestCreateRejectsBadLines(t *testing.T) {
	f := memstore.NewFixture(t)
	ctx := context.Background()
	req := func(lines ...sales.OrderLineInput) sales.CreateOrderRequest {
		return sales.CreateOrderRequest{
			CustomerID: memstore.CustomerID, LocationID: memstore.LocationID,
			OrderDate: f.Now, Currency: "IDR", Lines: lines,
		}
	}

	_, err := f.Sales.Create(ctx, maker, req(memstore.Line(1, "0", "10")))
	require.ErrorIs(t, err, ledger.ErrNonPositive)
	require.Equal(t, "NON_POSITIVE_QUANTITY", shared.CodeOf(err))

	unpriced := memstore.Line(1, "1", "0")
	unpriced.UnitPrice = nil
	_, err = f.Sales.Create(ctx, maker, req(unpriced))
	require.ErrorIs(t, err, pricing.ErrNoPrice)

	unknown := memstore.Line(1, "1", "10")
	unknown.UOMID = 99
	_, err = f.Sales.Create(ctx, maker, req(unknown))
	require.Equal(t, "UOM_CONVERSION", shared.CodeOf(err))

	_, err = f.Sales.Create(ctx, maker, sales.CreateOrderRequest{Currency: "IDR"})
	require.ErrorIs(t, err, shared.ErrBusinessRule)

	require.Zero(t, f.Store.Transactions())
}

func TestConfirmHardReservationRejectsShortfall(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "5", "2")
	order := draft(t, f, memstore.Line(1, "10", "4"))

	_, err := f.Sales.Confirm(context.Background(), maker, order.ID)
	require.ErrorIs(t, err, reservation.ErrInsufficientAvailable)

	got, err := f.Sales.Get(context.Background(), maker, order.ID)
	require.NoError(t, err)
	require.Equal(t, sales.StatusDraft, got.Status)
	assertDecimal(t, "0", got.Lines[0].QuantityReservedBase)
	assertDecimal(t, "0", f.Counter(1).QtyReserved)
}

func TestConfirmSoftReservationKeepsAvailable(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Policy.Policy.Strictness = reservation.StrictnessSoft
	f.Stock(1, "5", "2")
	order := draft(t, f, memstore.Line(1, "10", "4"))

	confirmed, err := f.Sales.Confirm(context.Background(), maker, order.ID)
	require.NoError(t, err)
	require.Equal(t, sales.StatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)
	assertDecimal(t, "5", confirmed.Lines[0].QuantityReservedBase)
	assertDecimal(t, "5", f.Counter(1).QtyReserved)
}

func TestConfirmRequiresSecondUserUnderMakerChecker(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Policy.Policy.MakerChecker = true
	f.Stock(1, "10", "2")
	order := draft(t, f, memstore.Line(1, "4", "4"))

	_, err := f.Sales.Confirm(context.Background(), maker, order.ID)
	require.ErrorIs(t, err, shared.ErrMakerChecker)
	require.Equal(t, "MAKER_CHECKER", shared.CodeOf(err))

	confirmed, err := f.Sales.Confirm(context.Background(), memstore.Scope(memstore.Checker), order.ID)
	require.NoError(t, err)
	require.Equal(t, memstore.Checker, *confirmed.ConfirmedBy)
}

func TestQuoteThenConfirm(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "10", "2")
	order := draft(t, f, memstore.Line(1, "4", "4"))
	ctx := context.Background()

	quoted, err := f.Sales.SubmitQuote(ctx, maker, order.ID)
	require.NoError(t, err)
	require.Equal(t, sales.StatusQuote, quoted.Status)

	_, err = f.Sales.SubmitQuote(ctx, maker, order.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	confirmed, err := f.Sales.Confirm(ctx, maker, order.ID)
	require.NoError(t, err)
	require.Equal(t, sales.StatusConfirmed, confirmed.Status)
}

func TestIllegalTransitionsAreStateErrors(t *testing.T) {
	f := memstore.NewFixture(t)
	order := draft(t, f, memstore.Line(1, "4", "4"))

	_, err := f.Sales.Close(context.Background(), maker, order.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.NotErrorIs(t, err, shared.ErrBusinessRule)
}

func TestCancelReleasesReservation(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "10", "2")
	order := f.ConfirmedOrder(t, memstore.Line(1, "6", "4"))
	assertDecimal(t, "6", f.Counter(1).QtyReserved)

	cancelled, err := f.Sales.Cancel(context.Background(), maker, order.ID, "customer withdrew")
	require.NoError(t, err)
	require.Equal(t, sales.StatusCancelled, cancelled.Status)
	require.Equal(t, "customer withdrew", cancelled.Notes)
	assertDecimal(t, "0", cancelled.Lines[0].QuantityReservedBase)
	assertDecimal(t, "0", f.Counter(1).QtyReserved)

	_, err = f.Sales.Confirm(context.Background(), maker, order.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestUpdateReplacesDraftLines(t *testing.T) {
	f := memstore.NewFixture(t)
	order := draft(t, f, memstore.Line(1, "4", "4"))
	notes := "rush"

	updated, err := f.Sales.Update(context.Background(), maker, order.ID, sales.UpdateOrderRequest{
		Notes: &notes,
		Lines: []sales.OrderLineInput{memstore.Line(2, "3", "5"), memstore.Line(3, "1", "1.5")},
	})
	require.NoError(t, err)
	require.Equal(t, "rush", updated.Notes)
	require.Len(t, updated.Lines, 2)
	assertDecimal(t, "16.50", updated.Subtotal)
	require.Equal(t, order.DocNumber, updated.DocNumber)
}

func TestUpdateAndDeleteRequireEditableOrder(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "10", "2")
	ctx := context.Background()
	order := f.ConfirmedOrder(t, memstore.Line(1, "4", "4"))

	notes := "late"
	_, err := f.Sales.Update(ctx, maker, order.ID, sales.UpdateOrderRequest{Notes: &notes})
	require.ErrorIs(t, err, sales.ErrCannotEdit)
	require.ErrorIs(t, f.Sales.Delete(ctx, maker, order.ID), sales.ErrCannotEdit)

	other := draft(t, f, memstore.Line(2, "1", "1"))
	require.NoError(t, f.Sales.Delete(ctx, maker, other.ID))
	_, err = f.Sales.Get(ctx, maker, other.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	// numbers of deleted orders are not reused
	next := draft(t, f, memstore.Line(2, "1", "1"))
	require.Equal(t, "SO-ACME-JKT-26-00003", next.DocNumber)
}

func TestOtherTenantCannotSeeOrder(t *testing.T) {
	f := memstore.NewFixture(t)
	order := draft(t, f, memstore.Line(1, "4", "4"))
	stranger := maker
	stranger.Tenant.CompanyID = 2

	_, err := f.Sales.Get(context.Background(), stranger, order.ID)
	require.ErrorIs(t, err, shared.ErrTenantMismatch)
	_, err = f.Sales.Confirm(context.Background(), stranger, order.ID)
	require.ErrorIs(t, err, shared.ErrTenantMismatch)
}

func TestConfirmRetriesContention(t *testing.T) {
	f := memstore.NewFixture(t)
	f.Stock(1, "10", "2")
	order := draft(t, f, memstore.Line(1, "4", "4"))
	before := f.Store.Transactions()
	f.Store.FailNext("SaveCounter", &shared.RetryableError{Op: "save counter", Err: errors.New("deadlock detected")})

	confirmed, err := f.Sales.Confirm(context.Background(), maker, order.ID)
	require.NoError(t, err)
	require.Equal(t, sales.StatusConfirmed, confirmed.Status)
	require.Equal(t, before+2, f.Store.Transactions())
	assertDecimal(t, "4", f.Counter(1).QtyReserved)
}
