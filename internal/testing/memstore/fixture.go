package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-o2c/internal/accounting"
	"github.com/odyssey-erp/odyssey-o2c/internal/ar"
	"github.com/odyssey-erp/odyssey-o2c/internal/delivery"
	"github.com/odyssey-erp/odyssey-o2c/internal/inventory"
	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
	"github.com/odyssey-erp/odyssey-o2c/internal/policy"
	"github.com/odyssey-erp/odyssey-o2c/internal/returns"
	"github.com/odyssey-erp/odyssey-o2c/internal/sales"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
	"github.com/odyssey-erp/odyssey-o2c/internal/uom"
)

// Identifiers used by fixtures.
const (
	CompanyID  int64 = 1
	BranchID   int64 = 10
	LocationID int64 = 100
	CustomerID int64 = 500
	Maker      int64 = 7
	Checker    int64 = 8

	UOMPiece int64 = 1
	UOMBox   int64 = 2 // 12 pieces
)

// RecordingBus captures dispatched accounting events.
type RecordingBus struct {
	mu     sync.Mutex
	events []accounting.Event
	Err    error
}

// Dispatch implements accounting.Bus.
func (b *RecordingBus) Dispatch(_ context.Context, ev accounting.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return b.Err
	}
	b.events = append(b.events, ev)
	return nil
}

// Events returns the dispatched events.
func (b *RecordingBus) Events() []accounting.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]accounting.Event(nil), b.events...)
}

// Fixture wires every document service to one Store.
type Fixture struct {
	Store      *Store
	Bus        *RecordingBus
	Policy     *policy.Static
	Units      *uom.Table
	Sales      *sales.Service
	Deliveries *delivery.Service
	Invoices   *ar.Service
	Returns    *returns.Service
	Now        time.Time
}

// NewFixture builds services with retries enabled and a fixed clock.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	f := &Fixture{
		Store:  New(),
		Bus:    &RecordingBus{},
		Policy: &policy.Static{},
		Units:  uom.NewTable(),
		Now:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.Units.Register(UOMBox, UOMPiece, decimal.NewFromInt(12)))

	clock := func() time.Time { return f.Now }
	retry := db.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	emitter := accounting.NewEmitter(f.Bus, nil, nil)
	stock := inventory.NewService(inventory.ServiceConfig{})

	f.Sales = sales.NewService(f.Store.Sales(), sales.ServiceConfig{
		Converter: f.Units,
		Policy:    f.Policy,
		Retry:     retry,
		Now:       clock,
	})
	f.Deliveries = delivery.NewService(f.Store.Deliveries(), delivery.ServiceConfig{
		Inventory: stock,
		Emitter:   emitter,
		Retry:     retry,
		Now:       clock,
	})
	f.Invoices = ar.NewService(f.Store.Invoices(), ar.ServiceConfig{
		Emitter:      emitter,
		MakerChecker: f.Policy.MakerChecker,
		Retry:        retry,
		Now:          clock,
	})
	f.Returns = returns.NewService(f.Store.Returns(), returns.ServiceConfig{
		Inventory:    stock,
		Emitter:      emitter,
		MakerChecker: f.Policy.MakerChecker,
		Retry:        retry,
		Now:          clock,
	})
	return f
}

// Scope returns the fixture tenant acting as user.
func Scope(user int64) shared.Scope {
	return shared.Scope{
		Tenant: shared.TenantContext{CompanyID: CompanyID, BranchID: BranchID, CompanyCode: "ACME", BranchCode: "JKT"},
		Actor:  shared.ActorContext{UserID: user},
	}
}

// Dec parses a decimal literal.
func Dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Line returns an order line input in pieces at price with no tax.
func Line(variantID int64, qty, price string) sales.OrderLineInput {
	p := Dec(price)
	zero := decimal.Zero
	return sales.OrderLineInput{
		ProductID:  variantID,
		VariantID:  variantID,
		UOMID:      UOMPiece,
		BaseUOMID:  UOMPiece,
		Quantity:   Dec(qty),
		UnitPrice:  &p,
		TaxPercent: &zero,
	}
}

// Stock seeds on-hand quantity for variantID at the fixture location.
func (f *Fixture) Stock(variantID int64, onHand, avgCost string) {
	f.Store.SetStock(inventory.CounterKey{LocationID: LocationID, VariantID: variantID}, Dec(onHand), Dec(avgCost))
}

// Counter reads the fixture location's counter for variantID.
func (f *Fixture) Counter(variantID int64) inventory.StockCounter {
	return f.Store.Counter(inventory.CounterKey{LocationID: LocationID, VariantID: variantID})
}

// ConfirmedOrder creates and confirms an order as Maker.
func (f *Fixture) ConfirmedOrder(t *testing.T, lines ...sales.OrderLineInput) sales.Order {
	t.Helper()
	ctx := context.Background()
	order, err := f.Sales.Create(ctx, Scope(Maker), sales.CreateOrderRequest{
		CustomerID: CustomerID,
		LocationID: LocationID,
		OrderDate:  f.Now,
		Currency:   "IDR",
		Lines:      lines,
	})
	require.NoError(t, err)
	order, err = f.Sales.Confirm(ctx, Scope(Maker), order.ID)
	require.NoError(t, err)
	return order
}

// PostedDelivery ships qty of each order line, in order, and posts it.
func (f *Fixture) PostedDelivery(t *testing.T, order sales.Order, qty ...string) delivery.Delivery {
	t.Helper()
	ctx := context.Background()
	req := delivery.CreateDeliveryRequest{OrderID: order.ID, DeliveryDate: f.Now}
	for i, q := range qty {
		req.Lines = append(req.Lines, delivery.LineInput{OrderLineID: order.Lines[i].ID, Quantity: Dec(q)})
	}
	d, err := f.Deliveries.Create(ctx, Scope(Maker), req)
	require.NoError(t, err)
	d, err = f.Deliveries.Post(ctx, Scope(Maker), d.ID)
	require.NoError(t, err)
	return d
}
