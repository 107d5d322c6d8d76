// Package memstore is an in-memory stand-in for the PostgreSQL repositories
// of the document services. Transactions are serialized by a single mutex and
// roll back to a snapshot when the callback fails, so tests can assert that a
// rejected posting left no trace.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/ar"
	"github.com/odyssey-erp/odyssey-o2c/internal/delivery"
	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/inventory"
	"github.com/odyssey-erp/odyssey-o2c/internal/ledger"
	"github.com/odyssey-erp/odyssey-o2c/internal/returns"
	"github.com/odyssey-erp/odyssey-o2c/internal/sales"
	"github.com/odyssey-erp/odyssey-o2c/internal/sequence"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
)

type state struct {
	orders        map[int64]sales.Order
	orderLines    map[int64]sales.OrderLine
	deliveries    map[int64]delivery.Delivery
	deliveryLines map[int64]delivery.Line
	invoices      map[int64]ar.Invoice
	invoiceLines  map[int64]ar.Line
	returns       map[int64]returns.Return
	returnLines   map[int64]returns.Line
	counters      map[inventory.CounterKey]inventory.StockCounter
	ids           map[string]int64
	movements     []inventory.Transaction
	movementLines []inventory.TransactionLine
	cards         []inventory.StockCardEntry
	audits        []shared.AuditLog
}

func newState() state {
	return state{
		orders:        make(map[int64]sales.Order),
		orderLines:    make(map[int64]sales.OrderLine),
		deliveries:    make(map[int64]delivery.Delivery),
		deliveryLines: make(map[int64]delivery.Line),
		invoices:      make(map[int64]ar.Invoice),
		invoiceLines:  make(map[int64]ar.Line),
		returns:       make(map[int64]returns.Return),
		returnLines:   make(map[int64]returns.Line),
		counters:      make(map[inventory.CounterKey]inventory.StockCounter),
		ids:           make(map[string]int64),
	}
}

func (s state) clone() state {
	return state{
		orders:        maps.Clone(s.orders),
		orderLines:    maps.Clone(s.orderLines),
		deliveries:    maps.Clone(s.deliveries),
		deliveryLines: maps.Clone(s.deliveryLines),
		invoices:      maps.Clone(s.invoices),
		invoiceLines:  maps.Clone(s.invoiceLines),
		returns:       maps.Clone(s.returns),
		returnLines:   maps.Clone(s.returnLines),
		counters:      maps.Clone(s.counters),
		ids:           maps.Clone(s.ids),
		movements:     append([]inventory.Transaction(nil), s.movements...),
		movementLines: append([]inventory.TransactionLine(nil), s.movementLines...),
		cards:         append([]inventory.StockCardEntry(nil), s.cards...),
		audits:        append([]shared.AuditLog(nil), s.audits...),
	}
}

// Store holds every table in memory.
type Store struct {
	mu     sync.Mutex
	data   state
	locks  []string
	faults map[string][]error
	txs    int
	now    func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{data: newState(), faults: make(map[string][]error), now: func() time.Time { return time.Now().UTC() }}
}

// FailNext makes the next call of method inside a transaction return err.
// Queued errors are consumed in order.
func (s *Store) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] = append(s.faults[method], err)
}

// Transactions reports how many transactions were started.
func (s *Store) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txs
}

// Locks returns the row locks taken so far, in acquisition order.
func (s *Store) Locks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.locks...)
}

// ResetLocks clears the lock trace.
func (s *Store) ResetLocks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks = nil
}

// SetStock seeds a counter with on-hand quantity at avgCost.
func (s *Store) SetStock(key inventory.CounterKey, onHand, avgCost decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data.counters[key]
	if !ok {
		c = inventory.ZeroCounter(key)
	}
	c.QtyOnHand = onHand
	c.AvgCost = avgCost
	s.data.counters[key] = c
}

// Counter returns the counter for key, zero when absent.
func (s *Store) Counter(key inventory.CounterKey) inventory.StockCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.data.counters[key]; ok {
		return c
	}
	return inventory.ZeroCounter(key)
}

// OrderLine returns the stored order line.
func (s *Store) OrderLine(id int64) sales.OrderLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.orderLines[id]
}

// DeliveryLine returns the stored delivery line.
func (s *Store) DeliveryLine(id int64) delivery.Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.deliveryLines[id]
}

// Audits returns the recorded audit rows.
func (s *Store) Audits() []shared.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]shared.AuditLog(nil), s.data.audits...)
}

// Movements returns the stored inventory transactions.
func (s *Store) Movements() []inventory.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.Transaction(nil), s.data.movements...)
}

// withTx runs fn against the live state and restores the snapshot on error.
func (s *Store) withTx(fn func(*Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs++
	snapshot := s.data.clone()
	if err := fn(&Tx{s: s}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// Tx implements every repository's TxRepository plus the inventory and
// sequence stores. It is only valid inside the callback it was passed to.
type Tx struct {
	s *Store
}

func (t *Tx) fault(method string) error {
	queue := t.s.faults[method]
	if len(queue) == 0 {
		return nil
	}
	t.s.faults[method] = queue[1:]
	return queue[0]
}

func (t *Tx) nextID(table string) int64 {
	t.s.data.ids[table]++
	return t.s.data.ids[table]
}

func (t *Tx) lock(kind string, id any) {
	t.s.locks = append(t.s.locks, fmt.Sprintf("%s:%v", kind, id))
}

func notFound(sentinel error) error {
	return fmt.Errorf("%w: %w", sentinel, shared.ErrNotFound)
}

// ---- sales ----

func (t *Tx) LockOrder(_ context.Context, id int64) (sales.Order, error) {
	if err := t.fault("LockOrder"); err != nil {
		return sales.Order{}, err
	}
	o, ok := t.s.data.orders[id]
	if !ok || o.DeletedAt != nil {
		return sales.Order{}, notFound(sales.ErrOrderNotFound)
	}
	t.lock("order", id)
	return o, nil
}

func (t *Tx) LockOrderLines(_ context.Context, orderID int64, ids []int64) ([]sales.OrderLine, error) {
	if err := t.fault("LockOrderLines"); err != nil {
		return nil, err
	}
	var lines []sales.OrderLine
	if len(ids) == 0 {
		for _, l := range t.s.data.orderLines {
			if l.OrderID == orderID {
				lines = append(lines, l)
			}
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	} else {
		sorted := ledger.SortedIDs(ids)
		for _, id := range sorted {
			if l, ok := t.s.data.orderLines[id]; ok && l.OrderID == orderID {
				lines = append(lines, l)
			}
		}
		if len(lines) != len(sorted) {
			return nil, shared.NewBusinessError("ORDER_LINE_NOT_FOUND", sales.ErrOrderLineNotFound,
				"order %d has %d of %d referenced lines", orderID, len(lines), len(sorted))
		}
	}
	for _, l := range lines {
		t.lock("order_line", l.ID)
	}
	return lines, nil
}

func (t *Tx) OrderLines(_ context.Context, orderID int64) ([]sales.OrderLine, error) {
	var lines []sales.OrderLine
	for _, l := range t.s.data.orderLines {
		if l.OrderID == orderID {
			lines = append(lines, l)
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].LineNo != lines[j].LineNo {
			return lines[i].LineNo < lines[j].LineNo
		}
		return lines[i].ID < lines[j].ID
	})
	return lines, nil
}

func (t *Tx) SaveOrderLine(_ context.Context, l sales.OrderLine) error {
	if err := t.fault("SaveOrderLine"); err != nil {
		return err
	}
	stored, ok := t.s.data.orderLines[l.ID]
	if !ok {
		return notFound(sales.ErrOrderLineNotFound)
	}
	stored.QuantityReserved, stored.QuantityReservedBase = l.QuantityReserved, l.QuantityReservedBase
	stored.QuantityDelivered, stored.QuantityDeliveredBase = l.QuantityDelivered, l.QuantityDeliveredBase
	stored.QuantityReturned, stored.QuantityReturnedBase = l.QuantityReturned, l.QuantityReturnedBase
	stored.QuantityInvoiced, stored.QuantityInvoicedBase = l.QuantityInvoiced, l.QuantityInvoicedBase
	stored.AmountInvoiced = l.AmountInvoiced
	t.s.data.orderLines[l.ID] = stored
	return nil
}

func (t *Tx) SaveOrder(_ context.Context, o sales.Order) error {
	if err := t.fault("SaveOrder"); err != nil {
		return err
	}
	stored, ok := t.s.data.orders[o.ID]
	if !ok {
		return notFound(sales.ErrOrderNotFound)
	}
	o.Lines = nil
	o.CreatedAt, o.DeletedAt = stored.CreatedAt, stored.DeletedAt
	o.UpdatedAt = t.s.now()
	t.s.data.orders[o.ID] = o
	return nil
}

func (t *Tx) InsertOrder(_ context.Context, o sales.Order) (int64, error) {
	if err := t.fault("InsertOrder"); err != nil {
		return 0, err
	}
	o.ID = t.nextID("sales_orders")
	o.Lines = nil
	o.CreatedAt, o.UpdatedAt = t.s.now(), t.s.now()
	t.s.data.orders[o.ID] = o
	return o.ID, nil
}

func (t *Tx) InsertOrderLine(_ context.Context, l sales.OrderLine) (int64, error) {
	if err := t.fault("InsertOrderLine"); err != nil {
		return 0, err
	}
	l.ID = t.nextID("sales_order_lines")
	t.s.data.orderLines[l.ID] = l
	return l.ID, nil
}

func (t *Tx) DeleteOrderLines(_ context.Context, orderID int64) error {
	for id, l := range t.s.data.orderLines {
		if l.OrderID == orderID {
			delete(t.s.data.orderLines, id)
		}
	}
	return nil
}

func (t *Tx) SoftDeleteOrder(_ context.Context, id int64, at time.Time) error {
	o, ok := t.s.data.orders[id]
	if !ok {
		return notFound(sales.ErrOrderNotFound)
	}
	o.DeletedAt = &at
	t.s.data.orders[id] = o
	return nil
}

// ---- support ----

func (t *Tx) Inventory() inventory.MovementStore { return t }

func (t *Tx) Sequences() sequence.Store { return t }

func (t *Tx) RecordAudit(_ context.Context, log shared.AuditLog) error {
	if err := t.fault("RecordAudit"); err != nil {
		return err
	}
	if err := log.Validate(); err != nil {
		return err
	}
	t.s.data.audits = append(t.s.data.audits, log)
	return nil
}

// ---- inventory.MovementStore ----

func (t *Tx) GetCounterForUpdate(_ context.Context, key inventory.CounterKey) (inventory.StockCounter, error) {
	if err := t.fault("GetCounterForUpdate"); err != nil {
		return inventory.StockCounter{}, err
	}
	c, ok := t.s.data.counters[key]
	if !ok {
		return inventory.StockCounter{}, inventory.ErrCounterNotFound
	}
	t.lock("counter", fmt.Sprintf("%d/%d/%d", key.LocationID, key.VariantID, key.LotID))
	return c, nil
}

func (t *Tx) InsertCounter(_ context.Context, key inventory.CounterKey) error {
	if _, ok := t.s.data.counters[key]; !ok {
		t.s.data.counters[key] = inventory.ZeroCounter(key)
	}
	return nil
}

func (t *Tx) SaveCounter(_ context.Context, c inventory.StockCounter) error {
	if err := t.fault("SaveCounter"); err != nil {
		return err
	}
	t.s.data.counters[c.CounterKey] = c
	return nil
}

func (t *Tx) InsertTransaction(_ context.Context, mv inventory.Transaction) (int64, error) {
	if err := t.fault("InsertTransaction"); err != nil {
		return 0, err
	}
	mv.ID = t.nextID("inventory_transactions")
	t.s.data.movements = append(t.s.data.movements, mv)
	return mv.ID, nil
}

func (t *Tx) InsertTransactionLines(_ context.Context, txID int64, lines []inventory.TransactionLine) error {
	for _, l := range lines {
		l.TransactionID = txID
		t.s.data.movementLines = append(t.s.data.movementLines, l)
	}
	return nil
}

func (t *Tx) InsertCardEntry(_ context.Context, entry inventory.StockCardEntry) error {
	t.s.data.cards = append(t.s.data.cards, entry)
	return nil
}

// ---- sequence.Store ----

func (t *Tx) LockScope(_ context.Context, scope sequence.Scope) error {
	t.lock("sequence", scope.LockKey())
	return nil
}

func (t *Tx) MaxSequence(_ context.Context, scope sequence.Scope) (int, error) {
	highest := 0
	consider := func(branchID int64, prefix string, year, seq int) {
		if branchID == scope.BranchID && prefix == scope.Prefix && year == scope.Year && seq > highest {
			highest = seq
		}
	}
	switch scope.Kind {
	case docref.KindOrder:
		for _, o := range t.s.data.orders {
			consider(o.BranchID, o.DocPrefix, o.DocYear, o.DocSeq)
		}
	case docref.KindDelivery:
		for _, d := range t.s.data.deliveries {
			consider(d.BranchID, d.DocPrefix, d.DocYear, d.DocSeq)
		}
	case docref.KindInvoice:
		for _, inv := range t.s.data.invoices {
			consider(inv.BranchID, inv.DocPrefix, inv.DocYear, inv.DocSeq)
		}
	case docref.KindReturn:
		for _, r := range t.s.data.returns {
			consider(r.BranchID, r.DocPrefix, r.DocYear, r.DocSeq)
		}
	default:
		return 0, fmt.Errorf("memstore: no table for %s", scope.Kind)
	}
	return highest, nil
}

// ---- delivery ----

func (t *Tx) joinDeliveryLine(l delivery.Line) (delivery.Line, bool) {
	d, ok := t.s.data.deliveries[l.DeliveryID]
	if !ok || d.DeletedAt != nil {
		return delivery.Line{}, false
	}
	l.OrderID = d.OrderID
	l.DeliveryStatus = d.Status
	return l, true
}

func (t *Tx) DeliveryHeader(_ context.Context, id int64) (delivery.Delivery, error) {
	d, ok := t.s.data.deliveries[id]
	if !ok || d.DeletedAt != nil {
		return delivery.Delivery{}, notFound(delivery.ErrDeliveryNotFound)
	}
	return d, nil
}

func (t *Tx) LockDelivery(ctx context.Context, id int64) (delivery.Delivery, error) {
	if err := t.fault("LockDelivery"); err != nil {
		return delivery.Delivery{}, err
	}
	d, err := t.DeliveryHeader(ctx, id)
	if err != nil {
		return delivery.Delivery{}, err
	}
	t.lock("delivery", id)
	return d, nil
}

func (t *Tx) DeliveryLines(_ context.Context, deliveryID int64) ([]delivery.Line, error) {
	var lines []delivery.Line
	for _, l := range t.s.data.deliveryLines {
		if l.DeliveryID != deliveryID {
			continue
		}
		if joined, ok := t.joinDeliveryLine(l); ok {
			lines = append(lines, joined)
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].LineNo != lines[j].LineNo {
			return lines[i].LineNo < lines[j].LineNo
		}
		return lines[i].ID < lines[j].ID
	})
	return lines, nil
}

func (t *Tx) LockDeliveryLines(_ context.Context, ids []int64) ([]delivery.Line, error) {
	if err := t.fault("LockDeliveryLines"); err != nil {
		return nil, err
	}
	sorted := ledger.SortedIDs(ids)
	var lines []delivery.Line
	for _, id := range sorted {
		l, ok := t.s.data.deliveryLines[id]
		if !ok {
			continue
		}
		if joined, ok := t.joinDeliveryLine(l); ok {
			lines = append(lines, joined)
		}
	}
	if len(lines) != len(sorted) {
		return nil, shared.NewBusinessError("DELIVERY_LINE_NOT_FOUND", delivery.ErrDeliveryLineNotFound,
			"found %d of %d referenced delivery lines", len(lines), len(sorted))
	}
	for _, l := range lines {
		t.lock("delivery_line", l.ID)
	}
	return lines, nil
}

func (t *Tx) SaveDeliveryLine(_ context.Context, l delivery.Line) error {
	if err := t.fault("SaveDeliveryLine"); err != nil {
		return err
	}
	stored, ok := t.s.data.deliveryLines[l.ID]
	if !ok {
		return notFound(delivery.ErrDeliveryLineNotFound)
	}
	stored.QuantityInvoiced, stored.QuantityInvoicedBase = l.QuantityInvoiced, l.QuantityInvoicedBase
	stored.QuantityReturned, stored.QuantityReturnedBase = l.QuantityReturned, l.QuantityReturnedBase
	stored.UnitCostBase, stored.ValueBase = l.UnitCostBase, l.ValueBase
	t.s.data.deliveryLines[l.ID] = stored
	return nil
}

func (t *Tx) InsertDelivery(_ context.Context, d delivery.Delivery) (int64, error) {
	d.ID = t.nextID("deliveries")
	d.Lines = nil
	d.CostValueBase = decimal.Zero
	d.CreatedAt, d.UpdatedAt = t.s.now(), t.s.now()
	t.s.data.deliveries[d.ID] = d
	return d.ID, nil
}

func (t *Tx) InsertDeliveryLine(_ context.Context, l delivery.Line) (int64, error) {
	l.ID = t.nextID("delivery_lines")
	l.OrderID, l.DeliveryStatus = 0, ""
	t.s.data.deliveryLines[l.ID] = l
	return l.ID, nil
}

func (t *Tx) SaveDelivery(_ context.Context, d delivery.Delivery) error {
	if err := t.fault("SaveDelivery"); err != nil {
		return err
	}
	stored, ok := t.s.data.deliveries[d.ID]
	if !ok {
		return notFound(delivery.ErrDeliveryNotFound)
	}
	stored.Status, stored.CostValueBase, stored.InventoryTransactionID = d.Status, d.CostValueBase, d.InventoryTransactionID
	stored.Notes, stored.PostedBy, stored.PostedAt = d.Notes, d.PostedBy, d.PostedAt
	stored.UpdatedAt = t.s.now()
	t.s.data.deliveries[d.ID] = stored
	return nil
}

func (t *Tx) SoftDeleteDelivery(_ context.Context, id int64, at time.Time) error {
	d, ok := t.s.data.deliveries[id]
	if !ok {
		return notFound(delivery.ErrDeliveryNotFound)
	}
	d.DeletedAt = &at
	t.s.data.deliveries[id] = d
	return nil
}

// ---- ar ----

func (t *Tx) LockInvoice(_ context.Context, id int64) (ar.Invoice, error) {
	if err := t.fault("LockInvoice"); err != nil {
		return ar.Invoice{}, err
	}
	inv, ok := t.s.data.invoices[id]
	if !ok || inv.DeletedAt != nil {
		return ar.Invoice{}, notFound(ar.ErrInvoiceNotFound)
	}
	t.lock("invoice", id)
	return inv, nil
}

func (t *Tx) InvoiceLines(_ context.Context, invoiceID int64) ([]ar.Line, error) {
	var lines []ar.Line
	for _, l := range t.s.data.invoiceLines {
		if l.InvoiceID == invoiceID {
			lines = append(lines, l)
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].LineNo != lines[j].LineNo {
			return lines[i].LineNo < lines[j].LineNo
		}
		return lines[i].ID < lines[j].ID
	})
	return lines, nil
}

func (t *Tx) InsertInvoice(_ context.Context, inv ar.Invoice) (int64, error) {
	inv.ID = t.nextID("sales_invoices")
	inv.Lines = nil
	inv.CreatedAt, inv.UpdatedAt = t.s.now(), t.s.now()
	t.s.data.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (t *Tx) InsertInvoiceLine(_ context.Context, l ar.Line) (int64, error) {
	l.ID = t.nextID("sales_invoice_lines")
	t.s.data.invoiceLines[l.ID] = l
	return l.ID, nil
}

func (t *Tx) DeleteInvoiceLines(_ context.Context, invoiceID int64) error {
	for id, l := range t.s.data.invoiceLines {
		if l.InvoiceID == invoiceID {
			delete(t.s.data.invoiceLines, id)
		}
	}
	return nil
}

func (t *Tx) SaveInvoice(_ context.Context, inv ar.Invoice) error {
	if err := t.fault("SaveInvoice"); err != nil {
		return err
	}
	stored, ok := t.s.data.invoices[inv.ID]
	if !ok {
		return notFound(ar.ErrInvoiceNotFound)
	}
	inv.Lines = nil
	inv.CreatedAt, inv.DeletedAt = stored.CreatedAt, stored.DeletedAt
	inv.UpdatedAt = t.s.now()
	t.s.data.invoices[inv.ID] = inv
	return nil
}

func (t *Tx) SaveInvoiceLine(_ context.Context, l ar.Line) error {
	if err := t.fault("SaveInvoiceLine"); err != nil {
		return err
	}
	stored, ok := t.s.data.invoiceLines[l.ID]
	if !ok {
		return notFound(ar.ErrInvoiceNotFound)
	}
	stored.QuantityBase, stored.LineTotalBase, stored.TaxBase = l.QuantityBase, l.LineTotalBase, l.TaxBase
	stored.DeliveryValueBase, stored.RevenueVariance = l.DeliveryValueBase, l.RevenueVariance
	t.s.data.invoiceLines[l.ID] = stored
	return nil
}

func (t *Tx) SoftDeleteInvoice(_ context.Context, id int64, at time.Time) error {
	inv, ok := t.s.data.invoices[id]
	if !ok {
		return notFound(ar.ErrInvoiceNotFound)
	}
	inv.DeletedAt = &at
	t.s.data.invoices[id] = inv
	return nil
}

// ---- returns ----

func (t *Tx) LockReturn(_ context.Context, id int64) (returns.Return, error) {
	if err := t.fault("LockReturn"); err != nil {
		return returns.Return{}, err
	}
	r, ok := t.s.data.returns[id]
	if !ok || r.DeletedAt != nil {
		return returns.Return{}, notFound(returns.ErrReturnNotFound)
	}
	t.lock("return", id)
	return r, nil
}

func (t *Tx) ReturnLines(_ context.Context, returnID int64) ([]returns.Line, error) {
	var lines []returns.Line
	for _, l := range t.s.data.returnLines {
		if l.ReturnID == returnID {
			lines = append(lines, l)
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].LineNo != lines[j].LineNo {
			return lines[i].LineNo < lines[j].LineNo
		}
		return lines[i].ID < lines[j].ID
	})
	return lines, nil
}

func (t *Tx) InsertReturn(_ context.Context, r returns.Return) (int64, error) {
	r.ID = t.nextID("sales_returns")
	r.Lines = nil
	r.CostValueBase = decimal.Zero
	r.CreatedAt, r.UpdatedAt = t.s.now(), t.s.now()
	t.s.data.returns[r.ID] = r
	return r.ID, nil
}

func (t *Tx) InsertReturnLine(_ context.Context, l returns.Line) (int64, error) {
	l.ID = t.nextID("sales_return_lines")
	t.s.data.returnLines[l.ID] = l
	return l.ID, nil
}

func (t *Tx) DeleteReturnLines(_ context.Context, returnID int64) error {
	for id, l := range t.s.data.returnLines {
		if l.ReturnID == returnID {
			delete(t.s.data.returnLines, id)
		}
	}
	return nil
}

func (t *Tx) SaveReturn(_ context.Context, r returns.Return) error {
	if err := t.fault("SaveReturn"); err != nil {
		return err
	}
	stored, ok := t.s.data.returns[r.ID]
	if !ok {
		return notFound(returns.ErrReturnNotFound)
	}
	r.Lines = nil
	r.CreatedAt, r.DeletedAt = stored.CreatedAt, stored.DeletedAt
	r.UpdatedAt = t.s.now()
	t.s.data.returns[r.ID] = r
	return nil
}

func (t *Tx) SaveReturnLine(_ context.Context, l returns.Line) error {
	stored, ok := t.s.data.returnLines[l.ID]
	if !ok {
		return notFound(returns.ErrReturnNotFound)
	}
	stored.QuantityBase, stored.UnitCostBase, stored.ValueBase = l.QuantityBase, l.UnitCostBase, l.ValueBase
	t.s.data.returnLines[l.ID] = stored
	return nil
}

func (t *Tx) SoftDeleteReturn(_ context.Context, id int64, at time.Time) error {
	r, ok := t.s.data.returns[id]
	if !ok {
		return notFound(returns.ErrReturnNotFound)
	}
	r.DeletedAt = &at
	t.s.data.returns[id] = r
	return nil
}

// ---- ports ----

// Sales returns the store as a sales.RepositoryPort.
func (s *Store) Sales() sales.RepositoryPort { return salesPort{s} }

// Deliveries returns the store as a delivery.RepositoryPort.
func (s *Store) Deliveries() delivery.RepositoryPort { return deliveryPort{s} }

// Invoices returns the store as an ar.RepositoryPort.
func (s *Store) Invoices() ar.RepositoryPort { return invoicePort{s} }

// Returns returns the store as a returns.RepositoryPort.
func (s *Store) Returns() returns.RepositoryPort { return returnPort{s} }

type salesPort struct{ s *Store }

func (p salesPort) WithTx(ctx context.Context, fn func(context.Context, sales.TxRepository) error) error {
	return p.s.withTx(func(tx *Tx) error { return fn(ctx, tx) })
}

func (p salesPort) GetOrder(ctx context.Context, id int64) (sales.Order, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	tx := &Tx{s: p.s}
	o, ok := p.s.data.orders[id]
	if !ok || o.DeletedAt != nil {
		return sales.Order{}, notFound(sales.ErrOrderNotFound)
	}
	o.Lines, _ = tx.OrderLines(ctx, id)
	return o, nil
}

type deliveryPort struct{ s *Store }

func (p deliveryPort) WithTx(ctx context.Context, fn func(context.Context, delivery.TxRepository) error) error {
	return p.s.withTx(func(tx *Tx) error { return fn(ctx, tx) })
}

func (p deliveryPort) GetDelivery(ctx context.Context, id int64) (delivery.Delivery, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	tx := &Tx{s: p.s}
	d, err := tx.DeliveryHeader(ctx, id)
	if err != nil {
		return delivery.Delivery{}, err
	}
	d.Lines, _ = tx.DeliveryLines(ctx, id)
	return d, nil
}

type invoicePort struct{ s *Store }

func (p invoicePort) WithTx(ctx context.Context, fn func(context.Context, ar.TxRepository) error) error {
	return p.s.withTx(func(tx *Tx) error { return fn(ctx, tx) })
}

func (p invoicePort) GetInvoice(ctx context.Context, id int64) (ar.Invoice, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	tx := &Tx{s: p.s}
	inv, ok := p.s.data.invoices[id]
	if !ok || inv.DeletedAt != nil {
		return ar.Invoice{}, notFound(ar.ErrInvoiceNotFound)
	}
	inv.Lines, _ = tx.InvoiceLines(ctx, id)
	return inv, nil
}

type returnPort struct{ s *Store }

func (p returnPort) WithTx(ctx context.Context, fn func(context.Context, returns.TxRepository) error) error {
	return p.s.withTx(func(tx *Tx) error { return fn(ctx, tx) })
}

func (p returnPort) GetReturn(ctx context.Context, id int64) (returns.Return, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	tx := &Tx{s: p.s}
	r, ok := p.s.data.returns[id]
	if !ok || r.DeletedAt != nil {
		return returns.Return{}, notFound(returns.ErrReturnNotFound)
	}
	r.Lines, _ = tx.ReturnLines(ctx, id)
	return r, nil
}
