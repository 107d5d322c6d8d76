package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/accounting"
	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/inventory"
	"github.com/odyssey-erp/odyssey-o2c/internal/ledger"
	"github.com/odyssey-erp/odyssey-o2c/internal/numeric"
	"github.com/odyssey-erp/odyssey-o2c/internal/observability"
	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
	"github.com/odyssey-erp/odyssey-o2c/internal/reservation"
	"github.com/odyssey-erp/odyssey-o2c/internal/sales"
	"github.com/odyssey-erp/odyssey-o2c/internal/sequence"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
	"github.com/odyssey-erp/odyssey-o2c/internal/statemachine"
)

const document = "delivery"

// ServiceConfig groups the collaborators of Service.
type ServiceConfig struct {
	Inventory    *inventory.Service
	Reservations *reservation.Manager
	Emitter      *accounting.Emitter
	Tolerance    decimal.Decimal
	Retry        db.RetryPolicy
	Logger       *slog.Logger
	Metrics      *observability.LedgerMetrics
	Now          func() time.Time
}

// Service posts deliveries against confirmed orders.
type Service struct {
	repo         RepositoryPort
	inventory    *inventory.Service
	reservations *reservation.Manager
	emitter      *accounting.Emitter
	core         ledger.Core
	machine      *statemachine.Machine[Status]
	orders       *statemachine.Machine[sales.OrderStatus]
	sequences    *sequence.Generator
	retry        db.RetryPolicy
	logger       *slog.Logger
	metrics      *observability.LedgerMetrics
	now          func() time.Time
}

// NewService constructs a delivery service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	tol := cfg.Tolerance
	if tol.IsZero() {
		tol = ledger.DefaultTolerance
	}
	s := &Service{
		repo:         repo,
		inventory:    cfg.Inventory,
		reservations: cfg.Reservations,
		emitter:      cfg.Emitter,
		core:         ledger.NewCore(tol),
		machine:      statemachine.New(document, Transitions),
		orders:       sales.NewMachine(nil),
		sequences:    sequence.NewGenerator(),
		retry:        cfg.Retry,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		now:          cfg.Now,
	}
	if s.inventory == nil {
		s.inventory = inventory.NewService(inventory.ServiceConfig{})
	}
	if s.reservations == nil {
		s.reservations = reservation.NewManager(tol, cfg.Metrics)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

func (s *Service) run(ctx context.Context, op string, id int64, fn func(context.Context, TxRepository) error) (err error) {
	ctx, span := observability.StartSpan(ctx, document, op, "delivery_id", id)
	defer func() {
		observability.EndSpan(span, err)
		s.metrics.ObservePosting(document, err)
		if err != nil && !shared.IsBusiness(err) {
			s.logger.Error("delivery operation failed", slog.String("op", op), slog.Int64("delivery_id", id), slog.Any("error", err))
		}
	}()
	return db.Retry(ctx, s.retry, func() error {
		return s.repo.WithTx(ctx, fn)
	})
}

func (s *Service) audit(ctx context.Context, tx TxRepository, scope shared.Scope, action string, d Delivery, meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["doc_number"] = d.DocNumber
	meta["order_id"] = d.OrderID
	return tx.RecordAudit(ctx, shared.AuditLog{
		ActorID:  scope.Actor.UserID,
		Action:   document + "." + action,
		Entity:   document,
		EntityID: strconv.FormatInt(d.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}

func lockDraft(ctx context.Context, tx TxRepository, scope shared.Scope, id int64) (Delivery, error) {
	d, err := tx.LockDelivery(ctx, id)
	if err != nil {
		return Delivery{}, err
	}
	if err := scope.Require("delivery "+d.DocNumber, d.CompanyID, d.BranchID); err != nil {
		return Delivery{}, err
	}
	return d, nil
}

func deliverable(order sales.Order) error {
	if order.Status == sales.StatusConfirmed || order.Status == sales.StatusPartiallyDelivered {
		return nil
	}
	return shared.NewBusinessError("ORDER_NOT_OPEN", ErrOrderNotOpen, "order %s is %s", order.DocNumber, order.Status)
}

// Create stores a DRAFT delivery for lines of an open order. Quantities are
// checked against what is still undelivered; Post checks again under lock.
func (s *Service) Create(ctx context.Context, scope shared.Scope, req CreateDeliveryRequest) (Delivery, error) {
	if err := scope.Validate(); err != nil {
		return Delivery{}, err
	}
	if err := shared.ValidateStruct(req); err != nil {
		return Delivery{}, err
	}
	var id int64
	err := s.run(ctx, "create", 0, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.LockOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if err := scope.Require("sales order "+order.DocNumber, order.CompanyID, order.BranchID); err != nil {
			return err
		}
		if err := deliverable(order); err != nil {
			return err
		}
		orderLines, err := tx.OrderLines(ctx, order.ID)
		if err != nil {
			return err
		}
		byID := make(map[int64]sales.OrderLine, len(orderLines))
		for _, ol := range orderLines {
			byID[ol.ID] = ol
		}

		plan := s.core.NewPlan()
		lines := make([]Line, 0, len(req.Lines))
		for i, in := range req.Lines {
			ol, ok := byID[in.OrderLineID]
			if !ok {
				return shared.NewBusinessError("ORDER_LINE_NOT_FOUND", sales.ErrOrderLineNotFound,
					"line %d does not belong to order %s", in.OrderLineID, order.DocNumber)
			}
			plan.Draw(ledger.LineRef{Kind: "order_line", ID: ol.ID}, in.Quantity, ol.RemainingToDeliver())
			qty := numeric.Quantity(in.Quantity)
			lines = append(lines, Line{
				OrderLineID:  ol.ID,
				LineNo:       i + 1,
				ProductID:    ol.ProductID,
				VariantID:    ol.VariantID,
				LotID:        ol.LotID,
				Quantity:     qty,
				QuantityBase: ol.ToBase(qty),
			})
		}
		if err := plan.Validate(); err != nil {
			return err
		}

		number, err := s.sequences.Next(ctx, tx.Sequences(), sequence.NewScope(docref.KindDelivery, scope.Tenant, req.DeliveryDate.Year()))
		if err != nil {
			return err
		}
		location := req.LocationID
		if location == 0 {
			location = order.LocationID
		}
		d := Delivery{
			CompanyID:    order.CompanyID,
			BranchID:     order.BranchID,
			OrderID:      order.ID,
			LocationID:   location,
			DocNumber:    number.Value,
			DocPrefix:    number.Scope.Prefix,
			DocYear:      number.Scope.Year,
			DocSeq:       number.Seq,
			DeliveryDate: req.DeliveryDate,
			Currency:     order.Currency,
			ExchangeRate: order.ExchangeRate,
			Status:       StatusDraft,
			Notes:        req.Notes,
			CreatedBy:    scope.Actor.UserID,
		}
		id, err = tx.InsertDelivery(ctx, d)
		if err != nil {
			return err
		}
		d.ID = id
		for _, l := range lines {
			l.DeliveryID = id
			if _, err := tx.InsertDeliveryLine(ctx, l); err != nil {
				return err
			}
		}
		return s.audit(ctx, tx, scope, "create", d, map[string]any{"lines": len(lines)})
	})
	if err != nil {
		return Delivery{}, fmt.Errorf("create delivery: %w", err)
	}
	return s.repo.GetDelivery(ctx, id)
}

// Post ships a DRAFT delivery. Every line is checked against its locked
// order line before anything changes; then the outstanding reservation is
// consumed, stock is issued at moving-average cost and the order advances to
// PARTIALLY_DELIVERED or DELIVERED. A COGS event is emitted after commit.
func (s *Service) Post(ctx context.Context, scope shared.Scope, id int64) (Delivery, error) {
	if err := scope.Validate(); err != nil {
		return Delivery{}, err
	}
	var posted Delivery
	err := s.run(ctx, "post", id, func(ctx context.Context, tx TxRepository) error {
		d, err := lockDraft(ctx, tx, scope, id)
		if err != nil {
			return err
		}
		if err := s.machine.Transition(ctx, statemachine.Request[Status]{
			DocumentID: d.ID, From: d.Status, To: StatusPosted,
			CompanyID: d.CompanyID, CreatedBy: d.CreatedBy, Actor: scope.Actor.UserID,
		}); err != nil {
			return err
		}
		order, err := tx.LockOrder(ctx, d.OrderID)
		if err != nil {
			return err
		}
		if err := deliverable(order); err != nil {
			return err
		}
		lines, err := tx.DeliveryLines(ctx, d.ID)
		if err != nil {
			return err
		}
		ids := make([]int64, len(lines))
		for i, l := range lines {
			ids[i] = l.OrderLineID
		}
		orderLines, err := tx.LockOrderLines(ctx, order.ID, ids)
		if err != nil {
			return err
		}
		byID := make(map[int64]*sales.OrderLine, len(orderLines))
		for i := range orderLines {
			byID[orderLines[i].ID] = &orderLines[i]
		}

		plan := s.core.NewPlan()
		for _, l := range lines {
			ol := byID[l.OrderLineID]
			plan.Draw(ledger.LineRef{Kind: "order_line", ID: ol.ID}, l.Quantity, ol.RemainingToDeliver())
		}
		if err := plan.Validate(); err != nil {
			return err
		}

		var releases []reservation.Request
		moves := make([]inventory.MovementLine, len(lines))
		for i := range lines {
			l := &lines[i]
			ol := byID[l.OrderLineID]
			base := ol.ToBase(l.Quantity)
			l.QuantityBase = base
			if consumed := decimal.Min(ol.QuantityReservedBase, base); consumed.IsPositive() {
				releases = append(releases, reservation.Request{Key: ol.CounterKey(order.LocationID), Requested: consumed, Ref: ol.ID})
				ol.SetReservedBase(ol.QuantityReservedBase.Sub(consumed))
			}
			ol.QuantityDelivered = numeric.Quantity(ol.QuantityDelivered.Add(l.Quantity))
			ol.QuantityDeliveredBase = numeric.Quantity(ol.QuantityDeliveredBase.Add(base))
			moves[i] = inventory.MovementLine{VariantID: l.VariantID, LotID: l.LotID, QtyBase: base}
		}
		if err := s.reservations.ReleaseAll(ctx, tx.Inventory(), releases); err != nil {
			return err
		}
		movement, err := s.inventory.Issue(ctx, tx.Inventory(), inventory.MovementInput{
			LocationID: d.LocationID,
			Date:       d.DeliveryDate,
			Lines:      moves,
			Source:     docref.Delivery(d.ID),
			ActorID:    scope.Actor.UserID,
			Note:       d.DocNumber,
		})
		if errors.Is(err, inventory.ErrNegativeStock) {
			return shared.NewBusinessError("INSUFFICIENT_STOCK", err, "delivery %s", d.DocNumber)
		}
		if err != nil {
			return err
		}

		total := decimal.Zero
		for i, layer := range movement.Layers {
			lines[i].UnitCostBase = numeric.Cost(layer.UnitCost)
			lines[i].ValueBase = numeric.BaseValue(layer.Value)
			total = total.Add(lines[i].ValueBase)
		}
		for _, ol := range orderLines {
			if err := tx.SaveOrderLine(ctx, ol); err != nil {
				return err
			}
		}
		for _, l := range lines {
			if err := tx.SaveDeliveryLine(ctx, l); err != nil {
				return err
			}
		}

		if err := s.advanceOrder(ctx, tx, scope, order); err != nil {
			return err
		}

		now := s.now()
		txID := movement.TransactionID
		d.Status = StatusPosted
		d.CostValueBase = numeric.BaseValue(total)
		d.InventoryTransactionID = &txID
		d.PostedBy = &scope.Actor.UserID
		d.PostedAt = &now
		if err := tx.SaveDelivery(ctx, d); err != nil {
			return err
		}
		posted = d
		posted.Lines = lines
		return s.audit(ctx, tx, scope, "post", d, map[string]any{
			"cost_value_base":          d.CostValueBase.String(),
			"inventory_transaction_id": txID,
		})
	})
	if err != nil {
		return Delivery{}, fmt.Errorf("post delivery: %w", err)
	}

	s.emitter.Emit(ctx, accounting.DeliveryPosting(accounting.Header{
		Ref:          docref.Delivery(posted.ID),
		DocNumber:    posted.DocNumber,
		CompanyID:    posted.CompanyID,
		BranchID:     posted.BranchID,
		OccurredAt:   *posted.PostedAt,
		Currency:     posted.Currency,
		ExchangeRate: posted.ExchangeRate,
	}, posted.CostValueBase))
	return posted, nil
}

// advanceOrder moves the order to the fulfilment status its lines now show.
func (s *Service) advanceOrder(ctx context.Context, tx TxRepository, scope shared.Scope, order sales.Order) error {
	all, err := tx.OrderLines(ctx, order.ID)
	if err != nil {
		return err
	}
	next := sales.FulfilmentStatus(all, s.core.Tolerance)
	if next == order.Status {
		return nil
	}
	if err := s.orders.Transition(ctx, statemachine.Request[sales.OrderStatus]{
		DocumentID: order.ID, From: order.Status, To: next,
		CompanyID: order.CompanyID, CreatedBy: order.CreatedBy, Actor: scope.Actor.UserID,
	}); err != nil {
		return err
	}
	order.Status = next
	return tx.SaveOrder(ctx, order)
}

// Cancel withdraws a DRAFT delivery. Nothing was reserved or issued by it.
func (s *Service) Cancel(ctx context.Context, scope shared.Scope, id int64) (Delivery, error) {
	if err := scope.Validate(); err != nil {
		return Delivery{}, err
	}
	err := s.run(ctx, "cancel", id, func(ctx context.Context, tx TxRepository) error {
		d, err := lockDraft(ctx, tx, scope, id)
		if err != nil {
			return err
		}
		if err := s.machine.Transition(ctx, statemachine.Request[Status]{
			DocumentID: d.ID, From: d.Status, To: StatusCancelled,
			CompanyID: d.CompanyID, CreatedBy: d.CreatedBy, Actor: scope.Actor.UserID,
		}); err != nil {
			return err
		}
		d.Status = StatusCancelled
		if err := tx.SaveDelivery(ctx, d); err != nil {
			return err
		}
		return s.audit(ctx, tx, scope, "cancel", d, nil)
	})
	if err != nil {
		return Delivery{}, fmt.Errorf("cancel delivery: %w", err)
	}
	return s.repo.GetDelivery(ctx, id)
}

// Delete soft-deletes a DRAFT delivery.
func (s *Service) Delete(ctx context.Context, scope shared.Scope, id int64) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	err := s.run(ctx, "delete", id, func(ctx context.Context, tx TxRepository) error {
		d, err := lockDraft(ctx, tx, scope, id)
		if err != nil {
			return err
		}
		if d.Status != StatusDraft {
			return shared.NewBusinessError("NOT_EDITABLE", ErrCannotEdit, "delivery %s is %s", d.DocNumber, d.Status)
		}
		if err := tx.SoftDeleteDelivery(ctx, id, s.now()); err != nil {
			return err
		}
		return s.audit(ctx, tx, scope, "delete", d, nil)
	})
	if err != nil {
		return fmt.Errorf("delete delivery: %w", err)
	}
	return nil
}

// Get returns a live delivery in scope.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (Delivery, error) {
	d, err := s.repo.GetDelivery(ctx, id)
	if err != nil {
		return Delivery{}, err
	}
	if err := scope.Require("delivery "+d.DocNumber, d.CompanyID, d.BranchID); err != nil {
		return Delivery{}, err
	}
	return d, nil
}
