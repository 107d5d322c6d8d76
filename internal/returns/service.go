package returns

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/accounting"
	"github.com/odyssey-erp/odyssey-o2c/internal/delivery"
	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/inventory"
	"github.com/odyssey-erp/odyssey-o2c/internal/ledger"
	"github.com/odyssey-erp/odyssey-o2c/internal/numeric"
	"github.com/odyssey-erp/odyssey-o2c/internal/observability"
	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
	"github.com/odyssey-erp/odyssey-o2c/internal/sales"
	"github.com/odyssey-erp/odyssey-o2c/internal/sequence"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
	"github.com/odyssey-erp/odyssey-o2c/internal/statemachine"
)

const document = "sales_return"

// ServiceConfig groups the collaborators of Service.
type ServiceConfig struct {
	Inventory    *inventory.Service
	Emitter      *accounting.Emitter
	MakerChecker statemachine.PolicyFunc
	Tolerance    decimal.Decimal
	Retry        db.RetryPolicy
	Logger       *slog.Logger
	Metrics      *observability.LedgerMetrics
	Now          func() time.Time
}

// Service handles sales returns.
type Service struct {
	repo      RepositoryPort
	inventory *inventory.Service
	emitter   *accounting.Emitter
	core      ledger.Core
	machine   *statemachine.Machine[Status]
	sequences *sequence.Generator
	retry     db.RetryPolicy
	logger    *slog.Logger
	metrics   *observability.LedgerMetrics
	now       func() time.Time
}

// NewService constructs a returns service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	tol := cfg.Tolerance
	if tol.IsZero() {
		tol = ledger.DefaultTolerance
	}
	s := &Service{
		repo:      repo,
		inventory: cfg.Inventory,
		emitter:   cfg.Emitter,
		core:      ledger.NewCore(tol),
		machine: statemachine.New(document, Transitions).
			GuardInto(StatusPosted, statemachine.MakerChecker[Status](cfg.MakerChecker)),
		sequences: sequence.NewGenerator(),
		retry:     cfg.Retry,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}
	if s.inventory == nil {
		s.inventory = inventory.NewService(inventory.ServiceConfig{})
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
	ctx, span := observability.StartSpan(ctx, document, op, "return_id", id)
	defer func() {
		observability.EndSpan(span, err)
		s.metrics.ObservePosting(document, err)
		if err != nil && !shared.IsBusiness(err) {
			s.logger.Error("return operation failed", slog.String("op", op), slog.Int64("return_id", id), slog.Any("error", err))
		}
	}()
	return db.Retry(ctx, s.retry, func() error {
		return s.repo.WithTx(ctx, fn)
	})
}

func (s *Service) audit(ctx context.Context, tx TxRepository, scope shared.Scope, action string, r Return, meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["doc_number"] = r.DocNumber
	meta["delivery_id"] = r.DeliveryID
	return tx.RecordAudit(ctx, shared.AuditLog{
		ActorID:  scope.Actor.UserID,
		Action:   document + "." + action,
		Entity:   document,
		EntityID: strconv.FormatInt(r.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}

func lockReturn(ctx context.Context, tx TxRepository, scope shared.Scope, id int64) (Return, error) {
	r, err := tx.LockReturn(ctx, id)
	if err != nil {
		return Return{}, err
	}
	if err := scope.Require("return "+r.DocNumber, r.CompanyID, r.BranchID); err != nil {
		return Return{}, err
	}
	return r, nil
}

func lockDraft(ctx context.Context, tx TxRepository, scope shared.Scope, id int64) (Return, error) {
	r, err := lockReturn(ctx, tx, scope, id)
	if err != nil {
		return Return{}, err
	}
	if r.Status != StatusDraft {
		return Return{}, shared.NewBusinessError("NOT_EDITABLE", ErrCannotEdit, "return %s is %s", r.DocNumber, r.Status)
	}
	return r, nil
}

func checkDeliveryLine(dl delivery.Line, deliveryID int64) error {
	if dl.DeliveryID != deliveryID {
		return shared.NewBusinessError("LINE_MISMATCH", ErrLineMismatch, "delivery line %d is not from delivery %d", dl.ID, deliveryID)
	}
	if dl.DeliveryStatus != delivery.StatusPosted {
		return shared.NewBusinessError("DELIVERY_NOT_POSTED", ErrDeliveryNotPosted, "delivery %d is %s", deliveryID, dl.DeliveryStatus)
	}
	return nil
}

// buildLines pre-checks the requested quantities against the delivery
// lines' uninvoiced, unreturned remainder.
func (s *Service) buildLines(ctx context.Context, tx TxRepository, deliveryID int64, inputs []LineInput) ([]Line, error) {
	ids := make([]int64, len(inputs))
	for i, in := range inputs {
		ids[i] = in.DeliveryLineID
	}
	deliveryLines, err := tx.LockDeliveryLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]delivery.Line, len(deliveryLines))
	for _, dl := range deliveryLines {
		byID[dl.ID] = dl
	}
	plan := s.core.NewPlan()
	lines := make([]Line, 0, len(inputs))
	for i, in := range inputs {
		dl := byID[in.DeliveryLineID]
		if err := checkDeliveryLine(dl, deliveryID); err != nil {
			return nil, err
		}
		plan.Draw(ledger.LineRef{Kind: "delivery_line", ID: dl.ID}, in.Quantity, dl.Remaining())
		qty := numeric.Quantity(in.Quantity)
		lines = append(lines, Line{
			DeliveryLineID: dl.ID,
			OrderLineID:    dl.OrderLineID,
			LineNo:         i + 1,
			ProductID:      dl.ProductID,
			VariantID:      dl.VariantID,
			LotID:          dl.LotID,
			Quantity:       qty,
			QuantityBase:   numeric.ByRatio(qty, dl.Quantity, dl.QuantityBase),
			UnitCostBase:   dl.UnitCostBase,
		})
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return lines, nil
}

func insertLines(ctx context.Context, tx TxRepository, returnID int64, lines []Line) error {
	for _, l := range lines {
		l.ReturnID = returnID
		if _, err := tx.InsertReturnLine(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// Create stores a DRAFT return against a posted delivery.
func (s *Service) Create(ctx context.Context, scope shared.Scope, req CreateReturnRequest) (Return, error) {
	if err := scope.Validate(); err != nil {
		return Return{}, err
	}
	if err := shared.ValidateStruct(req); err != nil {
		return Return{}, err
	}
	var id int64
	err := s.run(ctx, "create", 0, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.DeliveryHeader(ctx, req.DeliveryID)
		if err != nil {
			return err
		}
		if err := scope.Require("delivery "+d.DocNumber, d.CompanyID, d.BranchID); err != nil {
			return err
		}
		if d.Status != delivery.StatusPosted {
			return shared.NewBusinessError("DELIVERY_NOT_POSTED", ErrDeliveryNotPosted, "delivery %s is %s", d.DocNumber, d.Status)
		}
		lines, err := s.buildLines(ctx, tx, d.ID, req.Lines)
		if err != nil {
			return err
		}
		number, err := s.sequences.Next(ctx, tx.Sequences(), sequence.NewScope(docref.KindReturn, scope.Tenant, req.ReturnDate.Year()))
		if err != nil {
			return err
		}
		location := req.LocationID
		if location == 0 {
			location = d.LocationID
		}
		r := Return{
			CompanyID:    d.CompanyID,
			BranchID:     d.BranchID,
			OrderID:      d.OrderID,
			DeliveryID:   d.ID,
			LocationID:   location,
			DocNumber:    number.Value,
			DocPrefix:    number.Scope.Prefix,
			DocYear:      number.Scope.Year,
			DocSeq:       number.Seq,
			ReturnDate:   req.ReturnDate,
			Currency:     d.Currency,
			ExchangeRate: d.ExchangeRate,
			Status:       StatusDraft,
			Reason:       req.Reason,
			CreatedBy:    scope.Actor.UserID,
		}
		id, err = tx.InsertReturn(ctx, r)
		if err != nil {
			return err
		}
		r.ID = id
		if err := insertLines(ctx, tx, id, lines); err != nil {
			return err
		}
		return s.audit(ctx, tx, scope, "create", r, map[string]any{"lines": len(lines)})
	})
	if err != nil {
		return Return{}, fmt.Errorf("create return: %w", err)
	}
	return s.repo.GetReturn(ctx, id)
}

// Update changes a DRAFT return.
func (s *Service) Update(ctx context.Context, scope shared.Scope, id int64, req UpdateReturnRequest) (Return, error) {
	if err := scope.Validate(); err != nil {
		return Return{}, err
	}
	if err := shared.ValidateStruct(req); err != nil {
		return Return{}, err
	}
	err := s.run(ctx, "update", id, func(ctx context.Context, tx TxRepository) error {
		r, err := lockDraft(ctx, tx, scope, id)
		if err != nil {
			return err
		}
		if req.ReturnDate != nil {
			r.ReturnDate = *req.ReturnDate
		}
		if req.Reason != nil {
			r.Reason = *req.Reason
		}
		if len(req.Lines) > 0 {
			lines, err := s.buildLines(ctx, tx, r.DeliveryID, req.Lines)
			if err != nil {
				return err
			}
			if err := tx.DeleteReturnLines(ctx, id); err != nil {
				return err
			}
			if err := insertLines(ctx, tx, id, lines); err != nil {
				return err
			}
		}
		if err := tx.SaveReturn(ctx, r); err != nil {
			return err
		}
		return s.audit(ctx, tx, scope, "update", r, map[string]any{"lines_replaced": len(req.Lines) > 0})
	})
	if err != nil {
		return Return{}, fmt.Errorf("update return: %w", err)
	}
	return s.repo.GetReturn(ctx, id)
}

// Delete soft-deletes a DRAFT return.
func (s *Service) Delete(ctx context.Context, scope shared.Scope, id int64) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	err := s.run(ctx, "delete", id, func(ctx context.Context, tx TxRepository) error {
		r, err := lockDraft(ctx, tx, scope, id)
		if err != nil {
			return err
		}
		if err := tx.SoftDeleteReturn(ctx, id, s.now()); err != nil {
			return err
		}
		return s.audit(ctx, tx, scope, "delete", r, nil)
	})
	if err != nil {
		return fmt.Errorf("delete return: %w", err)
	}
	return nil
}

// Post takes the goods back. Each line draws from the delivery line's
// uninvoiced, unreturned remainder and from the order line's delivered but
// unreturned quantity. Stock is re-received at the delivery's cost basis and
// the receipt transaction is stored on the header.
func (s *Service) Post(ctx context.Context, scope shared.Scope, id int64) (Return, error) {
	if err := scope.Validate(); err != nil {
		return Return{}, err
	}
	var posted Return
	err := s.run(ctx, "post", id, func(ctx context.Context, tx TxRepository) error {
		r, err := lockReturn(ctx, tx, scope, id)
		if err != nil {
			return err
		}
		if err := s.machine.Transition(ctx, statemachine.Request[Status]{
			DocumentID: r.ID, From: r.Status, To: StatusPosted,
			CompanyID: r.CompanyID, CreatedBy: r.CreatedBy, Actor: scope.Actor.UserID,
		}); err != nil {
			return err
		}
		lines, err := tx.ReturnLines(ctx, r.ID)
		if err != nil {
			return err
		}
		orderIDs := make([]int64, len(lines))
		deliveryIDs := make([]int64, len(lines))
		for i, l := range lines {
			orderIDs[i] = l.OrderLineID
			deliveryIDs[i] = l.DeliveryLineID
		}
		orderLines, err := tx.LockOrderLines(ctx, r.OrderID, orderIDs)
		if err != nil {
			return err
		}
		deliveryLines, err := tx.LockDeliveryLines(ctx, deliveryIDs)
		if err != nil {
			return err
		}
		byOrder := make(map[int64]*sales.OrderLine, len(orderLines))
		for i := range orderLines {
			byOrder[orderLines[i].ID] = &orderLines[i]
		}
		byDelivery := make(map[int64]*delivery.Line, len(deliveryLines))
		for i := range deliveryLines {
			byDelivery[deliveryLines[i].ID] = &deliveryLines[i]
		}

		plan := s.core.NewPlan()
		for _, l := range lines {
			dl, ol := byDelivery[l.DeliveryLineID], byOrder[l.OrderLineID]
			if err := checkDeliveryLine(*dl, r.DeliveryID); err != nil {
				return err
			}
			if dl.OrderLineID != ol.ID {
				return shared.NewBusinessError("LINE_MISMATCH", ErrLineMismatch,
					"delivery line %d ships order line %d, not %d", dl.ID, dl.OrderLineID, ol.ID)
			}
			plan.Draw(ledger.LineRef{Kind: "delivery_line", ID: dl.ID}, l.Quantity, dl.Remaining())
			plan.Draw(ledger.LineRef{Kind: "order_line", ID: ol.ID}, l.Quantity, ol.RemainingToReturn())
		}
		if err := plan.Validate(); err != nil {
			return err
		}

		moves := make([]inventory.MovementLine, len(lines))
		total := decimal.Zero
		for i := range lines {
			l := &lines[i]
			dl, ol := byDelivery[l.DeliveryLineID], byOrder[l.OrderLineID]
			base := numeric.ByRatio(l.Quantity, dl.Quantity, dl.QuantityBase)
			l.QuantityBase = base
			l.UnitCostBase = dl.UnitCostBase
			l.ValueBase = numeric.BaseValue(base.Mul(dl.UnitCostBase))
			total = total.Add(l.ValueBase)

			dl.QuantityReturned = numeric.Quantity(dl.QuantityReturned.Add(l.Quantity))
			dl.QuantityReturnedBase = numeric.Quantity(dl.QuantityReturnedBase.Add(base))
			ol.QuantityReturned = numeric.Quantity(ol.QuantityReturned.Add(l.Quantity))
			ol.QuantityReturnedBase = numeric.Quantity(ol.QuantityReturnedBase.Add(base))
			moves[i] = inventory.MovementLine{VariantID: l.VariantID, LotID: l.LotID, QtyBase: base, UnitCost: dl.UnitCostBase}
		}
		for _, ol := range orderLines {
			if err := tx.SaveOrderLine(ctx, ol); err != nil {
				return err
			}
		}
		for _, dl := range deliveryLines {
			if err := tx.SaveDeliveryLine(ctx, dl); err != nil {
				return err
			}
		}
		movement, err := s.inventory.Receipt(ctx, tx.Inventory(), inventory.MovementInput{
			LocationID: r.LocationID,
			Date:       r.ReturnDate,
			Lines:      moves,
			Source:     docref.Return(r.ID),
			ActorID:    scope.Actor.UserID,
			Note:       r.DocNumber,
		})
		if err != nil {
			return err
		}
		for _, l := range lines {
			if err := tx.SaveReturnLine(ctx, l); err != nil {
				return err
			}
		}

		now := s.now()
		txID := movement.TransactionID
		r.Status = StatusPosted
		r.CostValueBase = numeric.BaseValue(total)
		r.InventoryTransactionID = &txID
		r.PostedBy = &scope.Actor.UserID
		r.PostedAt = &now
		if err := tx.SaveReturn(ctx, r); err != nil {
			return err
		}
		posted = r
		posted.Lines = lines
		return s.audit(ctx, tx, scope, "post", r, map[string]any{
			"cost_value_base":          r.CostValueBase.String(),
			"inventory_transaction_id": txID,
		})
	})
	if err != nil {
		return Return{}, fmt.Errorf("post return: %w", err)
	}

	s.emitter.Emit(ctx, accounting.ReturnPosting(accounting.Header{
		Ref:          docref.Return(posted.ID),
		DocNumber:    posted.DocNumber,
		CompanyID:    posted.CompanyID,
		BranchID:     posted.BranchID,
		OccurredAt:   *posted.PostedAt,
		Currency:     posted.Currency,
		ExchangeRate: posted.ExchangeRate,
	}, posted.CostValueBase))
	return posted, nil
}

// Cancel withdraws a DRAFT return.
func (s *Service) Cancel(ctx context.Context, scope shared.Scope, id int64) (Return, error) {
	if err := scope.Validate(); err != nil {
		return Return{}, err
	}
	err := s.run(ctx, "cancel", id, func(ctx context.Context, tx TxRepository) error {
		r, err := lockReturn(ctx, tx, scope, id)
		if err != nil {
			return err
		}
		if err := s.machine.Transition(ctx, statemachine.Request[Status]{
			DocumentID: r.ID, From: r.Status, To: StatusCancelled,
			CompanyID: r.CompanyID, CreatedBy: r.CreatedBy, Actor: scope.Actor.UserID,
		}); err != nil {
			return err
		}
		now := s.now()
		r.Status = StatusCancelled
		r.CancelledAt = &now
		if err := tx.SaveReturn(ctx, r); err != nil {
			return err
		}
		return s.audit(ctx, tx, scope, "cancel", r, nil)
	})
	if err != nil {
		return Return{}, fmt.Errorf("cancel return: %w", err)
	}
	return s.repo.GetReturn(ctx, id)
}

// Get returns a live return in scope.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (Return, error) {
	r, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return Return{}, err
	}
	if err := scope.Require("return "+r.DocNumber, r.CompanyID, r.BranchID); err != nil {
		return Return{}, err
	}
	return r, nil
}
