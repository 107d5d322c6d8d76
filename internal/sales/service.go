package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	"github.com/odyssey-erp/odyssey-o2c/internal/ledger"
	"github.com/odyssey-erp/odyssey-o2c/internal/numeric"
	"github.com/odyssey-erp/odyssey-o2c/internal/observability"
	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
	"github.com/odyssey-erp/odyssey-o2c/internal/pricing"
	"github.com/odyssey-erp/odyssey-o2c/internal/reservation"
	"github.com/odyssey-erp/odyssey-o2c/internal/sequence"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
	"github.com/odyssey-erp/odyssey-o2c/internal/statemachine"
	"github.com/odyssey-erp/odyssey-o2c/internal/uom"
)

const document = "sales_order"

// Policy supplies the company controls orders depend on.
type Policy interface {
	MakerChecker(ctx context.Context, companyID int64) (bool, error)
	Strictness(ctx context.Context, companyID int64) (reservation.Strictness, error)
}

// ServiceConfig groups the collaborators of Service. Only Converter is
// required; prices and taxes must then be given on every line when Pricer or
// Taxer are nil.
type ServiceConfig struct {
	Converter    uom.Converter
	Pricer       pricing.Pricer
	Taxer        pricing.Taxer
	Reservations *reservation.Manager
	Policy       Policy
	Tolerance    decimal.Decimal
	Retry        db.RetryPolicy
	Logger       *slog.Logger
	Metrics      *observability.LedgerMetrics
	Now          func() time.Time
}

// Service orchestrates the sales order lifecycle.
type Service struct {
	repo         RepositoryPort
	converter    uom.Converter
	pricer       pricing.Pricer
	taxer        pricing.Taxer
	reservations *reservation.Manager
	policy       Policy
	machine      *statemachine.Machine[OrderStatus]
	sequences    *sequence.Generator
	tolerance    decimal.Decimal
	retry        db.RetryPolicy
	logger       *slog.Logger
	metrics      *observability.LedgerMetrics
	now          func() time.Time
}

// NewService constructs a sales service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	s := &Service{
		repo:         repo,
		converter:    cfg.Converter,
		pricer:       cfg.Pricer,
		taxer:        cfg.Taxer,
		reservations: cfg.Reservations,
		policy:       cfg.Policy,
		sequences:    sequence.NewGenerator(),
		tolerance:    cfg.Tolerance,
		retry:        cfg.Retry,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		now:          cfg.Now,
	}
	if s.tolerance.IsZero() {
		s.tolerance = ledger.DefaultTolerance
	}
	if s.reservations == nil {
		s.reservations = reservation.NewManager(s.tolerance, cfg.Metrics)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	s.machine = NewMachine(s.makerChecker)
	return s
}

func (s *Service) makerChecker(ctx context.Context, companyID int64) (bool, error) {
	if s.policy == nil {
		return false, nil
	}
	return s.policy.MakerChecker(ctx, companyID)
}

func (s *Service) strictness(ctx context.Context, companyID int64) (reservation.Strictness, error) {
	if s.policy == nil {
		return reservation.StrictnessHard, nil
	}
	return s.policy.Strictness(ctx, companyID)
}

// run executes fn in a retried transaction with a span and posting metrics.
func (s *Service) run(ctx context.Context, op string, id int64, fn func(context.Context, TxRepository) error) (err error) {
	ctx, span := observability.StartSpan(ctx, document, op, "order_id", id)
	defer func() {
		observability.EndSpan(span, err)
		s.metrics.ObservePosting(document, err)
		if err != nil && !shared.IsBusiness(err) {
			s.logger.Error("sales order operation failed", slog.String("op", op), slog.Int64("order_id", id), slog.Any("error", err))
		}
	}()
	return db.Retry(ctx, s.retry, func() error {
		return s.repo.WithTx(ctx, fn)
	})
}

func (s *Service) audit(ctx context.Context, tx TxRepository, scope shared.Scope, action string, order Order, meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["doc_number"] = order.DocNumber
	meta["status"] = string(order.Status)
	return tx.RecordAudit(ctx, shared.AuditLog{
		ActorID:  scope.Actor.UserID,
		Action:   document + "." + action,
		Entity:   document,
		EntityID: strconv.FormatInt(order.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}

// lockOwned locks the order and checks it belongs to scope.
func lockOwned(ctx context.Context, tx LineStore, scope shared.Scope, id int64) (Order, error) {
	order, err := tx.LockOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if err := scope.Require("sales order "+order.DocNumber, order.CompanyID, order.BranchID); err != nil {
		return Order{}, err
	}
	return order, nil
}

// Create validates the request, prices missing lines and stores a DRAFT order
// with a freshly generated number.
func (s *Service) Create(ctx context.Context, scope shared.Scope, req CreateOrderRequest) (Order, error) {
	if err := scope.Validate(); err != nil {
		return Order{}, err
	}
	if err := shared.ValidateStruct(req); err != nil {
		return Order{}, err
	}
	currency, err := shared.ValidateCurrency(req.Currency)
	if err != nil {
		return Order{}, err
	}
	rate := req.ExchangeRate
	if !rate.IsPositive() {
		rate = decimal.NewFromInt(1)
	}
	qc := pricing.QuoteContext{
		CompanyID:  scope.Tenant.CompanyID,
		BranchID:   scope.Tenant.BranchID,
		CustomerID: req.CustomerID,
		Currency:   currency,
		Date:       req.OrderDate,
	}
	lines, err := s.buildLines(ctx, qc, req.Lines)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		CompanyID:    scope.Tenant.CompanyID,
		BranchID:     scope.Tenant.BranchID,
		CustomerID:   req.CustomerID,
		LocationID:   req.LocationID,
		OrderDate:    req.OrderDate,
		Currency:     currency,
		ExchangeRate: rate,
		Status:       StatusDraft,
		Notes:        req.Notes,
		CreatedBy:    scope.Actor.UserID,
	}
	applyTotals(&order, lines)

	var id int64
	err = s.run(ctx, "create", 0, func(ctx context.Context, tx TxRepository) error {
		number, err := s.sequences.Next(ctx, tx.Sequences(), sequence.NewScope(docref.KindOrder, scope.Tenant, req.OrderDate.Year()))
		if err != nil {
			return err
		}
		header := order
		header.DocNumber, header.DocPrefix, header.DocYear, header.DocSeq = number.Value, number.Scope.Prefix, number.Scope.Year, number.Seq
		id, err = tx.InsertOrder(ctx, header)
		if err != nil {
			return err
		}
		header.ID = id
		if err := insertLines(ctx, tx, id, lines); err != nil {
			return err
		}
		return s.audit(ctx, tx, scope, "create", header, map[string]any{"lines": len(lines)})
	})
	if err != nil {
		return Order{}, fmt.Errorf("create sales order: %w", err)
	}
	return s.repo.GetOrder(ctx, id)
}

// Update changes a DRAFT/QUOTE order. Replaced lines release any reservation
// they held.
func (s *Service) Update(ctx context.Context, scope shared.Scope, id int64, req UpdateOrderRequest) (Order, error) {
	if err := scope.Validate(); err != nil {
		return Order{}, err
	}
	if err := shared.ValidateStruct(req); err != nil {
		return Order{}, err
	}
	current, err := s.Get(ctx, scope, id)
	if err != nil {
		return Order{}, err
	}
	var lines []OrderLine
	if len(req.Lines) > 0 {
		date := current.OrderDate
		if req.OrderDate != nil {
			date = *req.OrderDate
		}
		lines, err = s.buildLines(ctx, pricing.QuoteContext{
			CompanyID:  current.CompanyID,
			BranchID:   current.BranchID,
			CustomerID: current.CustomerID,
			Currency:   current.Currency,
			Date:       date,
		}, req.Lines)
		if err != nil {
			return Order{}, err
		}
	}

	err = s.run(ctx, "update", id, func(ctx context.Context, tx TxRepository) error {
		order, err := lockOwned(ctx, tx, scope, id)
		if err != nil {
			return err
		}
		if !order.Status.Editable() {
			return shared.NewBusinessError("NOT_EDITABLE", ErrCannotEdit, "order %s is %s", order.DocNumber, order.Status)
		}
		if req.OrderDate != nil {
			order.OrderDate = *req.OrderDate
		}
		if req.ExchangeRate != nil && req.ExchangeRate.IsPositive() {
			order.ExchangeRate = *req.ExchangeRate
		}
		if req.Notes != nil {
			order.Notes = *req.Notes
		}
		existing, err := tx.LockOrderLines(ctx, id, nil)
		if err != nil {
			return err
		}
		if lines != nil {
			if err := s.releaseOutstanding(ctx, tx, order, existing); err != nil {
				return err
			}
			if err := tx.DeleteOrderLines(ctx, id); err != nil {
				return err
			}
			if err := insertLines(ctx, tx, id, lines); err != nil {
				return err
			}
			existing = lines
		}
		applyTotals(&order, existing)
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		return s.audit(ctx, tx, scope, "update", order, map[string]any{"lines_replaced": lines != nil})
	})
	if err != nil {
		return Order{}, fmt.Errorf("update sales order: %w", err)
	}
	return s.repo.GetOrder(ctx, id)
}

// Delete soft-deletes a DRAFT/QUOTE order, releasing any reservation. The
// number stays taken.
func (s *Service) Delete(ctx context.Context, scope shared.Scope, id int64) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	err := s.run(ctx, "delete", id, func(ctx context.Context, tx TxRepository) error {
		order, err := lockOwned(ctx, tx, scope, id)
		if err != nil {
			return err
		}
		if !order.Status.Editable() {
			return shared.NewBusinessError("NOT_EDITABLE", ErrCannotEdit, "order %s is %s", order.DocNumber, order.Status)
		}
		lines, err := tx.LockOrderLines(ctx, id, nil)
		if err != nil {
			return err
		}
		if err := s.releaseOutstanding(ctx, tx, order, lines); err != nil {
			return err
		}
		if err := tx.SoftDeleteOrder(ctx, id, s.now()); err != nil {
			return err
		}
		return s.audit(ctx, tx, scope, "delete", order, nil)
	})
	if err != nil {
		return fmt.Errorf("delete sales order: %w", err)
	}
	return nil
}

// SubmitQuote moves a DRAFT order to QUOTE.
func (s *Service) SubmitQuote(ctx context.Context, scope shared.Scope, id int64) (Order, error) {
	return s.transition(ctx, scope, id, "quote", StatusQuote, nil)
}

// Confirm moves the order to CONFIRMED and reserves every line's base
// quantity under the company's strictness. In soft mode a line may end up
// reserving less than ordered; the reserved amount is stored as read back.
func (s *Service) Confirm(ctx context.Context, scope shared.Scope, id int64) (Order, error) {
	return s.transition(ctx, scope, id, "confirm", StatusConfirmed, func(ctx context.Context, tx TxRepository, order *Order, lines []OrderLine) error {
		strictness, err := s.strictness(ctx, order.CompanyID)
		if err != nil {
			return err
		}
		requests := make([]reservation.Request, 0, len(lines))
		byID := make(map[int64]int, len(lines))
		for i, l := range lines {
			byID[l.ID] = i
			want := numeric.ClampZero(l.QuantityBase.Sub(l.QuantityDeliveredBase).Sub(l.QuantityReservedBase))
			if want.IsPositive() {
				requests = append(requests, reservation.Request{Key: l.CounterKey(order.LocationID), Requested: want, Ref: l.ID})
			}
		}
		results, err := s.reservations.ReserveAll(ctx, tx.Inventory(), requests, strictness)
		if err != nil {
			return err
		}
		for _, r := range results {
			line := &lines[byID[r.Ref]]
			line.SetReservedBase(line.QuantityReservedBase.Add(r.Reserved))
			if err := tx.SaveOrderLine(ctx, *line); err != nil {
				return err
			}
			if r.Reserved.LessThan(r.Requested) {
				s.logger.Warn("sales order line under-reserved",
					slog.String("doc_number", order.DocNumber),
					slog.Int64("order_line_id", line.ID),
					slog.String("requested", r.Requested.String()),
					slog.String("reserved", r.Reserved.String()))
			}
		}
		now := s.now()
		order.ConfirmedBy = &scope.Actor.UserID
		order.ConfirmedAt = &now
		return nil
	})
}

// Cancel moves the order to CANCELLED and releases outstanding reservations.
// Posted deliveries and invoices are untouched.
func (s *Service) Cancel(ctx context.Context, scope shared.Scope, id int64, reason string) (Order, error) {
	return s.transition(ctx, scope, id, "cancel", StatusCancelled, func(ctx context.Context, tx TxRepository, order *Order, lines []OrderLine) error {
		if err := s.releaseOutstanding(ctx, tx, *order, lines); err != nil {
			return err
		}
		now := s.now()
		order.CancelledBy = &scope.Actor.UserID
		order.CancelledAt = &now
		if reason != "" {
			order.Notes = reason
		}
		return nil
	})
}

// Close ends a (partially) delivered order and releases what it still holds.
func (s *Service) Close(ctx context.Context, scope shared.Scope, id int64) (Order, error) {
	return s.transition(ctx, scope, id, "close", StatusClosed, func(ctx context.Context, tx TxRepository, order *Order, lines []OrderLine) error {
		if err := s.releaseOutstanding(ctx, tx, *order, lines); err != nil {
			return err
		}
		now := s.now()
		order.ClosedAt = &now
		return nil
	})
}

type transitionHook func(ctx context.Context, tx TxRepository, order *Order, lines []OrderLine) error

func (s *Service) transition(ctx context.Context, scope shared.Scope, id int64, op string, to OrderStatus, hook transitionHook) (Order, error) {
	if err := scope.Validate(); err != nil {
		return Order{}, err
	}
	err := s.run(ctx, op, id, func(ctx context.Context, tx TxRepository) error {
		order, err := lockOwned(ctx, tx, scope, id)
		if err != nil {
			return err
		}
		from := order.Status
		if err := s.machine.Transition(ctx, statemachine.Request[OrderStatus]{
			DocumentID: order.ID,
			From:       from,
			To:         to,
			CompanyID:  order.CompanyID,
			CreatedBy:  order.CreatedBy,
			Actor:      scope.Actor.UserID,
		}); err != nil {
			return err
		}
		if hook != nil {
			lines, err := tx.LockOrderLines(ctx, id, nil)
			if err != nil {
				return err
			}
			if err := hook(ctx, tx, &order, lines); err != nil {
				return err
			}
		}
		order.Status = to
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		return s.audit(ctx, tx, scope, op, order, map[string]any{"from": string(from)})
	})
	if err != nil {
		return Order{}, fmt.Errorf("%s sales order: %w", op, err)
	}
	return s.repo.GetOrder(ctx, id)
}

// releaseOutstanding returns every line's remaining reservation to stock.
func (s *Service) releaseOutstanding(ctx context.Context, tx TxRepository, order Order, lines []OrderLine) error {
	requests := make([]reservation.Request, 0, len(lines))
	for _, l := range lines {
		if l.QuantityReservedBase.IsPositive() {
			requests = append(requests, reservation.Request{Key: l.CounterKey(order.LocationID), Requested: l.QuantityReservedBase, Ref: l.ID})
		}
	}
	if len(requests) == 0 {
		return nil
	}
	if err := s.reservations.ReleaseAll(ctx, tx.Inventory(), requests); err != nil {
		return err
	}
	for _, l := range lines {
		if !l.QuantityReservedBase.IsPositive() {
			continue
		}
		l.SetReservedBase(decimal.Zero)
		if err := tx.SaveOrderLine(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a live order in scope.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if err := scope.Require("sales order "+order.DocNumber, order.CompanyID, order.BranchID); err != nil {
		return Order{}, err
	}
	return order, nil
}

// buildLines converts, prices and totals every input line. Pricing lookups
// run concurrently; results keep input order.
func (s *Service) buildLines(ctx context.Context, qc pricing.QuoteContext, inputs []OrderLineInput) ([]OrderLine, error) {
	lines := make([]OrderLine, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			line, err := s.buildLine(gctx, qc, i+1, in)
			if err != nil {
				return err
			}
			lines[i] = line
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Service) buildLine(ctx context.Context, qc pricing.QuoteContext, lineNo int, in OrderLineInput) (OrderLine, error) {
	qty := numeric.Quantity(in.Quantity)
	if !qty.IsPositive() {
		return OrderLine{}, shared.NewBusinessError("NON_POSITIVE_QUANTITY", ledger.ErrNonPositive, "line %d quantity %s", lineNo, in.Quantity)
	}
	if in.DiscountPercent.IsNegative() || in.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return OrderLine{}, shared.NewBusinessError("VALIDATION", nil, "line %d discount must be within 0-100", lineNo)
	}
	base := qty
	if in.UOMID != in.BaseUOMID {
		if s.converter == nil {
			return OrderLine{}, fmt.Errorf("sales: line %d: %w", lineNo, uom.ErrNoConversionPath)
		}
		converted, err := s.converter.Convert(qty, in.UOMID, in.BaseUOMID)
		if err != nil {
			return OrderLine{}, shared.NewBusinessError("UOM_CONVERSION", err, "line %d", lineNo)
		}
		base = numeric.Quantity(converted)
	}

	line := OrderLine{
		LineNo:          lineNo,
		ProductID:       in.ProductID,
		VariantID:       in.VariantID,
		LotID:           in.LotID,
		UOMID:           in.UOMID,
		BaseUOMID:       in.BaseUOMID,
		Quantity:        qty,
		QuantityBase:    base,
		DiscountPercent: in.DiscountPercent,
	}

	if in.UnitPrice != nil {
		line.UnitPrice = numeric.Money(*in.UnitPrice)
	} else {
		if s.pricer == nil {
			return OrderLine{}, shared.NewBusinessError("PRICE_REQUIRED", pricing.ErrNoPrice, "line %d has no price", lineNo)
		}
		quote, err := s.pricer.Quote(ctx, pricing.PriceRequest{
			ProductID: in.ProductID,
			VariantID: in.VariantID,
			UOMID:     in.UOMID,
			Quantity:  qty,
			Context:   qc,
		})
		if errors.Is(err, pricing.ErrNoPrice) {
			return OrderLine{}, shared.NewBusinessError("PRICE_REQUIRED", err, "line %d has no price", lineNo)
		}
		if err != nil {
			return OrderLine{}, err
		}
		line.UnitPrice = numeric.Money(quote.Price)
		line.PriceRuleID = quote.RuleID
	}

	switch {
	case in.TaxPercent != nil:
		line.TaxPercent = *in.TaxPercent
	case s.taxer != nil:
		quote, err := s.taxer.Quote(ctx, in.ProductID, qc)
		if err != nil && !errors.Is(err, pricing.ErrNoTax) {
			return OrderLine{}, err
		}
		if err == nil {
			line.TaxPercent = quote.Rate
			line.TaxInclusive = quote.Inclusive
			line.TaxRuleID = quote.RuleID
		}
	}
	if in.TaxInclusive != nil {
		line.TaxInclusive = *in.TaxInclusive
	}

	totals := numeric.CalculateLineTotals(qty, line.UnitPrice, line.DiscountPercent, line.TaxPercent, line.TaxInclusive)
	line.DiscountAmount = totals.Discount
	line.TaxAmount = totals.Tax
	line.LineSubtotal = totals.Net
	line.LineTotal = totals.Total
	return line, nil
}

func insertLines(ctx context.Context, tx TxRepository, orderID int64, lines []OrderLine) error {
	for _, l := range lines {
		l.OrderID = orderID
		if _, err := tx.InsertOrderLine(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// applyTotals sums per-line rounded values into the header.
func applyTotals(order *Order, lines []OrderLine) {
	subtotals := make([]decimal.Decimal, len(lines))
	taxes := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		subtotals[i] = l.LineSubtotal
		taxes[i] = l.TaxAmount
	}
	order.Subtotal = numeric.SumMoney(subtotals...)
	order.TaxAmount = numeric.SumMoney(taxes...)
	order.TotalAmount = order.Subtotal.Add(order.TaxAmount)
	order.TotalBase = numeric.ToBase(order.TotalAmount, order.ExchangeRate)
}
