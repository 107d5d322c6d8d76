package ar

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
	"github.com/odyssey-erp/odyssey-o2c/internal/ledger"
	"github.com/odyssey-erp/odyssey-o2c/internal/numeric"
	"github.com/odyssey-erp/odyssey-o2c/internal/observability"
	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
	"github.com/odyssey-erp/odyssey-o2c/internal/sales"
	"github.com/odyssey-erp/odyssey-o2c/internal/sequence"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
	"github.com/odyssey-erp/odyssey-o2c/internal/statemachine"
)

const document = "sales_invoice"

// ServiceConfig groups the collaborators of Service.
type ServiceConfig struct {
	Emitter *accounting.Emitter
	// MakerChecker reports whether the creator is barred from posting.
	MakerChecker statemachine.PolicyFunc
	Tolerance    decimal.Decimal
	Retry        db.RetryPolicy
	Logger       *slog.Logger
	Metrics      *observability.LedgerMetrics
	Now          func() time.Time
}

// Service handles AR invoice business logic.
type Service struct {
	repo      RepositoryPort
	emitter   *accounting.Emitter
	core      ledger.Core
	machine   *statemachine.Machine[InvoiceStatus]
	sequences *sequence.Generator
	retry     db.RetryPolicy
	logger    *slog.Logger
	metrics   *observability.LedgerMetrics
	now       func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	tol := cfg.Tolerance
	if tol.IsZero() {
		tol = ledger.DefaultTolerance
	}
	s := &Service{
		repo:    repo,
		emitter: cfg.Emitter,
		core:    ledger.NewCore(tol),
		machine: statemachine.New(document, Transitions).
			GuardInto(StatusPosted, statemachine.MakerChecker[InvoiceStatus](cfg.MakerChecker)),
		sequences: sequence.NewGenerator(),
		retry:     cfg.Retry,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
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
	ctx, span := observability.StartSpan(ctx, document, op, "invoice_id", id)
	defer func() {
		observability.EndSpan(span, err)
		s.metrics.ObservePosting(document, err)
		if err != nil && !shared.IsBusiness(err) {
			s.logger.Error("invoice operation failed", slog.String("op", op), slog.Int64("invoice_id", id), slog.Any("error", err))
		}
	}()
	return db.Retry(ctx, s.retry, func() error {
		return s.repo.WithTx(ctx, fn)
	})
}

func (s *Service) audit(ctx context.Context, tx TxRepository, scope shared.Scope, action string, inv Invoice, meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["doc_number"] = inv.DocNumber
	meta["order_id"] = inv.OrderID
	return tx.RecordAudit(ctx, shared.AuditLog{
		ActorID:  scope.Actor.UserID,
		Action:   document + "." + action,
		Entity:   document,
		EntityID: strconv.FormatInt(inv.ID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}

func lockInvoice(ctx context.Context, tx TxRepository, scope shared.Scope, id int64) (Invoice, error) {
	inv, err := tx.LockInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if err := scope.Require("invoice "+inv.DocNumber, inv.CompanyID, inv.BranchID); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func lockDraft(ctx context.Context, tx TxRepository, scope shared.Scope, id int64) (Invoice, error) {
	inv, err := lockInvoice(ctx, tx, scope, id)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status != StatusDraft {
		return Invoice{}, shared.NewBusinessError("NOT_EDITABLE", ErrCannotEdit, "invoice %s is %s", inv.DocNumber, inv.Status)
	}
	return inv, nil
}

// checkDeliveryLine verifies dl is a shipped line of orderID.
func checkDeliveryLine(dl delivery.Line, orderID int64) error {
	if dl.OrderID != orderID {
		return shared.NewBusinessError("LINE_MISMATCH", ErrLineMismatch, "delivery line %d is not from order %d", dl.ID, orderID)
	}
	if dl.DeliveryStatus != delivery.StatusPosted {
		return shared.NewBusinessError("DELIVERY_NOT_POSTED", ErrDeliveryNotPosted, "delivery line %d is %s", dl.ID, dl.DeliveryStatus)
	}
	return nil
}

// buildLines prices the requested quantities from their order lines and
// pre-checks them against the delivery lines' remaining quantity.
func (s *Service) buildLines(ctx context.Context, tx TxRepository, order sales.Order, inputs []LineInput) ([]Line, error) {
	ids := make([]int64, len(inputs))
	for i, in := range inputs {
		ids[i] = in.DeliveryLineID
	}
	deliveryLines, err := tx.LockDeliveryLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	byDelivery := make(map[int64]delivery.Line, len(deliveryLines))
	for _, dl := range deliveryLines {
		byDelivery[dl.ID] = dl
	}
	orderLines, err := tx.OrderLines(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	byOrder := make(map[int64]sales.OrderLine, len(orderLines))
	for _, ol := range orderLines {
		byOrder[ol.ID] = ol
	}

	plan := s.core.NewPlan()
	lines := make([]Line, 0, len(inputs))
	for i, in := range inputs {
		dl := byDelivery[in.DeliveryLineID]
		if err := checkDeliveryLine(dl, order.ID); err != nil {
			return nil, err
		}
		ol, ok := byOrder[dl.OrderLineID]
		if !ok {
			return nil, shared.NewBusinessError("LINE_MISMATCH", ErrLineMismatch, "order line %d missing", dl.OrderLineID)
		}
		plan.Draw(ledger.LineRef{Kind: "delivery_line", ID: dl.ID}, in.Quantity, dl.Remaining())

		qty := numeric.Quantity(in.Quantity)
		line := Line{
			OrderLineID:     ol.ID,
			DeliveryLineID:  dl.ID,
			LineNo:          i + 1,
			ProductID:       ol.ProductID,
			VariantID:       ol.VariantID,
			Quantity:        qty,
			QuantityBase:    numeric.ByRatio(qty, dl.Quantity, dl.QuantityBase),
			UnitPrice:       ol.UnitPrice,
			DiscountPercent: ol.DiscountPercent,
			TaxPercent:      ol.TaxPercent,
			TaxInclusive:    ol.TaxInclusive,
		}
		if in.UnitPrice != nil {
			line.UnitPrice = numeric.Money(*in.UnitPrice)
		}
		if in.DiscountPercent != nil {
			line.DiscountPercent = *in.DiscountPercent
		}
		if in.TaxPercent != nil {
			line.TaxPercent = *in.TaxPercent
		}
		if in.TaxInclusive != nil {
			line.TaxInclusive = *in.TaxInclusive
		}
		totals := numeric.CalculateLineTotals(qty, line.UnitPrice, line.DiscountPercent, line.TaxPercent, line.TaxInclusive)
		line.DiscountAmount = totals.Discount
		line.TaxAmount = totals.Tax
		line.LineSubtotal = totals.Net
		line.LineTotal = totals.Total
		lines = append(lines, line)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return lines, nil
}

func applyTotals(inv *Invoice, lines []Line) {
	subtotals := make([]decimal.Decimal, len(lines))
	taxes := make([]decimal.Decimal, len(lines))
	for i, l := range lines {
		subtotals[i] = l.LineSubtotal
		taxes[i] = l.TaxAmount
	}
	inv.Subtotal = numeric.SumMoney(subtotals...)
	inv.TaxAmount = numeric.SumMoney(taxes...)
	inv.TotalAmount = inv.Subtotal.Add(inv.TaxAmount)
}

func insertLines(ctx context.Context, tx TxRepository, invoiceID int64, lines []Line) error {
	for _, l := range lines {
		l.InvoiceID = invoiceID
		if _, err := tx.InsertInvoiceLine(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// Create stores a DRAFT invoice for posted delivery lines of one order.
func (s *Service) Create(ctx context.Context, scope shared.Scope, req CreateInvoiceRequest) (Invoice, error) {
	if err := scope.Validate(); err != nil {
		return Invoice{}, err
	}
	if err := shared.ValidateStruct(req); err != nil {
		return Invoice{}, err
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
		lines, err := s.buildLines(ctx, tx, order, req.Lines)
		if err != nil {
			return err
		}
		number, err := s.sequences.Next(ctx, tx.Sequences(), sequence.NewScope(docref.KindInvoice, scope.Tenant, req.InvoiceDate.Year()))
		if err != nil {
			return err
		}
		inv := Invoice{
			CompanyID:    order.CompanyID,
			BranchID:     order.BranchID,
			CustomerID:   order.CustomerID,
			OrderID:      order.ID,
			DocNumber:    number.Value,
			DocPrefix:    number.Scope.Prefix,
			DocYear:      number.Scope.Year,
			DocSeq:       number.Seq,
			InvoiceDate:  req.InvoiceDate,
			DueDate:      req.DueDate,
			Currency:     order.Currency,
			ExchangeRate: order.ExchangeRate,
			Status:       StatusDraft,
			Notes:        req.Notes,
			CreatedBy:    scope.Actor.UserID,
		}
		applyTotals(&inv, lines)
		id, err = tx.InsertInvoice(ctx, inv)
		if err != nil {
			return err
		}
		inv.ID = id
		if err := insertLines(ctx, tx, id, lines); err != nil {
			return err
		}
		return s.audit(ctx, tx, scope, "create", inv, map[string]any{"lines": len(lines)})
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("create invoice: %w", err)
	}
	return s.repo.GetInvoice(ctx, id)
}

// Update changes a DRAFT invoice.
func (s *Service) Update(ctx context.Context, scope shared.Scope, id int64, req UpdateInvoiceRequest) (Invoice, error) {
	if err := scope.Validate(); err != nil {
		return Invoice{}, err
	}
	if err := shared.ValidateStruct(req); err != nil {
		return Invoice{}, err
	}
	err := s.run(ctx, "update", id, func(ctx context.Context, tx TxRepository) error {
		inv, err := lockDraft(ctx, tx, scope, id)
		if err != nil {
			return err
		}
		if req.InvoiceDate != nil {
			inv.InvoiceDate = *req.InvoiceDate
		}
		if req.DueDate != nil {
			inv.DueDate = *req.DueDate
		}
		if req.Notes != nil {
			inv.Notes = *req.Notes
		}
		if len(req.Lines) > 0 {
			order, err := tx.LockOrder(ctx, inv.OrderID)
			if err != nil {
				return err
			}
			lines, err := s.buildLines(ctx, tx, order, req.Lines)
			if err != nil {
				return err
			}
			if err := tx.DeleteInvoiceLines(ctx, id); err != nil {
				return err
			}
			if err := insertLines(ctx, tx, id, lines); err != nil {
				return err
			}
			applyTotals(&inv, lines)
		}
		if err := tx.SaveInvoice(ctx, inv); err != nil {
			return err
		}
		return s.audit(ctx, tx, scope, "update", inv, map[string]any{"lines_replaced": len(req.Lines) > 0})
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("update invoice: %w", err)
	}
	return s.repo.GetInvoice(ctx, id)
}

// Delete soft-deletes a DRAFT invoice.
func (s *Service) Delete(ctx context.Context, scope shared.Scope, id int64) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	err := s.run(ctx, "delete", id, func(ctx context.Context, tx TxRepository) error {
		inv, err := lockDraft(ctx, tx, scope, id)
		if err != nil {
			return err
		}
		if err := tx.SoftDeleteInvoice(ctx, id, s.now()); err != nil {
			return err
		}
		return s.audit(ctx, tx, scope, "delete", inv, nil)
	})
	if err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	return nil
}

// Post bills the invoice. Each line draws from its delivery line and from its
// order line's delivered-but-uninvoiced quantity; all lines are validated
// against the locked rows before any counter moves. Revenue is recognised at
// the delivery's cost basis and the difference is booked as variance.
func (s *Service) Post(ctx context.Context, scope shared.Scope, id int64) (Invoice, error) {
	if err := scope.Validate(); err != nil {
		return Invoice{}, err
	}
	var posted Invoice
	err := s.run(ctx, "post", id, func(ctx context.Context, tx TxRepository) error {
		inv, err := lockInvoice(ctx, tx, scope, id)
		if err != nil {
			return err
		}
		if err := s.machine.Transition(ctx, statemachine.Request[InvoiceStatus]{
			DocumentID: inv.ID, From: inv.Status, To: StatusPosted,
			CompanyID: inv.CompanyID, CreatedBy: inv.CreatedBy, Actor: scope.Actor.UserID,
		}); err != nil {
			return err
		}
		lines, err := tx.InvoiceLines(ctx, inv.ID)
		if err != nil {
			return err
		}
		orderIDs := make([]int64, len(lines))
		deliveryIDs := make([]int64, len(lines))
		for i, l := range lines {
			orderIDs[i] = l.OrderLineID
			deliveryIDs[i] = l.DeliveryLineID
		}
		orderLines, err := tx.LockOrderLines(ctx, inv.OrderID, orderIDs)
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
			if err := checkDeliveryLine(*dl, inv.OrderID); err != nil {
				return err
			}
			if dl.OrderLineID != ol.ID {
				return shared.NewBusinessError("LINE_MISMATCH", ErrLineMismatch,
					"delivery line %d ships order line %d, not %d", dl.ID, dl.OrderLineID, ol.ID)
			}
			plan.Draw(ledger.LineRef{Kind: "delivery_line", ID: dl.ID}, l.Quantity, dl.Remaining())
			plan.Draw(ledger.LineRef{Kind: "order_line", ID: ol.ID}, l.Quantity, ol.RemainingToInvoice())
		}
		if err := plan.Validate(); err != nil {
			return err
		}

		var totals, taxes, values, variances []decimal.Decimal
		for i := range lines {
			l := &lines[i]
			dl, ol := byDelivery[l.DeliveryLineID], byOrder[l.OrderLineID]
			base := numeric.ByRatio(l.Quantity, dl.Quantity, dl.QuantityBase)
			l.QuantityBase = base
			l.LineTotalBase = numeric.ToBase(l.LineTotal, inv.ExchangeRate)
			l.TaxBase = numeric.ToBase(l.TaxAmount, inv.ExchangeRate)
			l.DeliveryValueBase = numeric.BaseValue(base.Mul(dl.UnitCostBase))
			l.RevenueVariance = numeric.BaseValue(numeric.ToBase(l.LineSubtotal, inv.ExchangeRate).Sub(l.DeliveryValueBase))

			dl.QuantityInvoiced = numeric.Quantity(dl.QuantityInvoiced.Add(l.Quantity))
			dl.QuantityInvoicedBase = numeric.Quantity(dl.QuantityInvoicedBase.Add(base))
			ol.QuantityInvoiced = numeric.Quantity(ol.QuantityInvoiced.Add(l.Quantity))
			ol.QuantityInvoicedBase = numeric.Quantity(ol.QuantityInvoicedBase.Add(base))
			ol.AmountInvoiced = numeric.Money(ol.AmountInvoiced.Add(l.LineSubtotal))

			totals = append(totals, l.LineTotalBase)
			taxes = append(taxes, l.TaxBase)
			values = append(values, l.DeliveryValueBase)
			variances = append(variances, l.RevenueVariance)
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
		for _, l := range lines {
			if err := tx.SaveInvoiceLine(ctx, l); err != nil {
				return err
			}
		}

		now := s.now()
		applyTotals(&inv, lines)
		inv.TotalBase = numeric.SumMoney(totals...)
		inv.TaxBase = numeric.SumMoney(taxes...)
		inv.SubtotalBase = inv.TotalBase.Sub(inv.TaxBase)
		inv.DeliveryValueBase = numeric.BaseValue(sum(values))
		inv.RevenueVariance = numeric.BaseValue(sum(variances))
		inv.Status = StatusPosted
		inv.PostedBy = &scope.Actor.UserID
		inv.PostedAt = &now
		if err := tx.SaveInvoice(ctx, inv); err != nil {
			return err
		}
		posted = inv
		posted.Lines = lines
		return s.audit(ctx, tx, scope, "post", inv, map[string]any{
			"total_base":          inv.TotalBase.String(),
			"delivery_value_base": inv.DeliveryValueBase.String(),
		})
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("post invoice: %w", err)
	}

	if posted.Subtotal.IsZero() {
		s.logger.Debug("invoice posted without amount, no accounting event", slog.String("doc_number", posted.DocNumber))
		return posted, nil
	}
	s.emitter.Emit(ctx, accounting.InvoicePosting(accounting.Header{
		Ref:          docref.Invoice(posted.ID),
		DocNumber:    posted.DocNumber,
		CompanyID:    posted.CompanyID,
		BranchID:     posted.BranchID,
		OccurredAt:   *posted.PostedAt,
		Currency:     posted.Currency,
		ExchangeRate: posted.ExchangeRate,
	}, accounting.InvoiceFigures{
		TotalBase:         posted.TotalBase,
		TaxBase:           posted.TaxBase,
		DeliveryValueBase: posted.DeliveryValueBase,
	}))
	return posted, nil
}

// Cancel withdraws a DRAFT invoice. Posted invoices are corrected with new
// documents.
func (s *Service) Cancel(ctx context.Context, scope shared.Scope, id int64) (Invoice, error) {
	if err := scope.Validate(); err != nil {
		return Invoice{}, err
	}
	err := s.run(ctx, "cancel", id, func(ctx context.Context, tx TxRepository) error {
		inv, err := lockInvoice(ctx, tx, scope, id)
		if err != nil {
			return err
		}
		if err := s.machine.Transition(ctx, statemachine.Request[InvoiceStatus]{
			DocumentID: inv.ID, From: inv.Status, To: StatusCancelled,
			CompanyID: inv.CompanyID, CreatedBy: inv.CreatedBy, Actor: scope.Actor.UserID,
		}); err != nil {
			return err
		}
		now := s.now()
		inv.Status = StatusCancelled
		inv.CancelledAt = &now
		if err := tx.SaveInvoice(ctx, inv); err != nil {
			return err
		}
		return s.audit(ctx, tx, scope, "cancel", inv, nil)
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("cancel invoice: %w", err)
	}
	return s.repo.GetInvoice(ctx, id)
}

// Get returns a live invoice in scope.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return Invoice{}, err
	}
	if err := scope.Require("invoice "+inv.DocNumber, inv.CompanyID, inv.BranchID); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func sum(values []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
