package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	jobmetrics "github.com/odyssey-erp/odyssey-o2c/internal/jobs"
	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
)

// Violation kinds reported by the integrity scan.
const (
	ViolationInvoicedExceedsDelivered = "invoiced_exceeds_delivered"
	ViolationReturnedExceedsDelivered = "returned_exceeds_delivered"
	ViolationReservedExceedsOrdered   = "reserved_exceeds_ordered"
	ViolationDeliveredExceedsOrdered  = "delivered_exceeds_ordered"
	ViolationMissingAccountingEvent   = "missing_accounting_event"
)

// Violation is one order line breaking a conservation rule.
type Violation struct {
	Kind        string
	CompanyID   int64
	OrderLineID int64
	Value       decimal.Decimal
	Limit       decimal.Decimal
}

// IntegrityScanner runs the read-only integrity queries.
type IntegrityScanner interface {
	Conservation(ctx context.Context, companyID int64, tolerance decimal.Decimal) ([]Violation, error)
	// MissingEvents lists posted documents older than grace with no accounting inbox row.
	MissingEvents(ctx context.Context, companyID int64, grace time.Duration) ([]docref.Ref, error)
}

// IntegrityReport summarises one scan.
type IntegrityReport struct {
	Violations []Violation
	Missing    []docref.Header
	Skipped    bool
}

// IntegrityJob checks the ledger invariants out of band. A redis lock keeps
// concurrent workers from scanning at the same time.
type IntegrityJob struct {
	scanner   IntegrityScanner
	registry  *docref.Registry
	locker    *redislock.Client
	metrics   *jobmetrics.Metrics
	logger    *slog.Logger
	tolerance decimal.Decimal
	lockTTL   time.Duration
}

// IntegrityConfig groups IntegrityJob dependencies.
type IntegrityConfig struct {
	Scanner   IntegrityScanner
	Registry  *docref.Registry
	Locker    *redislock.Client
	Metrics   *jobmetrics.Metrics
	Logger    *slog.Logger
	Tolerance decimal.Decimal
	LockTTL   time.Duration
}

// NewIntegrityJob constructs the job.
func NewIntegrityJob(cfg IntegrityConfig) *IntegrityJob {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &IntegrityJob{
		scanner:   cfg.Scanner,
		registry:  cfg.Registry,
		locker:    cfg.Locker,
		metrics:   cfg.Metrics,
		logger:    logger,
		tolerance: cfg.Tolerance,
		lockTTL:   ttl,
	}
}

// Run performs one scan.
func (j *IntegrityJob) Run(ctx context.Context, payload LedgerIntegrityPayload) (report IntegrityReport, err error) {
	tracker := j.metrics.Track("ledger_integrity")
	defer func() { err = tracker.End(err) }()

	if j.locker != nil {
		lock, err := j.locker.Obtain(ctx, shared.IntegrityLockKey(payload.CompanyID), j.lockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			j.logger.Info("ledger integrity skipped: another worker holds the lock")
			return IntegrityReport{Skipped: true}, nil
		}
		if err != nil {
			return IntegrityReport{}, fmt.Errorf("jobs: integrity lock: %w", err)
		}
		defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()
	}

	violations, err := j.scanner.Conservation(ctx, payload.CompanyID, j.tolerance)
	if err != nil {
		return IntegrityReport{}, err
	}
	for _, v := range violations {
		j.metrics.AddViolations(v.Kind, v.CompanyID, 1)
		j.logger.Error("ledger conservation violated",
			slog.String("check", v.Kind),
			slog.Int64("company_id", v.CompanyID),
			slog.Int64("order_line_id", v.OrderLineID),
			slog.String("value", v.Value.String()),
			slog.String("limit", v.Limit.String()))
	}

	grace := payload.Grace
	if grace <= 0 {
		grace = 15 * time.Minute
	}
	refs, err := j.scanner.MissingEvents(ctx, payload.CompanyID, grace)
	if err != nil {
		return IntegrityReport{}, err
	}
	missing := make([]docref.Header, 0, len(refs))
	for _, ref := range refs {
		header := docref.Header{Ref: ref}
		if j.registry != nil {
			if resolved, err := j.registry.Resolve(ctx, ref); err == nil {
				header = resolved
			}
		}
		missing = append(missing, header)
		j.metrics.AddViolations(ViolationMissingAccountingEvent, header.CompanyID, 1)
		j.logger.Warn("posted document has no accounting event",
			slog.String("document", ref.String()),
			slog.String("doc_number", header.Number))
	}

	j.logger.Info("ledger integrity check executed",
		slog.String("job", "ledger_integrity"),
		slog.Int("violations", len(violations)),
		slog.Int("missing_events", len(missing)))
	return IntegrityReport{Violations: violations, Missing: missing}, nil
}

// ProcessTask implements asynq.Handler.
func (j *IntegrityJob) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload LedgerIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("jobs: decode integrity payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// PgIntegrityScanner queries order lines and the accounting inbox.
type PgIntegrityScanner struct {
	q db.Querier
}

// NewPgIntegrityScanner constructs the scanner.
func NewPgIntegrityScanner(q db.Querier) *PgIntegrityScanner {
	return &PgIntegrityScanner{q: q}
}

// Conservation implements IntegrityScanner.
func (s *PgIntegrityScanner) Conservation(ctx context.Context, companyID int64, tolerance decimal.Decimal) ([]Violation, error) {
	rows, err := s.q.Query(ctx, `SELECT kind, company_id, id, value, lim FROM (
  SELECT $3::text AS kind, o.company_id, l.id, l.quantity_invoiced AS value, l.quantity_delivered AS lim
  FROM sales_order_lines l JOIN sales_orders o ON o.id = l.order_id
  WHERE o.deleted_at IS NULL AND l.quantity_invoiced - l.quantity_delivered > $2
  UNION ALL
  SELECT $4::text, o.company_id, l.id, l.quantity_returned, l.quantity_delivered
  FROM sales_order_lines l JOIN sales_orders o ON o.id = l.order_id
  WHERE o.deleted_at IS NULL AND l.quantity_returned - l.quantity_delivered > $2
  UNION ALL
  SELECT $5::text, o.company_id, l.id, l.quantity_reserved, l.quantity
  FROM sales_order_lines l JOIN sales_orders o ON o.id = l.order_id
  WHERE o.deleted_at IS NULL AND l.quantity_reserved - l.quantity > $2
  UNION ALL
  SELECT $6::text, o.company_id, l.id, l.quantity_delivered, l.quantity
  FROM sales_order_lines l JOIN sales_orders o ON o.id = l.order_id
  WHERE o.deleted_at IS NULL AND l.quantity_delivered - l.quantity > $2
) v
WHERE $1 = 0 OR company_id = $1
ORDER BY company_id, id`, companyID, tolerance,
		ViolationInvoicedExceedsDelivered, ViolationReturnedExceedsDelivered,
		ViolationReservedExceedsOrdered, ViolationDeliveredExceedsOrdered)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Violation
	for rows.Next() {
		var v Violation
		if err := rows.Scan(&v.Kind, &v.CompanyID, &v.OrderLineID, &v.Value, &v.Limit); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// MissingEvents implements IntegrityScanner. Zero-valued postings never emit
// and are excluded by their totals.
func (s *PgIntegrityScanner) MissingEvents(ctx context.Context, companyID int64, grace time.Duration) ([]docref.Ref, error) {
	cutoff := time.Now().Add(-grace)
	rows, err := s.q.Query(ctx, `SELECT kind, id FROM (
  SELECT 'delivery' AS kind, d.id, d.company_id, d.posted_at, d.cost_value_base AS amount FROM deliveries d WHERE d.status = 'POSTED'
  UNION ALL
  SELECT 'sales_invoice', i.id, i.company_id, i.posted_at, i.total_base FROM sales_invoices i WHERE i.status = 'POSTED'
  UNION ALL
  SELECT 'sales_return', r.id, r.company_id, r.posted_at, r.cost_value_base FROM sales_returns r WHERE r.status = 'POSTED'
) p
WHERE ($1 = 0 OR p.company_id = $1) AND p.posted_at < $2 AND p.amount <> 0
  AND NOT EXISTS (SELECT 1 FROM accounting_inbox a WHERE a.document_kind = p.kind AND a.document_id = p.id)
ORDER BY p.posted_at
LIMIT 500`, companyID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []docref.Ref
	for rows.Next() {
		var kind string
		var id int64
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, err
		}
		refs = append(refs, docref.Ref{Kind: docref.Kind(kind), ID: id})
	}
	return refs, rows.Err()
}
