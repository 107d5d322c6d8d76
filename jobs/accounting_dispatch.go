package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-o2c/internal/accounting"
	"github.com/odyssey-erp/odyssey-o2c/internal/platform/db"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
)

// ErrAlreadyRecorded indicates the event's source id was processed before.
var ErrAlreadyRecorded = errors.New("jobs: accounting event already recorded")

// Inbox persists accounting events for the external ledger.
type Inbox interface {
	Record(ctx context.Context, event accounting.Event) error
}

// PgInbox writes to accounting_inbox guarded by idempotency_keys.
type PgInbox struct {
	pool *pgxpool.Pool
}

// NewPgInbox constructs PgInbox.
func NewPgInbox(pool *pgxpool.Pool) *PgInbox {
	return &PgInbox{pool: pool}
}

// Record stores event once per source id.
func (i *PgInbox) Record(ctx context.Context, event accounting.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, i.pool, db.TxOptions{}, func(tx pgx.Tx) error {
		idem := shared.NewIdempotencyStore(tx)
		if err := idem.CheckAndInsert(ctx, event.SourceID.String(), "accounting"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return ErrAlreadyRecorded
			}
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO accounting_inbox (source_id, document_kind, document_id, doc_number, company_id, occurred_at, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			event.SourceID, string(event.Document.Kind), event.Document.ID, event.DocNumber, event.CompanyID, event.OccurredAt, payload)
		// The idempotency key may have aged out while the inbox row remains.
		if db.IsUniqueViolation(err) {
			return ErrAlreadyRecorded
		}
		return err
	})
}

// AccountingDispatchHandler consumes TaskAccountingDispatch.
type AccountingDispatchHandler struct {
	inbox  Inbox
	logger *slog.Logger
}

// NewAccountingDispatchHandler constructs the handler.
func NewAccountingDispatchHandler(inbox Inbox, logger *slog.Logger) *AccountingDispatchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountingDispatchHandler{inbox: inbox, logger: logger}
}

// ProcessTask implements asynq.Handler.
func (h *AccountingDispatchHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var event accounting.Event
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return fmt.Errorf("jobs: decode accounting event: %v: %w", err, asynq.SkipRetry)
	}
	if err := event.Validate(); err != nil {
		h.logger.Error("accounting event invalid", slog.String("source_id", event.SourceID.String()), slog.Any("error", err))
		return fmt.Errorf("jobs: %v: %w", err, asynq.SkipRetry)
	}
	err := h.inbox.Record(ctx, event)
	if errors.Is(err, ErrAlreadyRecorded) {
		h.logger.Debug("accounting event duplicate", slog.String("source_id", event.SourceID.String()))
		return nil
	}
	if err != nil {
		return err
	}
	h.logger.Info("accounting event recorded",
		slog.String("source_id", event.SourceID.String()),
		slog.String("document", event.Document.Ref().String()))
	return nil
}
