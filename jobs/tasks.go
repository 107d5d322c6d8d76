package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-o2c/internal/accounting"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAccounting carries accounting events; it is weighted above default.
	QueueAccounting = "accounting"
	// TaskAccountingDispatch delivers one accounting.Event to the ledger inbox.
	TaskAccountingDispatch = "accounting:dispatch"
	// TaskLedgerIntegrity runs the quantity ledger integrity scan.
	TaskLedgerIntegrity = "o2c:ledger_integrity"
	// TaskIdempotencyCleanup prunes aged idempotency keys.
	TaskIdempotencyCleanup = "o2c:idempotency_cleanup"
)

// NewAccountingDispatchTask wraps an event. The task id is the event's source
// id so a second enqueue of the same posting is rejected by asynq.
func NewAccountingDispatchTask(event accounting.Event) (*asynq.Task, []asynq.Option, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, nil, fmt.Errorf("jobs: encode accounting event: %w", err)
	}
	opts := []asynq.Option{
		asynq.Queue(QueueAccounting),
		asynq.TaskID(event.SourceID.String()),
		asynq.MaxRetry(25),
		asynq.Retention(24 * time.Hour),
	}
	return asynq.NewTask(TaskAccountingDispatch, body), opts, nil
}

// LedgerIntegrityPayload scopes an integrity scan; zero company scans all.
type LedgerIntegrityPayload struct {
	CompanyID int64         `json:"company_id"`
	Grace     time.Duration `json:"grace"`
}

// NewLedgerIntegrityTask constructs the scan task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// IdempotencyCleanupPayload sets how long processed keys are kept.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the retention task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
