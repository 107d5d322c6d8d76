package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-o2c/internal/jobs"
)

// DefaultIdempotencyRetention keeps keys well past the longest asynq retry window.
const DefaultIdempotencyRetention = 30 * 24 * time.Hour

// KeyCleaner removes idempotency keys older than a cutoff.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob prunes idempotency_keys on a schedule.
type IdempotencyCleanupJob struct {
	cleaner KeyCleaner
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewIdempotencyCleanupJob constructs the job.
func NewIdempotencyCleanupJob(cleaner KeyCleaner, metrics *jobmetrics.Metrics, logger *slog.Logger) *IdempotencyCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyCleanupJob{cleaner: cleaner, metrics: metrics, logger: logger}
}

// Run deletes keys older than payload.Retention.
func (j *IdempotencyCleanupJob) Run(ctx context.Context, payload IdempotencyCleanupPayload) (err error) {
	tracker := j.metrics.Track("idempotency_cleanup")
	defer func() { err = tracker.End(err) }()

	retention := payload.Retention
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	if err := j.cleaner.Cleanup(ctx, retention); err != nil {
		return fmt.Errorf("jobs: idempotency cleanup: %w", err)
	}
	j.logger.Info("idempotency keys pruned", slog.String("job", "idempotency_cleanup"), slog.Duration("retention", retention))
	return nil
}

// ProcessTask implements asynq.Handler.
func (j *IdempotencyCleanupJob) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("jobs: decode cleanup payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	return j.Run(ctx, payload)
}
