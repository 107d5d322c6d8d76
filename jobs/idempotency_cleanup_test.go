package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-o2c/internal/jobs"
)

type fakeCleaner struct {
	calls []time.Duration
	err   error
}

func (c *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) error {
	c.calls = append(c.calls, olderThan)
	return c.err
}

func TestIdempotencyCleanupUsesPayloadRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, nil, nil)

	task, err := NewIdempotencyCleanupTask(IdempotencyCleanupPayload{Retention: 48 * time.Hour})
	require.NoError(t, err)
	require.Equal(t, TaskIdempotencyCleanup, task.Type())
	require.NoError(t, job.ProcessTask(context.Background(), task))

	require.NoError(t, job.Run(context.Background(), IdempotencyCleanupPayload{}))
	require.Equal(t, []time.Duration{48 * time.Hour, DefaultIdempotencyRetention}, cleaner.calls)
}

func TestIdempotencyCleanupRecordsFailure(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	job := NewIdempotencyCleanupJob(&fakeCleaner{err: errors.New("db down")}, metrics, nil)

	err := job.Run(context.Background(), IdempotencyCleanupPayload{Retention: time.Hour})
	require.ErrorContains(t, err, "db down")

	count, err := testutil.GatherAndCount(registry, "o2c_jobs_failures_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
