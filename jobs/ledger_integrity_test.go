package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
	jobmetrics "github.com/odyssey-erp/odyssey-o2c/internal/jobs"
	"github.com/odyssey-erp/odyssey-o2c/internal/shared"
)

type stubScanner struct {
	violations []Violation
	missing    []docref.Ref
	calls      int
}

func (s *stubScanner) Conservation(context.Context, int64, decimal.Decimal) ([]Violation, error) {
	s.calls++
	return s.violations, nil
}

func (s *stubScanner) MissingEvents(context.Context, int64, time.Duration) ([]docref.Ref, error) {
	return s.missing, nil
}

func newLocker(t *testing.T) (*redislock.Client, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redislock.New(client), client
}

func TestIntegrityJobReportsViolations(t *testing.T) {
	locker, _ := newLocker(t)
	registry := docref.NewRegistry()
	registry.Register(docref.KindInvoice, docref.ResolverFunc(func(_ context.Context, id int64) (docref.Header, error) {
		return docref.Header{Number: "SI-ACME-JKT-26-00007", Status: "POSTED", CompanyID: 1}, nil
	}))
	scanner := &stubScanner{
		violations: []Violation{{
			Kind:        ViolationInvoicedExceedsDelivered,
			CompanyID:   1,
			OrderLineID: 10,
			Value:       decimal.RequireFromString("5"),
			Limit:       decimal.RequireFromString("4"),
		}},
		missing: []docref.Ref{docref.Invoice(7)},
	}
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	job := NewIntegrityJob(IntegrityConfig{
		Scanner:   scanner,
		Registry:  registry,
		Locker:    locker,
		Metrics:   metrics,
		Tolerance: decimal.RequireFromString("0.0005"),
	})
	report, err := job.Run(context.Background(), LedgerIntegrityPayload{CompanyID: 1})
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	require.Len(t, report.Violations, 1)
	require.Len(t, report.Missing, 1)
	assert.Equal(t, "SI-ACME-JKT-26-00007", report.Missing[0].Number)

	count, err := testutil.GatherAndCount(reg, "o2c_integrity_violations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestIntegrityJobSkipsWhenLocked(t *testing.T) {
	locker, _ := newLocker(t)
	held, err := locker.Obtain(context.Background(), shared.IntegrityLockKey(3), time.Minute, nil)
	require.NoError(t, err)
	defer func() { _ = held.Release(context.Background()) }()

	scanner := &stubScanner{}
	job := NewIntegrityJob(IntegrityConfig{Scanner: scanner, Locker: locker})
	report, err := job.Run(context.Background(), LedgerIntegrityPayload{CompanyID: 3})
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Zero(t, scanner.calls)
}

func TestIntegrityJobReleasesLock(t *testing.T) {
	locker, client := newLocker(t)
	job := NewIntegrityJob(IntegrityConfig{Scanner: &stubScanner{}, Locker: locker})

	task, err := NewLedgerIntegrityTask(LedgerIntegrityPayload{CompanyID: 5})
	require.NoError(t, err)
	require.NoError(t, job.ProcessTask(context.Background(), task))

	exists, err := client.Exists(context.Background(), shared.IntegrityLockKey(5)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
