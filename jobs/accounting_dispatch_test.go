package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-o2c/internal/accounting"
	"github.com/odyssey-erp/odyssey-o2c/internal/docref"
)

type memoryInbox struct {
	mu     sync.Mutex
	events map[string]accounting.Event
	err    error
}

func newMemoryInbox() *memoryInbox {
	return &memoryInbox{events: make(map[string]accounting.Event)}
}

func (m *memoryInbox) Record(_ context.Context, event accounting.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	key := event.SourceID.String()
	if _, ok := m.events[key]; ok {
		return ErrAlreadyRecorded
	}
	m.events[key] = event
	return nil
}

func sampleEvent(t *testing.T) accounting.Event {
	t.Helper()
	event := accounting.InvoicePosting(accounting.Header{
		Ref:          docref.Invoice(42),
		DocNumber:    "SI-ACME-JKT-26-00001",
		CompanyID:    1,
		BranchID:     2,
		OccurredAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Currency:     "IDR",
		ExchangeRate: decimal.NewFromInt(1),
	}, accounting.InvoiceFigures{
		TotalBase:         decimal.RequireFromString("111.00"),
		TaxBase:           decimal.RequireFromString("11.00"),
		DeliveryValueBase: decimal.RequireFromString("80.00"),
	})
	require.NoError(t, event.Validate())
	return event
}

func TestAccountingDispatchTaskUsesSourceID(t *testing.T) {
	event := sampleEvent(t)
	task, opts, err := NewAccountingDispatchTask(event)
	require.NoError(t, err)
	assert.Equal(t, TaskAccountingDispatch, task.Type())

	var found bool
	for _, opt := range opts {
		if opt.Type() == asynq.TaskIDOpt {
			found = true
			assert.Equal(t, event.SourceID.String(), opt.Value())
		}
	}
	assert.True(t, found)
}

func TestAccountingDispatchHandlerRecordsOnce(t *testing.T) {
	inbox := newMemoryInbox()
	handler := NewAccountingDispatchHandler(inbox, nil)
	event := sampleEvent(t)
	task, _, err := NewAccountingDispatchTask(event)
	require.NoError(t, err)

	require.NoError(t, handler.ProcessTask(context.Background(), task))
	require.NoError(t, handler.ProcessTask(context.Background(), task))
	assert.Len(t, inbox.events, 1)
}

func TestAccountingDispatchHandlerSkipsRetryOnBadPayload(t *testing.T) {
	handler := NewAccountingDispatchHandler(newMemoryInbox(), nil)

	err := handler.ProcessTask(context.Background(), asynq.NewTask(TaskAccountingDispatch, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	event := sampleEvent(t)
	event.Lines = event.Lines[:1]
	body, err := json.Marshal(event)
	require.NoError(t, err)
	err = handler.ProcessTask(context.Background(), asynq.NewTask(TaskAccountingDispatch, body))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestAccountingDispatchHandlerPropagatesInboxFailure(t *testing.T) {
	inbox := newMemoryInbox()
	inbox.err = errors.New("connection reset")
	handler := NewAccountingDispatchHandler(inbox, nil)
	task, _, err := NewAccountingDispatchTask(sampleEvent(t))
	require.NoError(t, err)

	err = handler.ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}
