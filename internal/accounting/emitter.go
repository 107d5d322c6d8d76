package accounting

import (
	"context"
	"log/slog"
	"time"
)

// Bus is the accounting event transport.
type Bus interface {
	Dispatch(ctx context.Context, event Event) error
}

// Metrics receives emission outcomes.
type Metrics interface {
	ObserveEmit(result string)
}

// Emission results reported to Metrics.
const (
	ResultDispatched = "dispatched"
	ResultSkipped    = "skipped"
	ResultUnbalanced = "unbalanced"
	ResultFailed     = "failed"
)

// Emitter hands committed postings to the bus. It never returns an error:
// the document is already committed, so failures are logged and counted for
// out-of-band reconciliation.
type Emitter struct {
	bus     Bus
	logger  *slog.Logger
	metrics Metrics
	timeout time.Duration
}

// NewEmitter constructs Emitter. metrics may be nil.
func NewEmitter(bus Bus, logger *slog.Logger, metrics Metrics) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{bus: bus, logger: logger, metrics: metrics, timeout: 10 * time.Second}
}

// Emit dispatches event unless it moves no money. Callers invoke it only
// after their transaction committed.
func (e *Emitter) Emit(ctx context.Context, event Event) {
	if e == nil {
		return
	}
	log := e.logger.With(
		slog.String("document", event.Document.Ref().String()),
		slog.String("doc_number", event.DocNumber),
		slog.String("source_id", event.SourceID.String()),
	)
	if event.IsZero() {
		e.observe(ResultSkipped)
		log.Debug("accounting event skipped: zero amount")
		return
	}
	if err := event.Validate(); err != nil {
		e.observe(ResultUnbalanced)
		log.Error("accounting event rejected", slog.Any("error", err))
		return
	}
	if e.bus == nil {
		e.observe(ResultFailed)
		log.Error("accounting event dropped: no bus configured")
		return
	}

	// the caller's request may already be cancelled; the commit is not
	dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	if err := e.bus.Dispatch(dispatchCtx, event); err != nil {
		e.observe(ResultFailed)
		log.Error("accounting event dispatch failed", slog.Any("error", err))
		return
	}
	e.observe(ResultDispatched)
	log.Info("accounting event dispatched", slog.Int("lines", len(event.Lines)))
}

func (e *Emitter) observe(result string) {
	if e.metrics != nil {
		e.metrics.ObserveEmit(result)
	}
}
