// Package integration carries accounting events from the o2c services to the
// external ledger over the configured transport.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/odyssey-erp/odyssey-o2c/internal/accounting"
)

// Bus transports selectable through ACCOUNTING_BUS.
const (
	BusAsynq = "asynq"
	BusKafka = "kafka"
	BusLog   = "log"
)

// ErrUnknownBus indicates an unsupported ACCOUNTING_BUS value.
var ErrUnknownBus = errors.New("integration: unknown accounting bus")

// Enqueuer is satisfied by *jobs.Client.
type Enqueuer interface {
	EnqueueAccounting(ctx context.Context, event accounting.Event) error
}

// AsynqBus enqueues events onto the accounting queue; the worker's dispatch
// handler persists them.
type AsynqBus struct {
	client Enqueuer
}

// NewAsynqBus constructs AsynqBus.
func NewAsynqBus(client Enqueuer) *AsynqBus {
	return &AsynqBus{client: client}
}

// Dispatch implements accounting.Bus.
func (b *AsynqBus) Dispatch(ctx context.Context, event accounting.Event) error {
	if b == nil || b.client == nil {
		return errors.New("integration: asynq client not configured")
	}
	return b.client.EnqueueAccounting(ctx, event)
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaBus publishes events keyed by source id, so replays of one posting land
// on the same partition and consumers can dedupe.
type KafkaBus struct {
	writer MessageWriter
}

// NewKafkaBus constructs KafkaBus.
func NewKafkaBus(writer MessageWriter) *KafkaBus {
	return &KafkaBus{writer: writer}
}

// NewKafkaWriter builds the writer used in production.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
}

// Dispatch implements accounting.Bus.
func (b *KafkaBus) Dispatch(ctx context.Context, event accounting.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("integration: encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.SourceID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "document_kind", Value: []byte(event.Document.Kind)},
			{Key: "doc_number", Value: []byte(event.DocNumber)},
		},
		Time: event.OccurredAt,
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("integration: kafka publish: %w", err)
	}
	return nil
}

// Close flushes the writer.
func (b *KafkaBus) Close() error {
	if b == nil || b.writer == nil {
		return nil
	}
	return b.writer.Close()
}

// LogBus writes events to the logger. Used in development.
type LogBus struct {
	logger *slog.Logger
}

// NewLogBus constructs LogBus.
func NewLogBus(logger *slog.Logger) *LogBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogBus{logger: logger}
}

// Dispatch implements accounting.Bus.
func (b *LogBus) Dispatch(_ context.Context, event accounting.Event) error {
	attrs := make([]any, 0, len(event.Lines)+3)
	attrs = append(attrs,
		slog.String("source_id", event.SourceID.String()),
		slog.String("document", event.Document.Ref().String()),
		slog.String("doc_number", event.DocNumber))
	for idx, line := range event.Lines {
		attrs = append(attrs, slog.String(fmt.Sprintf("line_%d", idx),
			fmt.Sprintf("%s %s %s", line.Direction, line.Role, line.Amount.StringFixed(2))))
	}
	b.logger.Info("accounting event", attrs...)
	return nil
}

// Options selects and configures a bus.
type Options struct {
	Kind         string
	Enqueuer     Enqueuer
	KafkaBrokers []string
	KafkaTopic   string
	Logger       *slog.Logger
}

// NewBus returns the bus named by opts.Kind and a closer for its resources.
func NewBus(opts Options) (accounting.Bus, func() error, error) {
	noop := func() error { return nil }
	switch opts.Kind {
	case "", BusAsynq:
		if opts.Enqueuer == nil {
			return nil, noop, errors.New("integration: asynq bus requires an enqueuer")
		}
		return NewAsynqBus(opts.Enqueuer), noop, nil
	case BusKafka:
		if len(opts.KafkaBrokers) == 0 || opts.KafkaTopic == "" {
			return nil, noop, errors.New("integration: kafka bus requires brokers and topic")
		}
		bus := NewKafkaBus(NewKafkaWriter(opts.KafkaBrokers, opts.KafkaTopic))
		return bus, bus.Close, nil
	case BusLog:
		return NewLogBus(opts.Logger), noop, nil
	default:
		return nil, noop, fmt.Errorf("%w: %q", ErrUnknownBus, opts.Kind)
	}
}
