package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of business spans.
const TracerName = "odyssey-o2c"

// StartSpan starts "<service>.<method>" with int64 attributes, e.g.
//
//	ctx, span := observability.StartSpan(ctx, "sales_invoice", "post", "invoice_id", id)
//	defer func() { observability.EndSpan(span, err) }()
func StartSpan(ctx context.Context, service, method string, kv ...any) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case int64:
			attrs = append(attrs, attribute.Int64(key, v))
		case int:
			attrs = append(attrs, attribute.Int(key, v))
		case string:
			attrs = append(attrs, attribute.String(key, v))
		default:
			attrs = append(attrs, attribute.String(key, fmt.Sprint(v)))
		}
	}
	tracer := otel.GetTracerProvider().Tracer(TracerName)
	return tracer.Start(ctx, service+"."+method, trace.WithAttributes(attrs...))
}

// EndSpan records err on the span and ends it.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
