package emit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating OpenTelemetry spans.
//
// Each event becomes a span with:
//   - Span name: event.Msg (e.g., "node_end", "interrupt")
//   - Attributes: orcgraph.thread_id, orcgraph.graph, orcgraph.step,
//     orcgraph.node_id and every event.Meta field
//   - Status: error if event.Meta["error"] is set
//
// Events are points in time, so spans end immediately. A "duration_ms"
// meta value back-dates the span start so node spans show their real length.
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	emitter := emit.NewOTelEmitter(otel.Tracer("orcgraph"))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates a new OTelEmitter from a tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	if tracer == nil {
		tracer = otel.Tracer("orcgraph")
	}
	return &OTelEmitter{tracer: tracer}
}

// Emit creates a span for the event.
func (o *OTelEmitter) Emit(event Event) {
	end := time.Now()
	start := end
	if ms, ok := durationMillis(event.Meta["duration_ms"]); ok {
		start = end.Add(-time.Duration(ms) * time.Millisecond)
	}

	_, span := o.tracer.Start(context.Background(), event.Msg, trace.WithTimestamp(start))
	defer span.End(trace.WithTimestamp(end))

	span.SetAttributes(
		attribute.String("orcgraph.thread_id", event.ThreadID),
		attribute.String("orcgraph.graph", event.Graph),
		attribute.Int("orcgraph.step", event.Step),
		attribute.String("orcgraph.node_id", event.NodeID),
	)
	for key, value := range event.Meta {
		span.SetAttributes(metaAttribute("orcgraph."+key, value))
	}

	if msg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
}

// Flush forces export of pending spans when the global provider supports
// it. Call before process exit.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func metaAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case time.Duration:
		return attribute.Int64(key, int64(v/time.Millisecond))
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

func durationMillis(v any) (int64, bool) {
	switch d := v.(type) {
	case int64:
		return d, true
	case int:
		return int64(d), true
	case float64:
		return int64(d), true
	}
	return 0, false
}
