// OpenTelemetry tracing support for task observability.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with task-specific helpers.
type Tracer struct {
	tracer trace.Tracer
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer with the given name from the global provider.
func NewTracer(name string) *Tracer {
	return &Tracer{tracer: otel.Tracer(name)}
}

// NewTracerWithProvider creates a tracer from a specific provider.
func NewTracerWithProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Cycle Spans ---

// CycleSpanOptions contains options for processing-cycle spans.
type CycleSpanOptions struct {
	Duration time.Duration
	Inbox    int // values still queued after processing, -1 if unknown
}

// StartCycleSpan starts a span for one Process call of a task.
func (t *Tracer) StartCycleSpan(ctx context.Context, taskName string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "task.process", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("task.name", taskName))
	return ctx, span
}

// EndCycleSpan ends a cycle span with attributes.
func (t *Tracer) EndCycleSpan(span trace.Span, opts CycleSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.Int64("task.process.duration_ms", opts.Duration.Milliseconds()),
	}
	if opts.Inbox >= 0 {
		attrs = append(attrs, attribute.Int("relay.inbox", opts.Inbox))
	}
	span.SetAttributes(attrs...)
	endSpan(span, err)
}

// --- Lifecycle Spans ---

// StartLifecycleSpan starts a span for a lifecycle hook such as
// "before_start" or "after_stop".
func (t *Tracer) StartLifecycleSpan(ctx context.Context, taskName, hook string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "task."+hook, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("task.name", taskName),
		attribute.String("task.hook", hook),
	)
	return ctx, span
}

// EndLifecycleSpan ends a lifecycle span.
func (t *Tracer) EndLifecycleSpan(span trace.Span, err error) {
	endSpan(span, err)
}

// --- Bridge Spans ---

// StartPublishSpan starts a producer span for a value leaving a relay graph.
func (t *Tracer) StartPublishSpan(ctx context.Context, subject string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "bus.publish "+subject, trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(attribute.String("messaging.destination.name", subject))
	return ctx, span
}

// StartReceiveSpan starts a consumer span for a value entering a relay graph.
func (t *Tracer) StartReceiveSpan(ctx context.Context, subject string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "bus.receive "+subject, trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(attribute.String("messaging.destination.name", subject))
	return ctx, span
}

// EndSpan ends any span started by this tracer, recording err if non-nil.
func (t *Tracer) EndSpan(span trace.Span, err error) {
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// MapCarrier is a map-based TextMapCarrier, compatible with bus message headers.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string {
	return c[key]
}

func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
