package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// OtelTracer bridges the dispatcher's span correlation onto a real
// go.opentelemetry.io/otel TracerProvider, so deployments that run a
// collector get exportable spans for the dispatcher loop instead of only
// the internal hand-rolled correlation ids.
type OtelTracer struct {
	tracer oteltrace.Tracer
}

// NewOtelTracer returns a Tracer backed by the given service name's otel
// tracer, using the globally configured otel.TracerProvider (set by the
// command binaries at startup via otel/sdk).
func NewOtelTracer(serviceName string) *OtelTracer {
	return &OtelTracer{tracer: otel.Tracer(serviceName)}
}

func (t *OtelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, sp := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: sp}
}

func (t *OtelTracer) Noop() bool { return false }

type otelSpan struct {
	span oteltrace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value any) {
	if str, ok := value.(string); ok {
		s.span.SetAttributes(attribute.String(key, str))
		return
	}
	s.span.SetAttributes(attribute.String(key, fmt.Sprint(value)))
}

func (s *otelSpan) Context() SpanContext {
	sc := s.span.SpanContext()
	return SpanContext{TraceID: sc.TraceID().String(), SpanID: sc.SpanID().String()}
}
