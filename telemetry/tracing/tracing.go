// Package tracing provides lightweight span correlation for the dispatcher
// loop, adapted from an internal hand-rolled tracer
// (engine/internal/telemetry/tracing/tracing.go), plus an optional bridge
// onto the real go.opentelemetry.io/otel SDK (otel.go) for deployments that
// want the dispatcher's per-record spans exported.
package tracing

import (
	randcrypto "crypto/rand"
	"context"
	"encoding/hex"
	"sync"
	"time"
)

// Span is a single traced operation (one record dispatch, one FinDer scan
// pass).
type Span interface {
	End()
	SetAttribute(key string, value any)
	Context() SpanContext
}

// SpanContext carries the correlation ids logged alongside every message.
type SpanContext struct {
	TraceID, SpanID, ParentSpanID string
	Start, End                    time.Time
}

// Tracer starts spans, attaching them to a context.Context.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	Noop() bool
}

type noopTracer struct{}
type noopSpan struct{}

func (noopTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, noopSpan{}
}
func (noopTracer) Noop() bool                          { return true }
func (noopSpan) End()                                   {}
func (noopSpan) SetAttribute(key string, value any)     {}
func (noopSpan) Context() SpanContext                   { return SpanContext{} }

// NewNoopTracer returns a Tracer that never emits spans (used when tracing
// is disabled in config).
func NewNoopTracer() Tracer { return noopTracer{} }

type simpleTracer struct{}

// NewTracer returns the internal hand-rolled tracer, used when otel export
// is not configured but per-record correlation ids are still wanted in
// logs.
func NewTracer() Tracer { return simpleTracer{} }

func (simpleTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	parent := SpanFromContext(ctx)
	traceID := parent.ctx.TraceID
	if traceID == "" {
		traceID = newID(16)
	}
	sp := &simpleSpan{ctx: SpanContext{TraceID: traceID, SpanID: newID(8), ParentSpanID: parent.ctx.SpanID, Start: time.Now()}, attrs: make(map[string]any)}
	return context.WithValue(ctx, spanKey{}, sp), sp
}
func (simpleTracer) Noop() bool { return false }

type simpleSpan struct {
	ctx   SpanContext
	mu    sync.Mutex
	ended bool
	attrs map[string]any
}

func (s *simpleSpan) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ctx.End = time.Now()
		s.ended = true
	}
}

func (s *simpleSpan) SetAttribute(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attrs != nil {
		s.attrs[key] = value
	}
}

func (s *simpleSpan) Context() SpanContext { return s.ctx }

type spanKey struct{}

// SpanFromContext returns the active span, or a zero-value span if none.
func SpanFromContext(ctx context.Context) *simpleSpan {
	if ctx == nil {
		return &simpleSpan{}
	}
	if sp, ok := ctx.Value(spanKey{}).(*simpleSpan); ok {
		return sp
	}
	return &simpleSpan{}
}

// ExtractIDs returns the trace/span id pair for log correlation.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	sp := SpanFromContext(ctx)
	return sp.ctx.TraceID, sp.ctx.SpanID
}

func newID(n int) string {
	b := make([]byte, n)
	if _, err := randcrypto.Read(b); err != nil {
		return hex.EncodeToString(make([]byte, n))
	}
	return hex.EncodeToString(b)
}
