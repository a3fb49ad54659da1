package tracing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/SED-EEW/eewamps/telemetry/tracing"
)

func TestNoopTracer_NeverPopulatesIDs(t *testing.T) {
	tr := tracing.NewNoopTracer()
	assert.True(t, tr.Noop())

	ctx, sp := tr.StartSpan(context.Background(), "op")
	sp.SetAttribute("k", "v")
	sp.End()

	traceID, spanID := tracing.ExtractIDs(ctx)
	assert.Empty(t, traceID)
	assert.Empty(t, spanID)
}

func TestTracer_StartSpanAssignsTraceAndSpanIDs(t *testing.T) {
	tr := tracing.NewTracer()
	assert.False(t, tr.Noop())

	ctx, sp := tr.StartSpan(context.Background(), "op")
	traceID, spanID := tracing.ExtractIDs(ctx)
	assert.NotEmpty(t, traceID)
	assert.NotEmpty(t, spanID)
	assert.Equal(t, traceID, sp.Context().TraceID)
	assert.Equal(t, spanID, sp.Context().SpanID)
	assert.Empty(t, sp.Context().ParentSpanID)
}

func TestTracer_NestedSpanSharesTraceIDAndRecordsParent(t *testing.T) {
	tr := tracing.NewTracer()

	ctx, parent := tr.StartSpan(context.Background(), "outer")
	childCtx, child := tr.StartSpan(ctx, "inner")

	assert.Equal(t, parent.Context().TraceID, child.Context().TraceID)
	assert.Equal(t, parent.Context().SpanID, child.Context().ParentSpanID)
	assert.NotEqual(t, parent.Context().SpanID, child.Context().SpanID)

	traceID, spanID := tracing.ExtractIDs(childCtx)
	assert.Equal(t, child.Context().TraceID, traceID)
	assert.Equal(t, child.Context().SpanID, spanID)
}

func TestTracer_EndSetsEndTimeOnce(t *testing.T) {
	tr := tracing.NewTracer()
	_, sp := tr.StartSpan(context.Background(), "op")

	assert.True(t, sp.Context().End.IsZero())
	sp.End()
	firstEnd := sp.Context().End
	assert.False(t, firstEnd.IsZero())

	sp.End()
	assert.Equal(t, firstEnd, sp.Context().End)
}

func TestSpanFromContext_ReturnsZeroSpanWhenAbsent(t *testing.T) {
	sp := tracing.SpanFromContext(context.Background())
	assert.Equal(t, tracing.SpanContext{}, sp.Context())
}

func TestSpanFromContext_NilContextIsSafe(t *testing.T) {
	sp := tracing.SpanFromContext(nil)
	assert.Equal(t, tracing.SpanContext{}, sp.Context())
}

func TestExtractIDs_EmptyWhenNoSpanStarted(t *testing.T) {
	traceID, spanID := tracing.ExtractIDs(context.Background())
	assert.Empty(t, traceID)
	assert.Empty(t, spanID)
}
