package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestStartTelemetry_Disabled(t *testing.T) {
	telemetry, err := StartTelemetry(context.Background(), OTelConfig{Enabled: false}, NopLogger())
	require.NoError(t, err)
	assert.Nil(t, telemetry)
	assert.NoError(t, telemetry.Shutdown(context.Background()))
}

func TestLoggerWithTrace_NoSpan(t *testing.T) {
	logger := NopLogger()
	assert.Same(t, logger, LoggerWithTrace(context.Background(), logger))
}

func TestLoggerWithTrace_WithSpan(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	logger := NopLogger()
	assert.NotSame(t, logger, LoggerWithTrace(ctx, logger))
}

func TestTracer_NoopByDefault(t *testing.T) {
	_, span := Tracer("store").Start(context.Background(), "noop")
	defer span.End()
	assert.False(t, span.SpanContext().IsSampled())
}
