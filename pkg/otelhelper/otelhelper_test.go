package otelhelper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanAndSetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	_, span := StartSpan(context.Background(), tracer, "step.execute",
		attribute.String(InstanceIDKey, "i-1"),
		attribute.String(StepIDKey, "a"),
	)
	SetError(span, errors.New("boom"), attribute.Int("attempts", 2))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	recorded := spans[0]
	assert.Equal(t, "step.execute", recorded.Name())
	assert.Equal(t, codes.Error, recorded.Status().Code)
	assert.Equal(t, "boom", recorded.Status().Description)
	assert.Contains(t, recorded.Attributes(), attribute.String(InstanceIDKey, "i-1"))

	names := make([]string, 0, len(recorded.Events()))
	for _, event := range recorded.Events() {
		names = append(names, event.Name)
	}

	assert.Contains(t, names, "error_occurred")
}
