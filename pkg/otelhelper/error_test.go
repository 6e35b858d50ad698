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

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	return recorder, provider
}

func TestEnd(t *testing.T) {
	kind := func(error) string { return "precondition_failed" }

	t.Run("records the error and its kind", func(t *testing.T) {
		recorder, provider := newRecorder(t)

		_, span := StartSpan(context.Background(), provider.Tracer("test"), "instances.Transition",
			attribute.String(InstanceStepIDKey, "step-1"))

		err := errors.New("step is blocked")
		End(span, &err, kind)

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, "instances.Transition", spans[0].Name())
		assert.Equal(t, codes.Error, spans[0].Status().Code)
		assert.Equal(t, "step is blocked", spans[0].Status().Description)
		assert.Contains(t, spans[0].Attributes(), attribute.String(ErrorKindKey, "precondition_failed"))
		assert.Contains(t, spans[0].Attributes(), attribute.String(InstanceStepIDKey, "step-1"))
	})

	t.Run("leaves successful spans unset", func(t *testing.T) {
		recorder, provider := newRecorder(t)

		_, span := StartSpan(context.Background(), provider.Tracer("test"), "templates.Publish")

		var err error
		End(span, &err, kind)

		spans := recorder.Ended()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Unset, spans[0].Status().Code)
		assert.Empty(t, spans[0].Events())
	})
}
