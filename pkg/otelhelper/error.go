package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorKindKey labels a failed span with the error's classification.
const ErrorKindKey = "worktemplate.error.kind"

// SetError marks the span failed and records err.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(
		attrs...,
	))
}

// End ends span, first recording *errp when it is set. kind, when given,
// names the error for the ErrorKindKey attribute.
func End(span trace.Span, errp *error, kind func(error) string) {
	if errp != nil && *errp != nil {
		var attrs []attribute.KeyValue
		if kind != nil {
			attrs = append(attrs, attribute.String(ErrorKindKey, kind(*errp)))
		}

		span.SetAttributes(attrs...)
		SetError(span, *errp, attrs...)
	}

	span.End()
}
