// Package tracing provides helpers for OpenTelemetry span management.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

// SetTracer sets the global tracer used by StartSpan.
func SetTracer(name string) {
	tracer = otel.Tracer(name)
}

// StartSpan starts a new span with the given name. The caller must end the
// returned span.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if tracer == nil {
		SetTracer("atlas")
	}
	return tracer.Start(ctx, name)
}

// GetTraceID returns the trace ID for the current span, if any.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.SpanContext().HasTraceID() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// GetTraceParent returns the W3C traceparent header value for the current span.
func GetTraceParent(ctx context.Context) string {
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return carrier.Get("traceparent")
}
