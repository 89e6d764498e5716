package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// emptyTraceID is logged when no span is active.
const emptyTraceID = "00000000000000000000000000000000"

// GetTraceID returns the trace id from the current span context. It has the
// shape of logger.TraceIDFn so it can be handed straight to the logger.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return emptyTraceID
	}
	return sc.TraceID().String()
}
