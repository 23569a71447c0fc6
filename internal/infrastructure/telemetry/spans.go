package telemetry

import (
	"context"

	"github.com/saasdash/backend/internal/domain/shared"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of engine spans
const TracerName = "github.com/saasdash/backend"

// Start opens an internal span named component.operation on the global
// tracer provider. Close it with Finish.
func Start(ctx context.Context, component, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, component+"."+operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
}

// Finish sets attrs and ends span. A non-nil err is recorded; only errors
// outside the client-facing domain codes mark the span failed, so a denied
// or invalid request does not show up as a fault.
func Finish(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		if Faulty(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

// Faulty reports whether err is a server-side failure rather than a
// domain error a caller caused
func Faulty(err error) bool {
	switch shared.AsDomainError(err).Code {
	case shared.CodeUnhandled, shared.CodeTimeout, shared.CodeLimiterUnavailable:
		return true
	}
	return false
}
