package telemetry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/saasdash/backend/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func attrMap(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestStart(t *testing.T) {
	sr := recordSpans(t)
	customerID := uuid.New()

	_, span := telemetry.Start(context.Background(), "feature_guard", "check",
		telemetry.AttrCustomerID.String(customerID.String()),
		telemetry.AttrFeatureSlug.String("api-calls"))
	telemetry.Finish(span, nil, telemetry.AttrResult.String("allowed"))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	got := spans[0]
	assert.Equal(t, "feature_guard.check", got.Name())
	assert.Equal(t, trace.SpanKindInternal, got.SpanKind())
	assert.Equal(t, telemetry.TracerName, got.InstrumentationScope().Name)
	assert.Equal(t, codes.Unset, got.Status().Code)

	attrs := attrMap(got.Attributes())
	assert.Equal(t, customerID.String(), attrs[telemetry.AttrCustomerID].AsString())
	assert.Equal(t, "api-calls", attrs[telemetry.AttrFeatureSlug].AsString())
	assert.Equal(t, "allowed", attrs[telemetry.AttrResult].AsString())
}

func TestFinish_Errors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fault bool
	}{
		{"plain error", errors.New("store unavailable"), true},
		{"timeout", shared.ErrTimeout.Wrap(context.DeadlineExceeded), true},
		{"limiter down", shared.ErrLimiterUnavailable, true},
		{"wrapped unhandled", fmt.Errorf("flush: %w", shared.ErrUnhandled), true},
		{"invalid input", shared.ErrInvalidInput.WithMessage("feature slug is required"), false},
		{"not found", shared.ErrNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr := recordSpans(t)

			_, span := telemetry.Start(context.Background(), "usage_limiter", "register")
			telemetry.Finish(span, tt.err)

			got := sr.Ended()[0]
			require.Len(t, got.Events(), 1)
			assert.Equal(t, "exception", got.Events()[0].Name)
			if tt.fault {
				assert.Equal(t, codes.Error, got.Status().Code)
			} else {
				assert.Equal(t, codes.Unset, got.Status().Code)
			}
			assert.Equal(t, tt.fault, telemetry.Faulty(tt.err))
		})
	}
}

func TestStart_Nested(t *testing.T) {
	sr := recordSpans(t)

	ctx, parent := telemetry.Start(context.Background(), "usage_report", "summary")
	_, child := telemetry.Start(ctx, "usage_log", "summarize")
	telemetry.Finish(child, nil)
	telemetry.Finish(parent, nil)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, spans[1].SpanContext().TraceID(), spans[0].SpanContext().TraceID())
}
