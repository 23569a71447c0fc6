package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	l := zap.NewExample()
	assert.Same(t, l, FromContext(WithContext(context.Background(), l)))
}

func TestWithRequestID(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)

	ctx, l := WithRequestID(context.Background(), zap.New(core), "req-1")
	assert.Equal(t, "req-1", GetRequestID(ctx))
	FromContext(ctx).Info("hello")
	l.Info("again")

	require.Len(t, recorded.All(), 2)
	for _, entry := range recorded.All() {
		assert.Equal(t, "req-1", entry.ContextMap()["request_id"])
	}
}

func TestWithPrincipal(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)

	t.Run("project key", func(t *testing.T) {
		ctx, _ := WithPrincipal(context.Background(), zap.New(core), "proj-1", "")
		assert.Equal(t, "proj-1", GetProjectID(ctx))
		FromContext(ctx).Info("project")

		fields := recorded.TakeAll()[0].ContextMap()
		assert.Equal(t, "proj-1", fields["project_id"])
		assert.NotContains(t, fields, "customer_id")
	})

	t.Run("customer key", func(t *testing.T) {
		ctx, _ := WithPrincipal(context.Background(), zap.New(core), "proj-1", "cust-1")
		FromContext(ctx).Info("customer")

		fields := recorded.TakeAll()[0].ContextMap()
		assert.Equal(t, "cust-1", fields["customer_id"])
	})
}

func TestL_AddsTraceContext(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	ctx := WithContext(context.Background(), zap.New(core))

	L(ctx).Info("no span")
	assert.NotContains(t, recorded.TakeAll()[0].ContextMap(), "trace_id")

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx = trace.ContextWithSpanContext(ctx, sc)

	L(ctx).Info("with span")
	fields := recorded.TakeAll()[0].ContextMap()
	assert.Equal(t, traceID.String(), fields["trace_id"])
	assert.Equal(t, spanID.String(), fields["span_id"])
}
