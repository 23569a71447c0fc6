package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/saasdash/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// unmatchedRoute labels requests no route matched, so probing random paths
// cannot grow the label set
const unmatchedRoute = "unmatched"

// HTTPMetrics counts requests by route pattern and status, records their
// latency and tracks how many are in flight.
func HTTPMetrics(meter metric.Meter) (gin.HandlerFunc, error) {
	requests, err := telemetry.NewCounter(meter, telemetry.Instrument{
		Name:        "http_server_request_total",
		Description: "Requests served, by route and status",
		Unit:        "{request}",
	})
	if err != nil {
		return nil, err
	}
	latency, err := telemetry.NewHistogram(meter, telemetry.Instrument{
		Name:        "http_server_request_duration_seconds",
		Description: "Time to serve a request",
		Unit:        "s",
		Buckets:     telemetry.HTTPDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	inFlight, err := meter.Int64UpDownCounter("http_server_active_requests",
		metric.WithDescription("Requests being served"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		began := time.Now()
		inFlight.Add(ctx, 1)
		defer inFlight.Add(ctx, -1)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		labels := []attribute.KeyValue{
			telemetry.AttrHTTPMethod.String(c.Request.Method),
			telemetry.AttrHTTPRoute.String(route),
		}
		latency.Observe(ctx, time.Since(began), labels...)
		requests.Inc(ctx, append(labels, telemetry.AttrHTTPStatus.Int(c.Writer.Status()))...)
	}, nil
}
