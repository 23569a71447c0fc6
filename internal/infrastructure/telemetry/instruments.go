package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys shared by spans and metrics
var (
	AttrCustomerID     = attribute.Key("customer_id")
	AttrProjectID      = attribute.Key("project_id")
	AttrSubscriptionID = attribute.Key("subscription_id")
	AttrFeatureSlug    = attribute.Key("feature_slug")
	AttrResult         = attribute.Key("result")
	AttrReason         = attribute.Key("reason")
	AttrAccepted       = attribute.Key("accepted")
	AttrDuplicate      = attribute.Key("duplicate")
	AttrNamespace      = attribute.Key("namespace")
	AttrCacheState     = attribute.Key("state")
	AttrTier           = attribute.Key("tier")
	AttrHTTPMethod     = attribute.Key("http.method")
	AttrHTTPRoute      = attribute.Key("http.route")
	AttrHTTPStatus     = attribute.Key("http.status_code")
)

// Bucket boundaries in seconds
var (
	// CheckDurationBuckets spread around the 100ms guard budget
	CheckDurationBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25}
	HTTPDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
)

// Instrument names and describes a counter or histogram. Buckets apply to
// histograms only; nil keeps the SDK defaults.
type Instrument struct {
	Name        string
	Description string
	Unit        string
	Buckets     []float64
}

// Counter is a monotonic int64 counter
type Counter struct {
	c metric.Int64Counter
}

func NewCounter(meter metric.Meter, in Instrument) (*Counter, error) {
	c, err := meter.Int64Counter(in.Name, metric.WithDescription(in.Description), metric.WithUnit(in.Unit))
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", in.Name, err)
	}
	return &Counter{c: c}, nil
}

func (c *Counter) Add(ctx context.Context, n int64, attrs ...attribute.KeyValue) {
	c.c.Add(ctx, n, metric.WithAttributes(attrs...))
}

func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, attrs...)
}

// Histogram is a float64 distribution, recorded in seconds for durations
type Histogram struct {
	h metric.Float64Histogram
}

func NewHistogram(meter metric.Meter, in Instrument) (*Histogram, error) {
	opts := []metric.Float64HistogramOption{metric.WithDescription(in.Description), metric.WithUnit(in.Unit)}
	if len(in.Buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(in.Buckets...))
	}
	h, err := meter.Float64Histogram(in.Name, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", in.Name, err)
	}
	return &Histogram{h: h}, nil
}

func (h *Histogram) Record(ctx context.Context, v float64, attrs ...attribute.KeyValue) {
	h.h.Record(ctx, v, metric.WithAttributes(attrs...))
}

// Observe records d in seconds
func (h *Histogram) Observe(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	h.Record(ctx, d.Seconds(), attrs...)
}
