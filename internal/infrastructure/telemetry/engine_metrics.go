package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ErrMeterNil is returned when an instrument set is built without a meter
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// EngineMetrics holds the instruments of the entitlement engine: guard
// decisions, usage increments and cache lookups.
type EngineMetrics struct {
	checks        *Counter
	checkDuration *Histogram
	increments    *Counter
	cacheLookups  *Counter
	logger        *zap.Logger
}

// NewEngineMetrics creates the engine instruments on meter
func NewEngineMetrics(meter metric.Meter, logger *zap.Logger) (*EngineMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	checks, err := NewCounter(meter, Instrument{Name: "entitlement_checks_total", Description: "Feature guard decisions", Unit: "{check}"})
	if err != nil {
		return nil, err
	}
	checkDuration, err := NewHistogram(meter, Instrument{
		Name:        "entitlement_check_duration_seconds",
		Description: "Time spent deciding a feature check",
		Unit:        "s",
		Buckets:     CheckDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	increments, err := NewCounter(meter, Instrument{Name: "usage_increments_total", Description: "Usage increments seen by the limiter", Unit: "{increment}"})
	if err != nil {
		return nil, err
	}
	cacheLookups, err := NewCounter(meter, Instrument{Name: "cache_lookups_total", Description: "Cache lookups by freshness", Unit: "{lookup}"})
	if err != nil {
		return nil, err
	}

	logger.Debug("Engine metrics registered")
	return &EngineMetrics{
		checks:        checks,
		checkDuration: checkDuration,
		increments:    increments,
		cacheLookups:  cacheLookups,
		logger:        logger,
	}, nil
}

// RecordCheck counts one guard decision and its latency
func (m *EngineMetrics) RecordCheck(ctx context.Context, result, reason string, elapsed time.Duration) {
	m.checks.Inc(ctx, AttrResult.String(result), AttrReason.String(reason))
	m.checkDuration.Observe(ctx, elapsed, AttrResult.String(result))
}

// RecordUsageIncrement counts one usage increment
func (m *EngineMetrics) RecordUsageIncrement(ctx context.Context, featureSlug string, accepted, duplicate bool) {
	m.increments.Inc(ctx,
		AttrFeatureSlug.String(featureSlug),
		AttrAccepted.Bool(accepted),
		AttrDuplicate.Bool(duplicate))
}

// RecordCacheLookup counts one cache lookup by namespace and state
func (m *EngineMetrics) RecordCacheLookup(ctx context.Context, namespace, state string) {
	m.cacheLookups.Inc(ctx, AttrNamespace.String(namespace), AttrCacheState.String(state))
}
