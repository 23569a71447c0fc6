// Package guard decides whether a customer may use a feature right now.
//
// A check walks the tenant kill switches, the customer's entitlements for the
// feature and, for metered calls, the usage limiter, and returns one pass or
// fail decision with a typed reason.
package guard

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	appentitlement "github.com/saasdash/backend/internal/application/entitlement"
	"github.com/saasdash/backend/internal/application/usage"
	"github.com/saasdash/backend/internal/domain/billing"
	"github.com/saasdash/backend/internal/domain/entitlement"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/saasdash/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Result labels for metrics
const (
	ResultAllowed    = "allowed"
	ResultDenied     = "denied"
	ResultFailedOpen = "failed_open"
	ResultError      = "error"
)

// TenantReader loads the kill-switch state of a customer
type TenantReader interface {
	TenantStatus(ctx context.Context, customerID uuid.UUID) (entitlement.TenantStatus, error)
}

// EntitlementSource resolves the entitlements of a customer for a feature
type EntitlementSource interface {
	Resolve(ctx context.Context, customerID uuid.UUID, featureSlug string, opts appentitlement.ResolveOptions) ([]entitlement.CustomerEntitlement, error)
}

// UsageLimiter counts metered usage
type UsageLimiter interface {
	RegisterUsage(ctx context.Context, req usage.UsageRequest) (usage.UsageResult, error)
	CurrentUsage(ctx context.Context, customerID uuid.UUID, featureSlug string, cycle billing.Cycle) (int64, error)
}

// Recorder receives one observation per check
type Recorder interface {
	RecordCheck(ctx context.Context, result, reason string, elapsed time.Duration)
}

// Config tunes the guard
type Config struct {
	// Timeout bounds the whole decision path
	Timeout time.Duration
	// FailOpen allows the call when the usage step is unavailable or slow
	FailOpen bool
}

// DefaultConfig returns a 100ms budget with fail-open usage checks
func DefaultConfig() Config {
	return Config{Timeout: 100 * time.Millisecond, FailOpen: true}
}

// CheckRequest asks whether a customer may use a feature. A positive
// UsageDelta also records that much usage.
type CheckRequest struct {
	CustomerID     uuid.UUID
	FeatureSlug    string
	UsageDelta     *int64
	IdempotencyKey string
}

// CheckResult is the decision. DeniedReason is an error code when Success is
// false. Limit is nil for unlimited features.
type CheckResult struct {
	Success      bool   `json:"success"`
	DeniedReason string `json:"denied_reason,omitempty"`
	Usage        int64  `json:"usage"`
	Limit        *int64 `json:"limit"`
	FailedOpen   bool   `json:"failed_open,omitempty"`
}

func denied(code string) *CheckResult {
	return &CheckResult{DeniedReason: code}
}

// FeatureGuard is the single entry point for entitlement checks
type FeatureGuard struct {
	cfg          Config
	tenants      TenantReader
	entitlements EntitlementSource
	limiter      UsageLimiter
	recorder     Recorder
	logger       *zap.Logger
	now          func() time.Time
}

// Option is a functional option for configuring the guard
type Option func(*FeatureGuard)

// WithRecorder records check outcomes as metrics
func WithRecorder(r Recorder) Option {
	return func(g *FeatureGuard) {
		g.recorder = r
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(g *FeatureGuard) {
		g.logger = logger
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(g *FeatureGuard) {
		g.now = now
	}
}

// NewFeatureGuard creates a guard
func NewFeatureGuard(cfg Config, tenants TenantReader, entitlements EntitlementSource, limiter UsageLimiter, opts ...Option) *FeatureGuard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	g := &FeatureGuard{
		cfg:          cfg,
		tenants:      tenants,
		entitlements: entitlements,
		limiter:      limiter,
		logger:       zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check runs the decision path. Denials are results, not errors; an error is
// returned for invalid requests and for failures that close the check.
func (g *FeatureGuard) Check(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	start := g.now()
	ctx, span := telemetry.Start(ctx, "feature_guard", "check",
		telemetry.AttrCustomerID.String(req.CustomerID.String()),
		telemetry.AttrFeatureSlug.String(req.FeatureSlug))

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	result, err := g.check(ctx, req)

	label, reason := ResultAllowed, ""
	switch {
	case err != nil:
		label = ResultError
		reason = shared.AsDomainError(err).Code
	case !result.Success:
		label, reason = ResultDenied, result.DeniedReason
	case result.FailedOpen:
		label = ResultFailedOpen
	}
	telemetry.Finish(span, err, telemetry.AttrResult.String(label), telemetry.AttrReason.String(reason))
	if g.recorder != nil {
		g.recorder.RecordCheck(ctx, label, reason, g.now().Sub(start))
	}
	return result, err
}

func (g *FeatureGuard) check(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	if req.CustomerID == uuid.Nil {
		return nil, shared.ErrInvalidInput.WithMessage("customer ID cannot be empty")
	}
	if err := billing.ValidateFeatureSlug(req.FeatureSlug); err != nil {
		return nil, err
	}
	if req.UsageDelta != nil && *req.UsageDelta < 0 {
		return nil, shared.ErrInvalidInput.WithMessage("usage delta cannot be negative")
	}

	// kill switches are read without the cache so a disable takes effect at once
	status, err := g.tenants.TenantStatus(ctx, req.CustomerID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return denied(shared.CodeNotFound), nil
		}
		return nil, g.closed(ctx, req, "tenant status", err)
	}
	if err := status.Check(); err != nil {
		return denied(shared.AsDomainError(err).Code), nil
	}

	ents, err := g.entitlements.Resolve(ctx, req.CustomerID, req.FeatureSlug, appentitlement.DefaultResolveOptions())
	if err != nil {
		if isMissing(err) {
			return denied(shared.CodeNotFound), nil
		}
		return nil, g.closed(ctx, req, "entitlements", err)
	}

	now := g.now()
	valid := entitlement.Valid(ents, now)
	if len(valid) == 0 {
		if len(ents) > 0 {
			return denied(shared.CodeExpired), nil
		}
		return denied(shared.CodeNotFound), nil
	}

	agg := entitlement.Union(valid)
	cycle := billing.Cycle{StartAt: agg.CycleStart, EndAt: agg.CycleEnd}
	result := &CheckResult{Usage: agg.Usage, Limit: agg.Limit}

	// a zero delta reports nothing and takes the read path, so it is denied
	// at the limit like a check without a delta
	if req.UsageDelta != nil && *req.UsageDelta > 0 {
		res, err := g.limiter.RegisterUsage(ctx, usage.UsageRequest{
			CustomerID:     req.CustomerID,
			ProjectID:      valid[0].ProjectID,
			FeatureSlug:    req.FeatureSlug,
			Delta:          *req.UsageDelta,
			IdempotencyKey: req.IdempotencyKey,
			Limit:          agg.Limit,
			Cycle:          cycle,
			RecordedAt:     now,
		})
		if err != nil {
			return g.usageFailure(ctx, req, result, err)
		}
		result.Usage = res.CurrentUsage
		if !res.Accepted {
			result.DeniedReason = shared.CodeUsageExceeded
			return result, nil
		}
		result.Success = true
		return result, nil
	}

	if agg.Limit == nil {
		result.Success = true
		return result, nil
	}

	current, err := g.limiter.CurrentUsage(ctx, req.CustomerID, req.FeatureSlug, cycle)
	if err != nil {
		return g.usageFailure(ctx, req, result, err)
	}
	result.Usage = current
	if current >= *agg.Limit {
		result.DeniedReason = shared.CodeUsageExceeded
		return result, nil
	}
	result.Success = true
	return result, nil
}

// usageFailure applies the fail-open policy to limiter errors
func (g *FeatureGuard) usageFailure(ctx context.Context, req CheckRequest, result *CheckResult, err error) (*CheckResult, error) {
	retryable := shared.IsCode(err, shared.CodeLimiterUnavailable) || shared.IsCode(err, shared.CodeTimeout)
	if !retryable || !g.cfg.FailOpen {
		return nil, g.closed(ctx, req, "usage", err)
	}
	g.logger.Warn("Usage step unavailable, failing open",
		zap.String("customer_id", req.CustomerID.String()),
		zap.String("feature_slug", req.FeatureSlug),
		zap.Error(err))
	result.Success = true
	result.FailedOpen = true
	return result, nil
}

// closed converts a failure into the error returned to the caller
func (g *FeatureGuard) closed(ctx context.Context, req CheckRequest, step string, err error) error {
	de := shared.AsDomainError(err)
	if ctx.Err() != nil && !shared.IsCode(err, shared.CodeTimeout) {
		de = shared.ErrTimeout.Wrap(err)
	}
	fields := []zap.Field{
		zap.String("step", step),
		zap.String("customer_id", req.CustomerID.String()),
		zap.String("feature_slug", req.FeatureSlug),
		zap.Error(err),
	}
	if de.Code == shared.CodeUnhandled {
		g.logger.Error("Feature check failed", fields...)
	} else {
		g.logger.Warn("Feature check failed", fields...)
	}
	return de
}

func isMissing(err error) bool {
	return shared.IsCode(err, shared.CodeNoActiveSubscription) ||
		shared.IsCode(err, shared.CodeFeatureNotInPlan) ||
		shared.IsCode(err, shared.CodeNotFound)
}
