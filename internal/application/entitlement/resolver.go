package entitlement

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/billing"
	"github.com/saasdash/backend/internal/domain/entitlement"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/saasdash/backend/internal/domain/subscription"
	"github.com/saasdash/backend/internal/infrastructure/cache"
	"go.uber.org/zap"
)

// CacheNamespace is the cache namespace holding every entitlement of a
// customer, keyed by customer ID
const CacheNamespace = "entitlementsByCustomerId"

// EntitlementCache is the cache namespace type the resolver reads through
type EntitlementCache = cache.Namespace[[]entitlement.CustomerEntitlement]

// UsageReader reads the live usage counter of a customer and feature
type UsageReader interface {
	CurrentUsage(ctx context.Context, customerID uuid.UUID, featureSlug string, cycle billing.Cycle) (int64, error)
}

// ResolveOptions controls a single resolution
type ResolveOptions struct {
	// SkipCache reads the database directly
	SkipCache bool
	// IncludeOverrides applies override and add-on grants. Without it the
	// plan limits are returned as-is and the cache is bypassed, since cached
	// values always include grants.
	IncludeOverrides bool
}

// DefaultResolveOptions reads through the cache with grants applied
func DefaultResolveOptions() ResolveOptions {
	return ResolveOptions{IncludeOverrides: true}
}

// Resolver derives customer entitlements from the current subscription
// phase, its plan version and the customer's grants
type Resolver struct {
	subscriptions subscription.Repository
	plans         billing.PlanVersionRepository
	grants        entitlement.GrantRepository
	usage         UsageReader
	records       billing.UsageRecordRepository
	cache         *EntitlementCache
	logger        *zap.Logger
	now           func() time.Time
}

// ResolverOption is a functional option for configuring the resolver
type ResolverOption func(*Resolver)

// WithCache reads ResolveAll through the given cache namespace
func WithCache(c *EntitlementCache) ResolverOption {
	return func(r *Resolver) {
		r.cache = c
	}
}

// WithUsageRecords enables the usage log fallback when the live counter
// cannot be read
func WithUsageRecords(records billing.UsageRecordRepository) ResolverOption {
	return func(r *Resolver) {
		r.records = records
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a resolver
func NewResolver(
	subscriptions subscription.Repository,
	plans billing.PlanVersionRepository,
	grants entitlement.GrantRepository,
	usage UsageReader,
	opts ...ResolverOption,
) *Resolver {
	r := &Resolver{
		subscriptions: subscriptions,
		plans:         plans,
		grants:        grants,
		usage:         usage,
		logger:        zap.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CacheKey returns the cache key of a customer's entitlements
func CacheKey(customerID uuid.UUID) string {
	return customerID.String()
}

// Resolve returns the entitlements of a customer for one feature. An
// override replaces the plan entitlement; add-ons are returned as extra
// entitlements.
func (r *Resolver) Resolve(ctx context.Context, customerID uuid.UUID, featureSlug string, opts ResolveOptions) ([]entitlement.CustomerEntitlement, error) {
	if customerID == uuid.Nil {
		return nil, shared.ErrInvalidInput.WithMessage("customer ID cannot be empty")
	}
	if err := billing.ValidateFeatureSlug(featureSlug); err != nil {
		return nil, err
	}

	var all []entitlement.CustomerEntitlement
	var err error
	if opts.SkipCache || !opts.IncludeOverrides {
		all, err = r.build(ctx, customerID, opts.IncludeOverrides)
	} else {
		all, err = r.ResolveAll(ctx, customerID)
	}
	if err != nil {
		return nil, err
	}

	ents := entitlement.ForFeature(all, featureSlug)
	if len(ents) == 0 {
		return nil, entitlement.ErrFeatureNotInPlan.WithMessage("feature " + featureSlug + " is not part of the plan")
	}
	return ents, nil
}

// ResolveAll returns every entitlement of a customer, reading through the
// cache when one is configured
func (r *Resolver) ResolveAll(ctx context.Context, customerID uuid.UUID) ([]entitlement.CustomerEntitlement, error) {
	if customerID == uuid.Nil {
		return nil, shared.ErrInvalidInput.WithMessage("customer ID cannot be empty")
	}
	if r.cache == nil {
		return r.build(ctx, customerID, true)
	}
	return r.cache.SWR(ctx, CacheKey(customerID), func(ctx context.Context) ([]entitlement.CustomerEntitlement, error) {
		return r.build(ctx, customerID, true)
	})
}

// Purge drops the cached entitlements of a customer
func (r *Resolver) Purge(ctx context.Context, customerID uuid.UUID) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Purge(ctx, CacheKey(customerID))
}

func (r *Resolver) build(ctx context.Context, customerID uuid.UUID, includeGrants bool) ([]entitlement.CustomerEntitlement, error) {
	now := r.now()

	sub, err := r.subscriptions.FindCurrentByCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, entitlement.ErrNoActiveSubscription
		}
		return nil, err
	}
	phase, ok := sub.CurrentPhase(now)
	if !ok {
		return nil, entitlement.ErrNoActiveSubscription
	}

	plan, err := r.plans.FindByID(ctx, phase.PlanVersionID)
	if err != nil {
		r.logger.Error("Failed to load plan version for current phase",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("plan_version_id", phase.PlanVersionID.String()),
			zap.Error(err))
		return nil, err
	}

	cycle, err := billing.CycleWindow(phase.StartAt, plan.BillingInterval, plan.IntervalCount, now, phase.EndAt)
	if err != nil {
		return nil, err
	}

	var overrides map[string]*entitlement.CustomerGrant
	var addons []*entitlement.CustomerGrant
	if includeGrants && r.grants != nil {
		grants, err := r.grants.FindByCustomer(ctx, customerID)
		if err != nil {
			return nil, err
		}
		overrides = make(map[string]*entitlement.CustomerGrant)
		for _, g := range grants {
			if !g.ActiveAt(now) {
				continue
			}
			switch g.Kind {
			case entitlement.GrantOverride:
				overrides[g.FeatureSlug] = g
			case entitlement.GrantAddon:
				addons = append(addons, g)
			}
		}
	}

	base := entitlement.CustomerEntitlement{
		CustomerID:          customerID,
		ProjectID:           sub.ProjectID,
		CurrentCycleStartAt: cycle.StartAt,
		CurrentCycleEndAt:   cycle.EndAt,
		GracePeriodDays:     plan.GracePeriodDays,
		Source:              entitlement.SourcePlan,
		SubscriptionID:      sub.ID,
		PhaseID:             phase.ID,
		PlanVersionID:       plan.ID,
	}

	var out []entitlement.CustomerEntitlement
	seen := make(map[string]bool)
	for _, f := range plan.Features {
		e := base
		e.FeatureSlug = f.FeatureSlug
		e.LimitType = f.LimitType
		e.Limit = f.Limit
		if g, ok := overrides[f.FeatureSlug]; ok {
			applyGrant(&e, g, entitlement.SourceOverride)
		}
		seen[f.FeatureSlug] = true
		out = append(out, e)
	}
	// overrides win even for features the plan does not carry
	for _, g := range sortedOverrides(overrides) {
		if seen[g.FeatureSlug] {
			continue
		}
		e := base
		e.FeatureSlug = g.FeatureSlug
		applyGrant(&e, g, entitlement.SourceOverride)
		seen[g.FeatureSlug] = true
		out = append(out, e)
	}
	for _, g := range addons {
		e := base
		e.FeatureSlug = g.FeatureSlug
		applyGrant(&e, g, entitlement.SourceAddon)
		e.Override = nil
		out = append(out, e)
	}

	if err := r.attachUsage(ctx, customerID, cycle, out); err != nil {
		return nil, err
	}

	r.logger.Debug("Resolved customer entitlements",
		zap.String("customer_id", customerID.String()),
		zap.String("subscription_id", sub.ID.String()),
		zap.Int("count", len(out)))
	return out, nil
}

func applyGrant(e *entitlement.CustomerEntitlement, g *entitlement.CustomerGrant, source entitlement.Source) {
	id := g.ID
	e.LimitType = g.LimitType()
	e.Limit = g.Limit
	e.Override = g.Limit
	e.Source = source
	e.GrantID = &id
}

// sortedOverrides returns override grants in creation order
func sortedOverrides(m map[string]*entitlement.CustomerGrant) []*entitlement.CustomerGrant {
	out := make([]*entitlement.CustomerGrant, 0, len(m))
	for _, g := range m {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].FeatureSlug < out[j].FeatureSlug
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// attachUsage sets the live usage on the first entitlement of each feature
func (r *Resolver) attachUsage(ctx context.Context, customerID uuid.UUID, cycle billing.Cycle, ents []entitlement.CustomerEntitlement) error {
	done := make(map[string]bool)
	for i := range ents {
		slug := ents[i].FeatureSlug
		if done[slug] {
			continue
		}
		done[slug] = true

		usage, err := r.currentUsage(ctx, customerID, slug, cycle)
		if err != nil {
			return err
		}
		ents[i].CurrentUsage = usage
	}
	return nil
}

func (r *Resolver) currentUsage(ctx context.Context, customerID uuid.UUID, slug string, cycle billing.Cycle) (int64, error) {
	if r.usage != nil {
		usage, err := r.usage.CurrentUsage(ctx, customerID, slug, cycle)
		if err == nil {
			return usage, nil
		}
		if r.records == nil {
			return 0, err
		}
		r.logger.Warn("Live usage unavailable, summing the usage log",
			zap.String("customer_id", customerID.String()),
			zap.String("feature_slug", slug),
			zap.Error(err))
	}
	if r.records == nil {
		return 0, nil
	}
	return r.records.SumSince(ctx, customerID, slug, cycle.StartAt)
}
