package entitlement

import (
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/billing"
)

// Source identifies where an entitlement's limit came from
type Source string

const (
	SourcePlan     Source = "plan"
	SourceOverride Source = "override"
	SourceAddon    Source = "addon"
)

// IsValid checks if the source is a known value
func (s Source) IsValid() bool {
	switch s {
	case SourcePlan, SourceOverride, SourceAddon:
		return true
	}
	return false
}

// String returns the string representation
func (s Source) String() string {
	return string(s)
}

// CustomerEntitlement is the resolved right of a customer to use one feature
// within the current billing cycle. It is derived from the subscription phase,
// its plan version and any customer grants, and is safe to cache.
type CustomerEntitlement struct {
	CustomerID          uuid.UUID         `json:"customer_id"`
	ProjectID           uuid.UUID         `json:"project_id"`
	FeatureSlug         string            `json:"feature_slug"`
	LimitType           billing.LimitType `json:"limit_type"`
	Limit               *int64            `json:"limit"`
	CurrentUsage        int64             `json:"current_usage"`
	CurrentCycleStartAt time.Time         `json:"current_cycle_start_at"`
	CurrentCycleEndAt   time.Time         `json:"current_cycle_end_at"`
	GracePeriodDays     int               `json:"grace_period_days"`
	Override            *int64            `json:"override,omitempty"`
	Source              Source            `json:"source"`
	SubscriptionID      uuid.UUID         `json:"subscription_id"`
	PhaseID             uuid.UUID         `json:"phase_id"`
	PlanVersionID       uuid.UUID         `json:"plan_version_id"`
	GrantID             *uuid.UUID        `json:"grant_id,omitempty"`
}

// Cycle returns the billing window the entitlement is bound to
func (e *CustomerEntitlement) Cycle() billing.Cycle {
	return billing.Cycle{StartAt: e.CurrentCycleStartAt, EndAt: e.CurrentCycleEndAt}
}

// IsUnlimited reports whether the entitlement has no finite cap
func (e *CustomerEntitlement) IsUnlimited() bool {
	return e.Limit == nil
}

// IsValidEntitlement reports whether now lies in
// [CurrentCycleStartAt, CurrentCycleEndAt + GracePeriodDays].
// Grace only extends the end of the cycle.
func IsValidEntitlement(e *CustomerEntitlement, now time.Time) bool {
	if e == nil {
		return false
	}
	return e.Cycle().ValidAt(now, e.GracePeriodDays)
}

// ForFeature returns the entitlements for slug, preserving order
func ForFeature(all []CustomerEntitlement, slug string) []CustomerEntitlement {
	var out []CustomerEntitlement
	for _, e := range all {
		if e.FeatureSlug == slug {
			out = append(out, e)
		}
	}
	return out
}

// Valid filters entitlements down to those valid at now
func Valid(all []CustomerEntitlement, now time.Time) []CustomerEntitlement {
	var out []CustomerEntitlement
	for i := range all {
		if IsValidEntitlement(&all[i], now) {
			out = append(out, all[i])
		}
	}
	return out
}

// Aggregate is the union of several entitlements for one feature
type Aggregate struct {
	Limit      *int64 // nil means unlimited
	Usage      int64
	CycleStart time.Time
	CycleEnd   time.Time
}

// Exceeded reports whether usage has reached a finite limit
func (a Aggregate) Exceeded() bool {
	return a.Limit != nil && a.Usage >= *a.Limit
}

// Union combines entitlements for the same feature. The limit is the sum of
// finite limits, or unlimited if any entitlement is unlimited. Usage is summed;
// resolvers carry the live counter on one entitlement only. The cycle is the
// earliest one, which is the counter window shared by all of them.
func Union(ents []CustomerEntitlement) Aggregate {
	var agg Aggregate
	if len(ents) == 0 {
		return agg
	}

	var total int64
	unlimited := false
	for i, e := range ents {
		agg.Usage += e.CurrentUsage
		if e.Limit == nil {
			unlimited = true
		} else {
			total += *e.Limit
		}
		if i == 0 || e.CurrentCycleStartAt.Before(agg.CycleStart) {
			agg.CycleStart = e.CurrentCycleStartAt
			agg.CycleEnd = e.CurrentCycleEndAt
		}
	}
	if !unlimited {
		agg.Limit = &total
	}
	return agg
}
