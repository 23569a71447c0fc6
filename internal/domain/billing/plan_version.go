package billing

import (
	"regexp"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/shared"
)

// LimitType describes how a plan feature is limited
type LimitType string

const (
	// LimitTypeUnit caps usage at a numeric limit per cycle
	LimitTypeUnit LimitType = "unit"
	// LimitTypeBoolean grants access without counting against a limit
	LimitTypeBoolean LimitType = "boolean"
	// LimitTypeUnlimited counts usage but never caps it
	LimitTypeUnlimited LimitType = "unlimited"
)

// IsValid checks if the limit type is a known value
func (t LimitType) IsValid() bool {
	switch t {
	case LimitTypeUnit, LimitTypeBoolean, LimitTypeUnlimited:
		return true
	}
	return false
}

// String returns the string representation
func (t LimitType) String() string {
	return string(t)
}

var featureSlugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateFeatureSlug checks that slug is a lowercase identifier of at most 64 characters
func ValidateFeatureSlug(slug string) error {
	if !featureSlugPattern.MatchString(slug) {
		return shared.ErrInvalidInput.WithMessage("invalid feature slug: " + slug)
	}
	return nil
}

// PlanFeature is the limit a plan version grants for one feature slug
type PlanFeature struct {
	FeatureSlug string
	LimitType   LimitType
	Limit       *int64 // nil unless LimitType is unit
}

// NewPlanFeature validates and builds a plan feature
func NewPlanFeature(slug string, limitType LimitType, limit *int64) (PlanFeature, error) {
	if err := ValidateFeatureSlug(slug); err != nil {
		return PlanFeature{}, err
	}
	if !limitType.IsValid() {
		return PlanFeature{}, shared.ErrInvalidInput.WithMessage("invalid limit type: " + limitType.String())
	}
	if limitType == LimitTypeUnit {
		if limit == nil {
			return PlanFeature{}, shared.ErrInvalidInput.WithMessage("unit features require a limit")
		}
		if *limit < 0 {
			return PlanFeature{}, shared.ErrInvalidInput.WithMessage("limit cannot be negative")
		}
	} else {
		limit = nil
	}
	return PlanFeature{FeatureSlug: slug, LimitType: limitType, Limit: limit}, nil
}

// IsUnlimited reports whether the feature has no finite cap
func (f PlanFeature) IsUnlimited() bool {
	return f.LimitType != LimitTypeUnit || f.Limit == nil
}

// PlanVersion is an immutable revision of a plan. Phases pin a plan version,
// so editing a plan always produces a new version.
type PlanVersion struct {
	shared.BaseEntity
	ProjectID       uuid.UUID
	PlanSlug        string
	Version         int
	BillingInterval BillingInterval
	IntervalCount   int
	GracePeriodDays int
	Features        []PlanFeature
}

// NewPlanVersion creates a plan version without features
func NewPlanVersion(projectID uuid.UUID, planSlug string, version int, interval BillingInterval, intervalCount, graceDays int) (*PlanVersion, error) {
	if projectID == uuid.Nil {
		return nil, shared.ErrInvalidInput.WithMessage("project ID cannot be empty")
	}
	if planSlug == "" {
		return nil, shared.ErrInvalidInput.WithMessage("plan slug cannot be empty")
	}
	if version < 1 {
		return nil, shared.ErrInvalidInput.WithMessage("plan version must be positive")
	}
	if !interval.IsValid() {
		return nil, shared.ErrInvalidInput.WithMessage("invalid billing interval: " + interval.String())
	}
	if intervalCount < 1 {
		return nil, shared.ErrInvalidInput.WithMessage("billing interval count must be positive")
	}
	if graceDays < 0 {
		return nil, shared.ErrInvalidInput.WithMessage("grace period cannot be negative")
	}

	return &PlanVersion{
		BaseEntity:      shared.NewBaseEntity(),
		ProjectID:       projectID,
		PlanSlug:        planSlug,
		Version:         version,
		BillingInterval: interval,
		IntervalCount:   intervalCount,
		GracePeriodDays: graceDays,
	}, nil
}

// AddFeature attaches a feature limit. Each slug may appear once.
func (p *PlanVersion) AddFeature(f PlanFeature) error {
	if _, exists := p.Feature(f.FeatureSlug); exists {
		return shared.ErrInvalidInput.WithMessage("feature already in plan version: " + f.FeatureSlug)
	}
	p.Features = append(p.Features, f)
	return nil
}

// Feature looks up the limit granted for slug
func (p *PlanVersion) Feature(slug string) (PlanFeature, bool) {
	for _, f := range p.Features {
		if f.FeatureSlug == slug {
			return f, true
		}
	}
	return PlanFeature{}, false
}
