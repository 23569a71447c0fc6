package entitlement

import (
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/billing"
	"github.com/saasdash/backend/internal/domain/shared"
)

// GrantKind distinguishes the two kinds of per-customer grants
type GrantKind string

const (
	// GrantOverride replaces the plan limit for a feature. At most one per feature.
	GrantOverride GrantKind = "override"
	// GrantAddon adds an extra entitlement whose limit joins the union
	GrantAddon GrantKind = "addon"
)

// IsValid checks if the kind is a known value
func (k GrantKind) IsValid() bool {
	return k == GrantOverride || k == GrantAddon
}

// String returns the string representation
func (k GrantKind) String() string {
	return string(k)
}

// CustomerGrant is a customer-specific adjustment on top of the plan
type CustomerGrant struct {
	shared.BaseEntity
	CustomerID  uuid.UUID
	ProjectID   uuid.UUID
	FeatureSlug string
	Kind        GrantKind
	Limit       *int64 // nil means unlimited
	ExpiresAt   *time.Time
}

// NewCustomerGrant validates and creates a grant
func NewCustomerGrant(customerID, projectID uuid.UUID, slug string, kind GrantKind, limit *int64, expiresAt *time.Time) (*CustomerGrant, error) {
	if customerID == uuid.Nil {
		return nil, shared.ErrInvalidInput.WithMessage("customer ID cannot be empty")
	}
	if err := billing.ValidateFeatureSlug(slug); err != nil {
		return nil, err
	}
	if !kind.IsValid() {
		return nil, shared.ErrInvalidInput.WithMessage("invalid grant kind: " + kind.String())
	}
	if limit != nil && *limit < 0 {
		return nil, shared.ErrInvalidInput.WithMessage("limit cannot be negative")
	}

	return &CustomerGrant{
		BaseEntity:  shared.NewBaseEntity(),
		CustomerID:  customerID,
		ProjectID:   projectID,
		FeatureSlug: slug,
		Kind:        kind,
		Limit:       limit,
		ExpiresAt:   expiresAt,
	}, nil
}

// ActiveAt reports whether the grant applies at now
func (g *CustomerGrant) ActiveAt(now time.Time) bool {
	return g.ExpiresAt == nil || now.Before(*g.ExpiresAt)
}

// SetLimit replaces the limit of an existing grant
func (g *CustomerGrant) SetLimit(limit *int64, now time.Time) error {
	if limit != nil && *limit < 0 {
		return shared.ErrInvalidInput.WithMessage("limit cannot be negative")
	}
	g.Limit = limit
	g.Touch(now)
	return nil
}

// LimitType returns the plan-equivalent limit type for the grant
func (g *CustomerGrant) LimitType() billing.LimitType {
	if g.Limit == nil {
		return billing.LimitTypeUnlimited
	}
	return billing.LimitTypeUnit
}
