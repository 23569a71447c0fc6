package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/entitlement"
	"github.com/saasdash/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Purger drops cached entitlements of a customer
type Purger interface {
	Purge(ctx context.Context, customerID uuid.UUID) error
}

// GrantInput describes an override or add-on
type GrantInput struct {
	FeatureSlug string
	Limit       *int64 // nil means unlimited
	ExpiresAt   *time.Time
}

// GrantService manages per-customer overrides and add-ons
type GrantService struct {
	customers entitlement.CustomerRepository
	grants    entitlement.GrantRepository
	purger    Purger
	logger    *zap.Logger
	now       func() time.Time
}

// NewGrantService creates a grant service
func NewGrantService(
	customers entitlement.CustomerRepository,
	grants entitlement.GrantRepository,
	purger Purger,
	logger *zap.Logger,
) *GrantService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GrantService{
		customers: customers,
		grants:    grants,
		purger:    purger,
		logger:    logger,
		now:       time.Now,
	}
}

// SetOverride creates or replaces the override of a feature for a customer
func (s *GrantService) SetOverride(ctx context.Context, customerID uuid.UUID, in GrantInput) (*entitlement.CustomerGrant, error) {
	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	grant, err := s.grants.FindOverride(ctx, customerID, in.FeatureSlug)
	switch {
	case err == nil:
		if err := grant.SetLimit(in.Limit, s.now()); err != nil {
			return nil, err
		}
		grant.ExpiresAt = in.ExpiresAt
	case errors.Is(err, shared.ErrNotFound):
		grant, err = entitlement.NewCustomerGrant(customerID, customer.ProjectID, in.FeatureSlug,
			entitlement.GrantOverride, in.Limit, in.ExpiresAt)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if err := s.grants.Save(ctx, grant); err != nil {
		s.logger.Error("Failed to save override", zap.String("customer_id", customerID.String()), zap.Error(err))
		return nil, err
	}
	s.purge(ctx, customerID)

	s.logger.Info("Override set",
		zap.String("customer_id", customerID.String()),
		zap.String("feature_slug", in.FeatureSlug),
		zap.String("grant_id", grant.ID.String()))
	return grant, nil
}

// AddAddon attaches an extra entitlement to a customer
func (s *GrantService) AddAddon(ctx context.Context, customerID uuid.UUID, in GrantInput) (*entitlement.CustomerGrant, error) {
	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	grant, err := entitlement.NewCustomerGrant(customerID, customer.ProjectID, in.FeatureSlug,
		entitlement.GrantAddon, in.Limit, in.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if err := s.grants.Save(ctx, grant); err != nil {
		s.logger.Error("Failed to save add-on", zap.String("customer_id", customerID.String()), zap.Error(err))
		return nil, err
	}
	s.purge(ctx, customerID)

	s.logger.Info("Add-on granted",
		zap.String("customer_id", customerID.String()),
		zap.String("feature_slug", in.FeatureSlug),
		zap.String("grant_id", grant.ID.String()))
	return grant, nil
}

// RemoveGrant deletes an override or add-on of a customer
func (s *GrantService) RemoveGrant(ctx context.Context, customerID, grantID uuid.UUID) error {
	grant, err := s.grants.FindByID(ctx, grantID)
	if err != nil {
		return err
	}
	if grant.CustomerID != customerID {
		return shared.ErrNotFound.WithMessage("grant not found for customer")
	}
	if err := s.grants.Delete(ctx, grantID); err != nil {
		return err
	}
	s.purge(ctx, customerID)

	s.logger.Info("Grant removed",
		zap.String("customer_id", customerID.String()),
		zap.String("grant_id", grantID.String()))
	return nil
}

// ListGrants returns every grant of a customer
func (s *GrantService) ListGrants(ctx context.Context, customerID uuid.UUID) ([]*entitlement.CustomerGrant, error) {
	return s.grants.FindByCustomer(ctx, customerID)
}

// purge failures are logged; the write already happened and cached entries
// age out on their own
func (s *GrantService) purge(ctx context.Context, customerID uuid.UUID) {
	if s.purger == nil {
		return
	}
	if err := s.purger.Purge(ctx, customerID); err != nil {
		s.logger.Warn("Failed to purge cached entitlements",
			zap.String("customer_id", customerID.String()), zap.Error(err))
	}
}
