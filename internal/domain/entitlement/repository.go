package entitlement

import (
	"context"

	"github.com/google/uuid"
)

// CustomerRepository reads customers and their tenant status
type CustomerRepository interface {
	// FindByID retrieves a customer
	FindByID(ctx context.Context, id uuid.UUID) (*Customer, error)

	// TenantStatus loads the kill switches of the customer, its project and
	// its workspace in a single query
	TenantStatus(ctx context.Context, customerID uuid.UUID) (TenantStatus, error)

	// SetActiveSubscription points the customer at its current subscription
	SetActiveSubscription(ctx context.Context, customerID uuid.UUID, subscriptionID *uuid.UUID) error
}

// GrantRepository persists customer grants
type GrantRepository interface {
	// FindByID retrieves a grant
	FindByID(ctx context.Context, id uuid.UUID) (*CustomerGrant, error)

	// FindByCustomer lists all grants of a customer ordered by creation time
	FindByCustomer(ctx context.Context, customerID uuid.UUID) ([]*CustomerGrant, error)

	// FindOverride returns the override grant for a feature, or shared.ErrNotFound
	FindOverride(ctx context.Context, customerID uuid.UUID, featureSlug string) (*CustomerGrant, error)

	// Save inserts or updates a grant
	Save(ctx context.Context, grant *CustomerGrant) error

	// Delete removes a grant
	Delete(ctx context.Context, id uuid.UUID) error
}
