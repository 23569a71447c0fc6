package subscription

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists subscriptions together with their phases
type Repository interface {
	// FindByID retrieves a subscription with its phases ordered by start
	FindByID(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// FindCurrentByCustomer returns the customer's most recent subscription
	// that is not canceled, or shared.ErrNotFound
	FindCurrentByCustomer(ctx context.Context, customerID uuid.UUID) (*Subscription, error)

	// Save inserts a new subscription
	Save(ctx context.Context, sub *Subscription) error

	// Update writes the subscription and replaces its phases in one
	// transaction, guarded by the aggregate version. A stale version fails
	// with CONCURRENT_MODIFICATION.
	Update(ctx context.Context, sub *Subscription) error
}
