package entitlement

import (
	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/shared"
)

// Errors for tenant-level kill switches
var (
	ErrWorkspaceDisabled = shared.NewDomainError(shared.CodeWorkspaceDisabled, "Workspace is disabled")
	ErrProjectDisabled   = shared.NewDomainError(shared.CodeProjectDisabled, "Project is disabled")
	ErrCustomerDisabled  = shared.NewDomainError(shared.CodeCustomerDisabled, "Customer is disabled")
)

// Errors for entitlement resolution and checks
var (
	ErrNoActiveSubscription = shared.NewDomainError(shared.CodeNoActiveSubscription, "Customer has no active subscription")
	ErrFeatureNotInPlan     = shared.NewDomainError(shared.CodeFeatureNotInPlan, "Feature is not part of the plan")
	ErrExpired              = shared.NewDomainError(shared.CodeExpired, "Entitlement has expired")
	ErrUsageExceeded        = shared.NewDomainError(shared.CodeUsageExceeded, "Usage limit exceeded")
)

// Customer is a tenant-scoped billable entity
type Customer struct {
	shared.BaseEntity
	ProjectID            uuid.UUID
	ActiveSubscriptionID *uuid.UUID
	Disabled             bool
}

// TenantStatus is the kill-switch state of a customer and the project and
// workspace above it
type TenantStatus struct {
	CustomerID       uuid.UUID
	ProjectID        uuid.UUID
	WorkspaceID      uuid.UUID
	WorkspaceEnabled bool
	ProjectEnabled   bool
	CustomerDisabled bool
}

// Check returns the first disabled level, checking from the workspace down
func (s TenantStatus) Check() error {
	switch {
	case !s.WorkspaceEnabled:
		return ErrWorkspaceDisabled
	case !s.ProjectEnabled:
		return ErrProjectDisabled
	case s.CustomerDisabled:
		return ErrCustomerDisabled
	}
	return nil
}
