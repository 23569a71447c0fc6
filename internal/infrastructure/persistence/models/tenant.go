package models

import (
	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/entitlement"
)

// WorkspaceModel is the top-level tenant. Disabling it stops every project below.
type WorkspaceModel struct {
	BaseModel
	Name    string `gorm:"type:varchar(200);not null"`
	Enabled bool   `gorm:"not null"`
}

// TableName returns the table name for GORM
func (WorkspaceModel) TableName() string {
	return "workspaces"
}

// ProjectModel belongs to a workspace and owns customers and plans
type ProjectModel struct {
	BaseModel
	WorkspaceID uuid.UUID `gorm:"type:uuid;not null;index"`
	Name        string    `gorm:"type:varchar(200);not null"`
	Enabled     bool      `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProjectModel) TableName() string {
	return "projects"
}

// CustomerModel is the persistence model for a billable customer
type CustomerModel struct {
	BaseModel
	ProjectID            uuid.UUID  `gorm:"type:uuid;not null;index"`
	ExternalID           string     `gorm:"type:varchar(255)"`
	ActiveSubscriptionID *uuid.UUID `gorm:"type:uuid"`
	Disabled             bool       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CustomerModel) TableName() string {
	return "customers"
}

// ToDomain converts the persistence model to a domain Customer
func (m *CustomerModel) ToDomain() *entitlement.Customer {
	return &entitlement.Customer{
		BaseEntity:           m.Entity(),
		ProjectID:            m.ProjectID,
		ActiveSubscriptionID: m.ActiveSubscriptionID,
		Disabled:             m.Disabled,
	}
}

// CustomerModelFromDomain creates a persistence model from a domain Customer
func CustomerModelFromDomain(c *entitlement.Customer) *CustomerModel {
	m := &CustomerModel{
		ProjectID:            c.ProjectID,
		ActiveSubscriptionID: c.ActiveSubscriptionID,
		Disabled:             c.Disabled,
	}
	m.SetEntity(c.BaseEntity)
	return m
}

// TenantStatusRow is the result of the customer, project and workspace join
type TenantStatusRow struct {
	CustomerID       uuid.UUID
	ProjectID        uuid.UUID
	WorkspaceID      uuid.UUID
	WorkspaceEnabled bool
	ProjectEnabled   bool
	CustomerDisabled bool
}

// ToDomain converts the row to a domain TenantStatus
func (r *TenantStatusRow) ToDomain() entitlement.TenantStatus {
	return entitlement.TenantStatus{
		CustomerID:       r.CustomerID,
		ProjectID:        r.ProjectID,
		WorkspaceID:      r.WorkspaceID,
		WorkspaceEnabled: r.WorkspaceEnabled,
		ProjectEnabled:   r.ProjectEnabled,
		CustomerDisabled: r.CustomerDisabled,
	}
}
