package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/entitlement"
)

// CustomerGrantModel is the persistence model for overrides and add-ons
type CustomerGrantModel struct {
	BaseModel
	CustomerID  uuid.UUID             `gorm:"type:uuid;not null;index:idx_grants_customer_slug"`
	ProjectID   uuid.UUID             `gorm:"type:uuid;not null"`
	FeatureSlug string                `gorm:"type:varchar(64);not null;index:idx_grants_customer_slug"`
	Kind        entitlement.GrantKind `gorm:"type:varchar(20);not null"`
	LimitValue  *int64                `gorm:"column:limit_value"`
	ExpiresAt   *time.Time
}

// TableName returns the table name for GORM
func (CustomerGrantModel) TableName() string {
	return "customer_grants"
}

// ToDomain converts the persistence model to a domain CustomerGrant
func (m *CustomerGrantModel) ToDomain() *entitlement.CustomerGrant {
	return &entitlement.CustomerGrant{
		BaseEntity:  m.Entity(),
		CustomerID:  m.CustomerID,
		ProjectID:   m.ProjectID,
		FeatureSlug: m.FeatureSlug,
		Kind:        m.Kind,
		Limit:       m.LimitValue,
		ExpiresAt:   m.ExpiresAt,
	}
}

// CustomerGrantModelFromDomain creates a persistence model from a domain CustomerGrant
func CustomerGrantModelFromDomain(g *entitlement.CustomerGrant) *CustomerGrantModel {
	m := &CustomerGrantModel{
		CustomerID:  g.CustomerID,
		ProjectID:   g.ProjectID,
		FeatureSlug: g.FeatureSlug,
		Kind:        g.Kind,
		LimitValue:  g.Limit,
		ExpiresAt:   utcPtr(g.ExpiresAt),
	}
	m.SetEntity(g.BaseEntity)
	return m
}
