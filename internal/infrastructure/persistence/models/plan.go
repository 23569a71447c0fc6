package models

import (
	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/billing"
)

// PlanVersionModel is the persistence model for an immutable plan revision
type PlanVersionModel struct {
	BaseModel
	ProjectID       uuid.UUID               `gorm:"type:uuid;not null;uniqueIndex:idx_plan_versions_slug_version"`
	PlanSlug        string                  `gorm:"type:varchar(100);not null;uniqueIndex:idx_plan_versions_slug_version"`
	Version         int                     `gorm:"not null;uniqueIndex:idx_plan_versions_slug_version"`
	BillingInterval billing.BillingInterval `gorm:"type:varchar(10);not null"`
	IntervalCount   int                     `gorm:"not null"`
	GracePeriodDays int                     `gorm:"not null"`
	Features        []PlanFeatureModel      `gorm:"foreignKey:PlanVersionID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM
func (PlanVersionModel) TableName() string {
	return "plan_versions"
}

// PlanFeatureModel is the limit a plan version grants for one feature
type PlanFeatureModel struct {
	PlanVersionID uuid.UUID         `gorm:"type:uuid;primaryKey"`
	FeatureSlug   string            `gorm:"type:varchar(64);primaryKey"`
	LimitType     billing.LimitType `gorm:"type:varchar(20);not null"`
	LimitValue    *int64            `gorm:"column:limit_value"`
	Position      int               `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PlanFeatureModel) TableName() string {
	return "plan_features"
}

// ToDomain converts the persistence model to a domain PlanVersion
func (m *PlanVersionModel) ToDomain() *billing.PlanVersion {
	plan := &billing.PlanVersion{
		BaseEntity:      m.Entity(),
		ProjectID:       m.ProjectID,
		PlanSlug:        m.PlanSlug,
		Version:         m.Version,
		BillingInterval: m.BillingInterval,
		IntervalCount:   m.IntervalCount,
		GracePeriodDays: m.GracePeriodDays,
		Features:        make([]billing.PlanFeature, 0, len(m.Features)),
	}
	for _, f := range m.Features {
		plan.Features = append(plan.Features, billing.PlanFeature{
			FeatureSlug: f.FeatureSlug,
			LimitType:   f.LimitType,
			Limit:       f.LimitValue,
		})
	}
	return plan
}

// PlanVersionModelFromDomain creates a persistence model from a domain PlanVersion
func PlanVersionModelFromDomain(p *billing.PlanVersion) *PlanVersionModel {
	m := &PlanVersionModel{
		ProjectID:       p.ProjectID,
		PlanSlug:        p.PlanSlug,
		Version:         p.Version,
		BillingInterval: p.BillingInterval,
		IntervalCount:   p.IntervalCount,
		GracePeriodDays: p.GracePeriodDays,
		Features:        make([]PlanFeatureModel, 0, len(p.Features)),
	}
	m.SetEntity(p.BaseEntity)
	for i, f := range p.Features {
		m.Features = append(m.Features, PlanFeatureModel{
			PlanVersionID: p.ID,
			FeatureSlug:   f.FeatureSlug,
			LimitType:     f.LimitType,
			LimitValue:    f.Limit,
			Position:      i,
		})
	}
	return m
}
