package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/billing"
)

// UsageRecordModel is a row of the append-only usage log. A non-empty
// idempotency key is unique per customer and feature.
type UsageRecordModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	CustomerID     uuid.UUID `gorm:"type:uuid;not null;index:idx_usage_customer_slug_time;uniqueIndex:idx_usage_idem,where:idempotency_key <> ''"`
	ProjectID      uuid.UUID `gorm:"type:uuid;not null"`
	FeatureSlug    string    `gorm:"type:varchar(64);not null;index:idx_usage_customer_slug_time;uniqueIndex:idx_usage_idem,where:idempotency_key <> ''"`
	Delta          int64     `gorm:"not null"`
	IdempotencyKey string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_usage_idem,where:idempotency_key <> ''"`
	RecordedAt     time.Time `gorm:"not null;index:idx_usage_customer_slug_time"`
}

// TableName returns the table name for GORM
func (UsageRecordModel) TableName() string {
	return "usage_records"
}

// ToDomain converts the model to a domain UsageRecord
func (m *UsageRecordModel) ToDomain() *billing.UsageRecord {
	return &billing.UsageRecord{
		ID:             m.ID,
		CustomerID:     m.CustomerID,
		ProjectID:      m.ProjectID,
		FeatureSlug:    m.FeatureSlug,
		Delta:          m.Delta,
		IdempotencyKey: m.IdempotencyKey,
		RecordedAt:     m.RecordedAt,
	}
}

// UsageRecordModelFromDomain creates a model from a domain UsageRecord
func UsageRecordModelFromDomain(r *billing.UsageRecord) *UsageRecordModel {
	return &UsageRecordModel{
		ID:             r.ID,
		CustomerID:     r.CustomerID,
		ProjectID:      r.ProjectID,
		FeatureSlug:    r.FeatureSlug,
		Delta:          r.Delta,
		IdempotencyKey: r.IdempotencyKey,
		RecordedAt:     r.RecordedAt.UTC(),
	}
}

// UsageSummaryRow is the aggregate scanned by Summarize
type UsageSummaryRow struct {
	FeatureSlug string
	Total       int64
	Events      int64
}

// AllModels lists every model for AutoMigrate in tests
func AllModels() []any {
	return []any{
		&WorkspaceModel{},
		&ProjectModel{},
		&CustomerModel{},
		&PlanVersionModel{},
		&PlanFeatureModel{},
		&SubscriptionModel{},
		&PhaseModel{},
		&CustomerGrantModel{},
		&UsageRecordModel{},
	}
}
