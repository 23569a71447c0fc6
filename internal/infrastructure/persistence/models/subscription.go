package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/subscription"
)

// SubscriptionModel is the persistence model for the Subscription aggregate root
type SubscriptionModel struct {
	VersionedModel
	CustomerID uuid.UUID           `gorm:"type:uuid;not null;index"`
	ProjectID  uuid.UUID           `gorm:"type:uuid;not null;index"`
	Status     subscription.Status `gorm:"type:varchar(20);not null;index"`
	CancelAt   *time.Time
	CanceledAt *time.Time
	Phases     []PhaseModel `gorm:"foreignKey:SubscriptionID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM
func (SubscriptionModel) TableName() string {
	return "subscriptions"
}

// PhaseModel is the persistence model for a subscription phase
type PhaseModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key"`
	SubscriptionID uuid.UUID `gorm:"type:uuid;not null;index"`
	PlanVersionID  uuid.UUID `gorm:"type:uuid;not null"`
	StartAt        time.Time `gorm:"not null"`
	EndAt          *time.Time
	Trial          bool `gorm:"not null"`
}

// TableName returns the table name for GORM
func (PhaseModel) TableName() string {
	return "subscription_phases"
}

// ToDomain converts the persistence model to a domain Subscription
func (m *SubscriptionModel) ToDomain() *subscription.Subscription {
	sub := &subscription.Subscription{
		BaseAggregateRoot: m.Aggregate(),
		CustomerID:        m.CustomerID,
		ProjectID:         m.ProjectID,
		Status:            m.Status,
		CancelAt:          m.CancelAt,
		CanceledAt:        m.CanceledAt,
		Phases:            make([]*subscription.Phase, 0, len(m.Phases)),
	}
	for i := range m.Phases {
		sub.Phases = append(sub.Phases, m.Phases[i].ToDomain())
	}
	return sub
}

// SubscriptionModelFromDomain creates a persistence model from a domain Subscription
func SubscriptionModelFromDomain(s *subscription.Subscription) *SubscriptionModel {
	m := &SubscriptionModel{
		CustomerID: s.CustomerID,
		ProjectID:  s.ProjectID,
		Status:     s.Status,
		CancelAt:   utcPtr(s.CancelAt),
		CanceledAt: utcPtr(s.CanceledAt),
		Phases:     PhaseModelsFromDomain(s.Phases),
	}
	m.SetAggregate(s.BaseAggregateRoot)
	return m
}

// ToDomain converts the persistence model to a domain Phase
func (m *PhaseModel) ToDomain() *subscription.Phase {
	return &subscription.Phase{
		ID:             m.ID,
		SubscriptionID: m.SubscriptionID,
		PlanVersionID:  m.PlanVersionID,
		StartAt:        m.StartAt,
		EndAt:          m.EndAt,
		Trial:          m.Trial,
	}
}

// PhaseModelsFromDomain converts domain phases to persistence models
func PhaseModelsFromDomain(phases []*subscription.Phase) []PhaseModel {
	out := make([]PhaseModel, 0, len(phases))
	for _, p := range phases {
		out = append(out, PhaseModel{
			ID:             p.ID,
			SubscriptionID: p.SubscriptionID,
			PlanVersionID:  p.PlanVersionID,
			StartAt:        p.StartAt.UTC(),
			EndAt:          utcPtr(p.EndAt),
			Trial:          p.Trial,
		})
	}
	return out
}
