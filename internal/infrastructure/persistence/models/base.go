package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/shared"
)

// BaseModel holds the columns every table shares
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// Entity returns the row's identity as read back in UTC; drivers hand back
// timestamps in the session time zone
func (m *BaseModel) Entity() shared.BaseEntity {
	return shared.BaseEntity{ID: m.ID, CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()}
}

// SetEntity copies identity and stamps onto the row
func (m *BaseModel) SetEntity(e shared.BaseEntity) {
	m.ID, m.CreatedAt, m.UpdatedAt = e.ID, e.CreatedAt.UTC(), e.UpdatedAt.UTC()
}

// VersionedModel adds the optimistic-lock column
type VersionedModel struct {
	BaseModel
	Version int `gorm:"not null;default:1"`
}

// Aggregate returns the row's identity and version
func (m *VersionedModel) Aggregate() shared.BaseAggregateRoot {
	return shared.BaseAggregateRoot{BaseEntity: m.Entity(), Version: m.Version}
}

// SetAggregate copies identity and version onto the row
func (m *VersionedModel) SetAggregate(a shared.BaseAggregateRoot) {
	m.SetEntity(a.BaseEntity)
	m.Version = a.Version
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
