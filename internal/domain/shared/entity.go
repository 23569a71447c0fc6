package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity is the identity and audit stamps every stored record carries.
// Timestamps are kept in UTC.
type BaseEntity struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBaseEntity creates an entity with a fresh ID stamped with the wall clock
func NewBaseEntity() BaseEntity {
	return NewBaseEntityAt(time.Now())
}

// NewBaseEntityAt creates an entity stamped at now
func NewBaseEntityAt(now time.Time) BaseEntity {
	now = now.UTC()
	return BaseEntity{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
}

// Touch records a mutation at now. UpdatedAt never moves backwards, so an
// injected clock that lags the stored stamp leaves it unchanged.
func (e *BaseEntity) Touch(now time.Time) {
	now = now.UTC()
	if now.After(e.UpdatedAt) {
		e.UpdatedAt = now
	}
}
