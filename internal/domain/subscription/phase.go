package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Phase is a contiguous window of a subscription bound to one plan version.
// EndAt is exclusive; nil means the phase is open-ended.
type Phase struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	PlanVersionID  uuid.UUID
	StartAt        time.Time
	EndAt          *time.Time
	Trial          bool
}

// IsOpen reports whether the phase has no end
func (p *Phase) IsOpen() bool {
	return p.EndAt == nil
}

// HasStarted reports whether the phase start is at or before now
func (p *Phase) HasStarted(now time.Time) bool {
	return !p.StartAt.After(now)
}

// Contains reports whether t falls inside [StartAt, EndAt)
func (p *Phase) Contains(t time.Time) bool {
	if t.Before(p.StartAt) {
		return false
	}
	return p.EndAt == nil || t.Before(*p.EndAt)
}

func (p *Phase) endAt(t time.Time) {
	end := t
	p.EndAt = &end
}
