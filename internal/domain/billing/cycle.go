package billing

import (
	"time"

	"github.com/saasdash/backend/internal/domain/shared"
)

// msPerDay is the grace period unit. Grace is added to the cycle end only.
const msPerDay = 86_400_000

// BillingInterval is the cadence at which billing cycles roll over
type BillingInterval string

const (
	IntervalDay   BillingInterval = "day"
	IntervalWeek  BillingInterval = "week"
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// IsValid checks if the interval is a known value
func (i BillingInterval) IsValid() bool {
	switch i {
	case IntervalDay, IntervalWeek, IntervalMonth, IntervalYear:
		return true
	}
	return false
}

// String returns the string representation
func (i BillingInterval) String() string {
	return string(i)
}

// Add moves t forward by n intervals. Month arithmetic clamps to the last day
// of the target month, so a cycle anchored on Jan 31 rolls to Feb 28/29.
func (i BillingInterval) Add(t time.Time, n int) time.Time {
	switch i {
	case IntervalDay:
		return t.AddDate(0, 0, n)
	case IntervalWeek:
		return t.AddDate(0, 0, 7*n)
	case IntervalMonth:
		return addMonthsClamped(t, n)
	case IntervalYear:
		return addMonthsClamped(t, 12*n)
	}
	return t
}

// approx returns the average length of one interval, used to seed the cycle search
func (i BillingInterval) approx() time.Duration {
	switch i {
	case IntervalDay:
		return 24 * time.Hour
	case IntervalWeek:
		return 7 * 24 * time.Hour
	case IntervalMonth:
		return time.Duration(30.436875 * float64(24*time.Hour))
	case IntervalYear:
		return time.Duration(365.2425 * float64(24*time.Hour))
	}
	return 24 * time.Hour
}

func addMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysInMonth(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// Cycle is a billing window. StartAt is inclusive; EndAt is the rollover instant.
type Cycle struct {
	StartAt time.Time
	EndAt   time.Time
}

// Contains reports whether t falls inside [StartAt, EndAt)
func (c Cycle) Contains(t time.Time) bool {
	return !t.Before(c.StartAt) && t.Before(c.EndAt)
}

// ValidAt reports whether an entitlement bound to this cycle is usable at now.
// Valid means now is in [StartAt, EndAt + graceDays].
func (c Cycle) ValidAt(now time.Time, graceDays int) bool {
	endWithGrace := c.EndAt.Add(time.Duration(graceDays) * msPerDay * time.Millisecond)
	return !now.Before(c.StartAt) && !now.After(endWithGrace)
}

// Next returns the cycle that starts where c ends
func (c Cycle) Next(interval BillingInterval, count int) Cycle {
	if count < 1 {
		count = 1
	}
	return Cycle{StartAt: c.EndAt, EndAt: interval.Add(c.EndAt, count)}
}

// CycleWindow derives the billing cycle that contains now. Cycles are anchored
// on anchor (the phase start) and repeat every count intervals. When phaseEnd
// is set the window never extends past it. Before the anchor, the first cycle
// is returned.
func CycleWindow(anchor time.Time, interval BillingInterval, count int, now time.Time, phaseEnd *time.Time) (Cycle, error) {
	if !interval.IsValid() {
		return Cycle{}, shared.ErrInvalidInput.WithMessage("unknown billing interval " + interval.String())
	}
	if count < 1 {
		return Cycle{}, shared.ErrInvalidInput.WithMessage("billing interval count must be positive")
	}

	k := 0
	if now.After(anchor) {
		k = int(now.Sub(anchor) / (interval.approx() * time.Duration(count)))
		for !interval.Add(anchor, (k+1)*count).After(now) {
			k++
		}
		for k > 0 && interval.Add(anchor, k*count).After(now) {
			k--
		}
	}

	cycle := Cycle{
		StartAt: interval.Add(anchor, k*count),
		EndAt:   interval.Add(anchor, (k+1)*count),
	}
	if phaseEnd != nil && phaseEnd.Before(cycle.EndAt) {
		cycle.EndAt = *phaseEnd
		if cycle.EndAt.Before(cycle.StartAt) {
			cycle.EndAt = cycle.StartAt
		}
	}
	return cycle, nil
}
