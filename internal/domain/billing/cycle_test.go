package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var t0 = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestCycle_ValidAt(t *testing.T) {
	cycle := Cycle{StartAt: t0, EndAt: t0.Add(30 * 24 * time.Hour)}

	tests := []struct {
		name  string
		now   time.Time
		grace int
		want  bool
	}{
		{"before start", t0.Add(-time.Millisecond), 3, false},
		{"at start", t0, 0, true},
		{"inside cycle", t0.Add(10 * 24 * time.Hour), 0, true},
		{"at end without grace", cycle.EndAt, 0, true},
		{"after end without grace", cycle.EndAt.Add(time.Millisecond), 0, false},
		{"within grace", t0.Add(31 * 24 * time.Hour), 3, true},
		{"at grace boundary", cycle.EndAt.Add(3 * 24 * time.Hour), 3, true},
		{"past grace", cycle.EndAt.Add(3*24*time.Hour + time.Millisecond), 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cycle.ValidAt(tt.now, tt.grace))
		})
	}
}

func TestCycle_ValidAt_MatchesFormula(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		startMs := rapid.Int64Range(0, 4_000_000_000_000).Draw(rt, "startMs")
		lengthMs := rapid.Int64Range(0, 400*msPerDay).Draw(rt, "lengthMs")
		grace := rapid.IntRange(0, 365).Draw(rt, "grace")
		nowMs := rapid.Int64Range(0, 4_100_000_000_000).Draw(rt, "nowMs")

		cycle := Cycle{StartAt: time.UnixMilli(startMs), EndAt: time.UnixMilli(startMs + lengthMs)}
		want := nowMs >= startMs && nowMs <= startMs+lengthMs+int64(grace)*msPerDay

		if got := cycle.ValidAt(time.UnixMilli(nowMs), grace); got != want {
			rt.Fatalf("ValidAt(now=%d, grace=%d) = %v, want %v", nowMs, grace, got, want)
		}
	})
}

func TestBillingInterval_Add(t *testing.T) {
	jan31 := time.Date(2026, time.January, 31, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, time.February, 28, 12, 0, 0, 0, time.UTC), IntervalMonth.Add(jan31, 1))
	assert.Equal(t, time.Date(2026, time.March, 31, 12, 0, 0, 0, time.UTC), IntervalMonth.Add(jan31, 2))
	assert.Equal(t, time.Date(2027, time.January, 31, 12, 0, 0, 0, time.UTC), IntervalYear.Add(jan31, 1))
	assert.Equal(t, jan31.AddDate(0, 0, 14), IntervalWeek.Add(jan31, 2))
	assert.Equal(t, jan31.AddDate(0, 0, 1), IntervalDay.Add(jan31, 1))

	leap := time.Date(2028, time.February, 29, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2029, time.February, 28, 0, 0, 0, 0, time.UTC), IntervalYear.Add(leap, 1))
}

func TestCycleWindow(t *testing.T) {
	t.Run("first cycle before anchor", func(t *testing.T) {
		c, err := CycleWindow(t0, IntervalMonth, 1, t0.Add(-time.Hour), nil)
		require.NoError(t, err)
		assert.Equal(t, t0, c.StartAt)
		assert.Equal(t, t0.AddDate(0, 1, 0), c.EndAt)
	})

	t.Run("rolls over at the old end boundary", func(t *testing.T) {
		end := t0.AddDate(0, 1, 0)
		before, err := CycleWindow(t0, IntervalMonth, 1, end.Add(-time.Nanosecond), nil)
		require.NoError(t, err)
		after, err := CycleWindow(t0, IntervalMonth, 1, end, nil)
		require.NoError(t, err)

		assert.Equal(t, t0, before.StartAt)
		assert.Equal(t, before.EndAt, after.StartAt)
		assert.Equal(t, before.Next(IntervalMonth, 1), after)
	})

	t.Run("interval count", func(t *testing.T) {
		c, err := CycleWindow(t0, IntervalMonth, 3, t0.AddDate(0, 4, 0), nil)
		require.NoError(t, err)
		assert.Equal(t, t0.AddDate(0, 3, 0), c.StartAt)
		assert.Equal(t, t0.AddDate(0, 6, 0), c.EndAt)
	})

	t.Run("clamped to phase end", func(t *testing.T) {
		phaseEnd := t0.Add(10 * 24 * time.Hour)
		c, err := CycleWindow(t0, IntervalMonth, 1, t0.Add(24*time.Hour), &phaseEnd)
		require.NoError(t, err)
		assert.Equal(t, phaseEnd, c.EndAt)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		_, err := CycleWindow(t0, BillingInterval("fortnight"), 1, t0, nil)
		assert.Error(t, err)
		_, err = CycleWindow(t0, IntervalDay, 0, t0, nil)
		assert.Error(t, err)
	})
}

func TestCycleWindow_ContainsNow(t *testing.T) {
	intervals := []BillingInterval{IntervalDay, IntervalWeek, IntervalMonth, IntervalYear}

	rapid.Check(t, func(rt *rapid.T) {
		interval := rapid.SampledFrom(intervals).Draw(rt, "interval")
		count := rapid.IntRange(1, 4).Draw(rt, "count")
		offset := time.Duration(rapid.Int64Range(0, int64(6*365*24*time.Hour)).Draw(rt, "offset"))
		anchor := t0.Add(time.Duration(rapid.Int64Range(0, int64(60*24*time.Hour)).Draw(rt, "anchor")))
		now := anchor.Add(offset)

		c, err := CycleWindow(anchor, interval, count, now, nil)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if !c.Contains(now) {
			rt.Fatalf("cycle [%s, %s) does not contain %s", c.StartAt, c.EndAt, now)
		}
		if c.StartAt.After(c.EndAt) {
			rt.Fatalf("cycle start %s after end %s", c.StartAt, c.EndAt)
		}
	})
}
