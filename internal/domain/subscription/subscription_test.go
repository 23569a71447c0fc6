package subscription

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var t0 = time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func newTestSubscription(t *testing.T) *Subscription {
	t.Helper()
	sub, err := NewSubscription(uuid.New(), uuid.New())
	require.NoError(t, err)
	return sub
}

func TestNewSubscription(t *testing.T) {
	sub := newTestSubscription(t)
	assert.Equal(t, StatusIdle, sub.Status)
	assert.Equal(t, 1, sub.Version)
	assert.Empty(t, sub.Phases)

	_, err := NewSubscription(uuid.Nil, uuid.New())
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestCreatePhase(t *testing.T) {
	plan := uuid.New()

	t.Run("first trial phase starts trialing", func(t *testing.T) {
		sub := newTestSubscription(t)
		phase, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0, Trial: true}, t0)
		require.NoError(t, err)
		assert.Equal(t, StatusTrialing, sub.Status)
		assert.True(t, phase.Trial)
		assert.Equal(t, sub.ID, phase.SubscriptionID)
	})

	t.Run("first paid phase activates", func(t *testing.T) {
		sub := newTestSubscription(t)
		_, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0}, t0)
		require.NoError(t, err)
		assert.Equal(t, StatusActive, sub.Status)
	})

	t.Run("contiguous phase appended", func(t *testing.T) {
		sub := newTestSubscription(t)
		end := t0.AddDate(0, 1, 0)
		_, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0, EndAt: &end}, t0)
		require.NoError(t, err)
		_, err = sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: end}, t0)
		require.NoError(t, err)
		assert.Len(t, sub.Phases, 2)
	})

	t.Run("start before previous end overlaps", func(t *testing.T) {
		sub := newTestSubscription(t)
		end := t0.AddDate(0, 1, 0)
		_, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0, EndAt: &end}, t0)
		require.NoError(t, err)
		_, err = sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: end.Add(-time.Second)}, t0)
		assert.ErrorIs(t, err, ErrInvalidPhaseOverlap)
	})

	t.Run("open previous phase overlaps", func(t *testing.T) {
		sub := newTestSubscription(t)
		_, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0}, t0)
		require.NoError(t, err)
		_, err = sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0.AddDate(1, 0, 0)}, t0)
		assert.ErrorIs(t, err, ErrInvalidPhaseOverlap)
	})

	t.Run("gap rejected", func(t *testing.T) {
		sub := newTestSubscription(t)
		end := t0.AddDate(0, 1, 0)
		_, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0, EndAt: &end}, t0)
		require.NoError(t, err)
		_, err = sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: end.Add(time.Hour)}, t0)
		assert.ErrorIs(t, err, ErrInvalidPhaseGap)
	})

	t.Run("invalid input", func(t *testing.T) {
		sub := newTestSubscription(t)
		_, err := sub.CreatePhase(PhaseInput{StartAt: t0}, t0)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
		_, err = sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0, EndAt: timePtr(t0)}, t0)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("canceled subscription rejects phases", func(t *testing.T) {
		sub := newTestSubscription(t)
		require.NoError(t, sub.Cancel(t0, nil))
		_, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0}, t0)
		assert.ErrorIs(t, err, shared.ErrInvalidTransition)
	})
}

func TestCreatePhase_StartBeforePreviousEndAlwaysOverlaps(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sub, _ := NewSubscription(uuid.New(), uuid.New())
		length := time.Duration(rapid.Int64Range(1, int64(400*24*time.Hour)).Draw(rt, "length"))
		bounded := rapid.Bool().Draw(rt, "bounded")

		first := PhaseInput{PlanVersionID: uuid.New(), StartAt: t0, Trial: rapid.Bool().Draw(rt, "trial")}
		end := t0.Add(length)
		if bounded {
			first.EndAt = &end
		}
		if _, err := sub.CreatePhase(first, t0); err != nil {
			rt.Fatalf("first phase: %v", err)
		}

		// any start strictly before the first phase's end
		offset := time.Duration(rapid.Int64Range(-int64(24*time.Hour), int64(length)-1).Draw(rt, "offset"))
		_, err := sub.CreatePhase(PhaseInput{PlanVersionID: uuid.New(), StartAt: t0.Add(offset)}, t0)
		if !shared.IsCode(err, shared.CodeInvalidPhaseOverlap) {
			rt.Fatalf("expected INVALID_PHASE_OVERLAP, got %v", err)
		}
	})
}

func TestEndTrial(t *testing.T) {
	plan := uuid.New()

	t.Run("trial with one open phase becomes active at now", func(t *testing.T) {
		sub := newTestSubscription(t)
		trial, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0, Trial: true}, t0)
		require.NoError(t, err)

		now := t0.Add(14 * 24 * time.Hour)
		paid, err := sub.EndTrial(now, nil)
		require.NoError(t, err)

		assert.Equal(t, StatusActive, sub.Status)
		require.NotNil(t, trial.EndAt)
		assert.Equal(t, now, *trial.EndAt)
		assert.Equal(t, now, paid.StartAt)
		assert.Nil(t, paid.EndAt)
		assert.False(t, paid.Trial)
		assert.Equal(t, plan, paid.PlanVersionID)

		current, ok := sub.CurrentPhase(now)
		require.True(t, ok)
		assert.Equal(t, paid.ID, current.ID)
	})

	t.Run("explicit paid plan", func(t *testing.T) {
		sub := newTestSubscription(t)
		_, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0, Trial: true}, t0)
		require.NoError(t, err)
		pro := uuid.New()
		paid, err := sub.EndTrial(t0.Add(time.Hour), &pro)
		require.NoError(t, err)
		assert.Equal(t, pro, paid.PlanVersionID)
	})

	t.Run("scheduled follow-up phase pulled forward", func(t *testing.T) {
		sub := newTestSubscription(t)
		trialEnd := t0.Add(14 * 24 * time.Hour)
		_, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0, EndAt: &trialEnd, Trial: true}, t0)
		require.NoError(t, err)
		next, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: trialEnd}, t0)
		require.NoError(t, err)

		now := t0.Add(3 * 24 * time.Hour)
		paid, err := sub.EndTrial(now, nil)
		require.NoError(t, err)
		assert.Equal(t, next.ID, paid.ID)
		assert.Equal(t, now, paid.StartAt)
		assert.Len(t, sub.Phases, 2)
	})

	t.Run("not trialing", func(t *testing.T) {
		sub := newTestSubscription(t)
		_, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0}, t0)
		require.NoError(t, err)
		_, err = sub.EndTrial(t0.Add(time.Hour), nil)
		assert.ErrorIs(t, err, ErrNoActiveTrial)
	})

	t.Run("trial phase not current", func(t *testing.T) {
		sub := newTestSubscription(t)
		_, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0, Trial: true}, t0)
		require.NoError(t, err)
		_, err = sub.EndTrial(t0.Add(-time.Hour), nil)
		assert.ErrorIs(t, err, ErrNoActiveTrial)
	})
}

func TestRemovePhase(t *testing.T) {
	plan := uuid.New()

	t.Run("future phase", func(t *testing.T) {
		sub := newTestSubscription(t)
		end := t0.AddDate(0, 1, 0)
		_, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0, EndAt: &end}, t0)
		require.NoError(t, err)
		next, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: end}, t0)
		require.NoError(t, err)

		require.NoError(t, sub.RemovePhase(next.ID, t0.Add(time.Hour)))
		assert.Len(t, sub.Phases, 1)
	})

	t.Run("single trailing open phase even if started", func(t *testing.T) {
		sub := newTestSubscription(t)
		p, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0}, t0)
		require.NoError(t, err)
		require.NoError(t, sub.RemovePhase(p.ID, t0.Add(time.Hour)))
		assert.Empty(t, sub.Phases)
	})

	t.Run("started bounded phase", func(t *testing.T) {
		sub := newTestSubscription(t)
		end := t0.AddDate(0, 1, 0)
		p, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0, EndAt: &end}, t0)
		require.NoError(t, err)
		assert.ErrorIs(t, sub.RemovePhase(p.ID, t0.Add(time.Hour)), ErrPhaseAlreadyStarted)
	})

	t.Run("started phase followed by another", func(t *testing.T) {
		sub := newTestSubscription(t)
		end := t0.AddDate(0, 1, 0)
		p, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0, EndAt: &end}, t0)
		require.NoError(t, err)
		_, err = sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: end}, t0)
		require.NoError(t, err)
		assert.ErrorIs(t, sub.RemovePhase(p.ID, t0.Add(time.Hour)), ErrPhaseAlreadyStarted)
	})

	t.Run("unknown phase", func(t *testing.T) {
		sub := newTestSubscription(t)
		assert.ErrorIs(t, sub.RemovePhase(uuid.New(), t0), shared.ErrNotFound)
	})
}

func TestCancel(t *testing.T) {
	plan := uuid.New()

	t.Run("immediate", func(t *testing.T) {
		sub := newTestSubscription(t)
		p, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0}, t0)
		require.NoError(t, err)

		now := t0.Add(48 * time.Hour)
		require.NoError(t, sub.Cancel(now, nil))

		assert.Equal(t, StatusCanceled, sub.Status)
		require.NotNil(t, p.EndAt)
		assert.Equal(t, now, *p.EndAt)
		assert.Equal(t, now, *sub.CanceledAt)
		_, ok := sub.CurrentPhase(now)
		assert.False(t, ok)
	})

	t.Run("immediate drops phases that have not started", func(t *testing.T) {
		sub := newTestSubscription(t)
		end := t0.AddDate(0, 1, 0)
		_, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0, EndAt: &end}, t0)
		require.NoError(t, err)
		_, err = sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: end}, t0)
		require.NoError(t, err)

		require.NoError(t, sub.Cancel(t0.Add(time.Hour), nil))
		assert.Len(t, sub.Phases, 1)
	})

	t.Run("scheduled at period end", func(t *testing.T) {
		sub := newTestSubscription(t)
		p, err := sub.CreatePhase(PhaseInput{PlanVersionID: plan, StartAt: t0}, t0)
		require.NoError(t, err)

		now := t0.Add(24 * time.Hour)
		endAt := t0.AddDate(0, 1, 0)
		require.NoError(t, sub.Cancel(now, &endAt))

		assert.Equal(t, StatusActive, sub.Status)
		assert.Equal(t, endAt, *p.EndAt)
		assert.Equal(t, endAt, *sub.CancelAt)
		assert.Equal(t, StatusActive, sub.EffectiveStatus(endAt.Add(-time.Second)))
		assert.Equal(t, StatusCanceled, sub.EffectiveStatus(endAt))

		_, ok := sub.CurrentPhase(endAt.Add(-time.Second))
		assert.True(t, ok)
		_, ok = sub.CurrentPhase(endAt)
		assert.False(t, ok)
	})

	t.Run("already canceled", func(t *testing.T) {
		sub := newTestSubscription(t)
		require.NoError(t, sub.Cancel(t0, nil))
		assert.ErrorIs(t, sub.Cancel(t0, nil), shared.ErrInvalidTransition)
	})
}

func TestChangePlan(t *testing.T) {
	sub := newTestSubscription(t)
	basic, pro := uuid.New(), uuid.New()
	first, err := sub.CreatePhase(PhaseInput{PlanVersionID: basic, StartAt: t0}, t0)
	require.NoError(t, err)

	at := t0.AddDate(0, 0, 10)
	next, err := sub.ChangePlan(pro, at, at)
	require.NoError(t, err)

	assert.Equal(t, at, *first.EndAt)
	assert.Equal(t, at, next.StartAt)
	assert.True(t, next.IsOpen())
	current, ok := sub.CurrentPhase(at)
	require.True(t, ok)
	assert.Equal(t, pro, current.PlanVersionID)

	_, err = sub.ChangePlan(basic, at.Add(-time.Hour), at)
	assert.ErrorIs(t, err, shared.ErrInvalidInput, "backdated change")
}

func TestPastDue(t *testing.T) {
	sub := newTestSubscription(t)
	_, err := sub.CreatePhase(PhaseInput{PlanVersionID: uuid.New(), StartAt: t0}, t0)
	require.NoError(t, err)

	require.NoError(t, sub.MarkPastDue(t0))
	assert.Equal(t, StatusPastDue, sub.Status)
	assert.ErrorIs(t, sub.MarkPastDue(t0), shared.ErrInvalidTransition)

	require.NoError(t, sub.RecoverPayment(t0))
	assert.Equal(t, StatusActive, sub.Status)
}
