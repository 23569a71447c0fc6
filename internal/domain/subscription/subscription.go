package subscription

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/shared"
)

// Errors returned by phase operations
var (
	ErrInvalidPhaseOverlap = shared.NewDomainError(shared.CodeInvalidPhaseOverlap, "Phase overlaps the previous phase")
	ErrInvalidPhaseGap     = shared.NewDomainError(shared.CodeInvalidPhaseGap, "Phase leaves a gap after the previous phase")
	ErrPhaseAlreadyStarted = shared.NewDomainError(shared.CodePhaseAlreadyStarted, "Phase has already started")
	ErrNoActiveTrial       = shared.NewDomainError(shared.CodeNoActiveTrial, "Subscription has no active trial")
	ErrPhaseNotFound       = shared.ErrNotFound.WithMessage("Phase not found")
)

// Subscription is a customer's billing relationship to plans over time.
// It exclusively owns its phases, which are kept ordered by start time.
//
// All mutating methods are pure with respect to the loaded state: they
// validate, update the in-memory aggregate, and leave persistence and version
// bumps to the repository.
type Subscription struct {
	shared.BaseAggregateRoot
	CustomerID uuid.UUID
	ProjectID  uuid.UUID
	Status     Status
	CancelAt   *time.Time // scheduled cancellation, status stays until then
	CanceledAt *time.Time
	Phases     []*Phase
}

// NewSubscription creates an idle subscription with no phases
func NewSubscription(customerID, projectID uuid.UUID) (*Subscription, error) {
	if customerID == uuid.Nil {
		return nil, shared.ErrInvalidInput.WithMessage("customer ID cannot be empty")
	}
	if projectID == uuid.Nil {
		return nil, shared.ErrInvalidInput.WithMessage("project ID cannot be empty")
	}
	return &Subscription{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		CustomerID:        customerID,
		ProjectID:         projectID,
		Status:            StatusIdle,
	}, nil
}

// PhaseInput describes a phase to append
type PhaseInput struct {
	PlanVersionID uuid.UUID
	StartAt       time.Time
	EndAt         *time.Time
	Trial         bool
}

// EffectiveStatus returns the status at now, taking a scheduled cancellation into account
func (s *Subscription) EffectiveStatus(now time.Time) Status {
	if s.CancelAt != nil && !now.Before(*s.CancelAt) {
		return StatusCanceled
	}
	return s.Status
}

// CurrentPhase returns the phase containing now
func (s *Subscription) CurrentPhase(now time.Time) (*Phase, bool) {
	if s.EffectiveStatus(now) == StatusCanceled {
		return nil, false
	}
	for _, p := range s.Phases {
		if p.Contains(now) {
			return p, true
		}
	}
	return nil, false
}

// Phase looks up a phase by ID
func (s *Subscription) Phase(id uuid.UUID) (*Phase, bool) {
	for _, p := range s.Phases {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

func (s *Subscription) lastPhase() *Phase {
	if len(s.Phases) == 0 {
		return nil
	}
	return s.Phases[len(s.Phases)-1]
}

func (s *Subscription) apply(event Event, now time.Time) error {
	next, err := Transition(s.Status, event)
	if err != nil {
		return err
	}
	s.Status = next
	s.Touch(now)
	return nil
}

// CreatePhase appends a phase. The new phase must start exactly where the
// previous one ends; an open-ended previous phase cannot be followed.
// The first phase moves an idle subscription to trialing or active.
func (s *Subscription) CreatePhase(in PhaseInput, now time.Time) (*Phase, error) {
	if s.Status.IsTerminal() || s.EffectiveStatus(now) == StatusCanceled {
		return nil, shared.ErrInvalidTransition.WithMessage("cannot add a phase to a canceled subscription")
	}
	if in.PlanVersionID == uuid.Nil {
		return nil, shared.ErrInvalidInput.WithMessage("plan version ID cannot be empty")
	}
	if in.StartAt.IsZero() {
		return nil, shared.ErrInvalidInput.WithMessage("phase start is required")
	}
	if in.EndAt != nil && !in.EndAt.After(in.StartAt) {
		return nil, shared.ErrInvalidInput.WithMessage("phase end must be after its start")
	}
	if s.CancelAt != nil {
		return nil, shared.ErrInvalidTransition.WithMessage("subscription is scheduled to cancel")
	}

	if last := s.lastPhase(); last != nil {
		if in.Trial {
			return nil, shared.ErrInvalidTransition.WithMessage("a trial phase can only start a subscription")
		}
		if last.EndAt == nil || in.StartAt.Before(*last.EndAt) {
			return nil, ErrInvalidPhaseOverlap
		}
		if in.StartAt.After(*last.EndAt) {
			return nil, ErrInvalidPhaseGap
		}
	} else {
		event := EventActivate
		if in.Trial {
			event = EventStartTrial
		}
		if err := s.apply(event, now); err != nil {
			return nil, err
		}
	}

	phase := &Phase{
		ID:             uuid.New(),
		SubscriptionID: s.ID,
		PlanVersionID:  in.PlanVersionID,
		StartAt:        in.StartAt,
		EndAt:          in.EndAt,
		Trial:          in.Trial,
	}
	s.Phases = append(s.Phases, phase)
	s.Touch(now)
	return phase, nil
}

// ChangePlan closes the open trailing phase at `at` and opens a new phase on
// planVersionID from `at` onward. Used for upgrades and downgrades.
func (s *Subscription) ChangePlan(planVersionID uuid.UUID, at, now time.Time) (*Phase, error) {
	if s.Status != StatusActive && s.Status != StatusPastDue {
		return nil, shared.ErrInvalidTransition.WithMessage(
			fmt.Sprintf("cannot change plan of a %s subscription", s.Status))
	}
	if planVersionID == uuid.Nil {
		return nil, shared.ErrInvalidInput.WithMessage("plan version ID cannot be empty")
	}
	if at.Before(now) {
		return nil, shared.ErrInvalidInput.WithMessage("plan change cannot be backdated")
	}
	last := s.lastPhase()
	if last == nil || !last.IsOpen() || s.CancelAt != nil {
		return nil, shared.ErrInvalidTransition.WithMessage("subscription has no open phase to change")
	}
	if !at.After(last.StartAt) {
		return nil, ErrInvalidPhaseOverlap
	}

	last.endAt(at)
	phase := &Phase{
		ID:             uuid.New(),
		SubscriptionID: s.ID,
		PlanVersionID:  planVersionID,
		StartAt:        at,
	}
	s.Phases = append(s.Phases, phase)
	s.Touch(now)
	return phase, nil
}

// RemovePhase deletes a phase that has not started yet, or the single trailing
// open phase. Removing a future phase that other phases follow would leave a gap.
func (s *Subscription) RemovePhase(phaseID uuid.UUID, now time.Time) error {
	idx := -1
	for i, p := range s.Phases {
		if p.ID == phaseID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrPhaseNotFound
	}

	phase := s.Phases[idx]
	trailing := idx == len(s.Phases)-1
	if phase.HasStarted(now) && !(trailing && phase.IsOpen()) {
		return ErrPhaseAlreadyStarted
	}
	if !trailing {
		return ErrInvalidPhaseGap.WithMessage("only the last phase can be removed")
	}

	s.Phases = s.Phases[:idx]
	s.Touch(now)
	return nil
}

// EndTrial converts a trialing subscription to active at now. The trial phase
// is closed at now and the paid phase starts at now: an already scheduled
// follow-up phase is pulled forward, otherwise a new open phase is opened on
// planVersionID (or the trial's plan version when nil).
func (s *Subscription) EndTrial(now time.Time, planVersionID *uuid.UUID) (*Phase, error) {
	if !s.Status.CanApply(EventEndTrial) {
		return nil, ErrNoActiveTrial
	}
	idx := -1
	for i, p := range s.Phases {
		if p.Trial && p.Contains(now) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrNoActiveTrial
	}

	trial := s.Phases[idx]
	trial.endAt(now)

	var paid *Phase
	if idx+1 < len(s.Phases) {
		paid = s.Phases[idx+1]
		paid.StartAt = now
		if planVersionID != nil {
			paid.PlanVersionID = *planVersionID
		}
	} else {
		plan := trial.PlanVersionID
		if planVersionID != nil {
			plan = *planVersionID
		}
		paid = &Phase{
			ID:             uuid.New(),
			SubscriptionID: s.ID,
			PlanVersionID:  plan,
			StartAt:        now,
		}
		s.Phases = append(s.Phases, paid)
	}

	if err := s.apply(EventEndTrial, now); err != nil {
		return nil, err
	}
	return paid, nil
}

// Cancel terminates the subscription. With endAt nil (or not in the future)
// it cancels immediately: the current phase is closed at now and phases that
// have not started are dropped. Otherwise the cancellation is scheduled: the
// phase covering endAt is pinned to end there and later phases are dropped,
// while the status is kept until endAt.
func (s *Subscription) Cancel(now time.Time, endAt *time.Time) error {
	if !s.Status.CanApply(EventCancel) {
		return shared.ErrInvalidTransition.WithMessage("subscription is already canceled")
	}

	cutoff := now
	scheduled := endAt != nil && endAt.After(now)
	if scheduled {
		cutoff = *endAt
	}

	kept := s.Phases[:0]
	for _, p := range s.Phases {
		if !p.StartAt.Before(cutoff) {
			continue
		}
		if p.EndAt == nil || p.EndAt.After(cutoff) {
			p.endAt(cutoff)
		}
		kept = append(kept, p)
	}
	s.Phases = kept

	if scheduled {
		at := cutoff
		s.CancelAt = &at
		s.Touch(now)
		return nil
	}

	if err := s.apply(EventCancel, now); err != nil {
		return err
	}
	canceledAt := now
	s.CanceledAt = &canceledAt
	s.CancelAt = nil
	return nil
}

// MarkPastDue records a failed payment
func (s *Subscription) MarkPastDue(now time.Time) error {
	return s.apply(EventPaymentFailed, now)
}

// RecoverPayment returns a past-due subscription to active
func (s *Subscription) RecoverPayment(now time.Time) error {
	return s.apply(EventPaymentRecovered, now)
}
