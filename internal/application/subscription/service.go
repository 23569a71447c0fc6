package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/billing"
	"github.com/saasdash/backend/internal/domain/entitlement"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/saasdash/backend/internal/domain/subscription"
	"go.uber.org/zap"
)

// DefaultMaxAttempts is how often a mutation is tried when it loses an
// optimistic-lock race
const DefaultMaxAttempts = 3

// Purger drops cached entitlements of a customer
type Purger interface {
	Purge(ctx context.Context, customerID uuid.UUID) error
}

// Service applies subscription lifecycle operations. Every successful
// mutation purges the customer's cached entitlements before returning.
type Service struct {
	subs        subscription.Repository
	customers   entitlement.CustomerRepository
	plans       billing.PlanVersionRepository
	purger      Purger
	logger      *zap.Logger
	now         func() time.Time
	maxAttempts int
}

// Option is a functional option for configuring the service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithMaxAttempts sets how often a conflicting update is retried
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewService creates a subscription service
func NewService(
	subs subscription.Repository,
	customers entitlement.CustomerRepository,
	plans billing.PlanVersionRepository,
	purger Purger,
	opts ...Option,
) *Service {
	s := &Service{
		subs:        subs,
		customers:   customers,
		plans:       plans,
		purger:      purger,
		logger:      zap.NewNop(),
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a subscription with its phases
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return s.subs.FindByID(ctx, id)
}

// Create opens an idle subscription for a customer and makes it the
// customer's active one. A customer holds at most one subscription that is
// not canceled; a second one is ALREADY_EXISTS until the first is canceled
// or its scheduled cancellation has passed.
func (s *Service) Create(ctx context.Context, customerID uuid.UUID) (*subscription.Subscription, error) {
	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	current, err := s.subs.FindCurrentByCustomer(ctx, customerID)
	switch {
	case err == nil && current.EffectiveStatus(s.now()) != subscription.StatusCanceled:
		return nil, shared.ErrAlreadyExists.WithMessage("customer already has subscription " + current.ID.String())
	case err != nil && !errors.Is(err, shared.ErrNotFound):
		return nil, err
	}
	sub, err := subscription.NewSubscription(customer.ID, customer.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := s.subs.Save(ctx, sub); err != nil {
		s.logger.Error("Failed to save subscription", zap.String("customer_id", customerID.String()), zap.Error(err))
		return nil, err
	}
	if err := s.customers.SetActiveSubscription(ctx, customerID, &sub.ID); err != nil {
		return nil, err
	}
	s.purge(ctx, customerID)

	s.logger.Info("Subscription created",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("customer_id", customerID.String()))
	return sub, nil
}

// CreatePhase appends a phase to a subscription
func (s *Service) CreatePhase(ctx context.Context, id uuid.UUID, in subscription.PhaseInput) (*subscription.Phase, error) {
	if err := s.requirePlan(ctx, in.PlanVersionID); err != nil {
		return nil, err
	}
	var phase *subscription.Phase
	_, err := s.mutate(ctx, id, "create_phase", func(sub *subscription.Subscription, now time.Time) error {
		p, err := sub.CreatePhase(in, now)
		phase = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return phase, nil
}

// RemovePhase deletes a phase that has not started
func (s *Service) RemovePhase(ctx context.Context, id, phaseID uuid.UUID) error {
	_, err := s.mutate(ctx, id, "remove_phase", func(sub *subscription.Subscription, now time.Time) error {
		return sub.RemovePhase(phaseID, now)
	})
	return err
}

// EndTrial converts a trialing subscription to active now, optionally
// moving to another plan version
func (s *Service) EndTrial(ctx context.Context, id uuid.UUID, planVersionID *uuid.UUID) (*subscription.Phase, error) {
	if planVersionID != nil {
		if err := s.requirePlan(ctx, *planVersionID); err != nil {
			return nil, err
		}
	}
	var phase *subscription.Phase
	_, err := s.mutate(ctx, id, "end_trial", func(sub *subscription.Subscription, now time.Time) error {
		p, err := sub.EndTrial(now, planVersionID)
		phase = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return phase, nil
}

// Cancel terminates a subscription now, or at endAt when it lies in the future
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, endAt *time.Time) (*subscription.Subscription, error) {
	sub, err := s.mutate(ctx, id, "cancel", func(sub *subscription.Subscription, now time.Time) error {
		return sub.Cancel(now, endAt)
	})
	if err != nil {
		return nil, err
	}
	if sub.Status == subscription.StatusCanceled {
		if err := s.customers.SetActiveSubscription(ctx, sub.CustomerID, nil); err != nil {
			s.logger.Warn("Failed to clear active subscription",
				zap.String("customer_id", sub.CustomerID.String()), zap.Error(err))
		}
	}
	return sub, nil
}

// ChangePlan moves the subscription to planVersionID from at (now when nil)
func (s *Service) ChangePlan(ctx context.Context, id, planVersionID uuid.UUID, at *time.Time) (*subscription.Phase, error) {
	if err := s.requirePlan(ctx, planVersionID); err != nil {
		return nil, err
	}
	var phase *subscription.Phase
	_, err := s.mutate(ctx, id, "change_plan", func(sub *subscription.Subscription, now time.Time) error {
		when := now
		if at != nil {
			when = *at
		}
		p, err := sub.ChangePlan(planVersionID, when, now)
		phase = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return phase, nil
}

// MarkPastDue records a failed payment
func (s *Service) MarkPastDue(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return s.mutate(ctx, id, "mark_past_due", func(sub *subscription.Subscription, now time.Time) error {
		return sub.MarkPastDue(now)
	})
}

// RecoverPayment returns a past-due subscription to active
func (s *Service) RecoverPayment(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return s.mutate(ctx, id, "recover_payment", func(sub *subscription.Subscription, now time.Time) error {
		return sub.RecoverPayment(now)
	})
}

// mutate loads, changes and writes a subscription, reloading and retrying
// when the write loses an optimistic-lock race
func (s *Service) mutate(ctx context.Context, id uuid.UUID, op string, fn func(*subscription.Subscription, time.Time) error) (*subscription.Subscription, error) {
	var sub *subscription.Subscription
	for attempt := 1; ; attempt++ {
		var err error
		sub, err = s.subs.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(sub, s.now()); err != nil {
			return nil, err
		}

		err = s.subs.Update(ctx, sub)
		if err == nil {
			break
		}
		if !errors.Is(err, shared.ErrConcurrentModification) || attempt >= s.maxAttempts {
			s.logger.Warn("Subscription update failed",
				zap.String("op", op),
				zap.String("subscription_id", id.String()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return nil, err
		}
		s.logger.Debug("Subscription changed concurrently, retrying",
			zap.String("op", op),
			zap.String("subscription_id", id.String()),
			zap.Int("attempt", attempt))
	}

	s.purge(ctx, sub.CustomerID)
	s.logger.Info("Subscription updated",
		zap.String("op", op),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("status", sub.Status.String()))
	return sub, nil
}

func (s *Service) requirePlan(ctx context.Context, planVersionID uuid.UUID) error {
	if planVersionID == uuid.Nil {
		return shared.ErrInvalidInput.WithMessage("plan version ID cannot be empty")
	}
	if _, err := s.plans.FindByID(ctx, planVersionID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.ErrNotFound.WithMessage("plan version not found")
		}
		return err
	}
	return nil
}

// purge failures are logged; entries still age out after their stale bound
func (s *Service) purge(ctx context.Context, customerID uuid.UUID) {
	if s.purger == nil {
		return
	}
	if err := s.purger.Purge(ctx, customerID); err != nil {
		s.logger.Warn("Failed to purge cached entitlements",
			zap.String("customer_id", customerID.String()), zap.Error(err))
	}
}
