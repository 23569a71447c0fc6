package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/billing"
	"github.com/saasdash/backend/internal/domain/entitlement"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/saasdash/backend/internal/domain/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memoryRepo stores deep copies and enforces the aggregate version
type memoryRepo struct {
	mu        sync.Mutex
	subs      map[uuid.UUID]*subscription.Subscription
	conflicts int // number of Update calls to reject before accepting
	updates   int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{subs: make(map[uuid.UUID]*subscription.Subscription)}
}

func clone(sub *subscription.Subscription) *subscription.Subscription {
	c := *sub
	c.Phases = make([]*subscription.Phase, len(sub.Phases))
	for i, p := range sub.Phases {
		pc := *p
		c.Phases[i] = &pc
	}
	return &c
}

func (r *memoryRepo) FindByID(_ context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return clone(sub), nil
}

func (r *memoryRepo) FindCurrentByCustomer(_ context.Context, customerID uuid.UUID) (*subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.CustomerID == customerID && sub.Status != subscription.StatusCanceled {
			return clone(sub), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memoryRepo) Save(_ context.Context, sub *subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = clone(sub)
	return nil
}

func (r *memoryRepo) Update(_ context.Context, sub *subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	stored, ok := r.subs[sub.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if r.conflicts > 0 {
		r.conflicts--
		return shared.ErrConcurrentModification
	}
	if stored.Version != sub.Version {
		return shared.ErrConcurrentModification
	}
	sub.IncrementVersion()
	r.subs[sub.ID] = clone(sub)
	return nil
}

type MockCustomerRepository struct {
	mock.Mock
}

func (m *MockCustomerRepository) FindByID(ctx context.Context, id uuid.UUID) (*entitlement.Customer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlement.Customer), args.Error(1)
}

func (m *MockCustomerRepository) TenantStatus(ctx context.Context, customerID uuid.UUID) (entitlement.TenantStatus, error) {
	args := m.Called(ctx, customerID)
	return args.Get(0).(entitlement.TenantStatus), args.Error(1)
}

func (m *MockCustomerRepository) SetActiveSubscription(ctx context.Context, customerID uuid.UUID, subscriptionID *uuid.UUID) error {
	args := m.Called(ctx, customerID, subscriptionID)
	return args.Error(0)
}

type MockPlanVersionRepository struct {
	mock.Mock
}

func (m *MockPlanVersionRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.PlanVersion, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PlanVersion), args.Error(1)
}

func (m *MockPlanVersionRepository) Save(ctx context.Context, plan *billing.PlanVersion) error {
	args := m.Called(ctx, plan)
	return args.Error(0)
}

type countingPurger struct {
	mu    sync.Mutex
	purge []uuid.UUID
}

func (p *countingPurger) Purge(_ context.Context, customerID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purge = append(p.purge, customerID)
	return nil
}

func (p *countingPurger) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.purge)
}

var t0 = time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

type serviceHarness struct {
	svc       *Service
	repo      *memoryRepo
	customers *MockCustomerRepository
	plans     *MockPlanVersionRepository
	purger    *countingPurger
	clock     time.Time
	customer  *entitlement.Customer
	planID    uuid.UUID
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()
	h := &serviceHarness{
		repo:      newMemoryRepo(),
		customers: new(MockCustomerRepository),
		plans:     new(MockPlanVersionRepository),
		purger:    &countingPurger{},
		clock:     t0,
		customer:  &entitlement.Customer{BaseEntity: shared.NewBaseEntity(), ProjectID: uuid.New()},
	}
	plan, err := billing.NewPlanVersion(h.customer.ProjectID, "pro", 1, billing.IntervalMonth, 1, 0)
	require.NoError(t, err)
	h.planID = plan.ID
	h.plans.On("FindByID", mock.Anything, plan.ID).Return(plan, nil)
	h.plans.On("FindByID", mock.Anything, mock.Anything).Return(nil, shared.ErrNotFound)
	h.customers.On("FindByID", mock.Anything, h.customer.ID).Return(h.customer, nil)
	h.customers.On("SetActiveSubscription", mock.Anything, h.customer.ID, mock.Anything).Return(nil)

	h.svc = NewService(h.repo, h.customers, h.plans, h.purger,
		WithClock(func() time.Time { return h.clock }))
	return h
}

func (h *serviceHarness) createSubscription(t *testing.T) *subscription.Subscription {
	t.Helper()
	sub, err := h.svc.Create(context.Background(), h.customer.ID)
	require.NoError(t, err)
	return sub
}

func TestService_Create(t *testing.T) {
	h := newServiceHarness(t)
	sub := h.createSubscription(t)

	assert.Equal(t, subscription.StatusIdle, sub.Status)
	assert.Equal(t, h.customer.ProjectID, sub.ProjectID)
	h.customers.AssertCalled(t, "SetActiveSubscription", mock.Anything, h.customer.ID, &sub.ID)
	assert.Equal(t, 1, h.purger.count())
}

func TestService_CreateRejectsSecondLiveSubscription(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	sub := h.createSubscription(t)
	_, err := h.svc.CreatePhase(ctx, sub.ID, subscription.PhaseInput{PlanVersionID: h.planID, StartAt: t0})
	require.NoError(t, err)

	h.clock = t0.Add(time.Hour)
	_, err = h.svc.Create(ctx, h.customer.ID)
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)

	current, err := h.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, current.Status)
	assert.Len(t, h.repo.subs, 1)
	h.customers.AssertNumberOfCalls(t, "SetActiveSubscription", 1)
}

func TestService_CreateRejectsWhileIdle(t *testing.T) {
	h := newServiceHarness(t)
	h.createSubscription(t)

	_, err := h.svc.Create(context.Background(), h.customer.ID)
	assert.ErrorIs(t, err, shared.ErrAlreadyExists)
}

func TestService_CreateAfterCancellation(t *testing.T) {
	t.Run("canceled immediately", func(t *testing.T) {
		h := newServiceHarness(t)
		ctx := context.Background()
		sub := h.createSubscription(t)
		_, err := h.svc.Cancel(ctx, sub.ID, nil)
		require.NoError(t, err)

		next, err := h.svc.Create(ctx, h.customer.ID)
		require.NoError(t, err)
		assert.NotEqual(t, sub.ID, next.ID)
	})

	t.Run("scheduled cancellation passed", func(t *testing.T) {
		h := newServiceHarness(t)
		ctx := context.Background()
		sub := h.createSubscription(t)
		_, err := h.svc.CreatePhase(ctx, sub.ID, subscription.PhaseInput{PlanVersionID: h.planID, StartAt: t0})
		require.NoError(t, err)
		at := t0.Add(10 * 24 * time.Hour)
		_, err = h.svc.Cancel(ctx, sub.ID, &at)
		require.NoError(t, err)

		h.clock = at.Add(-time.Minute)
		_, err = h.svc.Create(ctx, h.customer.ID)
		assert.ErrorIs(t, err, shared.ErrAlreadyExists)

		h.clock = at
		_, err = h.svc.Create(ctx, h.customer.ID)
		assert.NoError(t, err)
	})
}

func TestService_EndTrial(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	sub := h.createSubscription(t)

	trialEnd := t0.Add(14 * 24 * time.Hour)
	trial, err := h.svc.CreatePhase(ctx, sub.ID, subscription.PhaseInput{PlanVersionID: h.planID, StartAt: t0, EndAt: &trialEnd, Trial: true})
	require.NoError(t, err)
	_, err = h.svc.CreatePhase(ctx, sub.ID, subscription.PhaseInput{PlanVersionID: h.planID, StartAt: trialEnd})
	require.NoError(t, err)

	h.clock = t0.Add(3 * 24 * time.Hour)
	paid, err := h.svc.EndTrial(ctx, sub.ID, nil)
	require.NoError(t, err)

	stored, err := h.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, stored.Status)
	require.Len(t, stored.Phases, 2)
	assert.Equal(t, trial.ID, stored.Phases[0].ID)
	assert.Equal(t, h.clock, *stored.Phases[0].EndAt)
	assert.Equal(t, paid.ID, stored.Phases[1].ID)
	assert.Equal(t, h.clock, stored.Phases[1].StartAt)
	assert.Equal(t, 4, h.purger.count(), "create, two phases and end trial each purge")
}

func TestService_EndTrialWithoutTrial(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	sub := h.createSubscription(t)
	_, err := h.svc.CreatePhase(ctx, sub.ID, subscription.PhaseInput{PlanVersionID: h.planID, StartAt: t0})
	require.NoError(t, err)

	_, err = h.svc.EndTrial(ctx, sub.ID, nil)
	assert.True(t, shared.IsCode(err, shared.CodeNoActiveTrial))
	assert.Equal(t, 2, h.purger.count(), "failed operations do not purge")
}

func TestService_CreatePhaseRejectsUnknownPlan(t *testing.T) {
	h := newServiceHarness(t)
	sub := h.createSubscription(t)

	_, err := h.svc.CreatePhase(context.Background(), sub.ID, subscription.PhaseInput{PlanVersionID: uuid.New(), StartAt: t0})
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.Equal(t, 0, h.repo.updates)
}

func TestService_CreatePhaseOverlap(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	sub := h.createSubscription(t)
	end := t0.Add(30 * 24 * time.Hour)

	_, err := h.svc.CreatePhase(ctx, sub.ID, subscription.PhaseInput{PlanVersionID: h.planID, StartAt: t0, EndAt: &end})
	require.NoError(t, err)
	_, err = h.svc.CreatePhase(ctx, sub.ID, subscription.PhaseInput{PlanVersionID: h.planID, StartAt: end.Add(-time.Hour)})
	assert.True(t, shared.IsCode(err, shared.CodeInvalidPhaseOverlap))
}

func TestService_RetriesConflicts(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	sub := h.createSubscription(t)

	h.repo.conflicts = 2
	_, err := h.svc.CreatePhase(ctx, sub.ID, subscription.PhaseInput{PlanVersionID: h.planID, StartAt: t0})
	require.NoError(t, err)
	assert.Equal(t, 3, h.repo.updates)

	stored, err := h.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Phases, 1, "retries do not duplicate the phase")
}

func TestService_GivesUpAfterMaxAttempts(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	sub := h.createSubscription(t)
	purgesBefore := h.purger.count()

	h.repo.conflicts = DefaultMaxAttempts
	_, err := h.svc.CreatePhase(ctx, sub.ID, subscription.PhaseInput{PlanVersionID: h.planID, StartAt: t0})
	assert.True(t, shared.IsCode(err, shared.CodeConcurrentModification))
	assert.Equal(t, DefaultMaxAttempts, h.repo.updates)
	assert.Equal(t, purgesBefore, h.purger.count())
}

func TestService_ConcurrentMutationsAllLand(t *testing.T) {
	h := newServiceHarness(t)
	h.svc.maxAttempts = 50
	ctx := context.Background()
	sub := h.createSubscription(t)
	_, err := h.svc.CreatePhase(ctx, sub.ID, subscription.PhaseInput{PlanVersionID: h.planID, StartAt: t0})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := h.svc.MarkPastDue(ctx, sub.ID)
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := h.svc.MarkPastDue(ctx, sub.ID)
		errs <- err
	}()
	wg.Wait()
	close(errs)

	var ok, rejected int
	for err := range errs {
		if err == nil {
			ok++
		} else if shared.IsCode(err, shared.CodeInvalidTransition) {
			rejected++
		}
	}
	assert.Equal(t, 1, ok, "exactly one payment failure applies")
	assert.Equal(t, 1, rejected, "the loser reloads and sees past_due")
}

func TestService_CancelImmediately(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	sub := h.createSubscription(t)
	_, err := h.svc.CreatePhase(ctx, sub.ID, subscription.PhaseInput{PlanVersionID: h.planID, StartAt: t0})
	require.NoError(t, err)

	h.clock = t0.Add(time.Hour)
	canceled, err := h.svc.Cancel(ctx, sub.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, canceled.Status)
	assert.Equal(t, h.clock, *canceled.Phases[0].EndAt)
	h.customers.AssertCalled(t, "SetActiveSubscription", mock.Anything, h.customer.ID, (*uuid.UUID)(nil))
}

func TestService_CancelScheduled(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	sub := h.createSubscription(t)
	_, err := h.svc.CreatePhase(ctx, sub.ID, subscription.PhaseInput{PlanVersionID: h.planID, StartAt: t0})
	require.NoError(t, err)

	at := t0.Add(10 * 24 * time.Hour)
	scheduled, err := h.svc.Cancel(ctx, sub.ID, &at)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, scheduled.Status)
	assert.Equal(t, subscription.StatusCanceled, scheduled.EffectiveStatus(at))
	h.customers.AssertNotCalled(t, "SetActiveSubscription", mock.Anything, h.customer.ID, (*uuid.UUID)(nil))
}

func TestService_ChangePlan(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	sub := h.createSubscription(t)
	_, err := h.svc.CreatePhase(ctx, sub.ID, subscription.PhaseInput{PlanVersionID: h.planID, StartAt: t0})
	require.NoError(t, err)

	h.clock = t0.Add(5 * 24 * time.Hour)
	phase, err := h.svc.ChangePlan(ctx, sub.ID, h.planID, nil)
	require.NoError(t, err)
	assert.Equal(t, h.clock, phase.StartAt)

	_, err = h.svc.ChangePlan(ctx, sub.ID, uuid.New(), nil)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestService_PastDueAndRecover(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	sub := h.createSubscription(t)
	_, err := h.svc.CreatePhase(ctx, sub.ID, subscription.PhaseInput{PlanVersionID: h.planID, StartAt: t0})
	require.NoError(t, err)

	pastDue, err := h.svc.MarkPastDue(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPastDue, pastDue.Status)

	recovered, err := h.svc.RecoverPayment(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, recovered.Status)

	_, err = h.svc.RecoverPayment(ctx, sub.ID)
	assert.True(t, shared.IsCode(err, shared.CodeInvalidTransition))
}

func TestService_RemovePhase(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	sub := h.createSubscription(t)
	end := t0.Add(24 * time.Hour)
	_, err := h.svc.CreatePhase(ctx, sub.ID, subscription.PhaseInput{PlanVersionID: h.planID, StartAt: t0, EndAt: &end})
	require.NoError(t, err)
	next, err := h.svc.CreatePhase(ctx, sub.ID, subscription.PhaseInput{PlanVersionID: h.planID, StartAt: end})
	require.NoError(t, err)

	require.NoError(t, h.svc.RemovePhase(ctx, sub.ID, next.ID))
	stored, err := h.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Phases, 1)

	err = h.svc.RemovePhase(ctx, sub.ID, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
