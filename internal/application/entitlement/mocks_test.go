package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/billing"
	"github.com/saasdash/backend/internal/domain/entitlement"
	"github.com/saasdash/backend/internal/domain/subscription"
	"github.com/stretchr/testify/mock"
)

// MockSubscriptionRepository is a mock implementation of subscription.Repository
type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) FindCurrentByCustomer(ctx context.Context, customerID uuid.UUID) (*subscription.Subscription, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) Save(ctx context.Context, sub *subscription.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

// MockPlanVersionRepository is a mock implementation of billing.PlanVersionRepository
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

// MockGrantRepository is a mock implementation of entitlement.GrantRepository
type MockGrantRepository struct {
	mock.Mock
}

func (m *MockGrantRepository) FindByID(ctx context.Context, id uuid.UUID) (*entitlement.CustomerGrant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlement.CustomerGrant), args.Error(1)
}

func (m *MockGrantRepository) FindByCustomer(ctx context.Context, customerID uuid.UUID) ([]*entitlement.CustomerGrant, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entitlement.CustomerGrant), args.Error(1)
}

func (m *MockGrantRepository) FindOverride(ctx context.Context, customerID uuid.UUID, featureSlug string) (*entitlement.CustomerGrant, error) {
	args := m.Called(ctx, customerID, featureSlug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlement.CustomerGrant), args.Error(1)
}

func (m *MockGrantRepository) Save(ctx context.Context, grant *entitlement.CustomerGrant) error {
	args := m.Called(ctx, grant)
	return args.Error(0)
}

func (m *MockGrantRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockCustomerRepository is a mock implementation of entitlement.CustomerRepository
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

// MockUsageReader is a mock implementation of UsageReader
type MockUsageReader struct {
	mock.Mock
}

func (m *MockUsageReader) CurrentUsage(ctx context.Context, customerID uuid.UUID, featureSlug string, cycle billing.Cycle) (int64, error) {
	args := m.Called(ctx, customerID, featureSlug, cycle)
	return args.Get(0).(int64), args.Error(1)
}

// MockUsageRecordRepository is a mock implementation of billing.UsageRecordRepository
type MockUsageRecordRepository struct {
	mock.Mock
}

func (m *MockUsageRecordRepository) Append(ctx context.Context, record *billing.UsageRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockUsageRecordRepository) SaveBatch(ctx context.Context, records []*billing.UsageRecord) ([]*billing.UsageRecord, error) {
	args := m.Called(ctx, records)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*billing.UsageRecord), args.Error(1)
}

func (m *MockUsageRecordRepository) SumSince(ctx context.Context, customerID uuid.UUID, featureSlug string, since time.Time) (int64, error) {
	args := m.Called(ctx, customerID, featureSlug, since)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockUsageRecordRepository) Summarize(ctx context.Context, customerID uuid.UUID, start, end time.Time) ([]billing.UsageSummary, error) {
	args := m.Called(ctx, customerID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]billing.UsageSummary), args.Error(1)
}

// MockPurger is a mock implementation of Purger
type MockPurger struct {
	mock.Mock
}

func (m *MockPurger) Purge(ctx context.Context, customerID uuid.UUID) error {
	args := m.Called(ctx, customerID)
	return args.Error(0)
}
