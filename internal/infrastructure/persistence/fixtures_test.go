package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/billing"
	"github.com/saasdash/backend/internal/domain/entitlement"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type tenantFixture struct {
	workspaceID uuid.UUID
	projectID   uuid.UUID
	customer    *entitlement.Customer
}

func seedTenant(t *testing.T, db *gorm.DB) tenantFixture {
	t.Helper()
	ctx := context.Background()
	tenants := NewGormTenantRepository(db)

	workspaceID, err := tenants.CreateWorkspace(ctx, "acme")
	require.NoError(t, err)
	projectID, err := tenants.CreateProject(ctx, workspaceID, "api")
	require.NoError(t, err)

	customer := &entitlement.Customer{BaseEntity: shared.NewBaseEntity(), ProjectID: projectID}
	require.NoError(t, NewGormCustomerRepository(db).Save(ctx, customer))

	return tenantFixture{workspaceID: workspaceID, projectID: projectID, customer: customer}
}

func seedPlan(t *testing.T, db *gorm.DB, projectID uuid.UUID) *billing.PlanVersion {
	t.Helper()
	plan, err := billing.NewPlanVersion(projectID, "pro", 1, billing.IntervalMonth, 1, 3)
	require.NoError(t, err)

	limit := int64(100)
	calls, err := billing.NewPlanFeature("api-calls", billing.LimitTypeUnit, &limit)
	require.NoError(t, err)
	sso, err := billing.NewPlanFeature("sso", billing.LimitTypeBoolean, nil)
	require.NoError(t, err)
	plan.Features = []billing.PlanFeature{calls, sso}

	require.NoError(t, NewGormPlanVersionRepository(db).Save(context.Background(), plan))
	return plan
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
