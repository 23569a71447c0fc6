package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/billing"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormPlanVersionRepository(t *testing.T) {
	db := setupTestDB(t)
	fx := seedTenant(t, db)
	repo := NewGormPlanVersionRepository(db)
	ctx := context.Background()

	plan := seedPlan(t, db, fx.projectID)

	t.Run("loads features in declaration order", func(t *testing.T) {
		found, err := repo.FindByID(ctx, plan.ID)
		require.NoError(t, err)
		assert.Equal(t, "pro", found.PlanSlug)
		assert.Equal(t, billing.IntervalMonth, found.BillingInterval)
		assert.Equal(t, 3, found.GracePeriodDays)
		require.Len(t, found.Features, 2)
		assert.Equal(t, "api-calls", found.Features[0].FeatureSlug)
		require.NotNil(t, found.Features[0].Limit)
		assert.Equal(t, int64(100), *found.Features[0].Limit)
		assert.Equal(t, "sso", found.Features[1].FeatureSlug)
		assert.Nil(t, found.Features[1].Limit)
	})

	t.Run("rejects a duplicate version", func(t *testing.T) {
		dup, err := billing.NewPlanVersion(fx.projectID, "pro", 1, billing.IntervalMonth, 1, 0)
		require.NoError(t, err)
		assert.ErrorIs(t, repo.Save(ctx, dup), shared.ErrAlreadyExists)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}
