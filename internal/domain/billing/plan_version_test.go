package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func TestNewPlanFeature(t *testing.T) {
	t.Run("unit feature keeps its limit", func(t *testing.T) {
		f, err := NewPlanFeature("api-calls", LimitTypeUnit, int64Ptr(1000))
		require.NoError(t, err)
		assert.False(t, f.IsUnlimited())
		assert.Equal(t, int64(1000), *f.Limit)
	})

	t.Run("unit feature requires a limit", func(t *testing.T) {
		_, err := NewPlanFeature("api-calls", LimitTypeUnit, nil)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("negative limit rejected", func(t *testing.T) {
		_, err := NewPlanFeature("api-calls", LimitTypeUnit, int64Ptr(-1))
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("boolean and unlimited drop the limit", func(t *testing.T) {
		f, err := NewPlanFeature("sso", LimitTypeBoolean, int64Ptr(5))
		require.NoError(t, err)
		assert.Nil(t, f.Limit)
		assert.True(t, f.IsUnlimited())

		f, err = NewPlanFeature("events", LimitTypeUnlimited, nil)
		require.NoError(t, err)
		assert.True(t, f.IsUnlimited())
	})

	t.Run("invalid slug", func(t *testing.T) {
		_, err := NewPlanFeature("Bad Slug", LimitTypeBoolean, nil)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})
}

func TestPlanVersion_Features(t *testing.T) {
	plan, err := NewPlanVersion(uuid.New(), "pro", 2, IntervalMonth, 1, 3)
	require.NoError(t, err)

	seats, _ := NewPlanFeature("seats", LimitTypeUnit, int64Ptr(10))
	require.NoError(t, plan.AddFeature(seats))
	assert.Error(t, plan.AddFeature(seats), "duplicate slug")

	f, ok := plan.Feature("seats")
	assert.True(t, ok)
	assert.Equal(t, int64(10), *f.Limit)

	_, ok = plan.Feature("missing")
	assert.False(t, ok)
}

func TestNewPlanVersion_Validation(t *testing.T) {
	projectID := uuid.New()
	tests := []struct {
		name     string
		project  uuid.UUID
		slug     string
		version  int
		interval BillingInterval
		count    int
		grace    int
	}{
		{"nil project", uuid.Nil, "pro", 1, IntervalMonth, 1, 0},
		{"empty slug", projectID, "", 1, IntervalMonth, 1, 0},
		{"zero version", projectID, "pro", 0, IntervalMonth, 1, 0},
		{"bad interval", projectID, "pro", 1, BillingInterval("hour"), 1, 0},
		{"zero count", projectID, "pro", 1, IntervalMonth, 0, 0},
		{"negative grace", projectID, "pro", 1, IntervalMonth, 1, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlanVersion(tt.project, tt.slug, tt.version, tt.interval, tt.count, tt.grace)
			assert.ErrorIs(t, err, shared.ErrInvalidInput)
		})
	}
}

func TestNewUsageRecord(t *testing.T) {
	customerID := uuid.New()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("creates valid record", func(t *testing.T) {
		r, err := NewUsageRecord(customerID, uuid.New(), "api-calls", 3, "req-1", at)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, r.ID)
		assert.Equal(t, int64(3), r.Delta)
		assert.Equal(t, at, r.RecordedAt)
	})

	t.Run("defaults recorded time", func(t *testing.T) {
		r, err := NewUsageRecord(customerID, uuid.New(), "api-calls", 0, "", time.Time{})
		require.NoError(t, err)
		assert.False(t, r.RecordedAt.IsZero())
	})

	t.Run("rejects negative delta", func(t *testing.T) {
		_, err := NewUsageRecord(customerID, uuid.New(), "api-calls", -1, "", at)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("rejects nil customer", func(t *testing.T) {
		_, err := NewUsageRecord(uuid.Nil, uuid.New(), "api-calls", 1, "", at)
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})
}
