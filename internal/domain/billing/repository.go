package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PlanVersionRepository loads plan versions with their feature limits
type PlanVersionRepository interface {
	// FindByID retrieves a plan version and its features
	FindByID(ctx context.Context, id uuid.UUID) (*PlanVersion, error)

	// Save persists a new plan version with its features
	Save(ctx context.Context, plan *PlanVersion) error
}

// UsageRecordRepository is the append-only usage log
type UsageRecordRepository interface {
	// Append persists a single usage record
	Append(ctx context.Context, record *UsageRecord) error

	// SaveBatch persists multiple usage records in a single transaction.
	// Records whose idempotency key was already stored are skipped and
	// returned, so callers can correct totals they counted ahead of the log.
	SaveBatch(ctx context.Context, records []*UsageRecord) (skipped []*UsageRecord, err error)

	// SumSince returns the total delta for a customer and feature recorded at or after since
	SumSince(ctx context.Context, customerID uuid.UUID, featureSlug string, since time.Time) (int64, error)

	// Summarize aggregates usage per feature within [start, end)
	Summarize(ctx context.Context, customerID uuid.UUID, start, end time.Time) ([]UsageSummary, error)
}
