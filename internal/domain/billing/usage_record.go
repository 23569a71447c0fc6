package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/shared"
)

// UsageRecord represents an immutable record of a single usage increment.
// Once created, usage records cannot be modified - corrections must be made with new records.
// The live usage counters are a derived cache of the sum of these records per cycle.
type UsageRecord struct {
	ID             uuid.UUID
	CustomerID     uuid.UUID
	ProjectID      uuid.UUID
	FeatureSlug    string
	Delta          int64
	IdempotencyKey string // empty when the reporter sent none
	RecordedAt     time.Time
}

// NewUsageRecord creates a new usage record with validation
func NewUsageRecord(customerID, projectID uuid.UUID, featureSlug string, delta int64, idempotencyKey string, recordedAt time.Time) (*UsageRecord, error) {
	if customerID == uuid.Nil {
		return nil, shared.ErrInvalidInput.WithMessage("customer ID cannot be empty")
	}
	if err := ValidateFeatureSlug(featureSlug); err != nil {
		return nil, err
	}
	if delta < 0 {
		return nil, shared.ErrInvalidInput.WithMessage("usage delta cannot be negative")
	}
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	return &UsageRecord{
		ID:             uuid.New(),
		CustomerID:     customerID,
		ProjectID:      projectID,
		FeatureSlug:    featureSlug,
		Delta:          delta,
		IdempotencyKey: idempotencyKey,
		RecordedAt:     recordedAt,
	}, nil
}

// UsageSummary aggregates the usage log of one feature over a time range
type UsageSummary struct {
	FeatureSlug string `json:"feature_slug"`
	Total       int64  `json:"total"`
	Events      int64  `json:"events"`
}
