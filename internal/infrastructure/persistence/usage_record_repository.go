package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/billing"
	"github.com/saasdash/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// usageBatchSize bounds the rows sent in one INSERT statement
const usageBatchSize = 500

// GormUsageRecordRepository implements billing.UsageRecordRepository using GORM
type GormUsageRecordRepository struct {
	db *gorm.DB
}

// NewGormUsageRecordRepository creates a new GormUsageRecordRepository
func NewGormUsageRecordRepository(db *gorm.DB) *GormUsageRecordRepository {
	return &GormUsageRecordRepository{db: db}
}

// Append persists a single usage record, skipping a repeated idempotency key
func (r *GormUsageRecordRepository) Append(ctx context.Context, record *billing.UsageRecord) error {
	model := models.UsageRecordModelFromDomain(record)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model).Error
}

// SaveBatch persists records in one transaction and returns the records it
// skipped because their idempotency key is already stored, or repeated
// earlier in the batch.
func (r *GormUsageRecordRepository) SaveBatch(ctx context.Context, records []*billing.UsageRecord) ([]*billing.UsageRecord, error) {
	if len(records) == 0 {
		return nil, nil
	}
	var skipped []*billing.UsageRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := storedKeys(tx, records)
		if err != nil {
			return err
		}
		rows := make([]*models.UsageRecordModel, 0, len(records))
		for _, rec := range records {
			if rec.IdempotencyKey != "" {
				k := idemKey{rec.CustomerID, rec.FeatureSlug, rec.IdempotencyKey}
				if _, dup := stored[k]; dup {
					skipped = append(skipped, rec)
					continue
				}
				stored[k] = struct{}{}
			}
			rows = append(rows, models.UsageRecordModelFromDomain(rec))
		}
		if len(rows) == 0 {
			return nil
		}
		// a concurrent writer can still win the key; the unique index keeps
		// the log single
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(rows, usageBatchSize).Error
	})
	if err != nil {
		return nil, err
	}
	return skipped, nil
}

type idemKey struct {
	customerID uuid.UUID
	slug       string
	key        string
}

// storedKeys returns which idempotency keys of records are already in the log
func storedKeys(tx *gorm.DB, records []*billing.UsageRecord) (map[idemKey]struct{}, error) {
	stored := make(map[idemKey]struct{})
	var keys []string
	var customers []uuid.UUID
	seen := make(map[uuid.UUID]struct{})
	for _, rec := range records {
		if rec.IdempotencyKey == "" {
			continue
		}
		keys = append(keys, rec.IdempotencyKey)
		if _, ok := seen[rec.CustomerID]; !ok {
			seen[rec.CustomerID] = struct{}{}
			customers = append(customers, rec.CustomerID)
		}
	}
	if len(keys) == 0 {
		return stored, nil
	}

	var rows []models.UsageRecordModel
	err := tx.Model(&models.UsageRecordModel{}).
		Select("customer_id, feature_slug, idempotency_key").
		Where("customer_id IN ? AND idempotency_key IN ?", customers, keys).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		stored[idemKey{row.CustomerID, row.FeatureSlug, row.IdempotencyKey}] = struct{}{}
	}
	return stored, nil
}

// SumSince returns the total delta for a customer and feature recorded at or after since
func (r *GormUsageRecordRepository) SumSince(ctx context.Context, customerID uuid.UUID, featureSlug string, since time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.UsageRecordModel{}).
		Select("COALESCE(SUM(delta), 0)").
		Where("customer_id = ? AND feature_slug = ? AND recorded_at >= ?", customerID, featureSlug, since.UTC()).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Summarize aggregates usage per feature within [start, end)
func (r *GormUsageRecordRepository) Summarize(ctx context.Context, customerID uuid.UUID, start, end time.Time) ([]billing.UsageSummary, error) {
	var rows []models.UsageSummaryRow
	err := r.db.WithContext(ctx).
		Model(&models.UsageRecordModel{}).
		Select("feature_slug, COALESCE(SUM(delta), 0) AS total, COUNT(*) AS events").
		Where("customer_id = ? AND recorded_at >= ? AND recorded_at < ?", customerID, start.UTC(), end.UTC()).
		Group("feature_slug").
		Order("feature_slug ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]billing.UsageSummary, len(rows))
	for i, row := range rows {
		out[i] = billing.UsageSummary{FeatureSlug: row.FeatureSlug, Total: row.Total, Events: row.Events}
	}
	return out, nil
}

// Ensure GormUsageRecordRepository implements the interface
var _ billing.UsageRecordRepository = (*GormUsageRecordRepository)(nil)
