package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/saasdash/backend/internal/domain/subscription"
	"github.com/saasdash/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormSubscriptionRepository implements subscription.Repository using GORM
type GormSubscriptionRepository struct {
	db *gorm.DB
}

// NewGormSubscriptionRepository creates a new GormSubscriptionRepository
func NewGormSubscriptionRepository(db *gorm.DB) *GormSubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

func preloadPhases(db *gorm.DB) *gorm.DB {
	return db.Preload("Phases", func(db *gorm.DB) *gorm.DB {
		return db.Order("start_at ASC")
	})
}

// FindByID retrieves a subscription with its phases ordered by start
func (r *GormSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	var model models.SubscriptionModel
	if err := preloadPhases(r.db.WithContext(ctx)).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindCurrentByCustomer returns the newest subscription of a customer that is not canceled
func (r *GormSubscriptionRepository) FindCurrentByCustomer(ctx context.Context, customerID uuid.UUID) (*subscription.Subscription, error) {
	var model models.SubscriptionModel
	err := preloadPhases(r.db.WithContext(ctx)).
		Where("customer_id = ? AND status <> ?", customerID, subscription.StatusCanceled).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save inserts a new subscription with its phases
func (r *GormSubscriptionRepository) Save(ctx context.Context, sub *subscription.Subscription) error {
	model := models.SubscriptionModelFromDomain(sub)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
}

// Update writes the subscription with optimistic locking and replaces its
// phases in the same transaction
func (r *GormSubscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	currentVersion := sub.Version
	sub.IncrementVersion()
	model := models.SubscriptionModelFromDomain(sub)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.SubscriptionModel{}).
			Where("id = ? AND version = ?", sub.ID, currentVersion).
			Updates(map[string]any{
				"status":      model.Status,
				"cancel_at":   model.CancelAt,
				"canceled_at": model.CanceledAt,
				"version":     model.Version,
				"updated_at":  model.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.SubscriptionModel{}).Where("id = ?", sub.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return shared.ErrNotFound
			}
			return shared.ErrConcurrentModification
		}

		if err := tx.Where("subscription_id = ?", sub.ID).Delete(&models.PhaseModel{}).Error; err != nil {
			return err
		}
		if len(model.Phases) > 0 {
			if err := tx.Create(&model.Phases).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// the caller reloads on conflict; leave its copy at the version it read
		sub.Version = currentVersion
		return err
	}
	return nil
}

// Ensure GormSubscriptionRepository implements the interface
var _ subscription.Repository = (*GormSubscriptionRepository)(nil)
