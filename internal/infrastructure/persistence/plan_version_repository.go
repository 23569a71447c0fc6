package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/billing"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/saasdash/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormPlanVersionRepository implements billing.PlanVersionRepository using GORM
type GormPlanVersionRepository struct {
	db *gorm.DB
}

// NewGormPlanVersionRepository creates a new GormPlanVersionRepository
func NewGormPlanVersionRepository(db *gorm.DB) *GormPlanVersionRepository {
	return &GormPlanVersionRepository{db: db}
}

// FindByID loads a plan version and its features in declaration order
func (r *GormPlanVersionRepository) FindByID(ctx context.Context, id uuid.UUID) (*billing.PlanVersion, error) {
	var model models.PlanVersionModel
	err := r.db.WithContext(ctx).
		Preload("Features", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save inserts a plan version with its features. Plan versions are immutable,
// so a duplicate (project, slug, version) fails with ALREADY_EXISTS.
func (r *GormPlanVersionRepository) Save(ctx context.Context, plan *billing.PlanVersion) error {
	model := models.PlanVersionModelFromDomain(plan)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.PlanVersionModel{}).
			Where("project_id = ? AND plan_slug = ? AND version = ?", plan.ProjectID, plan.PlanSlug, plan.Version).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return shared.ErrAlreadyExists.WithMessage("plan version already exists")
		}
		return tx.Create(model).Error
	})
}

// Ensure GormPlanVersionRepository implements the interface
var _ billing.PlanVersionRepository = (*GormPlanVersionRepository)(nil)
