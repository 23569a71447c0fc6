package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/entitlement"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/saasdash/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormGrantRepository implements entitlement.GrantRepository using GORM
type GormGrantRepository struct {
	db *gorm.DB
}

// NewGormGrantRepository creates a new GormGrantRepository
func NewGormGrantRepository(db *gorm.DB) *GormGrantRepository {
	return &GormGrantRepository{db: db}
}

// FindByID retrieves a grant
func (r *GormGrantRepository) FindByID(ctx context.Context, id uuid.UUID) (*entitlement.CustomerGrant, error) {
	var model models.CustomerGrantModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByCustomer lists all grants of a customer ordered by creation time
func (r *GormGrantRepository) FindByCustomer(ctx context.Context, customerID uuid.UUID) ([]*entitlement.CustomerGrant, error) {
	var rows []models.CustomerGrantModel
	if err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	grants := make([]*entitlement.CustomerGrant, len(rows))
	for i := range rows {
		grants[i] = rows[i].ToDomain()
	}
	return grants, nil
}

// FindOverride returns the override grant of a customer for a feature
func (r *GormGrantRepository) FindOverride(ctx context.Context, customerID uuid.UUID, featureSlug string) (*entitlement.CustomerGrant, error) {
	var model models.CustomerGrantModel
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND feature_slug = ? AND kind = ?", customerID, featureSlug, entitlement.GrantOverride).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Save inserts or updates a grant
func (r *GormGrantRepository) Save(ctx context.Context, grant *entitlement.CustomerGrant) error {
	model := models.CustomerGrantModelFromDomain(grant)
	return r.db.WithContext(ctx).Save(model).Error
}

// Delete removes a grant
func (r *GormGrantRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.CustomerGrantModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Ensure GormGrantRepository implements the interface
var _ entitlement.GrantRepository = (*GormGrantRepository)(nil)
