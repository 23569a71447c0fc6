package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/entitlement"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/saasdash/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormCustomerRepository implements entitlement.CustomerRepository using GORM
type GormCustomerRepository struct {
	db *gorm.DB
}

// NewGormCustomerRepository creates a new GormCustomerRepository
func NewGormCustomerRepository(db *gorm.DB) *GormCustomerRepository {
	return &GormCustomerRepository{db: db}
}

// FindByID finds a customer by its ID
func (r *GormCustomerRepository) FindByID(ctx context.Context, id uuid.UUID) (*entitlement.Customer, error) {
	var model models.CustomerModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// TenantStatus reads the customer, project and workspace switches in one query
func (r *GormCustomerRepository) TenantStatus(ctx context.Context, customerID uuid.UUID) (entitlement.TenantStatus, error) {
	var rows []models.TenantStatusRow
	err := r.db.WithContext(ctx).
		Table("customers AS c").
		Select(`c.id AS customer_id, p.id AS project_id, w.id AS workspace_id,
			w.enabled AS workspace_enabled, p.enabled AS project_enabled, c.disabled AS customer_disabled`).
		Joins("JOIN projects AS p ON p.id = c.project_id").
		Joins("JOIN workspaces AS w ON w.id = p.workspace_id").
		Where("c.id = ?", customerID).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return entitlement.TenantStatus{}, err
	}
	if len(rows) == 0 {
		return entitlement.TenantStatus{}, shared.ErrNotFound
	}
	return rows[0].ToDomain(), nil
}

// SetActiveSubscription points the customer at a subscription, or clears it when nil
func (r *GormCustomerRepository) SetActiveSubscription(ctx context.Context, customerID uuid.UUID, subscriptionID *uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.CustomerModel{}).
		Where("id = ?", customerID).
		Updates(map[string]any{
			"active_subscription_id": subscriptionID,
			"updated_at":             time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Save creates or updates a customer
func (r *GormCustomerRepository) Save(ctx context.Context, customer *entitlement.Customer) error {
	model := models.CustomerModelFromDomain(customer)
	return r.db.WithContext(ctx).Save(model).Error
}

// Ensure GormCustomerRepository implements the interface
var _ entitlement.CustomerRepository = (*GormCustomerRepository)(nil)
