package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/saasdash/backend/internal/domain/shared"
	"github.com/saasdash/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormTenantRepository manages workspaces and projects, the two upper
// kill-switch levels above customers
type GormTenantRepository struct {
	db *gorm.DB
}

// NewGormTenantRepository creates a new GormTenantRepository
func NewGormTenantRepository(db *gorm.DB) *GormTenantRepository {
	return &GormTenantRepository{db: db}
}

// CreateWorkspace inserts an enabled workspace
func (r *GormTenantRepository) CreateWorkspace(ctx context.Context, name string) (uuid.UUID, error) {
	now := time.Now().UTC()
	model := &models.WorkspaceModel{
		BaseModel: models.BaseModel{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Name:      name,
		Enabled:   true,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return uuid.Nil, err
	}
	return model.ID, nil
}

// CreateProject inserts an enabled project under a workspace
func (r *GormTenantRepository) CreateProject(ctx context.Context, workspaceID uuid.UUID, name string) (uuid.UUID, error) {
	now := time.Now().UTC()
	model := &models.ProjectModel{
		BaseModel:   models.BaseModel{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		WorkspaceID: workspaceID,
		Name:        name,
		Enabled:     true,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return uuid.Nil, err
	}
	return model.ID, nil
}

// SetWorkspaceEnabled flips the workspace kill switch
func (r *GormTenantRepository) SetWorkspaceEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	return r.setEnabled(ctx, &models.WorkspaceModel{}, id, enabled)
}

// SetProjectEnabled flips the project kill switch
func (r *GormTenantRepository) SetProjectEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	return r.setEnabled(ctx, &models.ProjectModel{}, id, enabled)
}

func (r *GormTenantRepository) setEnabled(ctx context.Context, model any, id uuid.UUID, enabled bool) error {
	result := r.db.WithContext(ctx).
		Model(model).
		Where("id = ?", id).
		Updates(map[string]any{"enabled": enabled, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}
