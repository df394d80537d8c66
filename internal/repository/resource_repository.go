package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/classboard/classboard-api/internal/models"
)

// ResourceRepository persists resource file metadata.
type ResourceRepository struct {
	db *sqlx.DB
}

// NewResourceRepository constructs the repository.
func NewResourceRepository(db *sqlx.DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

// Create inserts a resource record.
func (r *ResourceRepository) Create(ctx context.Context, resource *models.Resource) error {
	if resource.ID == "" {
		resource.ID = uuid.NewString()
	}
	if resource.CreatedAt.IsZero() {
		resource.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO resources (id, classroom_id, uploader_id, file_name, file_path, file_type, file_size, created_at)
VALUES (:id, :classroom_id, :uploader_id, :file_name, :file_path, :file_type, :file_size, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, resource); err != nil {
		return fmt.Errorf("create resource: %w", err)
	}
	return nil
}

// GetByID returns a resource by identifier.
func (r *ResourceRepository) GetByID(ctx context.Context, id string) (*models.Resource, error) {
	const query = `SELECT id, classroom_id, uploader_id, file_name, file_path, file_type, file_size, created_at
FROM resources WHERE id = $1`
	var resource models.Resource
	if err := r.db.GetContext(ctx, &resource, query, id); err != nil {
		return nil, err
	}
	return &resource, nil
}

// ListByClassroom returns resources with uploader names, newest first.
func (r *ResourceRepository) ListByClassroom(ctx context.Context, classroomID string) ([]models.ResourceDetail, error) {
	const query = `SELECT r.id, r.classroom_id, r.uploader_id, r.file_name, r.file_path, r.file_type, r.file_size, r.created_at,
u.full_name AS uploader_name
FROM resources r
JOIN users u ON u.id = r.uploader_id
WHERE r.classroom_id = $1
ORDER BY r.created_at DESC`
	resources := []models.ResourceDetail{}
	if err := r.db.SelectContext(ctx, &resources, query, classroomID); err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	return resources, nil
}

// Delete removes a resource record.
func (r *ResourceRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM resources WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete resource: %w", err)
	}
	return nil
}
