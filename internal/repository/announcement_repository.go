package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/classboard/classboard-api/internal/models"
)

// AnnouncementRepository provides persistence for announcements and comments.
type AnnouncementRepository struct {
	db *sqlx.DB
}

// NewAnnouncementRepository creates the repository.
func NewAnnouncementRepository(db *sqlx.DB) *AnnouncementRepository {
	return &AnnouncementRepository{db: db}
}

// Create inserts a new announcement.
func (r *AnnouncementRepository) Create(ctx context.Context, announcement *models.Announcement) error {
	if announcement.ID == "" {
		announcement.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if announcement.CreatedAt.IsZero() {
		announcement.CreatedAt = now
	}
	announcement.UpdatedAt = now
	const query = `INSERT INTO announcements (id, classroom_id, author_id, content, created_at, updated_at)
VALUES (:id, :classroom_id, :author_id, :content, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, announcement); err != nil {
		return fmt.Errorf("create announcement: %w", err)
	}
	return nil
}

// GetByID returns an announcement by identifier.
func (r *AnnouncementRepository) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	const query = `SELECT id, classroom_id, author_id, content, created_at, updated_at
FROM announcements WHERE id = $1`
	var announcement models.Announcement
	if err := r.db.GetContext(ctx, &announcement, query, id); err != nil {
		return nil, err
	}
	return &announcement, nil
}

// ListByClassroom returns announcements with author names, newest first,
// comments attached in one extra round trip.
func (r *AnnouncementRepository) ListByClassroom(ctx context.Context, classroomID string) ([]models.AnnouncementDetail, error) {
	const query = `SELECT a.id, a.classroom_id, a.author_id, a.content, a.created_at, a.updated_at,
u.full_name AS author_name
FROM announcements a
JOIN users u ON u.id = a.author_id
WHERE a.classroom_id = $1
ORDER BY a.created_at DESC`
	announcements := []models.AnnouncementDetail{}
	if err := r.db.SelectContext(ctx, &announcements, query, classroomID); err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	if len(announcements) == 0 {
		return announcements, nil
	}

	ids := make([]string, len(announcements))
	for i, a := range announcements {
		ids[i] = a.ID
	}
	const commentsQuery = `SELECT c.id, c.announcement_id, c.author_id, u.full_name AS author_name, c.content, c.created_at
FROM comments c
JOIN users u ON u.id = c.author_id
WHERE c.announcement_id = ANY($1)
ORDER BY c.created_at ASC`
	comments := []models.Comment{}
	if err := r.db.SelectContext(ctx, &comments, commentsQuery, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list announcement comments: %w", err)
	}
	byAnnouncement := make(map[string][]models.Comment, len(announcements))
	for _, c := range comments {
		byAnnouncement[c.AnnouncementID] = append(byAnnouncement[c.AnnouncementID], c)
	}
	for i := range announcements {
		announcements[i].Comments = byAnnouncement[announcements[i].ID]
	}
	return announcements, nil
}

// Delete removes an announcement and its comments via cascade.
func (r *AnnouncementRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM announcements WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete announcement: %w", err)
	}
	return nil
}

// CreateComment inserts a reply under an announcement.
func (r *AnnouncementRepository) CreateComment(ctx context.Context, comment *models.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO comments (id, announcement_id, author_id, content, created_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query, comment.ID, comment.AnnouncementID, comment.AuthorID, comment.Content, comment.CreatedAt); err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}
