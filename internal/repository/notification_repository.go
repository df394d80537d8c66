package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/classboard/classboard-api/internal/models"
)

// notificationListLimit caps the inbox read; older rows stay queryable only
// after newer ones are read or cleared, matching the bell dropdown.
const notificationListLimit = 50

// NotificationRepository handles persistence for per-user notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification row addressed to one user.
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, user_id, title, body, type, classroom_id, link, is_read, created_at)
VALUES (:id, :user_id, :title, :body, :type, :classroom_id, :link, :is_read, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, notification); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListForUser returns the recipient's notifications, newest first.
func (r *NotificationRepository) ListForUser(ctx context.Context, userID string) ([]models.Notification, error) {
	const query = `SELECT id, user_id, title, body, type, classroom_id, link, is_read, created_at
FROM notifications
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`
	notifications := []models.Notification{}
	if err := r.db.SelectContext(ctx, &notifications, query, userID, notificationListLimit); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

// CountUnread returns the number of unread rows for the recipient.
func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read", userID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead flips is_read on a single row, scoped to the recipient. The bool
// reports whether a row owned by the user was actually updated.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkAllRead flips is_read on every unread row owned by the recipient.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read", userID); err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}
