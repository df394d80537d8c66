package models

import "time"

// NotificationType tags the event that produced a notification.
type NotificationType string

const (
	NotificationTypeAnnouncement  NotificationType = "announcement"
	NotificationTypeSessionOpened NotificationType = "session_opened"
	NotificationTypeMemberAdded   NotificationType = "member_added"
	NotificationTypeResourceAdded NotificationType = "resource_added"
)

// Notification is a per-user inbox row consumed by the realtime stream.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	UserID      string           `db:"user_id" json:"user_id"`
	Title       string           `db:"title" json:"title"`
	Body        *string          `db:"body" json:"body,omitempty"`
	Type        NotificationType `db:"type" json:"type"`
	ClassroomID *string          `db:"classroom_id" json:"classroom_id,omitempty"`
	Link        *string          `db:"link" json:"link,omitempty"`
	IsRead      bool             `db:"is_read" json:"is_read"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}
