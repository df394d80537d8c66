package models

import "time"

// Announcement represents a post on a classroom stream.
type Announcement struct {
	ID          string    `db:"id" json:"id"`
	ClassroomID string    `db:"classroom_id" json:"classroom_id"`
	AuthorID    string    `db:"author_id" json:"author_id"`
	Content     string    `db:"content" json:"content"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// AnnouncementDetail extends an announcement with author metadata and comments.
type AnnouncementDetail struct {
	Announcement
	AuthorName string    `db:"author_name" json:"author_name"`
	Comments   []Comment `json:"comments,omitempty"`
}

// Comment is a reply under an announcement.
type Comment struct {
	ID             string    `db:"id" json:"id"`
	AnnouncementID string    `db:"announcement_id" json:"announcement_id"`
	AuthorID       string    `db:"author_id" json:"author_id"`
	AuthorName     string    `db:"author_name" json:"author_name"`
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
