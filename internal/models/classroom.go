package models

import "time"

// Classroom represents a teacher-owned class group.
type Classroom struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	Subject     *string   `db:"subject" json:"subject,omitempty"`
	Section     *string   `db:"section" json:"section,omitempty"`
	Room        *string   `db:"room" json:"room,omitempty"`
	CoverColor  string    `db:"cover_color" json:"cover_color"`
	InviteCode  string    `db:"invite_code" json:"invite_code"`
	TeacherID   string    `db:"teacher_id" json:"teacher_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ClassroomDetail extends the classroom with display metadata.
type ClassroomDetail struct {
	Classroom
	TeacherName string `db:"teacher_name" json:"teacher_name"`
	MemberCount int    `db:"member_count" json:"member_count"`
}

// Membership links a student to a classroom.
type Membership struct {
	ID          string    `db:"id" json:"id"`
	ClassroomID string    `db:"classroom_id" json:"classroom_id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	JoinedAt    time.Time `db:"joined_at" json:"joined_at"`
}

// RosterEntry is one student on a classroom roster, ordered by join time.
type RosterEntry struct {
	StudentID string    `db:"student_id" json:"student_id"`
	FullName  string    `db:"full_name" json:"full_name"`
	AvatarURL *string   `db:"avatar_url" json:"avatar_url,omitempty"`
	JoinedAt  time.Time `db:"joined_at" json:"joined_at"`
}
