package models

import "time"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
	AttendanceStatusLate    AttendanceStatus = "late"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusLate:
		return true
	default:
		return false
	}
}

// AttendanceSession is a single dated attendance-taking event for a classroom.
// At most one session per classroom may have IsOpen set, enforced by a
// partial unique index on (classroom_id) WHERE is_open.
type AttendanceSession struct {
	ID          string    `db:"id" json:"id"`
	ClassroomID string    `db:"classroom_id" json:"classroom_id"`
	Date        time.Time `db:"date" json:"date"`
	Title       *string   `db:"title" json:"title,omitempty"`
	IsOpen      bool      `db:"is_open" json:"is_open"`
	CreatedBy   string    `db:"created_by" json:"created_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// AttendanceRecord is one student's status within one session. Absence of a
// row means "unmarked" in the live view; the summary grid projects it as
// absent.
type AttendanceRecord struct {
	ID        string           `db:"id" json:"id"`
	SessionID string           `db:"session_id" json:"session_id"`
	StudentID string           `db:"student_id" json:"student_id"`
	Status    AttendanceStatus `db:"status" json:"status"`
	MarkedBy  string           `db:"marked_by" json:"marked_by"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceRecordDetail extends a record with student metadata for the
// live-marking view.
type AttendanceRecordDetail struct {
	AttendanceRecord
	StudentName string  `db:"student_name" json:"student_name"`
	AvatarURL   *string `db:"avatar_url" json:"avatar_url,omitempty"`
}

// AttendanceSummary is the dense session x student status grid used for
// historical reporting. Columns are chronological, oldest first.
type AttendanceSummary struct {
	ClassroomID string                 `json:"classroom_id"`
	Sessions    []AttendanceSession    `json:"sessions"`
	Students    []RosterEntry          `json:"students"`
	Grid        []AttendanceSummaryRow `json:"grid"`
}

// AttendanceSummaryRow holds one student's statuses across all sessions,
// index-aligned with AttendanceSummary.Sessions.
type AttendanceSummaryRow struct {
	StudentID   string             `json:"student_id"`
	StudentName string             `json:"student_name"`
	Statuses    []AttendanceStatus `json:"statuses"`
}
