package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/classboard/classboard-api/internal/models"
)

// ErrOpenSessionExists signals that the classroom already has an open
// session. The partial unique index uq_attendance_sessions_open raises it,
// so two concurrent opens cannot both succeed.
var ErrOpenSessionExists = errors.New("classroom already has an open attendance session")

const openSessionConstraint = "uq_attendance_sessions_open"

// AttendanceRepository handles persistence for attendance sessions and records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// CreateSession inserts a new open session. Returns ErrOpenSessionExists
// when the one-open-session invariant would be violated.
func (r *AttendanceRepository) CreateSession(ctx context.Context, session *models.AttendanceSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO attendance_sessions (id, classroom_id, date, title, is_open, created_by, created_at)
VALUES (:id, :classroom_id, :date, :title, :is_open, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		if IsUniqueViolation(err, openSessionConstraint) {
			return ErrOpenSessionExists
		}
		return fmt.Errorf("create attendance session: %w", err)
	}
	return nil
}

// FindSessionByID returns a session by identifier.
func (r *AttendanceRepository) FindSessionByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	const query = `SELECT id, classroom_id, date, title, is_open, created_by, created_at
FROM attendance_sessions WHERE id = $1`
	var session models.AttendanceSession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions returns all sessions for a classroom. List views want newest
// first; the summary grid asks for chronological order.
func (r *AttendanceRepository) ListSessions(ctx context.Context, classroomID string, oldestFirst bool) ([]models.AttendanceSession, error) {
	direction := "DESC"
	if oldestFirst {
		direction = "ASC"
	}
	query := fmt.Sprintf(`SELECT id, classroom_id, date, title, is_open, created_by, created_at
FROM attendance_sessions
WHERE classroom_id = $1
ORDER BY date %s, created_at %s`, direction, direction)
	sessions := []models.AttendanceSession{}
	if err := r.db.SelectContext(ctx, &sessions, query, classroomID); err != nil {
		return nil, fmt.Errorf("list attendance sessions: %w", err)
	}
	return sessions, nil
}

// CloseSession clears the open flag. Closing an already-closed session
// affects zero rows, which is fine: the operation is idempotent.
func (r *AttendanceRepository) CloseSession(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE attendance_sessions SET is_open = FALSE WHERE id = $1 AND is_open", sessionID); err != nil {
		return fmt.Errorf("close attendance session: %w", err)
	}
	return nil
}

// UpsertRecord inserts or overwrites the status for a (session, student)
// pair. Last write wins, no history is kept.
func (r *AttendanceRepository) UpsertRecord(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO attendance_records (id, session_id, student_id, status, marked_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (session_id, student_id)
DO UPDATE SET status = EXCLUDED.status, marked_by = EXCLUDED.marked_by, updated_at = EXCLUDED.updated_at
RETURNING id, session_id, student_id, status, marked_by, updated_at`
	var stored models.AttendanceRecord
	if err := r.db.GetContext(ctx, &stored, query, record.ID, record.SessionID, record.StudentID, record.Status, record.MarkedBy, record.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert attendance record: %w", err)
	}
	return &stored, nil
}

// ListRecords returns explicitly marked records for a session with student
// metadata. Unmarked students simply have no row here.
func (r *AttendanceRepository) ListRecords(ctx context.Context, sessionID string) ([]models.AttendanceRecordDetail, error) {
	const query = `SELECT ar.id, ar.session_id, ar.student_id, ar.status, ar.marked_by, ar.updated_at,
u.full_name AS student_name, u.avatar_url
FROM attendance_records ar
JOIN users u ON u.id = ar.student_id
WHERE ar.session_id = $1
ORDER BY u.full_name ASC`
	records := []models.AttendanceRecordDetail{}
	if err := r.db.SelectContext(ctx, &records, query, sessionID); err != nil {
		return nil, fmt.Errorf("list attendance records: %w", err)
	}
	return records, nil
}

// ListRecordsByClassroom returns every record across all sessions of a
// classroom, feeding the summary projection.
func (r *AttendanceRepository) ListRecordsByClassroom(ctx context.Context, classroomID string) ([]models.AttendanceRecord, error) {
	const query = `SELECT ar.id, ar.session_id, ar.student_id, ar.status, ar.marked_by, ar.updated_at
FROM attendance_records ar
JOIN attendance_sessions s ON s.id = ar.session_id
WHERE s.classroom_id = $1`
	records := []models.AttendanceRecord{}
	if err := r.db.SelectContext(ctx, &records, query, classroomID); err != nil {
		return nil, fmt.Errorf("list classroom attendance records: %w", err)
	}
	return records, nil
}
