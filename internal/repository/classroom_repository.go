package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/classboard/classboard-api/internal/models"
)

const pgUniqueViolation = "23505"

// ClassroomRepository handles persistence for classrooms.
type ClassroomRepository struct {
	db *sqlx.DB
}

// NewClassroomRepository constructs the repository.
func NewClassroomRepository(db *sqlx.DB) *ClassroomRepository {
	return &ClassroomRepository{db: db}
}

// Create inserts a new classroom. A duplicate invite code surfaces as a
// unique violation so the caller can regenerate and retry.
func (r *ClassroomRepository) Create(ctx context.Context, classroom *models.Classroom) error {
	if classroom.ID == "" {
		classroom.ID = uuid.NewString()
	}
	if classroom.CreatedAt.IsZero() {
		classroom.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO classrooms (id, name, description, subject, section, room, cover_color, invite_code, teacher_id, created_at)
VALUES (:id, :name, :description, :subject, :section, :room, :cover_color, :invite_code, :teacher_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, classroom); err != nil {
		return fmt.Errorf("create classroom: %w", err)
	}
	return nil
}

// FindByID returns a classroom by identifier.
func (r *ClassroomRepository) FindByID(ctx context.Context, id string) (*models.Classroom, error) {
	const query = `SELECT id, name, description, subject, section, room, cover_color, invite_code, teacher_id, created_at
FROM classrooms WHERE id = $1`
	var classroom models.Classroom
	if err := r.db.GetContext(ctx, &classroom, query, id); err != nil {
		return nil, err
	}
	return &classroom, nil
}

// FindByInviteCode resolves a classroom from its join token.
func (r *ClassroomRepository) FindByInviteCode(ctx context.Context, code string) (*models.Classroom, error) {
	const query = `SELECT id, name, description, subject, section, room, cover_color, invite_code, teacher_id, created_at
FROM classrooms WHERE invite_code = $1`
	var classroom models.Classroom
	if err := r.db.GetContext(ctx, &classroom, query, code); err != nil {
		return nil, err
	}
	return &classroom, nil
}

// ListForTeacher returns classrooms owned by the teacher, newest first.
func (r *ClassroomRepository) ListForTeacher(ctx context.Context, teacherID string) ([]models.ClassroomDetail, error) {
	const query = `SELECT c.id, c.name, c.description, c.subject, c.section, c.room, c.cover_color, c.invite_code, c.teacher_id, c.created_at,
u.full_name AS teacher_name,
(SELECT COUNT(*) FROM classroom_members m WHERE m.classroom_id = c.id) AS member_count
FROM classrooms c
JOIN users u ON u.id = c.teacher_id
WHERE c.teacher_id = $1
ORDER BY c.created_at DESC`
	var classrooms []models.ClassroomDetail
	if err := r.db.SelectContext(ctx, &classrooms, query, teacherID); err != nil {
		return nil, fmt.Errorf("list classrooms for teacher: %w", err)
	}
	return classrooms, nil
}

// ListForStudent returns classrooms the student is enrolled in, newest first.
func (r *ClassroomRepository) ListForStudent(ctx context.Context, studentID string) ([]models.ClassroomDetail, error) {
	const query = `SELECT c.id, c.name, c.description, c.subject, c.section, c.room, c.cover_color, c.invite_code, c.teacher_id, c.created_at,
u.full_name AS teacher_name,
(SELECT COUNT(*) FROM classroom_members m WHERE m.classroom_id = c.id) AS member_count
FROM classrooms c
JOIN users u ON u.id = c.teacher_id
JOIN classroom_members cm ON cm.classroom_id = c.id
WHERE cm.student_id = $1
ORDER BY cm.joined_at DESC`
	var classrooms []models.ClassroomDetail
	if err := r.db.SelectContext(ctx, &classrooms, query, studentID); err != nil {
		return nil, fmt.Errorf("list classrooms for student: %w", err)
	}
	return classrooms, nil
}

// UpdateInviteCode replaces the join token for a classroom.
func (r *ClassroomRepository) UpdateInviteCode(ctx context.Context, id, code string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE classrooms SET invite_code = $2 WHERE id = $1", id, code); err != nil {
		return fmt.Errorf("update invite code: %w", err)
	}
	return nil
}

// Delete removes a classroom. Sessions, records, members, announcements and
// resources go with it via ON DELETE CASCADE.
func (r *ClassroomRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM classrooms WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete classroom: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether the error is a Postgres unique violation,
// optionally scoped to a constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != pgUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
