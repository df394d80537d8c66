package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/classboard/classboard-api/internal/models"
)

// MembershipRepository handles persistence for classroom membership.
type MembershipRepository struct {
	db *sqlx.DB
}

// NewMembershipRepository constructs the repository.
func NewMembershipRepository(db *sqlx.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// Add enrolls a student. Joining twice is a silent no-op; the bool reports
// whether a row was actually inserted.
func (r *MembershipRepository) Add(ctx context.Context, membership *models.Membership) (bool, error) {
	if membership.ID == "" {
		membership.ID = uuid.NewString()
	}
	if membership.JoinedAt.IsZero() {
		membership.JoinedAt = time.Now().UTC()
	}
	const query = `INSERT INTO classroom_members (id, classroom_id, student_id, joined_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (classroom_id, student_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, membership.ID, membership.ClassroomID, membership.StudentID, membership.JoinedAt)
	if err != nil {
		return false, fmt.Errorf("add member: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add member rows affected: %w", err)
	}
	return affected > 0, nil
}

// Remove deletes a membership pair. The bool reports whether a row existed.
func (r *MembershipRepository) Remove(ctx context.Context, classroomID, studentID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM classroom_members WHERE classroom_id = $1 AND student_id = $2", classroomID, studentID)
	if err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove member rows affected: %w", err)
	}
	return affected > 0, nil
}

// IsMember reports whether the student is enrolled in the classroom.
func (r *MembershipRepository) IsMember(ctx context.Context, classroomID, studentID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM classroom_members WHERE classroom_id = $1 AND student_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, classroomID, studentID); err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// Roster returns the classroom's enrolled students ordered by join time
// ascending, student id as a stable tiebreak. An empty classroom yields an
// empty slice.
func (r *MembershipRepository) Roster(ctx context.Context, classroomID string) ([]models.RosterEntry, error) {
	const query = `SELECT cm.student_id, u.full_name, u.avatar_url, cm.joined_at
FROM classroom_members cm
JOIN users u ON u.id = cm.student_id
WHERE cm.classroom_id = $1
ORDER BY cm.joined_at ASC, cm.student_id ASC`
	roster := []models.RosterEntry{}
	if err := r.db.SelectContext(ctx, &roster, query, classroomID); err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	return roster, nil
}

// MemberIDs returns just the student ids for fan-out recipient sets.
func (r *MembershipRepository) MemberIDs(ctx context.Context, classroomID string) ([]string, error) {
	const query = `SELECT student_id FROM classroom_members WHERE classroom_id = $1 ORDER BY joined_at ASC`
	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, query, classroomID); err != nil {
		return nil, fmt.Errorf("load member ids: %w", err)
	}
	return ids, nil
}
