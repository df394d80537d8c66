package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classboard/classboard-api/internal/models"
)

func newAttendanceRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	cleanup := func() {
		_ = sqlxDB.Close()
		db.Close()
	}
	return sqlxDB, mock, cleanup
}

func TestAttendanceRepositoryCreateSession(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attendance_sessions")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	session := &models.AttendanceSession{
		ClassroomID: "class-1",
		Date:        time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		IsOpen:      true,
		CreatedBy:   "teacher-1",
	}
	err := repo.CreateSession(context.Background(), session)
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
}

func TestAttendanceRepositoryCreateSessionConflict(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attendance_sessions")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: openSessionConstraint})

	session := &models.AttendanceSession{
		ClassroomID: "class-1",
		Date:        time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		IsOpen:      true,
		CreatedBy:   "teacher-1",
	}
	err := repo.CreateSession(context.Background(), session)
	assert.ErrorIs(t, err, ErrOpenSessionExists)
}

func TestAttendanceRepositoryCreateSessionOtherUniqueViolation(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attendance_sessions")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "attendance_sessions_pkey"})

	err := repo.CreateSession(context.Background(), &models.AttendanceSession{ClassroomID: "class-1", IsOpen: true})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrOpenSessionExists)
}

func TestAttendanceRepositoryUpsertRecord(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "session_id", "student_id", "status", "marked_by", "updated_at"}).
		AddRow("rec-1", "sess-1", "student-1", "late", "teacher-1", now)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (session_id, student_id)")).
		WillReturnRows(rows)

	stored, err := repo.UpsertRecord(context.Background(), &models.AttendanceRecord{
		SessionID: "sess-1",
		StudentID: "student-1",
		Status:    models.AttendanceStatusLate,
		MarkedBy:  "teacher-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "rec-1", stored.ID)
	assert.Equal(t, models.AttendanceStatusLate, stored.Status)
}

func TestAttendanceRepositoryCloseSession(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE attendance_sessions SET is_open = FALSE WHERE id = $1 AND is_open")).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	// zero rows affected: already closed, still a success
	err := repo.CloseSession(context.Background(), "sess-1")
	assert.NoError(t, err)
}

func TestAttendanceRepositoryListSessionsOrder(t *testing.T) {
	db, mock, cleanup := newAttendanceRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	rows := sqlmock.NewRows([]string{"id", "classroom_id", "date", "title", "is_open", "created_by", "created_at"}).
		AddRow("sess-1", "class-1", time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), nil, false, "teacher-1", time.Now()).
		AddRow("sess-2", "class-1", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), nil, true, "teacher-1", time.Now())

	mock.ExpectQuery("ORDER BY date ASC, created_at ASC").
		WithArgs("class-1").
		WillReturnRows(rows)

	sessions, err := repo.ListSessions(context.Background(), "class-1", true)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "sess-1", sessions[0].ID)
}
