package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classboard/classboard-api/internal/models"
)

func newNotificationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
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

func TestNotificationRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	notification := &models.Notification{
		UserID: "student-1",
		Title:  "New announcement",
		Type:   models.NotificationTypeAnnouncement,
	}
	err := repo.Create(context.Background(), notification)
	require.NoError(t, err)
	assert.NotEmpty(t, notification.ID)
	assert.False(t, notification.CreatedAt.IsZero())
}

func TestNotificationRepositoryMarkReadScopedToRecipient(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2")).
		WithArgs("notif-1", "other-user").
		WillReturnResult(sqlmock.NewResult(0, 0))

	updated, err := repo.MarkRead(context.Background(), "notif-1", "other-user")
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestNotificationRepositoryListForUserLimit(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	rows := sqlmock.NewRows([]string{"id", "user_id", "title", "body", "type", "classroom_id", "link", "is_read", "created_at"})
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs("student-1", notificationListLimit).
		WillReturnRows(rows)

	notifications, err := repo.ListForUser(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Empty(t, notifications)
}
