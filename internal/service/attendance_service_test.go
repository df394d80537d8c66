package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classboard/classboard-api/internal/models"
	"github.com/classboard/classboard-api/internal/repository"
	appErrors "github.com/classboard/classboard-api/pkg/errors"
)

type attendanceRepoMock struct {
	mu           sync.Mutex
	sessions     map[string]models.AttendanceSession
	records      map[string]models.AttendanceRecord
	studentNames map[string]string
}

func newAttendanceRepoMock() *attendanceRepoMock {
	return &attendanceRepoMock{
		sessions:     make(map[string]models.AttendanceSession),
		records:      make(map[string]models.AttendanceRecord),
		studentNames: make(map[string]string),
	}
}

func (m *attendanceRepoMock) CreateSession(ctx context.Context, session *models.AttendanceSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.ClassroomID == session.ClassroomID && existing.IsOpen {
			return repository.ErrOpenSessionExists
		}
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	m.sessions[session.ID] = *session
	return nil
}

func (m *attendanceRepoMock) FindSessionByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &session, nil
}

func (m *attendanceRepoMock) ListSessions(ctx context.Context, classroomID string, oldestFirst bool) ([]models.AttendanceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions := []models.AttendanceSession{}
	for _, session := range m.sessions {
		if session.ClassroomID == classroomID {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if oldestFirst {
			return sessions[i].Date.Before(sessions[j].Date)
		}
		return sessions[j].Date.Before(sessions[i].Date)
	})
	return sessions, nil
}

func (m *attendanceRepoMock) CloseSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if ok && session.IsOpen {
		session.IsOpen = false
		m.sessions[sessionID] = session
	}
	return nil
}

func (m *attendanceRepoMock) UpsertRecord(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := record.SessionID + "|" + record.StudentID
	stored, ok := m.records[key]
	if !ok {
		stored = *record
		stored.ID = uuid.NewString()
	}
	stored.Status = record.Status
	stored.MarkedBy = record.MarkedBy
	stored.UpdatedAt = time.Now().UTC()
	m.records[key] = stored
	return &stored, nil
}

func (m *attendanceRepoMock) ListRecords(ctx context.Context, sessionID string) ([]models.AttendanceRecordDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	details := []models.AttendanceRecordDetail{}
	for _, record := range m.records {
		if record.SessionID == sessionID {
			details = append(details, models.AttendanceRecordDetail{
				AttendanceRecord: record,
				StudentName:      m.studentNames[record.StudentID],
			})
		}
	}
	sort.Slice(details, func(i, j int) bool { return details[i].StudentName < details[j].StudentName })
	return details, nil
}

func (m *attendanceRepoMock) ListRecordsByClassroom(ctx context.Context, classroomID string) ([]models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := []models.AttendanceRecord{}
	for _, record := range m.records {
		session, ok := m.sessions[record.SessionID]
		if ok && session.ClassroomID == classroomID {
			records = append(records, record)
		}
	}
	return records, nil
}

func (m *attendanceRepoMock) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type classroomReaderMock struct {
	classrooms map[string]models.Classroom
}

func (m *classroomReaderMock) FindByID(ctx context.Context, id string) (*models.Classroom, error) {
	classroom, ok := m.classrooms[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &classroom, nil
}

type membershipReaderMock struct {
	roster map[string][]models.RosterEntry
}

func (m *membershipReaderMock) IsMember(ctx context.Context, classroomID, studentID string) (bool, error) {
	for _, entry := range m.roster[classroomID] {
		if entry.StudentID == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (m *membershipReaderMock) Roster(ctx context.Context, classroomID string) ([]models.RosterEntry, error) {
	return m.roster[classroomID], nil
}

type sessionNotifierMock struct {
	mu    sync.Mutex
	calls int
}

func (m *sessionNotifierMock) NotifySessionOpened(ctx context.Context, classroom *models.Classroom, session *models.AttendanceSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
}

type attendanceFixture struct {
	service     *AttendanceService
	repo        *attendanceRepoMock
	notifier    *sessionNotifierMock
	classroomID string
	teacher     *models.JWTClaims
	students    []*models.JWTClaims
}

func newAttendanceFixture(t *testing.T, studentCount int) *attendanceFixture {
	t.Helper()

	classroomID := uuid.NewString()
	teacherID := uuid.NewString()
	teacher := &models.JWTClaims{UserID: teacherID, Role: models.RoleTeacher, FullName: "Teacher"}

	repo := newAttendanceRepoMock()
	classrooms := &classroomReaderMock{classrooms: map[string]models.Classroom{
		classroomID: {ID: classroomID, Name: "Algebra", TeacherID: teacherID},
	}}

	names := []string{"Alice", "Bob", "Carol", "Dave", "Erin"}
	roster := []models.RosterEntry{}
	students := []*models.JWTClaims{}
	joined := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < studentCount; i++ {
		id := uuid.NewString()
		name := names[i%len(names)]
		repo.studentNames[id] = name
		roster = append(roster, models.RosterEntry{StudentID: id, FullName: name, JoinedAt: joined.Add(time.Duration(i) * time.Minute)})
		students = append(students, &models.JWTClaims{UserID: id, Role: models.RoleStudent, FullName: name})
	}
	members := &membershipReaderMock{roster: map[string][]models.RosterEntry{classroomID: roster}}

	notifier := &sessionNotifierMock{}
	svc := NewAttendanceService(repo, classrooms, members, notifier, nil, nil, nil)
	return &attendanceFixture{
		service:     svc,
		repo:        repo,
		notifier:    notifier,
		classroomID: classroomID,
		teacher:     teacher,
		students:    students,
	}
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	return appErr.Code
}

func TestOpenSessionConflictsWhileAnotherIsOpen(t *testing.T) {
	fx := newAttendanceFixture(t, 1)
	ctx := context.Background()
	date := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	first, err := fx.service.OpenSession(ctx, fx.classroomID, OpenSessionRequest{Date: date}, fx.teacher)
	require.NoError(t, err)
	assert.True(t, first.IsOpen)

	_, err = fx.service.OpenSession(ctx, fx.classroomID, OpenSessionRequest{Date: date.AddDate(0, 0, 1)}, fx.teacher)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, errCode(t, err))

	// closing frees the slot for a new session
	require.NoError(t, fx.service.CloseSession(ctx, first.ID, fx.teacher))
	_, err = fx.service.OpenSession(ctx, fx.classroomID, OpenSessionRequest{Date: date.AddDate(0, 0, 1)}, fx.teacher)
	require.NoError(t, err)
}

func TestOpenSessionConcurrentRaceHasOneWinner(t *testing.T) {
	fx := newAttendanceFixture(t, 1)
	ctx := context.Background()
	date := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	const attempts = 8
	results := make(chan error, attempts)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < attempts; i++ {
		go func() {
			start.Wait()
			_, err := fx.service.OpenSession(ctx, fx.classroomID, OpenSessionRequest{Date: date}, fx.teacher)
			results <- err
		}()
	}
	start.Done()

	successes, conflicts := 0, 0
	for i := 0; i < attempts; i++ {
		err := <-results
		if err == nil {
			successes++
			continue
		}
		assert.Equal(t, appErrors.ErrConflict.Code, errCode(t, err))
		conflicts++
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, conflicts)
}

func TestMarkIsIdempotentLastWriteWins(t *testing.T) {
	fx := newAttendanceFixture(t, 1)
	ctx := context.Background()
	student := fx.students[0]

	session, err := fx.service.OpenSession(ctx, fx.classroomID, OpenSessionRequest{Date: time.Now().UTC()}, fx.teacher)
	require.NoError(t, err)

	_, err = fx.service.Mark(ctx, session.ID, MarkAttendanceRequest{StudentID: student.UserID, Status: models.AttendanceStatusPresent}, fx.teacher)
	require.NoError(t, err)
	record, err := fx.service.Mark(ctx, session.ID, MarkAttendanceRequest{StudentID: student.UserID, Status: models.AttendanceStatusLate}, fx.teacher)
	require.NoError(t, err)

	assert.Equal(t, models.AttendanceStatusLate, record.Status)
	assert.Equal(t, 1, fx.repo.recordCount())
}

func TestMarkRejectsUnknownStatus(t *testing.T) {
	fx := newAttendanceFixture(t, 1)
	ctx := context.Background()

	session, err := fx.service.OpenSession(ctx, fx.classroomID, OpenSessionRequest{Date: time.Now().UTC()}, fx.teacher)
	require.NoError(t, err)

	_, err = fx.service.Mark(ctx, session.ID, MarkAttendanceRequest{StudentID: fx.students[0].UserID, Status: "excused"}, fx.teacher)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
	assert.Equal(t, 0, fx.repo.recordCount())
}

func TestMarkByStudentIsRejectedWithoutWrite(t *testing.T) {
	fx := newAttendanceFixture(t, 2)
	ctx := context.Background()

	session, err := fx.service.OpenSession(ctx, fx.classroomID, OpenSessionRequest{Date: time.Now().UTC()}, fx.teacher)
	require.NoError(t, err)

	_, err = fx.service.Mark(ctx, session.ID, MarkAttendanceRequest{StudentID: fx.students[1].UserID, Status: models.AttendanceStatusPresent}, fx.students[0])
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
	assert.Equal(t, 0, fx.repo.recordCount())

	_, err = fx.service.Mark(ctx, session.ID, MarkAttendanceRequest{StudentID: fx.students[1].UserID, Status: models.AttendanceStatusPresent}, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, errCode(t, err))
	assert.Equal(t, 0, fx.repo.recordCount())
}

func TestCloseSessionIsIdempotent(t *testing.T) {
	fx := newAttendanceFixture(t, 1)
	ctx := context.Background()

	session, err := fx.service.OpenSession(ctx, fx.classroomID, OpenSessionRequest{Date: time.Now().UTC()}, fx.teacher)
	require.NoError(t, err)

	require.NoError(t, fx.service.CloseSession(ctx, session.ID, fx.teacher))
	require.NoError(t, fx.service.CloseSession(ctx, session.ID, fx.teacher))

	stored, err := fx.service.GetSession(ctx, session.ID, fx.teacher)
	require.NoError(t, err)
	assert.False(t, stored.IsOpen)
}

func TestCloseSessionUnknownIDIsNotFound(t *testing.T) {
	fx := newAttendanceFixture(t, 1)

	err := fx.service.CloseSession(context.Background(), uuid.NewString(), fx.teacher)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(t, err))
}

func TestCloseDoesNotWriteAbsentRecords(t *testing.T) {
	fx := newAttendanceFixture(t, 3)
	ctx := context.Background()

	session, err := fx.service.OpenSession(ctx, fx.classroomID, OpenSessionRequest{Date: time.Now().UTC()}, fx.teacher)
	require.NoError(t, err)
	require.NoError(t, fx.service.CloseSession(ctx, session.ID, fx.teacher))

	assert.Equal(t, 0, fx.repo.recordCount())
}

// Lifecycle scenario: A present, B late, C never marked. The live view lists
// only A and B; the summary grid shows C as absent.
func TestLiveViewUnmarkedVersusSummaryAbsent(t *testing.T) {
	fx := newAttendanceFixture(t, 3)
	ctx := context.Background()
	a, b, c := fx.students[0], fx.students[1], fx.students[2]

	session, err := fx.service.OpenSession(ctx, fx.classroomID, OpenSessionRequest{Date: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)}, fx.teacher)
	require.NoError(t, err)

	_, err = fx.service.Mark(ctx, session.ID, MarkAttendanceRequest{StudentID: a.UserID, Status: models.AttendanceStatusPresent}, fx.teacher)
	require.NoError(t, err)
	_, err = fx.service.Mark(ctx, session.ID, MarkAttendanceRequest{StudentID: b.UserID, Status: models.AttendanceStatusLate}, fx.teacher)
	require.NoError(t, err)
	require.NoError(t, fx.service.CloseSession(ctx, session.ID, fx.teacher))

	live, err := fx.service.ListRecords(ctx, session.ID, fx.teacher)
	require.NoError(t, err)
	require.Len(t, live, 2)
	byStudent := map[string]models.AttendanceStatus{}
	for _, record := range live {
		byStudent[record.StudentID] = record.Status
	}
	assert.Equal(t, models.AttendanceStatusPresent, byStudent[a.UserID])
	assert.Equal(t, models.AttendanceStatusLate, byStudent[b.UserID])
	_, marked := byStudent[c.UserID]
	assert.False(t, marked)

	summary, err := fx.service.BuildSummary(ctx, fx.classroomID, fx.teacher)
	require.NoError(t, err)
	require.Len(t, summary.Sessions, 1)
	require.Len(t, summary.Grid, 3)
	statuses := map[string]models.AttendanceStatus{}
	for _, row := range summary.Grid {
		require.Len(t, row.Statuses, 1)
		statuses[row.StudentID] = row.Statuses[0]
	}
	assert.Equal(t, models.AttendanceStatusPresent, statuses[a.UserID])
	assert.Equal(t, models.AttendanceStatusLate, statuses[b.UserID])
	assert.Equal(t, models.AttendanceStatusAbsent, statuses[c.UserID])
}

func TestSummaryGridDimensionsAndColumnOrder(t *testing.T) {
	fx := newAttendanceFixture(t, 4)
	ctx := context.Background()

	dates := []time.Time{
		time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC),
	}
	for _, date := range dates {
		session, err := fx.service.OpenSession(ctx, fx.classroomID, OpenSessionRequest{Date: date}, fx.teacher)
		require.NoError(t, err)
		require.NoError(t, fx.service.CloseSession(ctx, session.ID, fx.teacher))
	}

	summary, err := fx.service.BuildSummary(ctx, fx.classroomID, fx.teacher)
	require.NoError(t, err)

	require.Len(t, summary.Sessions, len(dates))
	for i, session := range summary.Sessions {
		assert.True(t, session.Date.Equal(dates[i]), "columns must run oldest first")
	}
	require.Len(t, summary.Grid, 4)
	for _, row := range summary.Grid {
		assert.Len(t, row.Statuses, len(dates))
	}
}

func TestSummaryRowsFollowRosterOrder(t *testing.T) {
	fx := newAttendanceFixture(t, 3)
	ctx := context.Background()

	summary, err := fx.service.BuildSummary(ctx, fx.classroomID, fx.teacher)
	require.NoError(t, err)

	require.Len(t, summary.Grid, len(fx.students))
	for i, row := range summary.Grid {
		assert.Equal(t, fx.students[i].UserID, row.StudentID)
	}
}

func TestListSessionsNewestFirstForMembersOnly(t *testing.T) {
	fx := newAttendanceFixture(t, 1)
	ctx := context.Background()

	dates := []time.Time{
		time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	}
	for _, date := range dates {
		session, err := fx.service.OpenSession(ctx, fx.classroomID, OpenSessionRequest{Date: date}, fx.teacher)
		require.NoError(t, err)
		require.NoError(t, fx.service.CloseSession(ctx, session.ID, fx.teacher))
	}

	sessions, err := fx.service.ListSessions(ctx, fx.classroomID, fx.students[0])
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.True(t, sessions[0].Date.After(sessions[1].Date))

	outsider := &models.JWTClaims{UserID: uuid.NewString(), Role: models.RoleStudent}
	_, err = fx.service.ListSessions(ctx, fx.classroomID, outsider)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestOpenSessionNotifiesMembers(t *testing.T) {
	fx := newAttendanceFixture(t, 2)

	_, err := fx.service.OpenSession(context.Background(), fx.classroomID, OpenSessionRequest{Date: time.Now().UTC()}, fx.teacher)
	require.NoError(t, err)

	fx.notifier.mu.Lock()
	defer fx.notifier.mu.Unlock()
	assert.Equal(t, 1, fx.notifier.calls)
}

func TestExportSummaryCSV(t *testing.T) {
	fx := newAttendanceFixture(t, 2)
	ctx := context.Background()

	session, err := fx.service.OpenSession(ctx, fx.classroomID, OpenSessionRequest{Date: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)}, fx.teacher)
	require.NoError(t, err)
	_, err = fx.service.Mark(ctx, session.ID, MarkAttendanceRequest{StudentID: fx.students[0].UserID, Status: models.AttendanceStatusPresent}, fx.teacher)
	require.NoError(t, err)

	result, err := fx.service.ExportSummary(ctx, fx.classroomID, ExportFormatCSV, fx.teacher)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Contains(t, string(result.Content), "2024-01-10")
	assert.Contains(t, string(result.Content), "present")

	_, err = fx.service.ExportSummary(ctx, fx.classroomID, ExportFormat("xml"), fx.teacher)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
}
