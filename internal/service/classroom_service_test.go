package service

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classboard/classboard-api/internal/models"
	appErrors "github.com/classboard/classboard-api/pkg/errors"
)

type classroomRepoMock struct {
	mu         sync.Mutex
	classrooms map[string]models.Classroom
	byCode     map[string]string
	deleted    []string
}

func newClassroomRepoMock() *classroomRepoMock {
	return &classroomRepoMock{classrooms: make(map[string]models.Classroom), byCode: make(map[string]string)}
}

func (m *classroomRepoMock) Create(ctx context.Context, classroom *models.Classroom) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if classroom.ID == "" {
		classroom.ID = uuid.NewString()
	}
	m.classrooms[classroom.ID] = *classroom
	m.byCode[classroom.InviteCode] = classroom.ID
	return nil
}

func (m *classroomRepoMock) FindByID(ctx context.Context, id string) (*models.Classroom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	classroom, ok := m.classrooms[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &classroom, nil
}

func (m *classroomRepoMock) FindByInviteCode(ctx context.Context, code string) (*models.Classroom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byCode[code]
	if !ok {
		return nil, sql.ErrNoRows
	}
	classroom := m.classrooms[id]
	return &classroom, nil
}

func (m *classroomRepoMock) ListForTeacher(ctx context.Context, teacherID string) ([]models.ClassroomDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.ClassroomDetail{}
	for _, classroom := range m.classrooms {
		if classroom.TeacherID == teacherID {
			out = append(out, models.ClassroomDetail{Classroom: classroom})
		}
	}
	return out, nil
}

func (m *classroomRepoMock) ListForStudent(ctx context.Context, studentID string) ([]models.ClassroomDetail, error) {
	return []models.ClassroomDetail{}, nil
}

func (m *classroomRepoMock) UpdateInviteCode(ctx context.Context, id, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	classroom, ok := m.classrooms[id]
	if !ok {
		return sql.ErrNoRows
	}
	delete(m.byCode, classroom.InviteCode)
	classroom.InviteCode = code
	m.classrooms[id] = classroom
	m.byCode[code] = id
	return nil
}

func (m *classroomRepoMock) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.classrooms, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type membershipWriterMock struct {
	mu      sync.Mutex
	members map[string]map[string]bool
}

func newMembershipWriterMock() *membershipWriterMock {
	return &membershipWriterMock{members: make(map[string]map[string]bool)}
}

func (m *membershipWriterMock) Add(ctx context.Context, membership *models.Membership) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[membership.ClassroomID] == nil {
		m.members[membership.ClassroomID] = make(map[string]bool)
	}
	if m.members[membership.ClassroomID][membership.StudentID] {
		return false, nil
	}
	m.members[membership.ClassroomID][membership.StudentID] = true
	return true, nil
}

func (m *membershipWriterMock) IsMember(ctx context.Context, classroomID, studentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.members[classroomID][studentID], nil
}

type memberNotifierMock struct {
	mu    sync.Mutex
	calls int
}

func (m *memberNotifierMock) NotifyMemberJoined(ctx context.Context, classroom *models.Classroom, studentID, studentName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
}

func (m *memberNotifierMock) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newClassroomService(repo *classroomRepoMock, members *membershipWriterMock, notifier *memberNotifierMock) *ClassroomService {
	return NewClassroomService(repo, members, notifier, nil, nil, nil)
}

func teacherClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: uuid.NewString(), Role: models.RoleTeacher, FullName: "Teacher"}
}

func studentClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: uuid.NewString(), Role: models.RoleStudent, FullName: "Student"}
}

func TestCreateClassroomGeneratesCodeAndColor(t *testing.T) {
	repo := newClassroomRepoMock()
	svc := newClassroomService(repo, newMembershipWriterMock(), &memberNotifierMock{})

	classroom, err := svc.Create(context.Background(), CreateClassroomRequest{Name: "Algebra"}, teacherClaims())
	require.NoError(t, err)

	assert.Len(t, classroom.InviteCode, inviteCodeLength)
	for _, r := range classroom.InviteCode {
		assert.Contains(t, inviteCodeAlphabet, string(r))
	}
	assert.Contains(t, coverColors, classroom.CoverColor)
}

func TestCreateClassroomRejectsStudents(t *testing.T) {
	svc := newClassroomService(newClassroomRepoMock(), newMembershipWriterMock(), &memberNotifierMock{})

	_, err := svc.Create(context.Background(), CreateClassroomRequest{Name: "Algebra"}, studentClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))

	_, err = svc.Create(context.Background(), CreateClassroomRequest{Name: "Algebra"}, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, errCode(t, err))
}

func TestJoinByInviteCode(t *testing.T) {
	repo := newClassroomRepoMock()
	members := newMembershipWriterMock()
	notifier := &memberNotifierMock{}
	svc := newClassroomService(repo, members, notifier)
	ctx := context.Background()

	teacher := teacherClaims()
	classroom, err := svc.Create(ctx, CreateClassroomRequest{Name: "Algebra"}, teacher)
	require.NoError(t, err)

	student := studentClaims()
	joined, err := svc.Join(ctx, JoinClassroomRequest{InviteCode: classroom.InviteCode}, student)
	require.NoError(t, err)
	assert.Equal(t, classroom.ID, joined.ID)
	assert.Empty(t, joined.InviteCode)
	assert.Equal(t, 1, notifier.count())

	member, err := members.IsMember(ctx, classroom.ID, student.UserID)
	require.NoError(t, err)
	assert.True(t, member)
}

func TestJoinTwiceIsSilentSuccess(t *testing.T) {
	repo := newClassroomRepoMock()
	members := newMembershipWriterMock()
	notifier := &memberNotifierMock{}
	svc := newClassroomService(repo, members, notifier)
	ctx := context.Background()

	classroom, err := svc.Create(ctx, CreateClassroomRequest{Name: "Algebra"}, teacherClaims())
	require.NoError(t, err)

	student := studentClaims()
	_, err = svc.Join(ctx, JoinClassroomRequest{InviteCode: classroom.InviteCode}, student)
	require.NoError(t, err)
	_, err = svc.Join(ctx, JoinClassroomRequest{InviteCode: classroom.InviteCode}, student)
	require.NoError(t, err)

	// only the first join notifies the teacher
	assert.Equal(t, 1, notifier.count())
}

func TestJoinNormalizesInviteCode(t *testing.T) {
	repo := newClassroomRepoMock()
	svc := newClassroomService(repo, newMembershipWriterMock(), &memberNotifierMock{})
	ctx := context.Background()

	classroom, err := svc.Create(ctx, CreateClassroomRequest{Name: "Algebra"}, teacherClaims())
	require.NoError(t, err)

	scrambled := " " + strings.ToLower(classroom.InviteCode) + " "
	joined, err := svc.Join(ctx, JoinClassroomRequest{InviteCode: scrambled}, studentClaims())
	require.NoError(t, err)
	assert.Equal(t, classroom.ID, joined.ID)
}

func TestJoinUnknownCodeIsNotFound(t *testing.T) {
	svc := newClassroomService(newClassroomRepoMock(), newMembershipWriterMock(), &memberNotifierMock{})

	_, err := svc.Join(context.Background(), JoinClassroomRequest{InviteCode: "ZZZZZZZ"}, studentClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, errCode(t, err))
}

func TestGetHidesInviteCodeFromStudents(t *testing.T) {
	repo := newClassroomRepoMock()
	members := newMembershipWriterMock()
	svc := newClassroomService(repo, members, &memberNotifierMock{})
	ctx := context.Background()

	teacher := teacherClaims()
	classroom, err := svc.Create(ctx, CreateClassroomRequest{Name: "Algebra"}, teacher)
	require.NoError(t, err)

	student := studentClaims()
	_, err = svc.Join(ctx, JoinClassroomRequest{InviteCode: classroom.InviteCode}, student)
	require.NoError(t, err)

	asTeacher, err := svc.Get(ctx, classroom.ID, teacher)
	require.NoError(t, err)
	assert.NotEmpty(t, asTeacher.InviteCode)

	asStudent, err := svc.Get(ctx, classroom.ID, student)
	require.NoError(t, err)
	assert.Empty(t, asStudent.InviteCode)

	_, err = svc.Get(ctx, classroom.ID, studentClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestRegenerateInviteCodeIsOwnerOnly(t *testing.T) {
	repo := newClassroomRepoMock()
	svc := newClassroomService(repo, newMembershipWriterMock(), &memberNotifierMock{})
	ctx := context.Background()

	teacher := teacherClaims()
	classroom, err := svc.Create(ctx, CreateClassroomRequest{Name: "Algebra"}, teacher)
	require.NoError(t, err)
	oldCode := classroom.InviteCode

	code, err := svc.RegenerateInviteCode(ctx, classroom.ID, teacher)
	require.NoError(t, err)
	assert.NotEqual(t, oldCode, code)
	assert.Len(t, code, inviteCodeLength)

	_, err = svc.RegenerateInviteCode(ctx, classroom.ID, teacherClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestDeleteClassroomIsOwnerOnly(t *testing.T) {
	repo := newClassroomRepoMock()
	svc := newClassroomService(repo, newMembershipWriterMock(), &memberNotifierMock{})
	ctx := context.Background()

	teacher := teacherClaims()
	classroom, err := svc.Create(ctx, CreateClassroomRequest{Name: "Algebra"}, teacher)
	require.NoError(t, err)

	err = svc.Delete(ctx, classroom.ID, teacherClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))

	require.NoError(t, svc.Delete(ctx, classroom.ID, teacher))
	assert.Equal(t, []string{classroom.ID}, repo.deleted)
}
