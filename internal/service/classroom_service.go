package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"math/big"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/classboard/classboard-api/internal/models"
	"github.com/classboard/classboard-api/internal/repository"
	appErrors "github.com/classboard/classboard-api/pkg/errors"
)

// inviteCodeAlphabet drops easily-confused characters (I, O, 0, 1).
const (
	inviteCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	inviteCodeLength   = 7
)

var coverColors = []string{"#1e40af", "#15803d", "#b45309", "#9f1239", "#6d28d9", "#0e7490"}

type classroomRepository interface {
	Create(ctx context.Context, classroom *models.Classroom) error
	FindByID(ctx context.Context, id string) (*models.Classroom, error)
	FindByInviteCode(ctx context.Context, code string) (*models.Classroom, error)
	ListForTeacher(ctx context.Context, teacherID string) ([]models.ClassroomDetail, error)
	ListForStudent(ctx context.Context, studentID string) ([]models.ClassroomDetail, error)
	UpdateInviteCode(ctx context.Context, id, code string) error
	Delete(ctx context.Context, id string) error
}

type membershipWriter interface {
	Add(ctx context.Context, membership *models.Membership) (bool, error)
	IsMember(ctx context.Context, classroomID, studentID string) (bool, error)
}

type memberNotifier interface {
	NotifyMemberJoined(ctx context.Context, classroom *models.Classroom, studentID, studentName string)
}

// CreateClassroomRequest describes classroom creation payload.
type CreateClassroomRequest struct {
	Name        string  `json:"name" validate:"required,max=120"`
	Description *string `json:"description"`
	Subject     *string `json:"subject"`
	Section     *string `json:"section"`
	Room        *string `json:"room"`
}

// JoinClassroomRequest carries the invite code for join-by-code.
type JoinClassroomRequest struct {
	InviteCode string `json:"invite_code" validate:"required"`
}

// ClassroomService orchestrates classroom lifecycle workflows.
type ClassroomService struct {
	repo      classroomRepository
	members   membershipWriter
	notifier  memberNotifier
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassroomService constructs ClassroomService.
func NewClassroomService(repo classroomRepository, members membershipWriter, notifier memberNotifier, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ClassroomService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassroomService{repo: repo, members: members, notifier: notifier, cache: cache, validator: validate, logger: logger}
}

// Create opens a new classroom owned by the requesting teacher.
func (s *ClassroomService) Create(ctx context.Context, req CreateClassroomRequest, claims *models.JWTClaims) (*models.Classroom, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if claims.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers can create classrooms")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid classroom payload")
	}

	classroom := &models.Classroom{
		Name:        req.Name,
		Description: req.Description,
		Subject:     req.Subject,
		Section:     req.Section,
		Room:        req.Room,
		CoverColor:  randomCoverColor(),
		TeacherID:   claims.UserID,
	}

	// invite codes collide rarely; regenerate and retry a few times
	for attempt := 0; attempt < 3; attempt++ {
		code, err := generateInviteCode()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate invite code")
		}
		classroom.InviteCode = code
		err = s.repo.Create(ctx, classroom)
		if err == nil {
			return classroom, nil
		}
		if !repository.IsUniqueViolation(err, "") {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create classroom")
		}
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, "could not allocate a unique invite code")
}

// Get returns one classroom. Readable by the owner and enrolled students.
func (s *ClassroomService) Get(ctx context.Context, classroomID string, claims *models.JWTClaims) (*models.Classroom, error) {
	classroom, err := s.authorizeMember(ctx, classroomID, claims)
	if err != nil {
		return nil, err
	}
	// students never see the join token
	if claims.UserID != classroom.TeacherID {
		classroom.InviteCode = ""
	}
	return classroom, nil
}

// ListMine returns the classrooms relevant to the caller: owned ones for
// teachers, enrolled ones for students.
func (s *ClassroomService) ListMine(ctx context.Context, claims *models.JWTClaims) ([]models.ClassroomDetail, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	var (
		classrooms []models.ClassroomDetail
		err        error
	)
	if claims.Role == models.RoleTeacher {
		classrooms, err = s.repo.ListForTeacher(ctx, claims.UserID)
	} else {
		classrooms, err = s.repo.ListForStudent(ctx, claims.UserID)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classrooms")
	}
	if claims.Role != models.RoleTeacher {
		for i := range classrooms {
			classrooms[i].InviteCode = ""
		}
	}
	return classrooms, nil
}

// Join enrolls the calling student using an invite code. Joining a
// classroom twice is a silent success.
func (s *ClassroomService) Join(ctx context.Context, req JoinClassroomRequest, claims *models.JWTClaims) (*models.Classroom, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if claims.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can join classrooms")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid join payload")
	}

	classroom, err := s.repo.FindByInviteCode(ctx, normalizeInviteCode(req.InviteCode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invalid invite code")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve invite code")
	}

	inserted, err := s.members.Add(ctx, &models.Membership{ClassroomID: classroom.ID, StudentID: claims.UserID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to join classroom")
	}
	if inserted {
		if s.notifier != nil {
			s.notifier.NotifyMemberJoined(ctx, classroom, claims.UserID, claims.FullName)
		}
		if s.cache != nil {
			s.cache.InvalidateClassroom(ctx, classroom.ID)
		}
	}
	classroom.InviteCode = ""
	return classroom, nil
}

// RegenerateInviteCode replaces the join token. Owner only.
func (s *ClassroomService) RegenerateInviteCode(ctx context.Context, classroomID string, claims *models.JWTClaims) (string, error) {
	classroom, err := s.authorizeOwner(ctx, classroomID, claims)
	if err != nil {
		return "", err
	}
	code, err := generateInviteCode()
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate invite code")
	}
	if err := s.repo.UpdateInviteCode(ctx, classroom.ID, code); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update invite code")
	}
	return code, nil
}

// Delete removes a classroom and everything under it. Owner only.
func (s *ClassroomService) Delete(ctx context.Context, classroomID string, claims *models.JWTClaims) error {
	classroom, err := s.authorizeOwner(ctx, classroomID, claims)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, classroom.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete classroom")
	}
	if s.cache != nil {
		s.cache.InvalidateClassroom(ctx, classroom.ID)
	}
	return nil
}

func (s *ClassroomService) authorizeOwner(ctx context.Context, classroomID string, claims *models.JWTClaims) (*models.Classroom, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	classroom, err := s.repo.FindByID(ctx, classroomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "classroom not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load classroom")
	}
	if classroom.TeacherID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not the classroom teacher")
	}
	return classroom, nil
}

func (s *ClassroomService) authorizeMember(ctx context.Context, classroomID string, claims *models.JWTClaims) (*models.Classroom, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	classroom, err := s.repo.FindByID(ctx, classroomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "classroom not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load classroom")
	}
	if classroom.TeacherID == claims.UserID {
		return classroom, nil
	}
	member, err := s.members.IsMember(ctx, classroomID, claims.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check membership")
	}
	if !member {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a classroom member")
	}
	return classroom, nil
}

func generateInviteCode() (string, error) {
	code := make([]byte, inviteCodeLength)
	max := big.NewInt(int64(len(inviteCodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = inviteCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

func normalizeInviteCode(raw string) string {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == ' ' {
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

func randomCoverColor() string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(coverColors))))
	if err != nil {
		return coverColors[0]
	}
	return coverColors[n.Int64()]
}
