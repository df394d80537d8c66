package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/classboard/classboard-api/internal/models"
	appErrors "github.com/classboard/classboard-api/pkg/errors"
)

type membershipRepository interface {
	Add(ctx context.Context, membership *models.Membership) (bool, error)
	Remove(ctx context.Context, classroomID, studentID string) (bool, error)
	IsMember(ctx context.Context, classroomID, studentID string) (bool, error)
	Roster(ctx context.Context, classroomID string) ([]models.RosterEntry, error)
	MemberIDs(ctx context.Context, classroomID string) ([]string, error)
}

type classroomReader interface {
	FindByID(ctx context.Context, id string) (*models.Classroom, error)
}

// MembershipService answers who belongs to a classroom and manages the
// enrollment list on behalf of the owning teacher.
type MembershipService struct {
	repo       membershipRepository
	classrooms classroomReader
	notifier   memberNotifier
	cache      *CacheService
	logger     *zap.Logger
}

// NewMembershipService constructs MembershipService.
func NewMembershipService(repo membershipRepository, classrooms classroomReader, notifier memberNotifier, cache *CacheService, logger *zap.Logger) *MembershipService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MembershipService{repo: repo, classrooms: classrooms, notifier: notifier, cache: cache, logger: logger}
}

// Roster lists enrolled students in join order. Stable order matters here:
// the attendance summary derives its row order from this list.
func (s *MembershipService) Roster(ctx context.Context, classroomID string, claims *models.JWTClaims) ([]models.RosterEntry, error) {
	if _, err := s.requireAccess(ctx, classroomID, claims); err != nil {
		return nil, err
	}
	roster, err := s.repo.Roster(ctx, classroomID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	return roster, nil
}

// Add enrolls a student directly. Teacher only. Adding a student twice is
// a silent success.
func (s *MembershipService) Add(ctx context.Context, classroomID, studentID string, claims *models.JWTClaims) error {
	classroom, err := s.requireOwner(ctx, classroomID, claims)
	if err != nil {
		return err
	}
	inserted, err := s.repo.Add(ctx, &models.Membership{ClassroomID: classroomID, StudentID: studentID})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add member")
	}
	if inserted {
		if s.notifier != nil {
			s.notifier.NotifyMemberJoined(ctx, classroom, studentID, "")
		}
		if s.cache != nil {
			s.cache.InvalidateClassroom(ctx, classroomID)
		}
	}
	return nil
}

// Remove unenrolls a student. Teacher only.
func (s *MembershipService) Remove(ctx context.Context, classroomID, studentID string, claims *models.JWTClaims) error {
	if _, err := s.requireOwner(ctx, classroomID, claims); err != nil {
		return err
	}
	removed, err := s.repo.Remove(ctx, classroomID, studentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove member")
	}
	if !removed {
		return appErrors.Clone(appErrors.ErrNotFound, "student is not a member")
	}
	if s.cache != nil {
		s.cache.InvalidateClassroom(ctx, classroomID)
	}
	return nil
}

// Leave lets a student unenroll themselves.
func (s *MembershipService) Leave(ctx context.Context, classroomID string, claims *models.JWTClaims) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	removed, err := s.repo.Remove(ctx, classroomID, claims.UserID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to leave classroom")
	}
	if !removed {
		return appErrors.Clone(appErrors.ErrNotFound, "not a member of this classroom")
	}
	if s.cache != nil {
		s.cache.InvalidateClassroom(ctx, classroomID)
	}
	return nil
}

// IsMember reports whether the user belongs to the classroom.
func (s *MembershipService) IsMember(ctx context.Context, classroomID, userID string) (bool, error) {
	ok, err := s.repo.IsMember(ctx, classroomID, userID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check membership")
	}
	return ok, nil
}

// MemberIDs returns every enrolled student id. Used by fan-out.
func (s *MembershipService) MemberIDs(ctx context.Context, classroomID string) ([]string, error) {
	ids, err := s.repo.MemberIDs(ctx, classroomID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list members")
	}
	return ids, nil
}

func (s *MembershipService) requireOwner(ctx context.Context, classroomID string, claims *models.JWTClaims) (*models.Classroom, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	classroom, err := s.classrooms.FindByID(ctx, classroomID)
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

func (s *MembershipService) requireAccess(ctx context.Context, classroomID string, claims *models.JWTClaims) (*models.Classroom, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	classroom, err := s.classrooms.FindByID(ctx, classroomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "classroom not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load classroom")
	}
	if classroom.TeacherID == claims.UserID {
		return classroom, nil
	}
	member, err := s.repo.IsMember(ctx, classroomID, claims.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check membership")
	}
	if !member {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a classroom member")
	}
	return classroom, nil
}
