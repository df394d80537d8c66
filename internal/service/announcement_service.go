package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/classboard/classboard-api/internal/models"
	appErrors "github.com/classboard/classboard-api/pkg/errors"
)

type announcementRepository interface {
	Create(ctx context.Context, announcement *models.Announcement) error
	GetByID(ctx context.Context, id string) (*models.Announcement, error)
	ListByClassroom(ctx context.Context, classroomID string) ([]models.AnnouncementDetail, error)
	Delete(ctx context.Context, id string) error
	CreateComment(ctx context.Context, comment *models.Comment) error
}

type announcementNotifier interface {
	NotifyAnnouncementPosted(ctx context.Context, classroom *models.Classroom, announcement *models.Announcement)
}

// PostAnnouncementRequest carries a new stream post.
type PostAnnouncementRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

// PostCommentRequest carries a reply under an announcement.
type PostCommentRequest struct {
	Content string `json:"content" validate:"required,max=2000"`
}

// AnnouncementService manages the classroom stream: posts, replies and
// deletion, with fan-out to members on new posts.
type AnnouncementService struct {
	repo       announcementRepository
	classrooms classroomReader
	members    attendanceMembershipReader
	notifier   announcementNotifier
	cache      *CacheService
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewAnnouncementService constructs AnnouncementService.
func NewAnnouncementService(repo announcementRepository, classrooms classroomReader, members attendanceMembershipReader, notifier announcementNotifier, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *AnnouncementService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnnouncementService{repo: repo, classrooms: classrooms, members: members, notifier: notifier, cache: cache, validator: validate, logger: logger}
}

// Post publishes an announcement to the classroom stream. Teacher only.
func (s *AnnouncementService) Post(ctx context.Context, classroomID string, req PostAnnouncementRequest, claims *models.JWTClaims) (*models.Announcement, error) {
	classroom, err := s.requireAccess(ctx, classroomID, claims)
	if err != nil {
		return nil, err
	}
	if classroom.TeacherID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the classroom teacher may post announcements")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid announcement payload")
	}

	announcement := &models.Announcement{
		ClassroomID: classroomID,
		AuthorID:    claims.UserID,
		Content:     req.Content,
	}
	if err := s.repo.Create(ctx, announcement); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create announcement")
	}

	if s.cache != nil {
		s.cache.InvalidateClassroom(ctx, classroomID)
	}
	if s.notifier != nil {
		s.notifier.NotifyAnnouncementPosted(ctx, classroom, announcement)
	}
	return announcement, nil
}

// List returns the classroom stream with comments, newest post first.
func (s *AnnouncementService) List(ctx context.Context, classroomID string, claims *models.JWTClaims) ([]models.AnnouncementDetail, error) {
	if _, err := s.requireAccess(ctx, classroomID, claims); err != nil {
		return nil, err
	}
	announcements, err := s.repo.ListByClassroom(ctx, classroomID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list announcements")
	}
	return announcements, nil
}

// Comment replies under an announcement. Any classroom member may comment.
func (s *AnnouncementService) Comment(ctx context.Context, announcementID string, req PostCommentRequest, claims *models.JWTClaims) (*models.Comment, error) {
	announcement, err := s.loadAnnouncement(ctx, announcementID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireAccess(ctx, announcement.ClassroomID, claims); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload")
	}

	comment := &models.Comment{
		AnnouncementID: announcementID,
		AuthorID:       claims.UserID,
		AuthorName:     claims.FullName,
		Content:        req.Content,
	}
	if err := s.repo.CreateComment(ctx, comment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create comment")
	}
	if s.cache != nil {
		s.cache.InvalidateClassroom(ctx, announcement.ClassroomID)
	}
	return comment, nil
}

// Delete removes an announcement. The author or the classroom teacher may
// delete; anyone else gets Forbidden.
func (s *AnnouncementService) Delete(ctx context.Context, announcementID string, claims *models.JWTClaims) error {
	announcement, err := s.loadAnnouncement(ctx, announcementID)
	if err != nil {
		return err
	}
	classroom, err := s.requireAccess(ctx, announcement.ClassroomID, claims)
	if err != nil {
		return err
	}
	if claims.UserID != announcement.AuthorID && claims.UserID != classroom.TeacherID {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot delete someone else's announcement")
	}
	if err := s.repo.Delete(ctx, announcementID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete announcement")
	}
	if s.cache != nil {
		s.cache.InvalidateClassroom(ctx, announcement.ClassroomID)
	}
	return nil
}

func (s *AnnouncementService) loadAnnouncement(ctx context.Context, id string) (*models.Announcement, error) {
	announcement, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load announcement")
	}
	return announcement, nil
}

func (s *AnnouncementService) requireAccess(ctx context.Context, classroomID string, claims *models.JWTClaims) (*models.Classroom, error) {
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
	member, err := s.members.IsMember(ctx, classroomID, claims.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check membership")
	}
	if !member {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a classroom member")
	}
	return classroom, nil
}
