package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classboard/classboard-api/internal/models"
	appErrors "github.com/classboard/classboard-api/pkg/errors"
	"github.com/classboard/classboard-api/pkg/storage"
)

type resourceRepository interface {
	Create(ctx context.Context, resource *models.Resource) error
	GetByID(ctx context.Context, id string) (*models.Resource, error)
	ListByClassroom(ctx context.Context, classroomID string) ([]models.ResourceDetail, error)
	Delete(ctx context.Context, id string) error
}

type resourceNotifier interface {
	NotifyResourceAdded(ctx context.Context, classroom *models.Classroom, resource *models.Resource)
}

type resourceStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (io.ReadCloser, error)
	Delete(filename string) error
}

// UploadResourceRequest carries file metadata for an upload.
type UploadResourceRequest struct {
	FileName string
	FileType string
	FileSize int64
}

// ResourceDownload couples a signed token with its expiry.
type ResourceDownload struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ResourceService manages classroom materials: upload, listing, signed
// downloads and deletion. File bytes go through the storage collaborator;
// only metadata lives in the database.
type ResourceService struct {
	repo        resourceRepository
	classrooms  classroomReader
	members     attendanceMembershipReader
	notifier    resourceNotifier
	storage     resourceStorage
	signer      *storage.SignedURLSigner
	maxFileSize int64
	logger      *zap.Logger
}

// NewResourceService constructs ResourceService.
func NewResourceService(repo resourceRepository, classrooms classroomReader, members attendanceMembershipReader, notifier resourceNotifier, store resourceStorage, signer *storage.SignedURLSigner, maxFileSize int64, logger *zap.Logger) *ResourceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceService{
		repo:        repo,
		classrooms:  classrooms,
		members:     members,
		notifier:    notifier,
		storage:     store,
		signer:      signer,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// Upload stores the file bytes and records metadata. Teacher only.
func (s *ResourceService) Upload(ctx context.Context, classroomID string, req UploadResourceRequest, content io.Reader, claims *models.JWTClaims) (*models.Resource, error) {
	classroom, err := s.requireAccess(ctx, classroomID, claims)
	if err != nil {
		return nil, err
	}
	if classroom.TeacherID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the classroom teacher may upload materials")
	}
	if req.FileName == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file name is required")
	}
	if s.maxFileSize > 0 && req.FileSize > s.maxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file exceeds the maximum allowed size")
	}

	resourceID := uuid.NewString()
	relPath := filepath.Join(classroomID, resourceID+filepath.Ext(req.FileName))
	storedPath, err := s.storage.SaveStream(relPath, content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}

	resource := &models.Resource{
		ID:          resourceID,
		ClassroomID: classroomID,
		UploaderID:  claims.UserID,
		FileName:    req.FileName,
		FilePath:    storedPath,
		FileType:    req.FileType,
		FileSize:    req.FileSize,
	}
	if err := s.repo.Create(ctx, resource); err != nil {
		// metadata insert failed, drop the orphaned file
		if cleanupErr := s.storage.Delete(storedPath); cleanupErr != nil {
			s.logger.Warn("orphaned resource file left behind", zap.String("path", storedPath), zap.Error(cleanupErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record resource")
	}

	if s.notifier != nil {
		s.notifier.NotifyResourceAdded(ctx, classroom, resource)
	}
	return resource, nil
}

// List returns the classroom's materials, newest first.
func (s *ResourceService) List(ctx context.Context, classroomID string, claims *models.JWTClaims) ([]models.ResourceDetail, error) {
	if _, err := s.requireAccess(ctx, classroomID, claims); err != nil {
		return nil, err
	}
	resources, err := s.repo.ListByClassroom(ctx, classroomID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list resources")
	}
	return resources, nil
}

// SignedDownload issues a time-limited download token for a resource.
func (s *ResourceService) SignedDownload(ctx context.Context, resourceID string, claims *models.JWTClaims) (*ResourceDownload, error) {
	resource, err := s.loadResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireAccess(ctx, resource.ClassroomID, claims); err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(resource.ID, resource.FilePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download")
	}
	return &ResourceDownload{
		URL:       fmt.Sprintf("/resources/download/%s", token),
		ExpiresAt: expiresAt,
	}, nil
}

// OpenByToken validates a signed token and opens the underlying file. The
// token carries its own authorization, no claims are needed.
func (s *ResourceService) OpenByToken(ctx context.Context, token string) (*models.Resource, io.ReadCloser, error) {
	resourceID, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download link")
	}
	resource, err := s.loadResource(ctx, resourceID)
	if err != nil {
		return nil, nil, err
	}
	if resource.FilePath != relPath {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid download link")
	}
	file, err := s.storage.Open(resource.FilePath)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	return resource, file, nil
}

// Delete removes a resource and its stored file. The uploader or the
// classroom teacher may delete.
func (s *ResourceService) Delete(ctx context.Context, resourceID string, claims *models.JWTClaims) error {
	resource, err := s.loadResource(ctx, resourceID)
	if err != nil {
		return err
	}
	classroom, err := s.requireAccess(ctx, resource.ClassroomID, claims)
	if err != nil {
		return err
	}
	if claims.UserID != resource.UploaderID && claims.UserID != classroom.TeacherID {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot delete someone else's resource")
	}
	if err := s.repo.Delete(ctx, resourceID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete resource")
	}
	if err := s.storage.Delete(resource.FilePath); err != nil {
		s.logger.Warn("failed to delete stored file", zap.String("path", resource.FilePath), zap.Error(err))
	}
	return nil
}

func (s *ResourceService) loadResource(ctx context.Context, id string) (*models.Resource, error) {
	resource, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "resource not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load resource")
	}
	return resource, nil
}

func (s *ResourceService) requireAccess(ctx context.Context, classroomID string, claims *models.JWTClaims) (*models.Classroom, error) {
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
