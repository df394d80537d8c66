package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/classboard/classboard-api/internal/models"
	"github.com/classboard/classboard-api/internal/repository"
	appErrors "github.com/classboard/classboard-api/pkg/errors"
	"github.com/classboard/classboard-api/pkg/export"
)

type attendanceRepository interface {
	CreateSession(ctx context.Context, session *models.AttendanceSession) error
	FindSessionByID(ctx context.Context, id string) (*models.AttendanceSession, error)
	ListSessions(ctx context.Context, classroomID string, oldestFirst bool) ([]models.AttendanceSession, error)
	CloseSession(ctx context.Context, sessionID string) error
	UpsertRecord(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error)
	ListRecords(ctx context.Context, sessionID string) ([]models.AttendanceRecordDetail, error)
	ListRecordsByClassroom(ctx context.Context, classroomID string) ([]models.AttendanceRecord, error)
}

type attendanceMembershipReader interface {
	IsMember(ctx context.Context, classroomID, studentID string) (bool, error)
	Roster(ctx context.Context, classroomID string) ([]models.RosterEntry, error)
}

type sessionNotifier interface {
	NotifySessionOpened(ctx context.Context, classroom *models.Classroom, session *models.AttendanceSession)
}

// OpenSessionRequest describes the payload for opening a session.
type OpenSessionRequest struct {
	Date  time.Time `json:"date" validate:"required"`
	Title *string   `json:"title" validate:"omitempty,max=120"`
}

// MarkAttendanceRequest describes a single status mark.
type MarkAttendanceRequest struct {
	StudentID string                  `json:"student_id" validate:"required,uuid"`
	Status    models.AttendanceStatus `json:"status" validate:"required,attendance_status"`
}

// ExportFormat selects the summary export encoding.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult carries a rendered summary document.
type ExportResult struct {
	FileName    string
	ContentType string
	Content     []byte
}

// AttendanceService implements the attendance session lifecycle, record
// upserts and the summary projection.
type AttendanceService struct {
	repo       attendanceRepository
	classrooms classroomReader
	members    attendanceMembershipReader
	notifier   sessionNotifier
	cache      *CacheService
	csv        *export.CSVExporter
	pdf        *export.PDFExporter
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewAttendanceService constructs AttendanceService and registers the
// attendance_status validation tag.
func NewAttendanceService(repo attendanceRepository, classrooms classroomReader, members attendanceMembershipReader, notifier sessionNotifier, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	registerAttendanceStatusTag(validate)
	return &AttendanceService{
		repo:       repo,
		classrooms: classrooms,
		members:    members,
		notifier:   notifier,
		cache:      cache,
		csv:        export.NewCSVExporter(),
		pdf:        export.NewPDFExporter(),
		validator:  validate,
		logger:     logger,
	}
}

func registerAttendanceStatusTag(validate *validator.Validate) {
	_ = validate.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(fl.Field().String()).Valid()
	})
}

// OpenSession creates a new open session for the classroom. The partial
// unique index guarantees at most one open session per classroom; when two
// requests race, exactly one wins and the other gets Conflict.
func (s *AttendanceService) OpenSession(ctx context.Context, classroomID string, req OpenSessionRequest, claims *models.JWTClaims) (*models.AttendanceSession, error) {
	classroom, err := s.requireTeacher(ctx, classroomID, claims)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}

	session := &models.AttendanceSession{
		ClassroomID: classroomID,
		Date:        req.Date,
		Title:       req.Title,
		IsOpen:      true,
		CreatedBy:   claims.UserID,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		if errors.Is(err, repository.ErrOpenSessionExists) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "classroom already has an open session")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open session")
	}

	if s.cache != nil {
		s.cache.InvalidateClassroom(ctx, classroomID)
	}
	if s.notifier != nil {
		s.notifier.NotifySessionOpened(ctx, classroom, session)
	}
	return session, nil
}

// CloseSession flips the session to closed. Closing an already-closed
// session succeeds without changing anything. Unmarked students stay
// unmarked; no absent records are written at close time.
func (s *AttendanceService) CloseSession(ctx context.Context, sessionID string, claims *models.JWTClaims) error {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, err := s.requireTeacher(ctx, session.ClassroomID, claims); err != nil {
		return err
	}
	if err := s.repo.CloseSession(ctx, sessionID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close session")
	}
	if s.cache != nil {
		s.cache.InvalidateClassroom(ctx, session.ClassroomID)
	}
	return nil
}

// Mark upserts one student's status in a session. Re-marking the same
// student overwrites the previous status, last write wins.
func (s *AttendanceService) Mark(ctx context.Context, sessionID string, req MarkAttendanceRequest, claims *models.JWTClaims) (*models.AttendanceRecord, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireTeacher(ctx, session.ClassroomID, claims); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}

	record, err := s.repo.UpsertRecord(ctx, &models.AttendanceRecord{
		SessionID: sessionID,
		StudentID: req.StudentID,
		Status:    req.Status,
		MarkedBy:  claims.UserID,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark attendance")
	}
	if s.cache != nil {
		s.cache.InvalidateClassroom(ctx, session.ClassroomID)
	}
	return record, nil
}

// ListSessions returns a classroom's sessions, newest first. Cached.
func (s *AttendanceService) ListSessions(ctx context.Context, classroomID string, claims *models.JWTClaims) ([]models.AttendanceSession, error) {
	if _, err := s.requireMember(ctx, classroomID, claims); err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("classroom:%s:sessions", classroomID)
	var cached []models.AttendanceSession
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return cached, nil
	}

	sessions, err := s.repo.ListSessions(ctx, classroomID, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, cacheKey, sessions, 0)
	}
	return sessions, nil
}

// GetSession returns one session after a membership check.
func (s *AttendanceService) GetSession(ctx context.Context, sessionID string, claims *models.JWTClaims) (*models.AttendanceSession, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, session.ClassroomID, claims); err != nil {
		return nil, err
	}
	return session, nil
}

// ListRecords returns the explicitly marked records of a session for the
// live-marking view. Students without a record are simply not in the list;
// the live view renders them as unmarked rather than absent.
func (s *AttendanceService) ListRecords(ctx context.Context, sessionID string, claims *models.JWTClaims) ([]models.AttendanceRecordDetail, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, session.ClassroomID, claims); err != nil {
		return nil, err
	}
	records, err := s.repo.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list records")
	}
	return records, nil
}

// BuildSummary projects the dense session x student grid. Every pair
// without an explicit record is shown as absent, which intentionally
// differs from the live view's "unmarked". Columns run oldest first.
func (s *AttendanceService) BuildSummary(ctx context.Context, classroomID string, claims *models.JWTClaims) (*models.AttendanceSummary, error) {
	if _, err := s.requireMember(ctx, classroomID, claims); err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("classroom:%s:summary", classroomID)
	var cached models.AttendanceSummary
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	sessions, err := s.repo.ListSessions(ctx, classroomID, true)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	roster, err := s.members.Roster(ctx, classroomID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	records, err := s.repo.ListRecordsByClassroom(ctx, classroomID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list records")
	}

	summary := projectSummary(classroomID, sessions, roster, records)
	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, cacheKey, summary, 0)
	}
	return summary, nil
}

// ExportSummary renders the summary grid as CSV or PDF.
func (s *AttendanceService) ExportSummary(ctx context.Context, classroomID string, format ExportFormat, claims *models.JWTClaims) (*ExportResult, error) {
	summary, err := s.BuildSummary(ctx, classroomID, claims)
	if err != nil {
		return nil, err
	}

	dataset := summaryDataset(summary)
	switch format {
	case ExportFormatCSV:
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{
			FileName:    fmt.Sprintf("attendance-%s.csv", classroomID),
			ContentType: "text/csv",
			Content:     content,
		}, nil
	case ExportFormatPDF:
		content, err := s.pdf.Render(dataset, "Attendance Summary")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{
			FileName:    fmt.Sprintf("attendance-%s.pdf", classroomID),
			ContentType: "application/pdf",
			Content:     content,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

// projectSummary densifies records into a grid keyed by the roster rows and
// chronological session columns. Missing records become absent.
func projectSummary(classroomID string, sessions []models.AttendanceSession, roster []models.RosterEntry, records []models.AttendanceRecord) *models.AttendanceSummary {
	sessionIndex := make(map[string]int, len(sessions))
	for i, session := range sessions {
		sessionIndex[session.ID] = i
	}

	statusByStudent := make(map[string][]models.AttendanceStatus, len(roster))
	rows := make([]models.AttendanceSummaryRow, 0, len(roster))
	for _, entry := range roster {
		statuses := make([]models.AttendanceStatus, len(sessions))
		for i := range statuses {
			statuses[i] = models.AttendanceStatusAbsent
		}
		statusByStudent[entry.StudentID] = statuses
		rows = append(rows, models.AttendanceSummaryRow{
			StudentID:   entry.StudentID,
			StudentName: entry.FullName,
			Statuses:    statuses,
		})
	}

	for _, record := range records {
		col, ok := sessionIndex[record.SessionID]
		if !ok {
			continue
		}
		// records of students who later left the classroom are skipped
		statuses, ok := statusByStudent[record.StudentID]
		if !ok {
			continue
		}
		statuses[col] = record.Status
	}

	return &models.AttendanceSummary{
		ClassroomID: classroomID,
		Sessions:    sessions,
		Students:    roster,
		Grid:        rows,
	}
}

func summaryDataset(summary *models.AttendanceSummary) export.Dataset {
	headers := make([]string, 0, len(summary.Sessions)+1)
	headers = append(headers, "Student")
	for _, session := range summary.Sessions {
		label := session.Date.Format("2006-01-02")
		if session.Title != nil && *session.Title != "" {
			label = fmt.Sprintf("%s (%s)", label, *session.Title)
		}
		headers = append(headers, label)
	}

	rows := make([]map[string]string, 0, len(summary.Grid))
	for _, row := range summary.Grid {
		cells := make(map[string]string, len(headers))
		cells["Student"] = row.StudentName
		for i, status := range row.Statuses {
			cells[headers[i+1]] = string(status)
		}
		rows = append(rows, cells)
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func (s *AttendanceService) loadSession(ctx context.Context, sessionID string) (*models.AttendanceSession, error) {
	session, err := s.repo.FindSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

func (s *AttendanceService) requireTeacher(ctx context.Context, classroomID string, claims *models.JWTClaims) (*models.Classroom, error) {
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
	if claims.Role != models.RoleTeacher || classroom.TeacherID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the classroom teacher may do this")
	}
	return classroom, nil
}

func (s *AttendanceService) requireMember(ctx context.Context, classroomID string, claims *models.JWTClaims) (*models.Classroom, error) {
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
