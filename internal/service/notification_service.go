package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classboard/classboard-api/internal/models"
	"github.com/classboard/classboard-api/internal/realtime"
	appErrors "github.com/classboard/classboard-api/pkg/errors"
	"github.com/classboard/classboard-api/pkg/jobs"
)

type notificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListForUser(ctx context.Context, userID string) ([]models.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id, userID string) (bool, error)
	MarkAllRead(ctx context.Context, userID string) error
}

type memberLister interface {
	MemberIDs(ctx context.Context, classroomID string) ([]string, error)
}

// fanOutPayload is the job body for classroom-wide notification delivery.
type fanOutPayload struct {
	ClassroomID string
	Exclude     string
	Template    models.Notification
}

// NotificationService persists notifications, answers inbox reads and fans
// classroom events out to every member through a background queue. Rows are
// written before the hub publish so a subscriber that misses the push still
// finds the notification on its next inbox read.
type NotificationService struct {
	repo    notificationRepository
	members memberLister
	hub     *realtime.Hub
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService constructs NotificationService. Call StartQueue
// before enqueueing fan-out work.
func NewNotificationService(repo notificationRepository, members memberLister, hub *realtime.Hub, metrics *MetricsService, queueCfg jobs.QueueConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{repo: repo, members: members, hub: hub, metrics: metrics, logger: logger}
	s.queue = jobs.NewQueue("notification-fanout", s.handleFanOut, queueCfg)
	return s
}

// StartQueue starts the fan-out workers.
func (s *NotificationService) StartQueue(ctx context.Context) {
	s.queue.Start(ctx)
}

// StopQueue drains and stops the fan-out workers.
func (s *NotificationService) StopQueue() {
	s.queue.Stop()
}

// Notify writes one notification and pushes it to live subscribers.
func (s *NotificationService) Notify(ctx context.Context, notification models.Notification) error {
	if err := s.repo.Create(ctx, &notification); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create notification")
	}
	if s.hub != nil {
		s.hub.Publish(notification)
	}
	return nil
}

// List returns the caller's inbox, newest first.
func (s *NotificationService) List(ctx context.Context, claims *models.JWTClaims) ([]models.Notification, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	notifications, err := s.repo.ListForUser(ctx, claims.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return notifications, nil
}

// UnreadCount returns the caller's unread badge count.
func (s *NotificationService) UnreadCount(ctx context.Context, claims *models.JWTClaims) (int, error) {
	if claims == nil {
		return 0, appErrors.ErrUnauthorized
	}
	count, err := s.repo.CountUnread(ctx, claims.UserID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return count, nil
}

// MarkRead flips one notification to read. Only the recipient can do this;
// a foreign or unknown id comes back as NotFound.
func (s *NotificationService) MarkRead(ctx context.Context, notificationID string, claims *models.JWTClaims) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	updated, err := s.repo.MarkRead(ctx, notificationID, claims.UserID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	if !updated {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return nil
}

// MarkAllRead flips every unread notification of the caller.
func (s *NotificationService) MarkAllRead(ctx context.Context, claims *models.JWTClaims) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	if err := s.repo.MarkAllRead(ctx, claims.UserID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return nil
}

// Subscribe opens a live feed for the caller.
func (s *NotificationService) Subscribe(claims *models.JWTClaims) (*realtime.Subscription, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if s.metrics != nil {
		s.metrics.SubscriberConnected()
	}
	return s.hub.Subscribe(claims.UserID), nil
}

// Unsubscribe closes a live feed.
func (s *NotificationService) Unsubscribe(sub *realtime.Subscription) {
	sub.Close()
	if s.metrics != nil {
		s.metrics.SubscriberDisconnected()
	}
}

// NotifySessionOpened fans a session_opened event out to classroom members.
func (s *NotificationService) NotifySessionOpened(ctx context.Context, classroom *models.Classroom, session *models.AttendanceSession) {
	link := fmt.Sprintf("/classrooms/%s/sessions/%s", classroom.ID, session.ID)
	body := fmt.Sprintf("Attendance is being taken in %s", classroom.Name)
	s.enqueueFanOut(classroom.ID, session.CreatedBy, models.Notification{
		Title:       "Attendance session opened",
		Body:        &body,
		Type:        models.NotificationTypeSessionOpened,
		ClassroomID: &classroom.ID,
		Link:        &link,
	})
}

// NotifyAnnouncementPosted fans an announcement event out to members.
func (s *NotificationService) NotifyAnnouncementPosted(ctx context.Context, classroom *models.Classroom, announcement *models.Announcement) {
	link := fmt.Sprintf("/classrooms/%s/announcements/%s", classroom.ID, announcement.ID)
	body := truncate(announcement.Content, 140)
	s.enqueueFanOut(classroom.ID, announcement.AuthorID, models.Notification{
		Title:       fmt.Sprintf("New announcement in %s", classroom.Name),
		Body:        &body,
		Type:        models.NotificationTypeAnnouncement,
		ClassroomID: &classroom.ID,
		Link:        &link,
	})
}

// NotifyResourceAdded fans a resource_added event out to members.
func (s *NotificationService) NotifyResourceAdded(ctx context.Context, classroom *models.Classroom, resource *models.Resource) {
	link := fmt.Sprintf("/classrooms/%s/resources", classroom.ID)
	body := resource.FileName
	s.enqueueFanOut(classroom.ID, resource.UploaderID, models.Notification{
		Title:       fmt.Sprintf("New material in %s", classroom.Name),
		Body:        &body,
		Type:        models.NotificationTypeResourceAdded,
		ClassroomID: &classroom.ID,
		Link:        &link,
	})
}

// NotifyMemberJoined tells the classroom teacher about a new member. This
// one targets a single user, so it skips the queue.
func (s *NotificationService) NotifyMemberJoined(ctx context.Context, classroom *models.Classroom, studentID, studentName string) {
	title := "New classroom member"
	body := fmt.Sprintf("A student joined %s", classroom.Name)
	if studentName != "" {
		body = fmt.Sprintf("%s joined %s", studentName, classroom.Name)
	}
	link := fmt.Sprintf("/classrooms/%s/members", classroom.ID)
	err := s.Notify(ctx, models.Notification{
		UserID:      classroom.TeacherID,
		Title:       title,
		Body:        &body,
		Type:        models.NotificationTypeMemberAdded,
		ClassroomID: &classroom.ID,
		Link:        &link,
	})
	if err != nil {
		s.logger.Warn("member join notification failed", zap.String("classroom_id", classroom.ID), zap.Error(err))
	}
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}

func (s *NotificationService) enqueueFanOut(classroomID, exclude string, template models.Notification) {
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    string(template.Type),
		Payload: fanOutPayload{ClassroomID: classroomID, Exclude: exclude, Template: template},
	})
	if err != nil {
		s.logger.Warn("failed to enqueue notification fan-out",
			zap.String("classroom_id", classroomID),
			zap.String("type", string(template.Type)),
			zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.NotificationEnqueued()
	}
}

func (s *NotificationService) handleFanOut(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(fanOutPayload)
	if !ok {
		s.logger.Error("unexpected fan-out payload", zap.String("job_id", job.ID))
		return nil
	}
	memberIDs, err := s.members.MemberIDs(ctx, payload.ClassroomID)
	if err != nil {
		return fmt.Errorf("resolve fan-out recipients: %w", err)
	}
	for _, userID := range memberIDs {
		if userID == payload.Exclude {
			continue
		}
		notification := payload.Template
		notification.ID = ""
		notification.UserID = userID
		if err := s.Notify(ctx, notification); err != nil {
			s.logger.Warn("fan-out delivery failed",
				zap.String("classroom_id", payload.ClassroomID),
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}
	return nil
}
