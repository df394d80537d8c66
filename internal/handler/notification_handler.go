package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classboard/classboard-api/internal/service"
	"github.com/classboard/classboard-api/pkg/response"
)

// NotificationHandler wires HTTP endpoints to the notification service,
// including the server-sent events stream.
type NotificationHandler struct {
	service *service.NotificationService
}

// NewNotificationHandler creates a new handler.
func NewNotificationHandler(svc *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{service: svc}
}

// List godoc
// @Summary List my notifications
// @Description Returns the newest 50 notifications for the caller.
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	notifications, err := h.service.List(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	count, err := h.service.UnreadCount(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, notifications, nil, map[string]interface{}{"unread_count": count})
}

// MarkRead godoc
// @Summary Mark one notification as read
// @Tags Notifications
// @Param notificationId path string true "Notification ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /notifications/{notificationId}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.service.MarkRead(c.Request.Context(), c.Param("notificationId"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// MarkAllRead godoc
// @Summary Mark all notifications as read
// @Tags Notifications
// @Success 204 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /notifications/read-all [post]
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	if err := h.service.MarkAllRead(c.Request.Context(), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Stream godoc
// @Summary Live notification stream
// @Description Server-sent events feed of the caller's notifications.
// @Tags Notifications
// @Produce text/event-stream
// @Success 200 {string} string "event stream"
// @Failure 401 {object} response.Envelope
// @Router /notifications/stream [get]
func (h *NotificationHandler) Stream(c *gin.Context) {
	sub, err := h.service.Subscribe(claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer h.service.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case notification, ok := <-sub.C():
			if !ok {
				return false
			}
			payload, err := json.Marshal(notification)
			if err != nil {
				return true
			}
			c.SSEvent("notification", string(payload))
			return true
		}
	})
}
