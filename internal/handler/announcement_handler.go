package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classboard/classboard-api/internal/service"
	appErrors "github.com/classboard/classboard-api/pkg/errors"
	"github.com/classboard/classboard-api/pkg/response"
)

// AnnouncementHandler wires HTTP endpoints to the announcement service.
type AnnouncementHandler struct {
	service *service.AnnouncementService
}

// NewAnnouncementHandler creates a new handler.
func NewAnnouncementHandler(svc *service.AnnouncementService) *AnnouncementHandler {
	return &AnnouncementHandler{service: svc}
}

// Post godoc
// @Summary Post an announcement
// @Tags Announcements
// @Accept json
// @Produce json
// @Param id path string true "Classroom ID"
// @Param payload body service.PostAnnouncementRequest true "Announcement payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classrooms/{id}/announcements [post]
func (h *AnnouncementHandler) Post(c *gin.Context) {
	var req service.PostAnnouncementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid announcement payload"))
		return
	}
	announcement, err := h.service.Post(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, announcement)
}

// List godoc
// @Summary List classroom announcements
// @Tags Announcements
// @Produce json
// @Param id path string true "Classroom ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classrooms/{id}/announcements [get]
func (h *AnnouncementHandler) List(c *gin.Context) {
	announcements, err := h.service.List(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, announcements, nil)
}

// Comment godoc
// @Summary Comment on an announcement
// @Tags Announcements
// @Accept json
// @Produce json
// @Param announcementId path string true "Announcement ID"
// @Param payload body service.PostCommentRequest true "Comment payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /announcements/{announcementId}/comments [post]
func (h *AnnouncementHandler) Comment(c *gin.Context) {
	var req service.PostCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid comment payload"))
		return
	}
	comment, err := h.service.Comment(c.Request.Context(), c.Param("announcementId"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, comment)
}

// Delete godoc
// @Summary Delete an announcement
// @Tags Announcements
// @Param announcementId path string true "Announcement ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /announcements/{announcementId} [delete]
func (h *AnnouncementHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("announcementId"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
