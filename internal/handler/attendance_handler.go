package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classboard/classboard-api/internal/service"
	appErrors "github.com/classboard/classboard-api/pkg/errors"
	"github.com/classboard/classboard-api/pkg/response"
)

// AttendanceHandler wires HTTP endpoints to the attendance service.
type AttendanceHandler struct {
	service *service.AttendanceService
}

// NewAttendanceHandler creates a new handler.
func NewAttendanceHandler(svc *service.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{service: svc}
}

// OpenSession godoc
// @Summary Open an attendance session
// @Description Create an open attendance session. Fails with 409 when one is already open.
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Classroom ID"
// @Param payload body service.OpenSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /classrooms/{id}/sessions [post]
func (h *AttendanceHandler) OpenSession(c *gin.Context) {
	var req service.OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid session payload"))
		return
	}
	session, err := h.service.OpenSession(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// ListSessions godoc
// @Summary List attendance sessions
// @Tags Attendance
// @Produce json
// @Param id path string true "Classroom ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classrooms/{id}/sessions [get]
func (h *AttendanceHandler) ListSessions(c *gin.Context) {
	sessions, err := h.service.ListSessions(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// GetSession godoc
// @Summary Get one attendance session
// @Tags Attendance
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{sessionId} [get]
func (h *AttendanceHandler) GetSession(c *gin.Context) {
	session, err := h.service.GetSession(c.Request.Context(), c.Param("sessionId"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// CloseSession godoc
// @Summary Close an attendance session
// @Description Idempotent: closing an already-closed session succeeds.
// @Tags Attendance
// @Param sessionId path string true "Session ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{sessionId}/close [post]
func (h *AttendanceHandler) CloseSession(c *gin.Context) {
	if err := h.service.CloseSession(c.Request.Context(), c.Param("sessionId"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Mark godoc
// @Summary Mark a student's attendance
// @Description Upsert keyed by (session, student); re-marking overwrites.
// @Tags Attendance
// @Accept json
// @Produce json
// @Param sessionId path string true "Session ID"
// @Param payload body service.MarkAttendanceRequest true "Mark payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /sessions/{sessionId}/records [post]
func (h *AttendanceHandler) Mark(c *gin.Context) {
	var req service.MarkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attendance payload"))
		return
	}
	record, err := h.service.Mark(c.Request.Context(), c.Param("sessionId"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// ListRecords godoc
// @Summary List marked records for a session
// @Description Returns only explicitly marked records; unmarked students have no row.
// @Tags Attendance
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /sessions/{sessionId}/records [get]
func (h *AttendanceHandler) ListRecords(c *gin.Context) {
	records, err := h.service.ListRecords(c.Request.Context(), c.Param("sessionId"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// Summary godoc
// @Summary Attendance summary grid
// @Description Dense session x student grid, unmarked pairs shown as absent.
// @Tags Attendance
// @Produce json
// @Param id path string true "Classroom ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classrooms/{id}/attendance/summary [get]
func (h *AttendanceHandler) Summary(c *gin.Context) {
	summary, err := h.service.BuildSummary(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// ExportSummary godoc
// @Summary Export the attendance summary
// @Description Render the summary grid as CSV or PDF.
// @Tags Attendance
// @Produce octet-stream
// @Param id path string true "Classroom ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Router /classrooms/{id}/attendance/summary/export [get]
func (h *AttendanceHandler) ExportSummary(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", string(service.ExportFormatCSV)))
	result, err := h.service.ExportSummary(c.Request.Context(), c.Param("id"), format, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+result.FileName)
	c.Data(http.StatusOK, result.ContentType, result.Content)
}
