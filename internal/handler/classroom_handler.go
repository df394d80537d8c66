package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classboard/classboard-api/internal/service"
	appErrors "github.com/classboard/classboard-api/pkg/errors"
	"github.com/classboard/classboard-api/pkg/response"
)

// ClassroomHandler wires HTTP endpoints to classroom and membership services.
type ClassroomHandler struct {
	classrooms  *service.ClassroomService
	memberships *service.MembershipService
}

// NewClassroomHandler creates a new handler.
func NewClassroomHandler(classrooms *service.ClassroomService, memberships *service.MembershipService) *ClassroomHandler {
	return &ClassroomHandler{classrooms: classrooms, memberships: memberships}
}

// Create godoc
// @Summary Create classroom
// @Tags Classrooms
// @Accept json
// @Produce json
// @Param payload body service.CreateClassroomRequest true "Classroom payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classrooms [post]
func (h *ClassroomHandler) Create(c *gin.Context) {
	var req service.CreateClassroomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid classroom payload"))
		return
	}
	classroom, err := h.classrooms.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, classroom)
}

// List godoc
// @Summary List my classrooms
// @Tags Classrooms
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /classrooms [get]
func (h *ClassroomHandler) List(c *gin.Context) {
	classrooms, err := h.classrooms.ListMine(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classrooms, nil)
}

// Get godoc
// @Summary Get classroom detail
// @Tags Classrooms
// @Produce json
// @Param id path string true "Classroom ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classrooms/{id} [get]
func (h *ClassroomHandler) Get(c *gin.Context) {
	classroom, err := h.classrooms.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classroom, nil)
}

// Join godoc
// @Summary Join classroom by invite code
// @Tags Classrooms
// @Accept json
// @Produce json
// @Param payload body service.JoinClassroomRequest true "Invite code"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classrooms/join [post]
func (h *ClassroomHandler) Join(c *gin.Context) {
	var req service.JoinClassroomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid join payload"))
		return
	}
	classroom, err := h.classrooms.Join(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classroom, nil)
}

// RegenerateInviteCode godoc
// @Summary Regenerate invite code
// @Tags Classrooms
// @Produce json
// @Param id path string true "Classroom ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classrooms/{id}/invite-code [post]
func (h *ClassroomHandler) RegenerateInviteCode(c *gin.Context) {
	code, err := h.classrooms.RegenerateInviteCode(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"invite_code": code}, nil)
}

// Delete godoc
// @Summary Delete classroom
// @Tags Classrooms
// @Param id path string true "Classroom ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classrooms/{id} [delete]
func (h *ClassroomHandler) Delete(c *gin.Context) {
	if err := h.classrooms.Delete(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Roster godoc
// @Summary List classroom members
// @Tags Classrooms
// @Produce json
// @Param id path string true "Classroom ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classrooms/{id}/members [get]
func (h *ClassroomHandler) Roster(c *gin.Context) {
	roster, err := h.memberships.Roster(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}

// AddMember godoc
// @Summary Add a student to the classroom
// @Tags Classrooms
// @Accept json
// @Produce json
// @Param id path string true "Classroom ID"
// @Param payload body map[string]string true "Student ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classrooms/{id}/members [post]
func (h *ClassroomHandler) AddMember(c *gin.Context) {
	var payload struct {
		StudentID string `json:"student_id" binding:"required,uuid"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "student_id required"))
		return
	}
	if err := h.memberships.Add(c.Request.Context(), c.Param("id"), payload.StudentID, claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RemoveMember godoc
// @Summary Remove a student from the classroom
// @Tags Classrooms
// @Param id path string true "Classroom ID"
// @Param studentId path string true "Student ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classrooms/{id}/members/{studentId} [delete]
func (h *ClassroomHandler) RemoveMember(c *gin.Context) {
	if err := h.memberships.Remove(c.Request.Context(), c.Param("id"), c.Param("studentId"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Leave godoc
// @Summary Leave a classroom
// @Tags Classrooms
// @Param id path string true "Classroom ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classrooms/{id}/leave [post]
func (h *ClassroomHandler) Leave(c *gin.Context) {
	if err := h.memberships.Leave(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
