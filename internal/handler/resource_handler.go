package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classboard/classboard-api/internal/service"
	appErrors "github.com/classboard/classboard-api/pkg/errors"
	"github.com/classboard/classboard-api/pkg/response"
)

// ResourceHandler wires HTTP endpoints to the resource service.
type ResourceHandler struct {
	service *service.ResourceService
}

// NewResourceHandler creates a new handler.
func NewResourceHandler(svc *service.ResourceService) *ResourceHandler {
	return &ResourceHandler{service: svc}
}

// Upload godoc
// @Summary Upload a classroom material
// @Tags Resources
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Classroom ID"
// @Param file formData file true "File"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classrooms/{id}/resources [post]
func (h *ResourceHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
		return
	}
	defer file.Close() //nolint:errcheck

	resource, err := h.service.Upload(c.Request.Context(), c.Param("id"), service.UploadResourceRequest{
		FileName: fileHeader.Filename,
		FileType: fileHeader.Header.Get("Content-Type"),
		FileSize: fileHeader.Size,
	}, file, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, resource)
}

// List godoc
// @Summary List classroom materials
// @Tags Resources
// @Produce json
// @Param id path string true "Classroom ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /classrooms/{id}/resources [get]
func (h *ResourceHandler) List(c *gin.Context) {
	resources, err := h.service.List(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resources, nil)
}

// SignedDownload godoc
// @Summary Issue a signed download link
// @Tags Resources
// @Produce json
// @Param resourceId path string true "Resource ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /resources/{resourceId}/download-url [get]
func (h *ResourceHandler) SignedDownload(c *gin.Context) {
	download, err := h.service.SignedDownload(c.Request.Context(), c.Param("resourceId"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, download, nil)
}

// Download godoc
// @Summary Download a material by signed token
// @Description The token carries its own authorization; no session needed.
// @Tags Resources
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /resources/download/{token} [get]
func (h *ResourceHandler) Download(c *gin.Context) {
	resource, file, err := h.service.OpenByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	c.Header("Content-Disposition", "attachment; filename="+resource.FileName)
	c.Header("Content-Type", resource.FileType)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, file)
}

// Delete godoc
// @Summary Delete a classroom material
// @Tags Resources
// @Param resourceId path string true "Resource ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /resources/{resourceId} [delete]
func (h *ResourceHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("resourceId"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
