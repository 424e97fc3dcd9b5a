// Package http provides HTTP API handlers.
package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/docuvault/docsync/internal/common/errors"
	"github.com/docuvault/docsync/internal/service"
)

// Handler provides HTTP handlers for the document API.
type Handler struct {
	fileService *service.FileService
}

// NewHandler creates a new Handler.
func NewHandler(fileService *service.FileService) *Handler {
	return &Handler{
		fileService: fileService,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		// File operations
		api.POST("/files", h.UploadFile)
		api.PUT("/files/:id", h.ReplaceFile)
		api.GET("/files/:id", h.DownloadFile)
		api.DELETE("/files/:id", h.DeleteFile)
		api.GET("/files/:id/metadata", h.GetFileMetadata)
		api.POST("/files/:id/resync", h.ResyncFile)

		// Replication queue
		api.GET("/replication/status", h.ReplicationStatus)

		// Health check
		api.GET("/health", h.HealthCheck)
	}
}

// UploadFile handles file upload.
// POST /api/v1/files
func (h *Handler) UploadFile(c *gin.Context) {
	// Get file from form
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "no file provided",
		})
		return
	}
	defer file.Close()

	// Get owner ID (from auth in production)
	ownerID := c.GetString("user_id")
	if ownerID == "" {
		ownerID = "anonymous"
	}

	keepLocal := true
	if v := c.PostForm("keep_local"); v != "" {
		keepLocal, _ = strconv.ParseBool(v)
	}
	priority, _ := strconv.Atoi(c.PostForm("priority"))

	req := &service.UploadRequest{
		Name:      header.Filename,
		Size:      header.Size,
		Content:   file,
		MimeType:  header.Header.Get("Content-Type"),
		OwnerID:   ownerID,
		KeepLocal: keepLocal,
		Priority:  priority,
	}

	resp, err := h.fileService.Upload(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// ReplaceFile handles content replacement for an existing file.
// PUT /api/v1/files/:id
func (h *Handler) ReplaceFile(c *gin.Context) {
	fileID := c.Param("id")

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "no file provided",
		})
		return
	}
	defer file.Close()

	req := &service.UploadRequest{
		Name:     header.Filename,
		Size:     header.Size,
		Content:  file,
		MimeType: header.Header.Get("Content-Type"),
	}

	resp, err := h.fileService.Replace(c.Request.Context(), fileID, req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// DownloadFile handles file download.
// GET /api/v1/files/:id
func (h *Handler) DownloadFile(c *gin.Context) {
	fileID := c.Param("id")

	resp, err := h.fileService.Read(c.Request.Context(), fileID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error": err.Error(),
		})
		return
	}
	defer resp.Content.Close()

	// Set headers
	c.Header("Content-Type", resp.Record.MimeType)
	c.Header("Content-Disposition", "attachment; filename="+resp.Record.Name)
	c.Header("X-File-ID", resp.Record.ID)
	c.Header("X-Checksum", resp.Record.Checksum)

	// Stream file content
	c.Status(http.StatusOK)
	io.Copy(c.Writer, resp.Content)
}

// DeleteFile handles file deletion.
// DELETE /api/v1/files/:id
func (h *Handler) DeleteFile(c *gin.Context) {
	fileID := c.Param("id")

	if err := h.fileService.Delete(c.Request.Context(), fileID); err != nil {
		c.JSON(statusFor(err), gin.H{
			"error": err.Error(),
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// GetFileMetadata retrieves file metadata.
// GET /api/v1/files/:id/metadata
func (h *Handler) GetFileMetadata(c *gin.Context) {
	fileID := c.Param("id")

	meta, err := h.fileService.GetMetadata(c.Request.Context(), fileID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, meta)
}

// ResyncFile re-enters a file into the replication queue.
// POST /api/v1/files/:id/resync
func (h *Handler) ResyncFile(c *gin.Context) {
	fileID := c.Param("id")

	resetRetries, _ := strconv.ParseBool(c.DefaultQuery("reset", "true"))
	priority, _ := strconv.Atoi(c.Query("priority"))

	if err := h.fileService.Resync(c.Request.Context(), fileID, resetRetries, priority); err != nil {
		c.JSON(statusFor(err), gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"file_id": fileID,
		"status":  "queued",
	})
}

// ReplicationStatus returns the aggregate replication queue status.
// GET /api/v1/replication/status
func (h *Handler) ReplicationStatus(c *gin.Context) {
	summary, err := h.fileService.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// HealthCheck handles health check requests.
// GET /api/v1/health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, errors.ErrUnavailable), errors.Is(err, errors.ErrRemoteNotSet):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
