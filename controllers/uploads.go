package controllers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kontorhq/kontor-backend/concurrency"
	"github.com/kontorhq/kontor-backend/middleware"
	"github.com/kontorhq/kontor-backend/models"
	"github.com/kontorhq/kontor-backend/utils"
)

type BeginUploadRequest struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	// BulkType optionally creates a pending bulk request for the file in the
	// same call.
	BulkType string `json:"bulk_type"`
}

// BeginUpload reserves an upload slot for the caller and registers the file.
// The object bytes themselves go to storage directly, the backend only
// accounts for who is uploading how much at once.
func (d KontorController) BeginUpload(c *gin.Context) {
	currentCompany, exists := c.Get(middleware.COMPANY_ID_KEY)
	if !exists {
		c.String(http.StatusForbidden, "Not allowed to access this resource")
		return
	}
	currentUser, exists := c.Get(middleware.USER_ID_KEY)
	if !exists {
		c.String(http.StatusForbidden, "Upload slots are accounted per user, no user in token")
		return
	}

	var request BeginUploadRequest
	err := c.BindJSON(&request)
	if err != nil {
		slog.Warn("Error binding JSON", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error binding JSON"})
		return
	}
	if request.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file name"})
		return
	}
	if !utils.IsInContentTypeAllowList(request.ContentType) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": fmt.Sprintf("Unsupported content type: %v", request.ContentType), "code": "unsupported_content_type"})
		return
	}

	if request.BulkType != "" {
		bulkType := models.BulkRequestType(request.BulkType)
		if bulkType != models.BulkRequestProductImport && bulkType != models.BulkRequestPriceUpdate {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("Unsupported bulk request type: %v", request.BulkType), "code": "reserved_type"})
			return
		}
	}

	ctx := c.Request.Context()
	userKey := fmt.Sprintf("%v", currentUser)

	acquisition, err := d.Slots.TryAcquireSlot(ctx, userKey, d.Slots.MaxConcurrent(), d.Slots.SlotTTL())
	if err != nil {
		slog.Error("Error acquiring upload slot", "userId", userKey, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "slot store unavailable, try again later", "code": "store_unavailable"})
		return
	}
	if !acquisition.Acquired {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":        "too many concurrent uploads",
			"code":         "slots_exhausted",
			"slots_in_use": acquisition.Current,
			"max_slots":    d.Slots.MaxConcurrent(),
		})
		return
	}

	file, err := models.DB.CreateFile(currentCompany.(uint), currentUser.(uint), request.Name, request.ContentType, request.SizeBytes)
	if err != nil {
		slog.Error("Error creating file", "name", request.Name, "error", err)
		if _, releaseErr := d.Slots.ReleaseSlot(ctx, userKey); releaseErr != nil {
			slog.Error("Error releasing slot after failed file create", "userId", userKey, "error", releaseErr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating file"})
		return
	}

	response := gin.H{
		"file":         file.MapToJsonStruct(),
		"max_slots":    d.Slots.MaxConcurrent(),
		"slots_in_use": acquisition.Current,
	}

	if request.BulkType != "" {
		bulkRequest, err := models.DB.CreateBulkRequest(file.CompanyID, file.ID, currentUser.(uint), models.BulkRequestType(request.BulkType))
		if err != nil {
			slog.Error("Error creating bulk request for upload", "fileId", file.ID, "error", err)
			if _, releaseErr := d.Slots.ReleaseSlot(ctx, userKey); releaseErr != nil {
				slog.Error("Error releasing slot after failed bulk request create", "userId", userKey, "error", releaseErr)
			}
			if statusErr := models.DB.SetFileStatus(file.ID, models.FileDeleted); statusErr != nil {
				slog.Error("Error discarding file after failed bulk request create", "fileId", file.ID, "error", statusErr)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating bulk request"})
			return
		}
		response["request"] = bulkRequest.MapToJsonStruct()
	}

	c.JSON(http.StatusCreated, response)
}

// HeartbeatUpload extends the uploader's slot while the transfer is still in
// flight. A 410 means the slot already expired and the client has to begin
// again.
func (d KontorController) HeartbeatUpload(c *gin.Context) {
	file, ok := fileForCompanyFromPath(c)
	if !ok {
		return
	}

	err := d.Slots.Heartbeat(c.Request.Context(), fmt.Sprintf("%v", file.UploaderID), d.Slots.SlotTTL())
	if err != nil {
		if errors.Is(err, concurrency.ErrNoActiveSlot) {
			c.JSON(http.StatusGone, gin.H{"error": "upload slot expired", "code": "slot_expired"})
			return
		}
		slog.Error("Error refreshing upload slot", "fileId", file.ID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "slot store unavailable, try again later", "code": "store_unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CompleteUpload releases the uploader's slot once the transfer finished.
func (d KontorController) CompleteUpload(c *gin.Context) {
	file, ok := fileForCompanyFromPath(c)
	if !ok {
		return
	}

	remaining, err := d.Slots.ReleaseSlot(c.Request.Context(), fmt.Sprintf("%v", file.UploaderID))
	if err != nil {
		slog.Error("Error releasing upload slot", "fileId", file.ID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "slot store unavailable, try again later", "code": "store_unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"file": file.MapToJsonStruct(), "slots_in_use": remaining})
}

// AbortUpload marks the file deleted and gives the slot back. Files already
// picked up for processing cannot be aborted.
func (d KontorController) AbortUpload(c *gin.Context) {
	file, ok := fileForCompanyFromPath(c)
	if !ok {
		return
	}

	transitioned, err := models.DB.TransitionFileStatus(file.ID, models.FileUploaded, models.FileDeleted)
	if err != nil {
		slog.Error("Error deleting file", "fileId", file.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error deleting file"})
		return
	}
	if !transitioned {
		c.JSON(http.StatusConflict, gin.H{"error": "file is not in a deletable status", "code": "file_not_ready"})
		return
	}

	remaining, err := d.Slots.ReleaseSlot(c.Request.Context(), fmt.Sprintf("%v", file.UploaderID))
	if err != nil {
		slog.Error("Error releasing upload slot", "fileId", file.ID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "slot store unavailable, try again later", "code": "store_unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted", "slots_in_use": remaining})
}

// UploadStats reports the live slot usage across all active users.
func (d KontorController) UploadStats(c *gin.Context) {
	stats, err := d.Slots.Stats(c.Request.Context())
	if err != nil {
		slog.Error("Error reading slot stats", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "slot store unavailable, try again later", "code": "store_unavailable"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func ListFiles(c *gin.Context) {
	files, done := models.DB.GetFilesFromContext(c, middleware.COMPANY_ID_KEY)
	if !done {
		return
	}

	marshalledFiles := make([]interface{}, 0)
	for _, file := range files {
		marshalledFiles = append(marshalledFiles, file.MapToJsonStruct())
	}

	response := make(map[string]interface{})
	response["files"] = marshalledFiles

	c.JSON(http.StatusOK, response)
}

// fileForCompanyFromPath loads the file in the upload_id path parameter and
// checks it belongs to the caller's company. Writes the error response itself
// and returns false when the request cannot proceed.
func fileForCompanyFromPath(c *gin.Context) (*models.File, bool) {
	currentCompany, exists := c.Get(middleware.COMPANY_ID_KEY)
	if !exists {
		c.String(http.StatusForbidden, "Not allowed to access this resource")
		return nil, false
	}

	fileId, err := uuid.Parse(c.Param("upload_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid upload id"})
		return nil, false
	}

	file, err := models.DB.GetFileForCompany(fileId, currentCompany)
	if err != nil {
		slog.Error("Error fetching file", "fileId", fileId, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching file"})
		return nil, false
	}
	if file == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Could not find file", "code": "not_found"})
		return nil, false
	}

	return file, true
}
