package controllers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kontorhq/kontor-backend/concurrency"
	"github.com/kontorhq/kontor-backend/filelock"
	"github.com/kontorhq/kontor-backend/middleware"
	"github.com/kontorhq/kontor-backend/models"
	"github.com/kontorhq/kontor-backend/queue"
	"github.com/kontorhq/kontor-backend/segment"
	"github.com/kontorhq/kontor-backend/services"
	"github.com/kontorhq/kontor-backend/slotstore"
)

// KontorController carries the services handlers need beyond the database.
// Handlers that only read or write rows are plain functions.
type KontorController struct {
	BulkService   *services.BulkService
	Slots         *concurrency.Service
	Sweeper       *concurrency.Sweeper
	RevokedTokens *services.RevokedTokenCache
}

type CreateBulkRequestRequest struct {
	FileId string `json:"file_id"`
	Type   string `json:"type"`
}

func CreateBulkRequest(c *gin.Context) {
	currentCompany, exists := c.Get(middleware.COMPANY_ID_KEY)
	if !exists {
		c.String(http.StatusForbidden, "Not allowed to access this resource")
		return
	}

	var request CreateBulkRequestRequest
	err := c.BindJSON(&request)
	if err != nil {
		slog.Warn("Error binding JSON", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error binding JSON"})
		return
	}

	requestType := models.BulkRequestType(request.Type)
	if requestType != models.BulkRequestProductImport && requestType != models.BulkRequestPriceUpdate {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": fmt.Sprintf("Unsupported bulk request type: %v", request.Type), "code": "reserved_type"})
		return
	}

	fileId, err := uuid.Parse(request.FileId)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file id"})
		return
	}

	file, err := models.DB.GetFileForCompany(fileId, currentCompany)
	if err != nil {
		slog.Error("Error fetching file", "fileId", fileId, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching file"})
		return
	}
	if file == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Could not find file", "code": "not_found"})
		return
	}

	userId, _ := c.Get(middleware.USER_ID_KEY)
	bulkRequest, err := models.DB.CreateBulkRequest(file.CompanyID, file.ID, userIdOrZero(userId), requestType)
	if err != nil {
		slog.Error("Error creating bulk request", "fileId", fileId, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating bulk request"})
		return
	}

	trackCompanyAction(currentCompany, userId, "backend_bulk_request_created", map[string]string{
		"request_id": bulkRequest.ID.String(),
		"type":       string(bulkRequest.Type),
	})

	c.JSON(http.StatusCreated, bulkRequest.MapToJsonStruct())
}

func ListBulkRequests(c *gin.Context) {
	requests, done := models.DB.GetBulkRequestsFromContext(c, middleware.COMPANY_ID_KEY)
	if !done {
		return
	}

	marshalledRequests := make([]interface{}, 0)
	for _, request := range requests {
		marshalledRequests = append(marshalledRequests, request.MapToJsonStruct())
	}

	response := make(map[string]interface{})
	response["requests"] = marshalledRequests

	c.JSON(http.StatusOK, response)
}

func GetBulkRequestDetails(c *gin.Context) {
	currentCompany, exists := c.Get(middleware.COMPANY_ID_KEY)
	if !exists {
		c.String(http.StatusForbidden, "Not allowed to access this resource")
		return
	}

	requestId, err := uuid.Parse(c.Param("request_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request id"})
		return
	}

	request, err := models.DB.GetBulkRequestForCompany(requestId, currentCompany)
	if err != nil {
		slog.Error("Error fetching bulk request", "requestId", requestId, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching bulk request"})
		return
	}
	if request == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Could not find bulk request", "code": "not_found"})
		return
	}

	c.JSON(http.StatusOK, request.MapToJsonStruct())
}

func (d KontorController) StartBulkRequest(c *gin.Context) {
	currentCompany, exists := c.Get(middleware.COMPANY_ID_KEY)
	if !exists {
		c.String(http.StatusForbidden, "Not allowed to access this resource")
		return
	}

	requestId, err := uuid.Parse(c.Param("request_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request id"})
		return
	}

	result, err := d.BulkService.Start(c.Request.Context(), requestId, currentCompany.(uint))
	if err != nil {
		slog.Warn("Could not start bulk request", "requestId", requestId, "error", err)
		bulkErrorResponse(c, err)
		return
	}

	userId, _ := c.Get(middleware.USER_ID_KEY)
	trackCompanyAction(currentCompany, userId, "backend_bulk_request_started", map[string]string{
		"request_id": requestId.String(),
		"job_id":     result.JobID,
	})

	c.JSON(http.StatusOK, gin.H{"status": "processing", "job_id": result.JobID})
}

func (d KontorController) CancelBulkRequest(c *gin.Context) {
	currentCompany, exists := c.Get(middleware.COMPANY_ID_KEY)
	if !exists {
		c.String(http.StatusForbidden, "Not allowed to access this resource")
		return
	}

	requestId, err := uuid.Parse(c.Param("request_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request id"})
		return
	}

	err = d.BulkService.Cancel(c.Request.Context(), requestId, currentCompany.(uint))
	if err != nil {
		slog.Warn("Could not cancel bulk request", "requestId", requestId, "error", err)
		bulkErrorResponse(c, err)
		return
	}

	userId, _ := c.Get(middleware.USER_ID_KEY)
	trackCompanyAction(currentCompany, userId, "backend_bulk_request_cancelled", map[string]string{
		"request_id": requestId.String(),
	})

	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

type SetBulkRequestStatusRequest struct {
	Status         string `json:"status"`
	ProcessedRows  int    `json:"processed_rows"`
	SuccessfulRows int    `json:"successful_rows"`
	FailedRows     int    `json:"failed_rows"`
	ErrorMessage   string `json:"error_message"`
}

// SetBulkRequestStatus is the callback the processing workers report through,
// authenticated with the worker token that was minted on dispatch.
func (d KontorController) SetBulkRequestStatus(c *gin.Context) {
	currentCompany, exists := c.Get(middleware.COMPANY_ID_KEY)
	if !exists {
		c.String(http.StatusForbidden, "Not allowed to access this resource")
		return
	}

	requestId, err := uuid.Parse(c.Param("request_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request id"})
		return
	}

	var request SetBulkRequestStatusRequest
	err = c.BindJSON(&request)
	if err != nil {
		slog.Warn("Error binding JSON", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Error binding JSON"})
		return
	}

	// worker tokens are company scoped, reject reports for foreign requests
	bulkRequest, err := models.DB.GetBulkRequestForCompany(requestId, currentCompany)
	if err != nil {
		slog.Error("Error fetching bulk request", "requestId", requestId, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching bulk request"})
		return
	}
	if bulkRequest == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Could not find bulk request", "code": "not_found"})
		return
	}

	ctx := c.Request.Context()
	switch request.Status {
	case "progress":
		applied, err := d.BulkService.MarkProgress(ctx, requestId, request.ProcessedRows, request.SuccessfulRows, request.FailedRows)
		if err != nil {
			slog.Error("Error updating bulk request progress", "requestId", requestId, "error", err)
			bulkErrorResponse(c, err)
			return
		}
		if !applied {
			// the request reached a terminal status in the meantime
			c.JSON(http.StatusConflict, gin.H{"error": "bulk request is no longer active", "code": "already_finished"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": bulkRequest.Status.ToString()})
	case "succeeded":
		if request.ProcessedRows > 0 {
			if _, err := d.BulkService.MarkProgress(ctx, requestId, request.ProcessedRows, request.SuccessfulRows, request.FailedRows); err != nil {
				slog.Warn("Could not record final progress", "requestId", requestId, "error", err)
			}
		}
		finalStatus, err := d.BulkService.Complete(ctx, requestId)
		if err != nil {
			slog.Error("Error completing bulk request", "requestId", requestId, "error", err)
			bulkErrorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": finalStatus.ToString()})
	case "failed":
		err := d.BulkService.Fail(ctx, requestId, request.ErrorMessage)
		if err != nil {
			slog.Error("Error failing bulk request", "requestId", requestId, "error", err)
			bulkErrorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": models.BulkRequestFailed.ToString()})
	default:
		slog.Warn("Unexpected status reported by worker", "requestId", requestId, "status", request.Status)
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unexpected status: %v", request.Status)})
	}
}

// bulkErrorResponse maps state machine errors onto HTTP statuses. Business
// rule violations are 4xx, infrastructure failures stay 5xx so clients know
// whether retrying can help.
func bulkErrorResponse(c *gin.Context, err error) {
	if bizErr, ok := services.AsBusinessError(err); ok {
		switch bizErr.Code {
		case "not_found":
			c.JSON(http.StatusNotFound, gin.H{"error": bizErr.Message, "code": bizErr.Code})
		case "already_started", "already_queued", "not_cancellable", "already_finished":
			c.JSON(http.StatusConflict, gin.H{"error": bizErr.Message, "code": bizErr.Code})
		default:
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": bizErr.Message, "code": bizErr.Code})
		}
		return
	}
	if errors.Is(err, filelock.ErrLockBusy) {
		c.JSON(http.StatusConflict, gin.H{"error": "file is locked by another operation, try again", "code": "lock_busy", "retryable": true})
		return
	}
	if errors.Is(err, slotstore.ErrStoreUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lock store unavailable, try again later", "code": "store_unavailable"})
		return
	}
	if errors.Is(err, queue.ErrDispatchFailed) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not dispatch processing job", "code": "dispatch_failed"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Unexpected error"})
}

func userIdOrZero(userId any) uint {
	if id, ok := userId.(uint); ok {
		return id
	}
	return 0
}

// trackCompanyAction reports an action to segment, analytics failures never
// affect the request.
func trackCompanyAction(companyId any, userId any, action string, props map[string]string) {
	company, err := models.DB.GetCompanyById(companyId)
	if err != nil || company == nil {
		slog.Warn("Could not load company for analytics", "companyId", companyId, "error", err)
		return
	}
	userIdStr := ""
	if userId != nil {
		userIdStr = fmt.Sprintf("%v", userId)
	}
	segment.Track(*company, userIdStr, action, props)
}
