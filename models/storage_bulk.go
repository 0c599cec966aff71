package models

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (db *Database) GetBulkRequestsFromContext(c *gin.Context, companyIdKey string) ([]BulkRequest, bool) {
	loggedInCompanyId, exists := c.Get(companyIdKey)

	slog.Info("getting bulk requests from context", "companyId", loggedInCompanyId)

	if !exists {
		c.String(http.StatusForbidden, "Not allowed to access this resource")
		return nil, false
	}

	var requests []BulkRequest

	err := db.GormDB.Preload("File").
		Where("bulk_requests.company_id = ?", loggedInCompanyId).
		Order("created_at desc").Find(&requests).Error

	if err != nil {
		slog.Error("error fetching bulk requests from database", "error", err)
		return nil, false
	}

	slog.Info("fetched bulk requests from context", "count", len(requests))
	return requests, true
}

func (db *Database) CreateBulkRequest(companyId uint, fileId uuid.UUID, requestedById uint, requestType BulkRequestType) (*BulkRequest, error) {
	uid := uuid.New()
	request := &BulkRequest{
		ID:              uid,
		CompanyID:       companyId,
		FileID:          fileId,
		RequestedByID:   requestedById,
		Type:            requestType,
		Status:          BulkRequestPending,
		StatusUpdatedAt: time.Now(),
	}
	result := db.GormDB.Save(request)
	if result.Error != nil {
		slog.Error("failed to create bulk request",
			"companyId", companyId,
			"fileId", fileId,
			"type", requestType,
			"error", result.Error)
		return nil, result.Error
	}

	slog.Info("bulk request created successfully",
		"requestId", request.ID,
		"companyId", companyId,
		"fileId", fileId,
		"type", requestType)
	return request, nil
}

func (db *Database) GetBulkRequest(requestId any) (*BulkRequest, error) {
	request := &BulkRequest{}
	result := db.GormDB.Take(request, "id = ?", requestId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Debug("bulk request not found", "requestId", requestId)
			return nil, nil
		} else {
			slog.Error("error fetching bulk request",
				"requestId", requestId,
				"error", result.Error)
			return nil, result.Error
		}
	}
	return request, nil
}

func (db *Database) GetBulkRequestForCompany(requestId any, companyId any) (*BulkRequest, error) {
	request := &BulkRequest{}
	result := db.GormDB.Preload("File").
		Take(request, "id = ? AND company_id = ?", requestId, companyId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Debug("bulk request not found for company",
				"requestId", requestId,
				"companyId", companyId)
			return nil, nil
		} else {
			slog.Error("error fetching bulk request",
				"requestId", requestId,
				"companyId", companyId,
				"error", result.Error)
			return nil, result.Error
		}
	}
	return request, nil
}

func (db *Database) UpdateBulkRequest(request *BulkRequest) error {
	result := db.GormDB.Save(request)
	if result.Error != nil {
		return result.Error
	}
	slog.Info("bulk request updated successfully", "requestId", request.ID)
	return nil
}

// SetBulkRequestJobID assigns the dispatched job id. The id is written at
// most once per request, a second write reports false and leaves the row
// unchanged.
func (db *Database) SetBulkRequestJobID(requestId uuid.UUID, jobId string) (bool, error) {
	result := db.GormDB.Model(&BulkRequest{}).
		Where("id = ? AND job_id IS NULL", requestId).
		Update("job_id", jobId)
	if result.Error != nil {
		slog.Error("failed to set bulk request job id",
			"requestId", requestId,
			"jobId", jobId,
			"error", result.Error)
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		slog.Debug("bulk request already has a job id", "requestId", requestId)
		return false, nil
	}

	slog.Info("bulk request job id set",
		"requestId", requestId,
		"jobId", jobId)
	return true, nil
}

// TransitionBulkRequestStatus flips the request status only when the current
// status is one of from, reporting whether the row was changed.
func (db *Database) TransitionBulkRequestStatus(requestId uuid.UUID, from []BulkRequestStatus, to BulkRequestStatus) (bool, error) {
	result := db.GormDB.Model(&BulkRequest{}).
		Where("id = ? AND status IN ?", requestId, from).
		Updates(map[string]interface{}{
			"status":            to,
			"status_updated_at": time.Now(),
		})
	if result.Error != nil {
		slog.Error("failed to transition bulk request status",
			"requestId", requestId,
			"to", to.ToString(),
			"error", result.Error)
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		slog.Debug("bulk request status transition did not apply",
			"requestId", requestId,
			"to", to.ToString())
		return false, nil
	}

	slog.Info("bulk request status transitioned",
		"requestId", requestId,
		"to", to.ToString())
	return true, nil
}

// MarkBulkRequestFailed moves a request being worked on to failed and records
// the failure reason in one write.
func (db *Database) MarkBulkRequestFailed(requestId uuid.UUID, message string) (bool, error) {
	result := db.GormDB.Model(&BulkRequest{}).
		Where("id = ? AND status IN ?", requestId, []BulkRequestStatus{BulkRequestProcessing, BulkRequestCancelling}).
		Updates(map[string]interface{}{
			"status":            BulkRequestFailed,
			"error_message":     message,
			"status_updated_at": time.Now(),
		})
	if result.Error != nil {
		slog.Error("failed to mark bulk request failed",
			"requestId", requestId,
			"error", result.Error)
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	slog.Info("bulk request failed",
		"requestId", requestId,
		"reason", message)
	return true, nil
}

// GetStaleBulkRequests returns requests that have been in processing or
// cancelling longer than olderThan without a status change. These usually mean
// a worker died mid-run and the request needs operator attention.
func (db *Database) GetStaleBulkRequests(olderThan time.Duration) ([]BulkRequest, error) {
	cutoff := time.Now().Add(-olderThan)

	var requests []BulkRequest
	err := db.GormDB.
		Where("status IN ? AND status_updated_at < ?",
			[]BulkRequestStatus{BulkRequestProcessing, BulkRequestCancelling}, cutoff).
		Order("status_updated_at asc").
		Find(&requests).Error
	if err != nil {
		slog.Error("error fetching stale bulk requests", "error", err)
		return nil, err
	}
	return requests, nil
}

// UpdateBulkRequestProgress records worker row counters. Only requests still
// being worked on accept progress, reports are dropped once the request is in
// a terminal status.
func (db *Database) UpdateBulkRequestProgress(requestId uuid.UUID, processed int, successful int, failed int) (bool, error) {
	result := db.GormDB.Model(&BulkRequest{}).
		Where("id = ? AND status IN ?", requestId, []BulkRequestStatus{BulkRequestProcessing, BulkRequestCancelling}).
		Updates(map[string]interface{}{
			"processed_rows":  processed,
			"successful_rows": successful,
			"failed_rows":     failed,
		})
	if result.Error != nil {
		slog.Error("failed to update bulk request progress",
			"requestId", requestId,
			"error", result.Error)
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
