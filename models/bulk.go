package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type BulkRequestType string

const (
	BulkRequestProductImport BulkRequestType = "product_import"
	BulkRequestPriceUpdate   BulkRequestType = "price_update"
	// reserved for internal maintenance runs, never accepted from the API
	BulkRequestMaintenance BulkRequestType = "maintenance"
)

type BulkRequestStatus int8

const (
	BulkRequestPending    BulkRequestStatus = 1
	BulkRequestProcessing BulkRequestStatus = 2
	BulkRequestCompleted  BulkRequestStatus = 3
	BulkRequestFailed     BulkRequestStatus = 4
	BulkRequestCancelling BulkRequestStatus = 5
	BulkRequestCancelled  BulkRequestStatus = 6
)

func (s BulkRequestStatus) ToString() string {
	switch s {
	case BulkRequestPending:
		return "pending"
	case BulkRequestProcessing:
		return "processing"
	case BulkRequestCompleted:
		return "completed"
	case BulkRequestFailed:
		return "failed"
	case BulkRequestCancelling:
		return "cancelling"
	case BulkRequestCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further status transitions are allowed.
func (s BulkRequestStatus) IsTerminal() bool {
	return s == BulkRequestCompleted || s == BulkRequestFailed || s == BulkRequestCancelled
}

type BulkRequest struct {
	ID            uuid.UUID `gorm:"primary_key"`
	CompanyID     uint      `gorm:"index:idx_bulk_request_company"`
	Company       *Company
	FileID        uuid.UUID `gorm:"index:idx_bulk_request_file"`
	File          *File
	RequestedByID uint
	RequestedBy   *User
	Type          BulkRequestType
	Status        BulkRequestStatus
	// id of the dispatched job in the queue, set at most once
	JobID           *string `gorm:"index:idx_bulk_request_job_id"`
	ProcessedRows   int
	SuccessfulRows  int
	FailedRows      int
	ErrorMessage    string
	// audit trail for rollbacks, json key/value blob
	Metadata        []byte
	StatusUpdatedAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MetadataValue reads a single key from the json metadata blob.
func (b *BulkRequest) MetadataValue(key string) (string, bool) {
	if len(b.Metadata) == 0 {
		return "", false
	}
	var values map[string]string
	if err := json.Unmarshal(b.Metadata, &values); err != nil {
		return "", false
	}
	value, ok := values[key]
	return value, ok
}

// SetMetadataValue stores a single key in the json metadata blob, preserving
// existing keys.
func (b *BulkRequest) SetMetadataValue(key string, value string) error {
	values := map[string]string{}
	if len(b.Metadata) > 0 {
		if err := json.Unmarshal(b.Metadata, &values); err != nil {
			return fmt.Errorf("failed to unmarshal bulk request metadata: %v", err)
		}
	}
	values[key] = value
	serialized, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to marshal bulk request metadata: %v", err)
	}
	b.Metadata = serialized
	return nil
}

func (b *BulkRequest) MapToJsonStruct() interface{} {
	jobId := ""
	if b.JobID != nil {
		jobId = *b.JobID
	}
	return struct {
		Id              string    `json:"id"`
		CompanyID       uint      `json:"company_id"`
		FileID          string    `json:"file_id"`
		Type            string    `json:"type"`
		Status          string    `json:"status"`
		JobID           string    `json:"job_id,omitempty"`
		ProcessedRows   int       `json:"processed_rows"`
		SuccessfulRows  int       `json:"successful_rows"`
		FailedRows      int       `json:"failed_rows"`
		ErrorMessage    string    `json:"error_message,omitempty"`
		StatusUpdatedAt time.Time `json:"status_updated_at"`
		CreatedAt       time.Time `json:"created_at"`
	}{
		Id:              b.ID.String(),
		CompanyID:       b.CompanyID,
		FileID:          b.FileID.String(),
		Type:            string(b.Type),
		Status:          b.Status.ToString(),
		JobID:           jobId,
		ProcessedRows:   b.ProcessedRows,
		SuccessfulRows:  b.SuccessfulRows,
		FailedRows:      b.FailedRows,
		ErrorMessage:    b.ErrorMessage,
		StatusUpdatedAt: b.StatusUpdatedAt,
		CreatedAt:       b.CreatedAt,
	}
}
