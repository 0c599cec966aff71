package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dchest/uniuri"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/kontorhq/kontor-backend/models"
	"github.com/kontorhq/kontor-backend/queue"
)

// metadata key holding the file status to restore when dispatch fails
const PriorFileStatusKey = "prior_file_status"

// BulkRequestStore is the slice of models.Database the bulk state machine
// writes requests through.
type BulkRequestStore interface {
	GetBulkRequest(requestId any) (*models.BulkRequest, error)
	GetBulkRequestForCompany(requestId any, companyId any) (*models.BulkRequest, error)
	UpdateBulkRequest(request *models.BulkRequest) error
	SetBulkRequestJobID(requestId uuid.UUID, jobId string) (bool, error)
	TransitionBulkRequestStatus(requestId uuid.UUID, from []models.BulkRequestStatus, to models.BulkRequestStatus) (bool, error)
	MarkBulkRequestFailed(requestId uuid.UUID, message string) (bool, error)
	UpdateBulkRequestProgress(requestId uuid.UUID, processed int, successful int, failed int) (bool, error)
}

type FileStore interface {
	GetFile(fileId any) (*models.File, error)
	TransitionFileStatus(fileId uuid.UUID, from models.FileStatus, to models.FileStatus) (bool, error)
	SetFileStatus(fileId uuid.UUID, status models.FileStatus) error
}

type TokenStore interface {
	CreateWorkerToken(companyId uint) (*models.WorkerToken, error)
}

// JobDispatcher is the slice of queue.Dispatcher the state machine needs.
type JobDispatcher interface {
	Enqueue(ctx context.Context, job queue.Job) (queue.EnqueueResult, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string) error
}

// Locker serializes starts per file, *filelock.Service implements it.
type Locker interface {
	WithFileLock(ctx context.Context, fileID string, fn func(ctx context.Context) error) error
}

// BulkService drives bulk requests through their lifecycle. All mutual
// exclusion lives in the Locker and in guarded database updates, the service
// itself holds no state.
type BulkService struct {
	Requests   BulkRequestStore
	Files      FileStore
	Tokens     TokenStore
	Locker     Locker
	Dispatcher JobDispatcher
	// JobPriority is given to every dispatched job, lower runs first.
	JobPriority int
}

func NewBulkService(db *models.Database, locker Locker, dispatcher JobDispatcher) *BulkService {
	return &BulkService{
		Requests:    db,
		Files:       db,
		Tokens:      db,
		Locker:      locker,
		Dispatcher:  dispatcher,
		JobPriority: 10,
	}
}

type StartResult struct {
	JobID string
}

// Start moves a pending request to processing: it flips the file to
// processing, assigns a job id, dispatches the job and only then records the
// processing status. The whole sequence runs under the file lock so two
// starts for the same file serialize.
func (s *BulkService) Start(ctx context.Context, requestId uuid.UUID, companyId uint) (*StartResult, error) {
	request, err := s.Requests.GetBulkRequestForCompany(requestId, companyId)
	if err != nil {
		return nil, fmt.Errorf("failed to load bulk request %v: %w", requestId, err)
	}
	if request == nil {
		return nil, ErrRequestNotFound
	}
	if request.Type == models.BulkRequestMaintenance {
		return nil, ErrReservedType
	}

	var startResult *StartResult
	err = s.Locker.WithFileLock(ctx, request.FileID.String(), func(ctx context.Context) error {
		result, err := s.startLocked(ctx, requestId, companyId)
		if err != nil {
			return err
		}
		startResult = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return startResult, nil
}

func (s *BulkService) startLocked(ctx context.Context, requestId uuid.UUID, companyId uint) (*StartResult, error) {
	// reload now that the lock is held, another caller may have won the race
	request, err := s.Requests.GetBulkRequestForCompany(requestId, companyId)
	if err != nil {
		return nil, fmt.Errorf("failed to reload bulk request %v: %w", requestId, err)
	}
	if request == nil {
		return nil, ErrRequestNotFound
	}
	if request.Status != models.BulkRequestPending {
		return nil, fmt.Errorf("%w: request %v is %v", ErrAlreadyStarted, request.ID, request.Status.ToString())
	}
	if request.JobID != nil {
		return nil, fmt.Errorf("%w: request %v already has job %v", ErrAlreadyQueued, request.ID, *request.JobID)
	}

	file, err := s.Files.GetFile(request.FileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load file %v: %w", request.FileID, err)
	}
	if file == nil {
		return nil, fmt.Errorf("%w: file %v is missing", ErrFileNotReady, request.FileID)
	}
	if file.Status != models.FileUploaded {
		return nil, fmt.Errorf("%w: file %v is %v, want %v", ErrFileNotReady, file.ID, file.Status, models.FileUploaded)
	}
	priorStatus := file.Status

	changed, err := s.Files.TransitionFileStatus(file.ID, models.FileUploaded, models.FileProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to mark file %v as processing: %w", file.ID, err)
	}
	if !changed {
		return nil, fmt.Errorf("%w: file %v changed status concurrently", ErrFileNotReady, file.ID)
	}

	// from here on every failure restores the file status
	if err := request.SetMetadataValue(PriorFileStatusKey, string(priorStatus)); err != nil {
		s.rollbackFileStatus(file.ID, priorStatus)
		return nil, fmt.Errorf("failed to record prior file status for request %v: %v", request.ID, err)
	}
	if err := s.Requests.UpdateBulkRequest(request); err != nil {
		s.rollbackFileStatus(file.ID, priorStatus)
		return nil, fmt.Errorf("failed to persist rollback record for request %v: %w", request.ID, err)
	}

	workerToken, err := s.Tokens.CreateWorkerToken(companyId)
	if err != nil {
		s.rollbackFileStatus(file.ID, priorStatus)
		return nil, fmt.Errorf("failed to create worker token for request %v: %w", request.ID, err)
	}

	jobId := fmt.Sprintf("%v-%v-%v", request.Type, time.Now().UnixMilli(), uniuri.NewLen(8))
	set, err := s.Requests.SetBulkRequestJobID(request.ID, jobId)
	if err != nil {
		s.rollbackFileStatus(file.ID, priorStatus)
		return nil, fmt.Errorf("failed to assign job id to request %v: %w", request.ID, err)
	}
	if !set {
		s.rollbackFileStatus(file.ID, priorStatus)
		return nil, fmt.Errorf("%w: request %v", ErrAlreadyQueued, request.ID)
	}
	request.JobID = &jobId

	_, err = s.Dispatcher.Enqueue(ctx, queue.Job{
		ID:   jobId,
		Name: string(request.Type),
		Payload: map[string]any{
			"request_id":     request.ID.String(),
			"file_id":        file.ID.String(),
			"company_id":     companyId,
			"type":           string(request.Type),
			"callback_token": workerToken.Value,
		},
		Priority: s.JobPriority,
	})
	if err != nil {
		// the request keeps its job id so the failed dispatch stays
		// diagnosable, only the file status is restored
		s.rollbackFileStatus(file.ID, priorStatus)
		slog.Error("job dispatch failed, file status rolled back",
			"requestId", request.ID,
			"jobId", jobId,
			"error", err)
		return nil, fmt.Errorf("failed to dispatch job %v for request %v: %w", jobId, request.ID, err)
	}

	changed, err = s.Requests.TransitionBulkRequestStatus(request.ID, []models.BulkRequestStatus{models.BulkRequestPending}, models.BulkRequestProcessing)
	if err != nil || !changed {
		// the job is already queued, leaving the request pending here is
		// wrong but recoverable, so report loudly instead of rolling back
		slog.Error("job dispatched but request status update failed",
			"requestId", request.ID,
			"jobId", jobId,
			"changed", changed,
			"error", err)
		sentry.CaptureException(fmt.Errorf("request %v dispatched job %v but stayed pending: %v", request.ID, jobId, err))
		return nil, fmt.Errorf("failed to mark request %v as processing: %v", request.ID, err)
	}

	slog.Info("bulk request started",
		"requestId", request.ID,
		"companyId", companyId,
		"fileId", file.ID,
		"jobId", jobId,
		"type", request.Type)
	return &StartResult{JobID: jobId}, nil
}

// Cancel signals a processing request to stop. The worker observes the
// cancelling status and finalizes the request through Complete.
func (s *BulkService) Cancel(ctx context.Context, requestId uuid.UUID, companyId uint) error {
	request, err := s.Requests.GetBulkRequestForCompany(requestId, companyId)
	if err != nil {
		return fmt.Errorf("failed to load bulk request %v: %w", requestId, err)
	}
	if request == nil {
		return ErrRequestNotFound
	}

	changed, err := s.Requests.TransitionBulkRequestStatus(request.ID, []models.BulkRequestStatus{models.BulkRequestProcessing}, models.BulkRequestCancelling)
	if err != nil {
		return fmt.Errorf("failed to cancel request %v: %w", requestId, err)
	}
	if !changed {
		return fmt.Errorf("%w: request %v is %v", ErrNotCancellable, request.ID, request.Status.ToString())
	}

	slog.Info("bulk request cancelling",
		"requestId", request.ID,
		"companyId", companyId)
	return nil
}

// MarkProgress records worker row counters. Returns false without error when
// the request has already reached a terminal status and the report is
// dropped, the worker should stop.
func (s *BulkService) MarkProgress(ctx context.Context, requestId uuid.UUID, processed int, successful int, failed int) (bool, error) {
	request, err := s.Requests.GetBulkRequest(requestId)
	if err != nil {
		return false, fmt.Errorf("failed to load bulk request %v: %w", requestId, err)
	}
	if request == nil {
		return false, ErrRequestNotFound
	}

	applied, err := s.Requests.UpdateBulkRequestProgress(requestId, processed, successful, failed)
	if err != nil {
		return false, fmt.Errorf("failed to record progress for request %v: %w", requestId, err)
	}
	return applied, nil
}

// Complete finalizes a request the worker is done with: processing becomes
// completed, cancelling becomes cancelled. The processed file is marked
// processed and the queue retention policy is applied to the job record.
func (s *BulkService) Complete(ctx context.Context, requestId uuid.UUID) (models.BulkRequestStatus, error) {
	request, err := s.Requests.GetBulkRequest(requestId)
	if err != nil {
		return 0, fmt.Errorf("failed to load bulk request %v: %w", requestId, err)
	}
	if request == nil {
		return 0, ErrRequestNotFound
	}

	finalStatus := models.BulkRequestCompleted
	changed, err := s.Requests.TransitionBulkRequestStatus(request.ID, []models.BulkRequestStatus{models.BulkRequestProcessing}, models.BulkRequestCompleted)
	if err != nil {
		return 0, fmt.Errorf("failed to complete request %v: %w", requestId, err)
	}
	if !changed {
		finalStatus = models.BulkRequestCancelled
		changed, err = s.Requests.TransitionBulkRequestStatus(request.ID, []models.BulkRequestStatus{models.BulkRequestCancelling}, models.BulkRequestCancelled)
		if err != nil {
			return 0, fmt.Errorf("failed to finalize cancelled request %v: %w", requestId, err)
		}
	}
	if !changed {
		return 0, fmt.Errorf("%w: request %v is %v", ErrAlreadyFinished, request.ID, request.Status.ToString())
	}

	fileStatus := models.FileProcessed
	if finalStatus == models.BulkRequestCancelled {
		// a cancelled import leaves the file as it was uploaded
		fileStatus = models.FileUploaded
	}
	if err := s.Files.SetFileStatus(request.FileID, fileStatus); err != nil {
		slog.Error("request finalized but file status update failed",
			"requestId", request.ID,
			"fileId", request.FileID,
			"error", err)
	}

	s.settleJob(ctx, request, finalStatus == models.BulkRequestCompleted)

	slog.Info("bulk request finalized",
		"requestId", request.ID,
		"status", finalStatus.ToString())
	return finalStatus, nil
}

// Fail moves a request the worker gave up on to failed and records the
// reason. The file is marked failed as well so it cannot be restarted
// without a fresh upload.
func (s *BulkService) Fail(ctx context.Context, requestId uuid.UUID, reason string) error {
	request, err := s.Requests.GetBulkRequest(requestId)
	if err != nil {
		return fmt.Errorf("failed to load bulk request %v: %w", requestId, err)
	}
	if request == nil {
		return ErrRequestNotFound
	}

	changed, err := s.Requests.MarkBulkRequestFailed(request.ID, reason)
	if err != nil {
		return fmt.Errorf("failed to fail request %v: %w", requestId, err)
	}
	if !changed {
		return fmt.Errorf("%w: request %v is %v", ErrAlreadyFinished, request.ID, request.Status.ToString())
	}

	if err := s.Files.SetFileStatus(request.FileID, models.FileFailed); err != nil {
		slog.Error("request failed but file status update failed",
			"requestId", request.ID,
			"fileId", request.FileID,
			"error", err)
	}

	s.settleJob(ctx, request, false)

	slog.Info("bulk request failed",
		"requestId", request.ID,
		"reason", reason)
	return nil
}

// settleJob applies retention to the queue record once a request reached a
// terminal status. Retention is best effort, a leftover record only costs
// storage.
func (s *BulkService) settleJob(ctx context.Context, request *models.BulkRequest, completed bool) {
	if request.JobID == nil {
		return
	}
	var err error
	if completed {
		err = s.Dispatcher.Complete(ctx, *request.JobID)
	} else {
		err = s.Dispatcher.Fail(ctx, *request.JobID)
	}
	if err != nil {
		slog.Warn("failed to settle job record",
			"requestId", request.ID,
			"jobId", *request.JobID,
			"error", err)
	}
}

// rollbackFileStatus undoes the uploaded to processing flip after a failed
// start. A failed rollback leaves the file stuck in processing, which blocks
// future starts, so it is reported to sentry.
func (s *BulkService) rollbackFileStatus(fileId uuid.UUID, priorStatus models.FileStatus) {
	if err := s.Files.SetFileStatus(fileId, priorStatus); err != nil {
		slog.Error("rollback failed, file status could not be restored",
			"fileId", fileId,
			"priorStatus", priorStatus,
			"error", err)
		sentry.CaptureException(fmt.Errorf("file %v stuck in processing, rollback failed: %v", fileId, err))
		return
	}
	slog.Info("file status rolled back",
		"fileId", fileId,
		"priorStatus", priorStatus)
}
