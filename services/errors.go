package services

import (
	"errors"
)

// BusinessError is a rule violation the caller cannot fix by retrying.
// Controllers map these to 4xx responses, infrastructure errors stay 5xx.
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	return e.Message
}

var (
	ErrRequestNotFound = &BusinessError{Code: "not_found", Message: "bulk request not found"}
	ErrReservedType    = &BusinessError{Code: "reserved_type", Message: "bulk request type is reserved for internal use"}
	ErrAlreadyStarted  = &BusinessError{Code: "already_started", Message: "bulk request was already started"}
	ErrAlreadyQueued   = &BusinessError{Code: "already_queued", Message: "bulk request already has a job assigned"}
	ErrFileNotReady    = &BusinessError{Code: "file_not_ready", Message: "file is not ready for processing"}
	ErrNotCancellable  = &BusinessError{Code: "not_cancellable", Message: "bulk request cannot be cancelled in its current status"}
	ErrAlreadyFinished = &BusinessError{Code: "already_finished", Message: "bulk request already reached a terminal status"}
)

// AsBusinessError returns the BusinessError in err's chain, if any.
func AsBusinessError(err error) (*BusinessError, bool) {
	var businessErr *BusinessError
	if errors.As(err, &businessErr) {
		return businessErr, true
	}
	return nil, false
}
