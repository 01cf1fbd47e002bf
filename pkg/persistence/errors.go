// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrRequestNotFound indicates a request was not found by the given identifier.
	ErrRequestNotFound = errors.New("request not found")

	// ErrRequestAlreadyExists indicates a request with the same identifier already exists.
	ErrRequestAlreadyExists = errors.New("request already exists")

	// ErrVersionConflict indicates a conditional update lost a race: the
	// stored version moved between read and write.
	ErrVersionConflict = errors.New("request version conflict")

	// ErrHistoryEntryExists indicates an attempt to rewrite an existing
	// history entry. History is append-only.
	ErrHistoryEntryExists = errors.New("history entry already exists")
)

// RequestError wraps request-related errors with additional context.
type RequestError struct {
	Op        string // Operation being performed (e.g., "GetByID", "Update")
	RequestID string // Request ID if applicable
	Err       error  // Underlying error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s operation failed for request %s: %v", e.Op, e.RequestID, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for request errors.
func (e *RequestError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRequestError creates a new request error with context.
func NewRequestError(op, requestID string, err error) *RequestError {
	return &RequestError{
		Op:        op,
		RequestID: requestID,
		Err:       err,
	}
}

// HistoryError wraps history-related errors with additional context.
type HistoryError struct {
	Op        string
	RequestID string
	EntryID   string
	Err       error
}

func (e *HistoryError) Error() string {
	return fmt.Sprintf("%s operation failed for history entry %s of request %s: %v", e.Op, e.EntryID, e.RequestID, e.Err)
}

func (e *HistoryError) Unwrap() error {
	return e.Err
}

func (e *HistoryError) Is(target error) bool {
	return errors.Is(e.Err, target)
}
