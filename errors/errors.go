// Package errors provides the structured error taxonomy for the outbox kit.
package errors

import (
	"errors"
	"fmt"
)

// Code represents the failure category.
type Code string

const (
	// CodeEnqueueFailure means the storage write failed and the intent was
	// never recorded; the caller must retry the user action.
	CodeEnqueueFailure Code = "ENQUEUE_FAILURE"

	// CodeTransientSubmit means a network or server hiccup; retried
	// automatically with backoff.
	CodeTransientSubmit Code = "TRANSIENT_SUBMIT"

	// CodeConflict means local/server divergence; never auto-resolved.
	CodeConflict Code = "CONFLICT"

	// CodePermanentSubmit means the operation will never succeed as
	// submitted.
	CodePermanentSubmit Code = "PERMANENT_SUBMIT"

	// CodeRetriesExhausted means transient errors persisted past the retry
	// limit. Kept distinct from CodePermanentSubmit so operators can tell
	// "server rejected" from "never got through".
	CodeRetriesExhausted Code = "RETRIES_EXHAUSTED"

	// CodeStorageFailure means the durable store misbehaved.
	CodeStorageFailure Code = "STORAGE_FAILURE"
)

// Operation represents the outbox operation during which an error occurred.
type Operation string

const (
	OpEnqueue  Operation = "enqueue"
	OpDispatch Operation = "dispatch"
	OpSubmit   Operation = "submit"
	OpResolve  Operation = "resolve"
	OpStore    Operation = "store"
	OpLoad     Operation = "load"
	OpClose    Operation = "close"
)

// QueueError is the structured error attached to outbox failures.
type QueueError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "outbox", "transport")
	Component string

	// Error code for the failure category
	Code Code

	// Whether the operation can be retried automatically
	Retryable bool

	// OperationID ties the failure to a specific queued operation
	OperationID string

	// Underlying error
	Err error

	// Metadata for additional context
	Metadata map[string]any
}

func (e *QueueError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}
	if e.OperationID != "" {
		msg += fmt.Sprintf(" (operation %s)", e.OperationID)
	}

	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

// New creates a new QueueError.
func New(op Operation, err error) *QueueError {
	return &QueueError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new QueueError with component information.
func NewWithComponent(op Operation, component string, err error) *QueueError {
	return &QueueError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewEnqueueFailure reports a failed enqueue; the intent was not recorded.
func NewEnqueueFailure(cause error) *QueueError {
	return &QueueError{
		Code:      CodeEnqueueFailure,
		Op:        OpEnqueue,
		Component: "outbox",
		Err:       cause,
	}
}

// NewStorageError reports a durable-store failure.
func NewStorageError(op Operation, cause error) *QueueError {
	return &QueueError{
		Code:      CodeStorageFailure,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewTransientSubmit reports a submit failure that will be retried.
func NewTransientSubmit(operationID string, cause error) *QueueError {
	return &QueueError{
		Code:        CodeTransientSubmit,
		Op:          OpSubmit,
		Component:   "transport",
		OperationID: operationID,
		Err:         cause,
		Retryable:   true,
	}
}

// NewPermanentSubmit reports a submit the server will never accept.
func NewPermanentSubmit(operationID string, cause error) *QueueError {
	return &QueueError{
		Code:        CodePermanentSubmit,
		Op:          OpSubmit,
		Component:   "transport",
		OperationID: operationID,
		Err:         cause,
	}
}

// NewRetriesExhausted reports a transient failure that persisted past the
// retry limit.
func NewRetriesExhausted(operationID string, attempts int, lastErr error) *QueueError {
	return &QueueError{
		Code:        CodeRetriesExhausted,
		Op:          OpSubmit,
		Component:   "dispatcher",
		OperationID: operationID,
		Err:         fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr),
	}
}

// NewConflict reports a server-detected divergence awaiting resolution.
func NewConflict(operationID string, cause error) *QueueError {
	return &QueueError{
		Code:        CodeConflict,
		Op:          OpSubmit,
		Component:   "dispatcher",
		OperationID: operationID,
		Err:         cause,
	}
}

// IsRetryable checks if an error is a retryable QueueError.
func IsRetryable(err error) bool {
	var qe *QueueError
	if errors.As(err, &qe) {
		return qe.Retryable
	}
	return false
}

// CodeOf returns the failure category of err, or "" if err is not a
// QueueError.
func CodeOf(err error) Code {
	var qe *QueueError
	if errors.As(err, &qe) {
		return qe.Code
	}
	return ""
}
