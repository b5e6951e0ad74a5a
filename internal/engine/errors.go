package engine

import (
	"errors"
	"fmt"
)

// SyncError is a terminal per-release failure from the state machine.
//
// Sync errors include:
//   - Retry exhausted: transient failures ran out the attempt budget
//   - Permanent failure: the service rejected the operation outright
//   - Ambiguous unresolved: outcome unknown and the lookup could not settle it
//   - Binding conflict: the external event is already bound to another release
//
// SyncError includes structured fields for diagnostics and recovery.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Message is a human-readable description.
	Message string

	// ReleaseID identifies the affected release.
	ReleaseID string

	// EventID identifies the external event involved, when known.
	EventID string

	// Err is the underlying cause.
	Err error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeRetryExhausted indicates the transient attempt budget ran out.
	ErrCodeRetryExhausted SyncErrorCode = "RETRY_EXHAUSTED"

	// ErrCodePermanent indicates the service rejected the operation and
	// retrying cannot fix it.
	ErrCodePermanent SyncErrorCode = "PERMANENT_FAILURE"

	// ErrCodeAmbiguous indicates the remote outcome is unknown and the
	// fingerprint lookup could not resolve it either way.
	ErrCodeAmbiguous SyncErrorCode = "AMBIGUOUS_UNRESOLVED"

	// ErrCodeBindingConflict indicates the external event id is already
	// bound to a different release.
	ErrCodeBindingConflict SyncErrorCode = "BINDING_CONFLICT"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("%s: %s (release=%s, event=%s)", e.Code, e.Message, e.ReleaseID, e.EventID)
	}
	return fmt.Sprintf("%s: %s (release=%s)", e.Code, e.Message, e.ReleaseID)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// CodeOf extracts the sync error code from an error chain.
// Returns "" for non-sync errors (e.g. context cancellation).
func CodeOf(err error) SyncErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsBindingConflict returns true if the error is a binding conflict.
// Uses errors.As to handle wrapped errors.
func IsBindingConflict(err error) bool {
	return CodeOf(err) == ErrCodeBindingConflict
}
