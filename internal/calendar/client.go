// Package calendar defines the outbound boundary to the external calendar
// service: the Client interface the engine depends on, the event payload
// model, the pure payload builder, and an HTTP implementation.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by FindEventByFingerprint when no event carries
// the fingerprint. It is a lookup miss, not a failure.
var ErrNotFound = errors.New("calendar: event not found")

// Client is the narrow contract the sync engine has with the external
// calendar service.
//
// All methods must be safe to call with an expired or invalid event id:
// the server's 404/410 surfaces as an *APIError (classified permanent by
// the retry layer), never as a panic or a hang.
type Client interface {
	// CreateEvent creates an event and returns the service-assigned id.
	CreateEvent(ctx context.Context, payload EventPayload) (string, error)

	// UpdateEvent replaces the payload of an existing event.
	UpdateEvent(ctx context.Context, eventID string, payload EventPayload) error

	// DeleteEvent removes an existing event.
	DeleteEvent(ctx context.Context, eventID string) error

	// FindEventByFingerprint searches for an event whose metadata carries
	// the given fingerprint. Returns ErrNotFound on a miss.
	//
	// This is the idempotency probe: it resolves "did my earlier create
	// actually land" without risking a duplicate.
	FindEventByFingerprint(ctx context.Context, fingerprint string) (string, error)
}

// APIError is a non-2xx response from the calendar service.
//
// RetryAfter carries the server-requested cool-down from a 429 response
// (zero when the server did not specify one).
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("calendar: server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("calendar: server returned %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an *APIError with the given status code.
// Uses errors.As to handle wrapped errors.
func IsStatus(err error, code int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == code
}
