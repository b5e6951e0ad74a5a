package calendar

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/relwatch/relwatch/internal/retry"
)

// ClassifyError maps a calendar-call error to the retry taxonomy.
//
// Server responses:
//   - 429                            → rate-limited, with the server's Retry-After
//   - 408, 5xx                       → transient
//   - any other 4xx (404/410/422...) → permanent, including stale event ids
//
// Network failures split on whether the request may have reached the
// server. A deadline or I/O timeout after send leaves the server-side
// outcome unknown — ambiguous, resolved by the fingerprint lookup, never
// blind-retried. A refused connection or DNS failure means nothing was
// sent, so retrying is safe. A context cancellation is the engine's own
// shutdown, never retried or counted against the budget: the release is
// left for the next run, whose idempotency probe settles whether the
// call landed.
func ClassifyError(err error) retry.Classification {
	var ae *APIError
	if errors.As(err, &ae) {
		switch {
		case ae.StatusCode == http.StatusTooManyRequests:
			return retry.Classification{Class: retry.ClassRateLimited, RetryAfter: ae.RetryAfter}
		case ae.StatusCode == http.StatusRequestTimeout:
			return retry.Classification{Class: retry.ClassTransient}
		case ae.StatusCode >= 500:
			return retry.Classification{Class: retry.ClassTransient}
		default:
			return retry.Classification{Class: retry.ClassPermanent}
		}
	}

	if errors.Is(err, context.Canceled) {
		return retry.Classification{Class: retry.ClassCancelled}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return retry.Classification{Class: retry.ClassAmbiguous}
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return retry.Classification{Class: retry.ClassAmbiguous}
	}

	// Remaining network-level failures (refused, reset before send, DNS)
	// never produced a server-side effect.
	return retry.Classification{Class: retry.ClassTransient}
}
