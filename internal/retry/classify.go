// Package retry wraps a single remote call with bounded exponential-backoff
// retry and an explicit error taxonomy.
//
// The executor is a first-class configured value composed around a call-site
// closure, not an annotation: the caller hands it the operation, a
// classifier, and an attempt observer, and gets back either success or the
// final classified error. Transient and rate-limited errors are absorbed
// here; only permanent, ambiguous, and retry-exhausted errors escape to the
// state machine.
package retry

import "time"

// Class categorizes a failed remote call and decides the retry policy.
type Class int

const (
	// ClassTransient is a failure expected to heal on its own (network
	// blip, 5xx). Retried with exponential backoff, bounded by the
	// attempt budget.
	ClassTransient Class = iota + 1

	// ClassRateLimited is the external service telling us to slow down
	// (429 / quota exceeded). Retried after a cool-down and NOT counted
	// against the attempt budget: "we were too fast" is not "we are
	// broken".
	ClassRateLimited

	// ClassPermanent is a failure retrying cannot fix (validation 4xx,
	// malformed payload, stale event id). Surfaced immediately.
	ClassPermanent

	// ClassAmbiguous is a failure with unknown server-side outcome, e.g.
	// a timeout after the request may have been sent. Never blind-retried:
	// the caller must resolve it via the idempotency lookup first.
	ClassAmbiguous

	// ClassCancelled is the caller's own shutdown observed mid-call. Not
	// an attempt outcome: the executor surfaces it without consuming
	// budget and without reporting the attempt to the observer, so
	// persisted state is left for the next run to pick up.
	ClassCancelled
)

// String implements fmt.Stringer for logs and audit records.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimited:
		return "rate_limited"
	case ClassPermanent:
		return "permanent"
	case ClassAmbiguous:
		return "ambiguous"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classification is a classifier verdict. RetryAfter carries the
// server-requested cool-down for rate-limited errors (zero = use the
// executor's configured cool-down).
type Classification struct {
	Class      Class
	RetryAfter time.Duration
}

// Classifier maps a remote-call error to its classification.
// Must be pure: same error, same verdict.
type Classifier func(error) Classification
