// Package audit defines the append-only attempt log: every remote call the
// engine makes, success or failure, becomes exactly one Record.
//
// The audit log is the ground truth for "what happened". Sync state is a
// mutable projection that can lose intermediate steps (a crash between the
// external call and the local commit); the audit trail cannot, because
// records are appended before the call's outcome is acted upon.
package audit

import "time"

// Operation is the remote operation an attempt performed.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	// OpLookup is the idempotency probe (find-by-fingerprint). Logged so
	// operators can see adoption decisions, not just mutations.
	OpLookup Operation = "lookup"
)

// Outcome is the result of one attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Record is one attempt against the external service. Append-only:
// never updated, never deleted by the engine.
type Record struct {
	// CycleToken correlates all records written during one scheduler
	// cycle (a UUIDv7, so tokens sort by cycle start time).
	CycleToken string

	ReleaseID string
	WorkID    int64

	// Attempt is the 1-based attempt number within one state-machine
	// invocation.
	Attempt   int
	Operation Operation
	Outcome   Outcome

	// ExternalEventID is the event acted on, when known.
	ExternalEventID string

	// SyncStatus is the release's sync status at the time of the attempt.
	SyncStatus   string
	ErrorMessage string
	RetryCount   int
	MaxRetries   int
	SyncedAt     *time.Time
	Duration     time.Duration

	// Seq is a logical sequence number, strictly increasing per process.
	// Orders records deterministically even when wall clocks collide.
	Seq int64

	CreatedAt time.Time
}
