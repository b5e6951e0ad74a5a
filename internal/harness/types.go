package harness

import (
	"fmt"

	"github.com/relwatch/relwatch/internal/audit"
	"github.com/relwatch/relwatch/internal/engine"
)

// TrailEvent is the deterministic projection of one audit record: wall
// times and durations are dropped, everything that is stable across runs
// is kept.
type TrailEvent struct {
	Cycle      string `json:"cycle"`
	Release    string `json:"release"`
	Op         string `json:"op"`
	Attempt    int    `json:"attempt"`
	Outcome    string `json:"outcome"`
	EventID    string `json:"event_id,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
	Seq        int64  `json:"seq"`
}

func toTrailEvent(rec audit.Record) TrailEvent {
	return TrailEvent{
		Cycle:      rec.CycleToken,
		Release:    rec.ReleaseID,
		Op:         string(rec.Operation),
		Attempt:    rec.Attempt,
		Outcome:    string(rec.Outcome),
		EventID:    rec.ExternalEventID,
		Error:      rec.ErrorMessage,
		RetryCount: rec.RetryCount,
		Seq:        rec.Seq,
	}
}

// Result is the outcome of one scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Errors lists each failed expectation. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Reports holds one cycle report per executed cycle.
	Reports []engine.Report `json:"-"`

	// Trail is the full audit trail in seq order.
	Trail []TrailEvent `json:"trail"`

	// Statuses maps release id to final sync status.
	Statuses map[string]string `json:"statuses"`

	// EventCount is the number of events left in the calendar.
	EventCount int `json:"event_count"`
}

func newResult() *Result {
	return &Result{
		Pass:     true,
		Statuses: make(map[string]string),
	}
}

// addError records a failed expectation and marks the result failed.
func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}
