// Package engine drives the release-to-calendar sync: the per-release
// state machine (Machine) and the batch scheduler (Scheduler) around it.
//
// The machine owns the operation decision and its safety properties:
//   - Idempotent creates: every create is preceded by a fingerprint probe,
//     and ambiguous outcomes are resolved by probing, never by blind retry
//   - One event per release: binding an already-bound event id is a hard
//     failure, not a duplicate
//   - Bounded retries: the transient budget is persisted per failed
//     attempt, so crashes never reset it
//   - Full audit: every remote attempt is appended to the audit sink
//     before its outcome is acted on
//
// The scheduler owns batching, worker-pool concurrency, per-release fault
// isolation, and graceful cancellation. Cycle tokens (UUIDv7) correlate
// every audit record written during one cycle.
package engine
