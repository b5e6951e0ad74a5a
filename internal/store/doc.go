// Package store provides SQLite-backed durable storage for the sync engine.
//
// The store holds three kinds of data:
//   - Releases: the upstream projection (works and their dated releases)
//   - Sync State: one mutable row per release tracking its calendar lifecycle
//   - Sync Audit: an append-only log of every attempt against the calendar
//
// # Invariants
//
// Event binding uniqueness
//   - UNIQUE constraint on sync_state.external_event_id
//   - A calendar event belongs to at most one release; a second binding
//     attempt fails hard instead of duplicating events
//
// Status/event coupling
//   - CHECK: external_event_id present exactly when status is synced/updated
//   - A release that is not live in the calendar never carries an event id
//
// Deterministic ordering
//   - Pending work ordered by release_date ASC, id ASC
//   - Audit reads ordered by seq ASC, id ASC (logical clock, not wall time)
//
// Crash safety
//   - Retry counters are bumped row-by-row as attempts fail, so a crash
//     mid-cycle never resets the budget
//   - Audit rows are inserted before their outcome is acted on locally
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
