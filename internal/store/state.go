package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Status is the lifecycle state of a release with respect to the calendar.
type Status string

const (
	// StatusPending means the release has never been projected into the
	// calendar, or was re-armed for another attempt.
	StatusPending Status = "pending"
	// StatusSynced means the calendar holds an event for this release.
	StatusSynced Status = "synced"
	// StatusUpdated means the calendar event was refreshed after an
	// upstream content change.
	StatusUpdated Status = "updated"
	// StatusFailed means the retry budget was exhausted or a permanent
	// error occurred. Parked until re-driven.
	StatusFailed Status = "failed"
	// StatusDeleted means the calendar event was removed after an
	// upstream cancellation. Terminal.
	StatusDeleted Status = "deleted"
)

// Valid reports whether st is a known status.
func (st Status) Valid() bool {
	switch st {
	case StatusPending, StatusSynced, StatusUpdated, StatusFailed, StatusDeleted:
		return true
	}
	return false
}

var (
	// ErrReleaseNotFound is returned when no release or state row exists
	// for the requested canonical identifier.
	ErrReleaseNotFound = errors.New("release not found")

	// ErrEventBound is returned when an external event identifier is
	// already bound to a different release. The UNIQUE constraint on
	// sync_state.external_event_id turns would-be duplicate bindings into
	// this hard failure.
	ErrEventBound = errors.New("external event already bound to another release")

	// ErrNotRedrivable is returned when a re-drive targets a release that
	// is not in the failed state.
	ErrNotRedrivable = errors.New("release is not in failed state")
)

// SyncState is one row of the sync_state table.
type SyncState struct {
	ReleaseID       string
	Status          Status
	ExternalEventID string
	RetryCount      int
	LastError       string
	SyncedAt        *time.Time
	UpdatedAt       time.Time
}

// Live reports whether the calendar currently holds an event for this release.
func (st SyncState) Live() bool {
	return st.Status == StatusSynced || st.Status == StatusUpdated
}

// EnsureState creates a pending state row for the release if none exists.
// Uses INSERT OR IGNORE so concurrent ensures and re-runs are harmless.
func (s *Store) EnsureState(ctx context.Context, releaseID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sync_state (release_id, status, updated_at)
		VALUES (?, 'pending', ?)
	`, releaseID, now.UTC())
	if err != nil {
		return fmt.Errorf("ensure state: %w", err)
	}
	return nil
}

// GetState returns the sync state for a release.
func (s *Store) GetState(ctx context.Context, releaseID string) (SyncState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT release_id, status, external_event_id, retry_count, last_error, synced_at, updated_at
		FROM sync_state
		WHERE release_id = ?
	`, releaseID)

	st, err := scanState(row)
	if err == sql.ErrNoRows {
		return SyncState{}, fmt.Errorf("get state: %w", ErrReleaseNotFound)
	}
	if err != nil {
		return SyncState{}, fmt.Errorf("get state: %w", err)
	}
	return st, nil
}

// MarkSynced records a successful create or update. The retry counter and
// last error are cleared; synced_at is set to the moment the calendar
// confirmed the event. updated selects between the synced and updated states.
func (s *Store) MarkSynced(ctx context.Context, releaseID, eventID string, syncedAt time.Time, updated bool) error {
	status := StatusSynced
	if updated {
		status = StatusUpdated
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_state SET
			status = ?,
			external_event_id = ?,
			retry_count = 0,
			last_error = NULL,
			synced_at = ?,
			updated_at = ?
		WHERE release_id = ?
	`, string(status), eventID, syncedAt.UTC(), syncedAt.UTC(), releaseID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("mark synced %s: %w", eventID, ErrEventBound)
		}
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// BumpRetry increments the retry counter and records the error that caused
// the attempt to fail, without changing status. Called after each failed
// transient attempt so a crash mid-cycle preserves the count.
func (s *Store) BumpRetry(ctx context.Context, releaseID, errMsg string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_state SET
			retry_count = retry_count + 1,
			last_error = ?,
			updated_at = ?
		WHERE release_id = ?
	`, errMsg, now.UTC(), releaseID)
	if err != nil {
		return fmt.Errorf("bump retry: %w", err)
	}
	return nil
}

// MarkFailed parks the release in the failed state. The external event id is
// cleared: a failed release is by definition not reliably live in the
// calendar, and the status CHECK constraint requires the id to be absent.
func (s *Store) MarkFailed(ctx context.Context, releaseID, errMsg string, retryCount int, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_state SET
			status = 'failed',
			external_event_id = NULL,
			retry_count = ?,
			last_error = ?,
			updated_at = ?
		WHERE release_id = ?
	`, retryCount, errMsg, now.UTC(), releaseID)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// MarkDeleted records that the calendar event for a cancelled release was
// removed. Terminal state; the external event id is cleared.
func (s *Store) MarkDeleted(ctx context.Context, releaseID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_state SET
			status = 'deleted',
			external_event_id = NULL,
			retry_count = 0,
			last_error = NULL,
			updated_at = ?
		WHERE release_id = ?
	`, now.UTC(), releaseID)
	if err != nil {
		return fmt.Errorf("mark deleted: %w", err)
	}
	return nil
}

// AdoptExternalEvent binds an event discovered by fingerprint lookup to a
// release and marks it synced, atomically. If another release already holds
// the event id, the UNIQUE constraint fires and ErrEventBound is returned
// with no partial write.
func (s *Store) AdoptExternalEvent(ctx context.Context, releaseID, eventID string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("adopt event: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		UPDATE sync_state SET
			status = 'synced',
			external_event_id = ?,
			retry_count = 0,
			last_error = NULL,
			synced_at = ?,
			updated_at = ?
		WHERE release_id = ?
	`, eventID, now.UTC(), now.UTC(), releaseID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("adopt event %s: %w", eventID, ErrEventBound)
		}
		return fmt.Errorf("adopt event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adopt event: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("adopt event: %w", ErrReleaseNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("adopt event: commit: %w", err)
	}
	return nil
}

// Redrive re-arms a single failed release for another sync pass: status back
// to pending, retry counter and error cleared. Only failed releases are
// eligible; anything else returns ErrNotRedrivable.
func (s *Store) Redrive(ctx context.Context, releaseID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_state SET
			status = 'pending',
			retry_count = 0,
			last_error = NULL,
			updated_at = ?
		WHERE release_id = ? AND status = 'failed'
	`, now.UTC(), releaseID)
	if err != nil {
		return fmt.Errorf("redrive: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("redrive: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("redrive %s: %w", releaseID, ErrNotRedrivable)
	}
	return nil
}

// RedriveAllFailed re-arms every failed release and returns how many were
// re-armed.
func (s *Store) RedriveAllFailed(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_state SET
			status = 'pending',
			retry_count = 0,
			last_error = NULL,
			updated_at = ?
		WHERE status = 'failed'
	`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("redrive all: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("redrive all: rows affected: %w", err)
	}
	return int(affected), nil
}

// CountByStatus returns how many releases sit in each state.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM sync_state GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var (
			st Status
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("count by status: scan: %w", err)
		}
		counts[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count by status: iterate: %w", err)
	}
	return counts, nil
}

// FailedStates lists releases parked in the failed state, oldest first.
func (s *Store) FailedStates(ctx context.Context) ([]SyncState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT release_id, status, external_event_id, retry_count, last_error, synced_at, updated_at
		FROM sync_state
		WHERE status = 'failed'
		ORDER BY updated_at ASC, release_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed states: %w", err)
	}
	defer rows.Close()

	var states []SyncState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed states: scan: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed states: iterate: %w", err)
	}

	if states == nil {
		states = []SyncState{}
	}
	return states, nil
}

func scanState(row scanner) (SyncState, error) {
	var (
		st       SyncState
		status   string
		eventID  sql.NullString
		lastErr  sql.NullString
		syncedAt sql.NullTime
	)
	err := row.Scan(&st.ReleaseID, &status, &eventID, &st.RetryCount, &lastErr, &syncedAt, &st.UpdatedAt)
	if err != nil {
		return SyncState{}, err
	}
	st.Status = Status(status)
	st.ExternalEventID = eventID.String
	st.LastError = lastErr.String
	st.SyncedAt = timePtr(syncedAt)
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqlErr sqlite3.Error
	return errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
