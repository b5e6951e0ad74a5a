package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relwatch/relwatch/internal/audit"
)

// AppendAudit inserts one audit record. The table is append-only; the store
// never updates or deletes audit rows. Satisfies audit.Sink via
// audit.SinkFunc(st.AppendAudit).
func (s *Store) AppendAudit(ctx context.Context, rec audit.Record) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_audit
		(cycle_token, release_id, work_id, attempt, operation, outcome,
		 external_event_id, sync_status, error_message, retry_count,
		 max_retries, synced_at, duration_ms, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.CycleToken,
		rec.ReleaseID,
		rec.WorkID,
		rec.Attempt,
		string(rec.Operation),
		string(rec.Outcome),
		nullString(rec.ExternalEventID),
		rec.SyncStatus,
		nullString(rec.ErrorMessage),
		rec.RetryCount,
		rec.MaxRetries,
		nullTime(rec.SyncedAt),
		rec.Duration.Milliseconds(),
		rec.Seq,
		createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// AuditTrail returns every audit record for a release in append order.
func (s *Store) AuditTrail(ctx context.Context, releaseID string) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auditColumns+`
		FROM sync_audit
		WHERE release_id = ?
		ORDER BY seq ASC, id ASC
	`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("audit trail: %w", err)
	}
	return collectAudit(rows)
}

// CycleAudit returns every audit record written under one cycle token, in
// append order. Used by operators to reconstruct a single scheduler run.
func (s *Store) CycleAudit(ctx context.Context, cycleToken string) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auditColumns+`
		FROM sync_audit
		WHERE cycle_token = ?
		ORDER BY seq ASC, id ASC
	`, cycleToken)
	if err != nil {
		return nil, fmt.Errorf("cycle audit: %w", err)
	}
	return collectAudit(rows)
}

// LatestAttempt pairs a release's most recent audit record with its
// current sync state, the operator's "why hasn't X synced" view.
type LatestAttempt struct {
	audit.Record
	Status    Status
	LastError string
}

// LatestAttempts returns the most recent audit record per release together
// with the release's current status, ordered by release id. Reads the
// sync_audit_latest view.
func (s *Store) LatestAttempts(ctx context.Context) ([]LatestAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auditColumns+`, current_status, current_error
		FROM sync_audit_latest
		ORDER BY release_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("latest attempts: %w", err)
	}
	defer rows.Close()

	latest := []LatestAttempt{}
	for rows.Next() {
		var (
			la      LatestAttempt
			status  sql.NullString
			lastErr sql.NullString
		)
		if err := scanAuditRow(rows, &la.Record, &status, &lastErr); err != nil {
			return nil, fmt.Errorf("scan latest attempt: %w", err)
		}
		la.Status = Status(status.String)
		la.LastError = lastErr.String
		latest = append(latest, la)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest attempts: %w", err)
	}
	return latest, nil
}

const auditColumns = `
		cycle_token, release_id, work_id, attempt, operation, outcome,
		external_event_id, sync_status, error_message, retry_count,
		max_retries, synced_at, duration_ms, seq, created_at`

func collectAudit(rows *sql.Rows) ([]audit.Record, error) {
	defer rows.Close()

	var records []audit.Record
	for rows.Next() {
		var rec audit.Record
		if err := scanAuditRow(rows, &rec); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}

	if records == nil {
		records = []audit.Record{}
	}
	return records, nil
}

// scanAuditRow scans the auditColumns of the current row into rec, plus
// any extra trailing columns the query selected.
func scanAuditRow(rows *sql.Rows, rec *audit.Record, extra ...any) error {
	var (
		op         string
		outcome    string
		eventID    sql.NullString
		errMsg     sql.NullString
		syncedAt   sql.NullTime
		durationMS int64
	)
	dest := []any{
		&rec.CycleToken,
		&rec.ReleaseID,
		&rec.WorkID,
		&rec.Attempt,
		&op,
		&outcome,
		&eventID,
		&rec.SyncStatus,
		&errMsg,
		&rec.RetryCount,
		&rec.MaxRetries,
		&syncedAt,
		&durationMS,
		&rec.Seq,
		&rec.CreatedAt,
	}
	dest = append(dest, extra...)
	if err := rows.Scan(dest...); err != nil {
		return err
	}
	rec.Operation = audit.Operation(op)
	rec.Outcome = audit.Outcome(outcome)
	rec.ExternalEventID = eventID.String
	rec.ErrorMessage = errMsg.String
	rec.SyncedAt = timePtr(syncedAt)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	rec.CreatedAt = rec.CreatedAt.UTC()
	return nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
