package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relwatch/relwatch/internal/release"
)

const releaseDateFormat = "2006-01-02"

// UpsertWork inserts or updates a tracked work.
func (s *Store) UpsertWork(ctx context.Context, w release.Work) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO works (id, title, kind)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			kind = excluded.kind
	`, w.ID, w.Title, w.Kind)
	if err != nil {
		return fmt.Errorf("upsert work: %w", err)
	}
	return nil
}

// UpsertRelease inserts or refreshes a release record keyed by its canonical
// identifier. The identity components (work, type, number, platform, date)
// are part of the key and never change; mutable attributes and the upstream
// change/cancellation signals are refreshed on conflict.
func (s *Store) UpsertRelease(ctx context.Context, r release.Release) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO releases
		(id, work_id, release_type, number, platform, release_date,
		 title, source_url, content_changed_at, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			source_url = excluded.source_url,
			content_changed_at = excluded.content_changed_at,
			cancelled_at = excluded.cancelled_at
	`,
		r.ID(),
		r.WorkID,
		string(r.Type),
		r.Number,
		release.NormalizePlatform(r.Platform),
		r.Date.UTC().Format(releaseDateFormat),
		r.Title,
		r.SourceURL,
		nullTime(r.ContentChangedAt),
		nullTime(r.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("upsert release: %w", err)
	}
	return nil
}

// GetRelease returns a single release with its work by canonical identifier.
func (s *Store) GetRelease(ctx context.Context, releaseID string) (release.Pending, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+pendingColumns+`
		FROM releases r
		JOIN works w ON w.id = r.work_id
		WHERE r.id = ?
	`, releaseID)

	p, err := scanPending(row)
	if err == sql.ErrNoRows {
		return release.Pending{}, fmt.Errorf("get release: %w", ErrReleaseNotFound)
	}
	if err != nil {
		return release.Pending{}, fmt.Errorf("get release: %w", err)
	}
	return p, nil
}

// NextPending returns up to limit releases that need calendar work, in
// deterministic order (release date, then canonical id).
//
// A release qualifies when:
//   - it is active and has never been synced (no state row or status pending), or
//   - it is live in the calendar (synced/updated) and was cancelled upstream, or
//   - it is live in the calendar and upstream content changed after synced_at.
//
// Failed releases are deliberately excluded: they stay parked until an
// operator re-drives them. Cancelled releases that never reached the
// calendar are also excluded - there is nothing to delete.
func (s *Store) NextPending(ctx context.Context, limit int) ([]release.Pending, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pendingColumns+`
		FROM releases r
		JOIN works w ON w.id = r.work_id
		LEFT JOIN sync_state s ON s.release_id = r.id
		WHERE
			(r.cancelled_at IS NULL AND (s.release_id IS NULL OR s.status = 'pending'))
			OR (s.status IN ('synced', 'updated')
				AND (r.cancelled_at IS NOT NULL
					OR (r.content_changed_at IS NOT NULL AND r.content_changed_at > s.synced_at)))
		ORDER BY r.release_date ASC, r.id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var pending []release.Pending
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}

	if pending == nil {
		pending = []release.Pending{}
	}
	return pending, nil
}

const pendingColumns = `
		r.work_id, r.release_type, r.number, r.platform, r.release_date,
		r.title, r.source_url, r.content_changed_at, r.cancelled_at,
		w.title, w.kind`

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPending(row scanner) (release.Pending, error) {
	var (
		p         release.Pending
		relType   string
		dateStr   string
		changedAt sql.NullTime
		cancelled sql.NullTime
	)
	err := row.Scan(
		&p.Release.WorkID,
		&relType,
		&p.Release.Number,
		&p.Release.Platform,
		&dateStr,
		&p.Release.Title,
		&p.Release.SourceURL,
		&changedAt,
		&cancelled,
		&p.Work.Title,
		&p.Work.Kind,
	)
	if err != nil {
		return release.Pending{}, err
	}

	p.Release.Type = release.Type(relType)
	p.Release.Date, err = time.ParseInLocation(releaseDateFormat, dateStr, time.UTC)
	if err != nil {
		return release.Pending{}, fmt.Errorf("parse release_date %q: %w", dateStr, err)
	}
	p.Release.ContentChangedAt = timePtr(changedAt)
	p.Release.CancelledAt = timePtr(cancelled)
	p.Work.ID = p.Release.WorkID
	return p, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
