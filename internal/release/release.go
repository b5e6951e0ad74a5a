// Package release defines the upstream-owned release model consumed by the
// sync engine. A Release identifies a single dated occurrence of a tracked
// work (an episode airing or a volume shipping) on one platform.
//
// Releases are immutable from the engine's point of view: the engine reads
// them, projects them into external calendar events, and records sync
// outcomes elsewhere. It never mutates a release.
package release

import (
	"fmt"
	"time"
)

// Type distinguishes the two release kinds tracked by the system.
type Type string

const (
	// TypeEpisode is a broadcast/streaming episode release.
	TypeEpisode Type = "episode"
	// TypeVolume is a print/digital volume release.
	TypeVolume Type = "volume"
)

// Valid reports whether t is a known release type.
func (t Type) Valid() bool {
	return t == TypeEpisode || t == TypeVolume
}

// Work is the tracked title a release belongs to.
type Work struct {
	ID    int64
	Title string
	// Kind categorizes the work ("anime", "manga", "novel", ...).
	// Drives the calendar category color; unknown kinds get a default.
	Kind string
}

// Release is one dated occurrence of a work on a platform.
//
// Identity is the natural key (WorkID, Type, Number, Platform, Date).
// All other fields are attributes. ContentChangedAt and CancelledAt are
// upstream signals the engine reads to decide update/delete operations.
type Release struct {
	WorkID   int64
	Type     Type
	Number   int
	Platform string
	// Date is the release date. Only the calendar day matters; the engine
	// treats it as a UTC date.
	Date      time.Time
	Title     string
	SourceURL string

	// ContentChangedAt is set when the upstream record changed after the
	// release was first discovered (retitled, rescheduled metadata, ...).
	// A synced release whose ContentChangedAt is after its synced_at time
	// is re-synced as an update.
	ContentChangedAt *time.Time

	// CancelledAt is set when the upstream release was withdrawn. A synced
	// release with CancelledAt set has its external event deleted.
	CancelledAt *time.Time
}

// ID returns the canonical release identifier used as the sync-state key:
//
//	"<work_id>:<type>:<number>:<platform>:<yyyy-mm-dd>"
//
// The platform component is normalized (see NormalizePlatform) so that
// cosmetic differences in upstream casing or Unicode width do not produce
// distinct identities.
func (r Release) ID() string {
	return fmt.Sprintf("%d:%s:%d:%s:%s",
		r.WorkID, r.Type, r.Number, NormalizePlatform(r.Platform), r.Date.UTC().Format("2006-01-02"))
}

// Validate checks the structural invariants of a release record.
// Used at the import boundary; the engine assumes validated releases.
func (r Release) Validate() error {
	if r.WorkID <= 0 {
		return fmt.Errorf("release: work_id must be positive, got %d", r.WorkID)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("release: unknown type %q", r.Type)
	}
	if r.Number <= 0 {
		return fmt.Errorf("release: number must be positive, got %d", r.Number)
	}
	if r.Platform == "" {
		return fmt.Errorf("release: platform is required")
	}
	if r.Date.IsZero() {
		return fmt.Errorf("release: date is required")
	}
	return nil
}

// Cancelled reports whether the upstream release has been withdrawn.
func (r Release) Cancelled() bool {
	return r.CancelledAt != nil
}

// ChangedSince reports whether upstream content changed after t.
// Zero t (never synced) compares as always-changed only when the
// upstream actually flagged a change.
func (r Release) ChangedSince(t time.Time) bool {
	return r.ContentChangedAt != nil && r.ContentChangedAt.After(t)
}

// Pending bundles a release with its work for dispatch to the state
// machine. Returned by the repository's NextPending query.
type Pending struct {
	Work    Work
	Release Release
}
