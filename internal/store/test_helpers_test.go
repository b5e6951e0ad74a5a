package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/relwatch/relwatch/internal/audit"
	"github.com/relwatch/relwatch/internal/release"
)

// createTestStore creates a file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRelease creates a validated release for the given work.
func createTestRelease(workID int64, typ release.Type, number int) release.Release {
	return release.Release{
		WorkID:   workID,
		Type:     typ,
		Number:   number,
		Platform: "crunchyroll",
		Date:     time.Date(2026, 4, 11, 0, 0, 0, 0, time.UTC),
		Title:    "test release",
	}
}

// seedRelease upserts a work and one of its releases, returning the
// canonical release id.
func seedRelease(t *testing.T, s *Store, workID int64, number int) string {
	t.Helper()
	ctx := context.Background()

	w := release.Work{ID: workID, Title: "Test Work", Kind: "anime"}
	if err := s.UpsertWork(ctx, w); err != nil {
		t.Fatalf("UpsertWork() failed: %v", err)
	}

	r := createTestRelease(workID, release.TypeEpisode, number)
	if err := s.UpsertRelease(ctx, r); err != nil {
		t.Fatalf("UpsertRelease() failed: %v", err)
	}
	return r.ID()
}

// seedState seeds a release and ensures its pending state row.
func seedState(t *testing.T, s *Store, workID int64, number int) string {
	t.Helper()
	id := seedRelease(t, s, workID, number)
	if err := s.EnsureState(context.Background(), id, time.Now()); err != nil {
		t.Fatalf("EnsureState() failed: %v", err)
	}
	return id
}

// createTestAudit creates an audit record with minimal required fields.
func createTestAudit(releaseID string, seq int64, op audit.Operation, outcome audit.Outcome) audit.Record {
	return audit.Record{
		CycleToken: "cycle-1",
		ReleaseID:  releaseID,
		WorkID:     1,
		Attempt:    1,
		Operation:  op,
		Outcome:    outcome,
		SyncStatus: "pending",
		MaxRetries: 3,
		Seq:        seq,
		CreatedAt:  time.Date(2026, 4, 11, 9, 0, 0, 0, time.UTC),
	}
}
