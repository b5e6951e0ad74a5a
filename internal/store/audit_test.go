package store

import (
	"context"
	"testing"
	"time"

	"github.com/relwatch/relwatch/internal/audit"
)

func TestAppendAudit_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id := seedState(t, s, 1, 5)

	syncedAt := time.Date(2026, 4, 11, 9, 0, 1, 0, time.UTC)
	rec := createTestAudit(id, 1, audit.OpCreate, audit.OutcomeSuccess)
	rec.ExternalEventID = "evt-1"
	rec.SyncStatus = "synced"
	rec.SyncedAt = &syncedAt
	rec.Duration = 340 * time.Millisecond
	if err := s.AppendAudit(ctx, rec); err != nil {
		t.Fatalf("AppendAudit() failed: %v", err)
	}

	trail, err := s.AuditTrail(ctx, id)
	if err != nil {
		t.Fatalf("AuditTrail() failed: %v", err)
	}
	if len(trail) != 1 {
		t.Fatalf("trail length = %d, expected 1", len(trail))
	}

	got := trail[0]
	if got.Operation != audit.OpCreate || got.Outcome != audit.OutcomeSuccess {
		t.Errorf("op/outcome = %s/%s, expected create/success", got.Operation, got.Outcome)
	}
	if got.ExternalEventID != "evt-1" {
		t.Errorf("external_event_id = %q, expected evt-1", got.ExternalEventID)
	}
	if got.SyncedAt == nil || !got.SyncedAt.Equal(syncedAt) {
		t.Errorf("synced_at = %v, expected %v", got.SyncedAt, syncedAt)
	}
	if got.Duration != 340*time.Millisecond {
		t.Errorf("duration = %v, expected 340ms", got.Duration)
	}
	if got.CycleToken != "cycle-1" {
		t.Errorf("cycle_token = %q, expected cycle-1", got.CycleToken)
	}
}

func TestAuditTrail_OrderedBySeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id := seedState(t, s, 1, 5)

	// Appended out of seq order; reads must come back in seq order.
	for _, seq := range []int64{3, 1, 2} {
		rec := createTestAudit(id, seq, audit.OpCreate, audit.OutcomeFailure)
		rec.Attempt = int(seq)
		if err := s.AppendAudit(ctx, rec); err != nil {
			t.Fatalf("AppendAudit() failed: %v", err)
		}
	}

	trail, err := s.AuditTrail(ctx, id)
	if err != nil {
		t.Fatalf("AuditTrail() failed: %v", err)
	}
	if len(trail) != 3 {
		t.Fatalf("trail length = %d, expected 3", len(trail))
	}
	for i, rec := range trail {
		if rec.Seq != int64(i+1) {
			t.Errorf("trail[%d].Seq = %d, expected %d", i, rec.Seq, i+1)
		}
	}
}

func TestAuditTrail_EmptyForUnknownRelease(t *testing.T) {
	s := createTestStore(t)

	trail, err := s.AuditTrail(context.Background(), "1:episode:99:nowhere:2026-01-01")
	if err != nil {
		t.Fatalf("AuditTrail() failed: %v", err)
	}
	if len(trail) != 0 {
		t.Errorf("trail length = %d, expected 0", len(trail))
	}
	if trail == nil {
		t.Error("expected empty slice, got nil")
	}
}

func TestCycleAudit_FiltersByToken(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id := seedState(t, s, 1, 5)

	first := createTestAudit(id, 1, audit.OpCreate, audit.OutcomeFailure)
	second := createTestAudit(id, 2, audit.OpCreate, audit.OutcomeSuccess)
	second.CycleToken = "cycle-2"
	for _, rec := range []audit.Record{first, second} {
		if err := s.AppendAudit(ctx, rec); err != nil {
			t.Fatalf("AppendAudit() failed: %v", err)
		}
	}

	records, err := s.CycleAudit(ctx, "cycle-2")
	if err != nil {
		t.Fatalf("CycleAudit() failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records length = %d, expected 1", len(records))
	}
	if records[0].Outcome != audit.OutcomeSuccess {
		t.Errorf("outcome = %q, expected success", records[0].Outcome)
	}
}

func TestLatestAttempts_OneRowPerRelease(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id1 := seedState(t, s, 1, 5)
	id2 := seedState(t, s, 1, 6)

	records := []audit.Record{
		createTestAudit(id1, 1, audit.OpCreate, audit.OutcomeFailure),
		createTestAudit(id1, 2, audit.OpCreate, audit.OutcomeSuccess),
		createTestAudit(id2, 3, audit.OpCreate, audit.OutcomeFailure),
	}
	for _, rec := range records {
		if err := s.AppendAudit(ctx, rec); err != nil {
			t.Fatalf("AppendAudit() failed: %v", err)
		}
	}

	latest, err := s.LatestAttempts(ctx)
	if err != nil {
		t.Fatalf("LatestAttempts() failed: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("latest length = %d, expected 2", len(latest))
	}

	byRelease := make(map[string]LatestAttempt, len(latest))
	for _, la := range latest {
		byRelease[la.ReleaseID] = la
	}
	if byRelease[id1].Outcome != audit.OutcomeSuccess {
		t.Errorf("latest for %s = %q, expected success", id1, byRelease[id1].Outcome)
	}
	if byRelease[id2].Outcome != audit.OutcomeFailure {
		t.Errorf("latest for %s = %q, expected failure", id2, byRelease[id2].Outcome)
	}
	if byRelease[id1].Status != StatusPending {
		t.Errorf("status for %s = %q, expected pending", id1, byRelease[id1].Status)
	}
}

func TestLatestAttempts_JoinsCurrentState(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id := seedState(t, s, 1, 5)
	if err := s.AppendAudit(ctx, createTestAudit(id, 1, audit.OpCreate, audit.OutcomeFailure)); err != nil {
		t.Fatalf("AppendAudit() failed: %v", err)
	}
	if err := s.MarkFailed(ctx, id, "boom", 3, time.Now()); err != nil {
		t.Fatalf("MarkFailed() failed: %v", err)
	}

	latest, err := s.LatestAttempts(ctx)
	if err != nil {
		t.Fatalf("LatestAttempts() failed: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("latest length = %d, expected 1", len(latest))
	}
	if latest[0].Status != StatusFailed {
		t.Errorf("status = %q, expected failed", latest[0].Status)
	}
	if latest[0].LastError != "boom" {
		t.Errorf("last_error = %q, expected boom", latest[0].LastError)
	}
}

func TestAppendAudit_AsSink(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id := seedState(t, s, 1, 5)

	var sink audit.Sink = audit.SinkFunc(s.AppendAudit)
	if err := sink.Append(ctx, createTestAudit(id, 1, audit.OpLookup, audit.OutcomeSuccess)); err != nil {
		t.Fatalf("Append() via sink failed: %v", err)
	}

	trail, err := s.AuditTrail(ctx, id)
	if err != nil {
		t.Fatalf("AuditTrail() failed: %v", err)
	}
	if len(trail) != 1 {
		t.Fatalf("trail length = %d, expected 1", len(trail))
	}
	if trail[0].Operation != audit.OpLookup {
		t.Errorf("operation = %q, expected lookup", trail[0].Operation)
	}
}
