package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/relwatch/relwatch/internal/audit"
	"github.com/relwatch/relwatch/internal/calendar"
	"github.com/relwatch/relwatch/internal/engine"
	"github.com/relwatch/relwatch/internal/ratelimit"
	"github.com/relwatch/relwatch/internal/release"
	"github.com/relwatch/relwatch/internal/retry"
	"github.com/relwatch/relwatch/internal/store"
	"github.com/relwatch/relwatch/internal/testutil"
)

// scenarioStart anchors the stepping wall clock. Chosen before any
// scenario release date so a date never precedes its own sync time.
var scenarioStart = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// maxRetries is the transient attempt budget scenarios run under.
const maxRetries = 3

// Run executes a scenario against a fresh in-memory engine and returns
// the collected result. Execution errors (a broken store, an invalid
// release) abort the run; failed expectations land in Result.Errors.
func Run(sc *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	cal := testutil.NewFakeCalendar()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := testutil.NewSteppingClock(scenarioStart, time.Second)

	exec := retry.New(retry.Config{MaxAttempts: maxRetries},
		retry.WithJitter(func(d time.Duration) time.Duration { return d }),
		retry.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)

	machine := engine.NewMachine(st, cal,
		ratelimit.New(ratelimit.Limit{}, nil),
		exec,
		audit.SinkFunc(st.AppendAudit),
		engine.WithMachineNow(now.Now),
		engine.WithMachineLogger(quiet),
	)

	tokens := make([]string, len(sc.Cycles))
	for i, c := range sc.Cycles {
		tokens[i] = c.Token
	}

	// Single worker: audit seq order must not depend on goroutine
	// scheduling.
	sched := engine.NewScheduler(st, machine,
		engine.WithConcurrency(1),
		engine.WithTokens(engine.NewFixedGenerator(tokens...)),
		engine.WithSchedulerNow(now.Now),
		engine.WithSchedulerLogger(quiet),
	)

	res := newResult()
	seen := make(map[string]bool)
	var order []string

	for _, w := range sc.Works {
		if err := st.UpsertWork(ctx, release.Work{ID: w.ID, Title: w.Title, Kind: w.Kind}); err != nil {
			return nil, fmt.Errorf("upsert work %d: %w", w.ID, err)
		}
	}

	for i, cycle := range sc.Cycles {
		for _, sr := range cycle.Releases {
			r, err := sr.toRelease()
			if err != nil {
				return nil, fmt.Errorf("cycle %d: %w", i, err)
			}
			if err := st.UpsertRelease(ctx, r); err != nil {
				return nil, fmt.Errorf("cycle %d: upsert %s: %w", i, r.ID(), err)
			}
			if !seen[r.ID()] {
				seen[r.ID()] = true
				order = append(order, r.ID())
			}
		}
		for _, f := range cycle.Failures {
			scriptFailure(cal, f)
		}

		rep, err := sched.RunCycle(ctx)
		if err != nil {
			return nil, fmt.Errorf("cycle %d (%s): %w", i, cycle.Token, err)
		}
		res.Reports = append(res.Reports, rep)
		checkReport(res, cycle, rep)
	}

	if err := collect(ctx, st, cal, sc, res, order); err != nil {
		return nil, err
	}
	assertFinal(res, sc)
	return res, nil
}

// scriptFailure queues one scripted failure batch into the fake calendar.
func scriptFailure(cal *testutil.FakeCalendar, f Failure) {
	op := f.Op
	if op == "lookup" {
		op = "find"
	}
	times := f.Times
	if times <= 0 {
		times = 1
	}

	switch f.Fail {
	case "timeout-landed":
		for i := 0; i < times; i++ {
			cal.FailNextButLand(op, context.DeadlineExceeded)
		}
	case "timeout":
		for i := 0; i < times; i++ {
			cal.FailNext(op, context.DeadlineExceeded)
		}
	default:
		status, _ := strconv.Atoi(f.Fail)
		for i := 0; i < times; i++ {
			cal.FailNext(op, &calendar.APIError{StatusCode: status, Message: "scripted failure"})
		}
	}
}

// checkReport compares a cycle report against the step's expectations.
func checkReport(res *Result, cycle CycleStep, rep engine.Report) {
	if cycle.Expect == nil {
		return
	}
	check := func(name string, want *int, got int) {
		if want != nil && *want != got {
			res.addError("cycle %s: %s = %d, want %d", cycle.Token, name, got, *want)
		}
	}
	check("pending", cycle.Expect.Pending, rep.Pending)
	check("created", cycle.Expect.Created, rep.Created)
	check("adopted", cycle.Expect.Adopted, rep.Adopted)
	check("updated", cycle.Expect.Updated, rep.Updated)
	check("deleted", cycle.Expect.Deleted, rep.Deleted)
	check("failed", cycle.Expect.Failed, rep.Failed)
	check("skipped", cycle.Expect.Skipped, rep.Skipped)
}

// collect gathers final statuses, the calendar size, and the full audit
// trail in cycle-then-seq order.
func collect(ctx context.Context, st *store.Store, cal *testutil.FakeCalendar, sc *Scenario, res *Result, order []string) error {
	for _, id := range order {
		state, err := st.GetState(ctx, id)
		if errors.Is(err, store.ErrReleaseNotFound) {
			// Never dispatched (e.g. cancelled before first sync).
			continue
		}
		if err != nil {
			return fmt.Errorf("get state %s: %w", id, err)
		}
		res.Statuses[id] = string(state.Status)
	}

	for _, cycle := range sc.Cycles {
		recs, err := st.CycleAudit(ctx, cycle.Token)
		if err != nil {
			return fmt.Errorf("cycle audit %s: %w", cycle.Token, err)
		}
		for _, rec := range recs {
			res.Trail = append(res.Trail, toTrailEvent(rec))
		}
	}

	res.EventCount = cal.EventCount()
	return nil
}

// assertFinal evaluates the scenario's final-state assertions.
func assertFinal(res *Result, sc *Scenario) {
	trailCount := make(map[string]int, len(res.Trail))
	for _, ev := range res.Trail {
		trailCount[ev.Release]++
	}

	for _, a := range sc.Assertions {
		switch a.Type {
		case AssertStatus:
			got, ok := res.Statuses[a.Release]
			if !ok {
				res.addError("status: no sync state for %s", a.Release)
			} else if got != a.Expect {
				res.addError("status: %s = %s, want %s", a.Release, got, a.Expect)
			}
		case AssertEventCount:
			if res.EventCount != a.Count {
				res.addError("event_count = %d, want %d", res.EventCount, a.Count)
			}
		case AssertTrailCount:
			if got := trailCount[a.Release]; got != a.Count {
				res.addError("trail_count: %s has %d records, want %d", a.Release, got, a.Count)
			}
		}
	}
}
