package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/relwatch/relwatch/internal/release"
	"github.com/relwatch/relwatch/internal/store"
)

// Scheduler defaults.
const (
	DefaultBatchSize    = 50
	DefaultConcurrency  = 4
	DefaultCycleTimeout = 10 * time.Minute
	DefaultInterval     = 10 * time.Minute
)

// Report summarizes one sync cycle.
type Report struct {
	CycleToken string
	Pending    int
	Created    int
	Adopted    int
	Updated    int
	Deleted    int
	Failed     int
	Skipped    int
	Duration   time.Duration
}

// Changed reports how many releases the cycle actually mutated remotely.
func (r Report) Changed() int {
	return r.Created + r.Adopted + r.Updated + r.Deleted
}

// Scheduler pulls batches of pending releases and dispatches them to the
// state machine over a bounded worker pool.
//
// Faults are isolated per release: one release failing (even permanently)
// never stops the rest of the batch. Each release appears at most once per
// cycle - the batch comes from a single query keyed by release id.
type Scheduler struct {
	store   *store.Store
	machine *Machine
	tokens  CycleTokenGenerator
	log     *slog.Logger

	batchSize    int
	concurrency  int
	cycleTimeout time.Duration
	interval     time.Duration
	now          func() time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithBatchSize bounds how many releases one cycle pulls.
func WithBatchSize(n int) SchedulerOption {
	return func(s *Scheduler) {
		s.batchSize = n
	}
}

// WithConcurrency sets the worker pool size.
func WithConcurrency(n int) SchedulerOption {
	return func(s *Scheduler) {
		s.concurrency = n
	}
}

// WithCycleTimeout bounds the wall-clock duration of one cycle.
func WithCycleTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.cycleTimeout = d
	}
}

// WithInterval sets the pause between cycles in Run.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithTokens replaces the cycle token generator. Tests pass a
// FixedGenerator for deterministic audit correlation.
func WithTokens(g CycleTokenGenerator) SchedulerOption {
	return func(s *Scheduler) {
		s.tokens = g
	}
}

// WithSchedulerLogger sets the structured logger.
func WithSchedulerLogger(log *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.log = log
	}
}

// WithSchedulerNow replaces the wall clock, for tests.
func WithSchedulerNow(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a scheduler over the store and state machine.
func NewScheduler(st *store.Store, m *Machine, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:        st,
		machine:      m,
		tokens:       UUIDv7Generator{},
		log:          slog.Default(),
		batchSize:    DefaultBatchSize,
		concurrency:  DefaultConcurrency,
		cycleTimeout: DefaultCycleTimeout,
		interval:     DefaultInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunCycle executes one sync cycle: pull pending releases, ensure their
// state rows, dispatch them to the worker pool, and aggregate results.
//
// Cancellation is graceful: in-flight releases finish their current
// attempt, undispatched ones are counted as skipped, and the report
// reflects everything that actually happened. The returned error is
// non-nil only when the batch could not be pulled or ctx ended the cycle
// early.
func (s *Scheduler) RunCycle(ctx context.Context) (Report, error) {
	token := s.tokens.Generate()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	pending, err := s.store.NextPending(ctx, s.batchSize)
	if err != nil {
		return Report{CycleToken: token}, err
	}

	for _, p := range pending {
		if err := s.store.EnsureState(ctx, p.Release.ID(), s.now()); err != nil {
			return Report{CycleToken: token}, err
		}
	}

	s.log.Info("cycle started",
		"cycle", token, "pending", len(pending), "workers", s.concurrency)

	jobs := make(chan release.Pending)
	results := make(chan Result)

	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				results <- s.machine.SyncOne(ctx, token, p)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, p := range pending {
			select {
			case jobs <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	rep := Report{CycleToken: token, Pending: len(pending)}
	handled := 0
	for res := range results {
		handled++
		switch {
		case res.Err != nil:
			rep.Failed++
			s.log.Warn("release sync failed",
				"cycle", token, "release", res.ReleaseID, "error", res.Err)
		case res.Action == ActionCreated:
			rep.Created++
		case res.Action == ActionAdopted:
			rep.Adopted++
		case res.Action == ActionUpdated:
			rep.Updated++
		case res.Action == ActionDeleted:
			rep.Deleted++
		default:
			rep.Skipped++
		}
	}
	// Releases the cancelled cycle never dispatched.
	rep.Skipped += len(pending) - handled
	rep.Duration = time.Since(start)

	s.log.Info("cycle finished",
		"cycle", token,
		"created", rep.Created,
		"adopted", rep.Adopted,
		"updated", rep.Updated,
		"deleted", rep.Deleted,
		"failed", rep.Failed,
		"skipped", rep.Skipped,
		"duration", rep.Duration)

	return rep, ctx.Err()
}

// Run executes cycles forever at the configured interval, starting with
// an immediate cycle. Returns when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
