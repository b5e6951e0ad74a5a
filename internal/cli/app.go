package cli

import (
	"io"
	"log/slog"

	"github.com/relwatch/relwatch/internal/audit"
	"github.com/relwatch/relwatch/internal/calendar"
	"github.com/relwatch/relwatch/internal/config"
	"github.com/relwatch/relwatch/internal/engine"
	"github.com/relwatch/relwatch/internal/ratelimit"
	"github.com/relwatch/relwatch/internal/retry"
	"github.com/relwatch/relwatch/internal/store"
)

// app bundles the pieces every command needs: validated configuration, the
// open store, and a structured logger writing to stderr.
type app struct {
	cfg   *config.Config
	store *store.Store
	log   *slog.Logger
}

// openApp loads configuration and opens the database.
func openApp(opts *RootOptions, errOut io.Writer) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "load config", err)
	}

	level := cfg.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}

	return &app{cfg: cfg, store: st, log: log}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("close store", "error", err)
	}
}

// syncStack is the full engine assembly behind the sync command.
type syncStack struct {
	sink  *audit.AsyncSink
	sched *engine.Scheduler
}

// buildSyncStack wires client, limiter, executor, audit sink, machine, and
// scheduler from the configuration. Extra scheduler options (test token
// generators) are applied last.
func (a *app) buildSyncStack(extra ...engine.SchedulerOption) *syncStack {
	client := calendar.NewHTTPClient(a.cfg.Calendar.BaseURL, a.cfg.Calendar.Token, nil)

	fallback, overrides := a.cfg.Limits()
	limiter := ratelimit.New(fallback, overrides)

	exec := retry.New(a.cfg.RetryPolicy())
	sink := audit.NewAsync(audit.SinkFunc(a.store.AppendAudit))

	machine := engine.NewMachine(a.store, client, limiter, exec, sink,
		engine.WithMaxRetries(a.cfg.Retry.MaxRetries),
		engine.WithCallTimeout(a.cfg.Calendar.Timeout),
		engine.WithMachineLogger(a.log),
	)

	schedOpts := []engine.SchedulerOption{
		engine.WithBatchSize(a.cfg.Scheduler.BatchSize),
		engine.WithConcurrency(a.cfg.Scheduler.Concurrency),
		engine.WithCycleTimeout(a.cfg.Scheduler.CycleTimeout),
		engine.WithInterval(a.cfg.Scheduler.Interval),
		engine.WithSchedulerLogger(a.log),
	}
	schedOpts = append(schedOpts, extra...)
	sched := engine.NewScheduler(a.store, machine, schedOpts...)

	return &syncStack{sink: sink, sched: sched}
}

// Close drains the audit queue before shutdown.
func (s *syncStack) Close() {
	s.sink.Close()
}
