package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relwatch/relwatch/internal/engine"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Daemon bool

	// Tokens allows overriding the cycle token generator (for testing).
	// If nil, the scheduler's default UUIDv7 generator is used.
	Tokens engine.CycleTokenGenerator
}

// syncReport is the JSON shape of a cycle summary.
type syncReport struct {
	CycleToken string `json:"cycle_token"`
	Pending    int    `json:"pending"`
	Created    int    `json:"created"`
	Adopted    int    `json:"adopted"`
	Updated    int    `json:"updated"`
	Deleted    int    `json:"deleted"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	DurationMS int64  `json:"duration_ms"`
}

func toSyncReport(rep engine.Report) syncReport {
	return syncReport{
		CycleToken: rep.CycleToken,
		Pending:    rep.Pending,
		Created:    rep.Created,
		Adopted:    rep.Adopted,
		Updated:    rep.Updated,
		Deleted:    rep.Deleted,
		Failed:     rep.Failed,
		Skipped:    rep.Skipped,
		DurationMS: rep.Duration.Milliseconds(),
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Project pending releases into the calendar",
		Long: `Run one sync cycle: pull pending releases in deterministic order and
create, update, or delete the matching calendar events. With --daemon,
keep cycling at the configured interval until interrupted.

Example:
  relwatch sync --config ./relwatch.yaml
  relwatch sync --config ./relwatch.yaml --daemon`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Daemon, "daemon", false, "keep syncing at the configured interval")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	app, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		formatter.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	defer app.Close()

	var extra []engine.SchedulerOption
	if opts.Tokens != nil {
		extra = append(extra, engine.WithTokens(opts.Tokens))
	}
	stack := app.buildSyncStack(extra...)
	defer stack.Close()

	if opts.Daemon {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		app.log.Info("starting sync loop", "interval", app.cfg.Scheduler.Interval)
		if err := stack.sched.Run(ctx); err != nil {
			formatter.Error(ErrCodeSync, err.Error(), nil)
			return WrapExitError(ExitCommandError, "sync loop", err)
		}
		return nil
	}

	rep, err := stack.sched.RunCycle(cmd.Context())
	if err != nil {
		formatter.Error(ErrCodeSync, err.Error(), nil)
		return WrapExitError(ExitCommandError, "sync cycle", err)
	}

	formatter.SuccessText(toSyncReport(rep),
		fmt.Sprintf("cycle %s: %d pending, %d created, %d adopted, %d updated, %d deleted, %d failed, %d skipped (%s)",
			rep.CycleToken, rep.Pending, rep.Created, rep.Adopted,
			rep.Updated, rep.Deleted, rep.Failed, rep.Skipped, rep.Duration),
	)

	if rep.Failed > 0 {
		return &ExitError{
			Code:    ExitFailure,
			Message: fmt.Sprintf("%d release(s) failed this cycle", rep.Failed),
		}
	}
	return nil
}
