package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/relwatch/relwatch/internal/store"
)

// RedriveOptions holds flags for the redrive command.
type RedriveOptions struct {
	*RootOptions
	All bool
}

// redriveResult is the JSON shape of the redrive output.
type redriveResult struct {
	Redriven []string `json:"redriven"`
	Count    int      `json:"count"`
}

// NewRedriveCommand creates the redrive command.
func NewRedriveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RedriveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "redrive [release-id]",
		Short: "Re-arm failed releases for another sync attempt",
		Long: `Moves a failed release back to pending with a fresh retry budget, so the
next sync cycle picks it up again. Only failed releases can be re-driven.

Example:
  relwatch redrive --config ./relwatch.yaml "12:episode:5:crunchyroll:2026-04-18"
  relwatch redrive --config ./relwatch.yaml --all`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.All == (len(args) == 1) {
				return fmt.Errorf("pass exactly one release id or --all")
			}
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			return runRedrive(opts, id, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "re-drive every failed release")

	return cmd
}

func runRedrive(opts *RedriveOptions, releaseID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	app, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		formatter.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	now := time.Now().UTC()

	if opts.All {
		// Collect ids first so the output names what was re-armed.
		failed, err := app.store.FailedStates(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "list failed states", err)
		}
		n, err := app.store.RedriveAllFailed(ctx, now)
		if err != nil {
			return WrapExitError(ExitCommandError, "redrive all", err)
		}
		ids := make([]string, 0, len(failed))
		for _, st := range failed {
			ids = append(ids, st.ReleaseID)
		}
		return formatter.SuccessText(redriveResult{Redriven: ids, Count: n},
			fmt.Sprintf("re-drove %d failed release(s)", n))
	}

	if _, err := app.store.GetState(ctx, releaseID); errors.Is(err, store.ErrReleaseNotFound) {
		formatter.Error(ErrCodeNotFound, fmt.Sprintf("no sync state for %q", releaseID), nil)
		return WrapExitError(ExitFailure, "release not found", err)
	} else if err != nil {
		return WrapExitError(ExitCommandError, "get state", err)
	}

	err = app.store.Redrive(ctx, releaseID, now)
	switch {
	case errors.Is(err, store.ErrNotRedrivable):
		formatter.Error(ErrCodeRedrive, fmt.Sprintf("%q is not in failed state", releaseID), nil)
		return WrapExitError(ExitFailure, "not redrivable", err)
	case err != nil:
		return WrapExitError(ExitCommandError, "redrive", err)
	}

	return formatter.SuccessText(redriveResult{Redriven: []string{releaseID}, Count: 1},
		fmt.Sprintf("re-drove %s", releaseID))
}
