package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/relwatch/relwatch/internal/audit"
	"github.com/relwatch/relwatch/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Attempts bool
}

// statusSummary is the JSON shape of the overview output.
type statusSummary struct {
	Counts   map[string]int  `json:"counts"`
	Failed   []failedState   `json:"failed,omitempty"`
	Attempts []attemptRecord `json:"latest_attempts,omitempty"`
}

type failedState struct {
	ReleaseID  string `json:"release_id"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

// releaseStatus is the JSON shape of the single-release output.
type releaseStatus struct {
	ReleaseID       string          `json:"release_id"`
	Status          string          `json:"status"`
	ExternalEventID string          `json:"external_event_id,omitempty"`
	RetryCount      int             `json:"retry_count"`
	LastError       string          `json:"last_error,omitempty"`
	SyncedAt        string          `json:"synced_at,omitempty"`
	UpdatedAt       string          `json:"updated_at"`
	Trail           []attemptRecord `json:"audit_trail"`
}

type attemptRecord struct {
	CycleToken      string `json:"cycle_token"`
	ReleaseID       string `json:"release_id"`
	Attempt         int    `json:"attempt"`
	Operation       string `json:"operation"`
	Outcome         string `json:"outcome"`
	ExternalEventID string `json:"external_event_id,omitempty"`
	Error           string `json:"error,omitempty"`
	RetryCount      int    `json:"retry_count"`
	MaxRetries      int    `json:"max_retries"`
	DurationMS      int64  `json:"duration_ms"`
	Seq             int64  `json:"seq"`

	// Status and LastError carry the release's current sync state when
	// the record comes from the latest-attempt view; empty in trails.
	Status    string `json:"status,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

func toAttemptRecord(rec audit.Record) attemptRecord {
	return attemptRecord{
		CycleToken:      rec.CycleToken,
		ReleaseID:       rec.ReleaseID,
		Attempt:         rec.Attempt,
		Operation:       string(rec.Operation),
		Outcome:         string(rec.Outcome),
		ExternalEventID: rec.ExternalEventID,
		Error:           rec.ErrorMessage,
		RetryCount:      rec.RetryCount,
		MaxRetries:      rec.MaxRetries,
		DurationMS:      rec.Duration.Milliseconds(),
		Seq:             rec.Seq,
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status [release-id]",
		Short: "Show sync state counts, failures, and audit trails",
		Long: `Without arguments, prints state counts and the list of failed releases.
With a release identifier, prints that release's sync state and its full
audit trail.

Example:
  relwatch status --config ./relwatch.yaml
  relwatch status --config ./relwatch.yaml "12:episode:5:crunchyroll:2026-04-18"`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runStatusRelease(opts, args[0], cmd)
			}
			return runStatusSummary(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Attempts, "attempts", false, "include the latest attempt per release")

	return cmd
}

func runStatusSummary(opts *StatusOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	app, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		formatter.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	defer app.Close()

	ctx := cmd.Context()

	counts, err := app.store.CountByStatus(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "count states", err)
	}
	failed, err := app.store.FailedStates(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "list failed states", err)
	}

	summary := statusSummary{Counts: make(map[string]int, len(counts))}
	for st, n := range counts {
		summary.Counts[string(st)] = n
	}
	for _, st := range failed {
		summary.Failed = append(summary.Failed, failedState{
			ReleaseID:  st.ReleaseID,
			RetryCount: st.RetryCount,
			LastError:  st.LastError,
			UpdatedAt:  st.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	if opts.Attempts {
		latest, err := app.store.LatestAttempts(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "list latest attempts", err)
		}
		for _, la := range latest {
			ar := toAttemptRecord(la.Record)
			ar.Status = string(la.Status)
			ar.LastError = la.LastError
			summary.Attempts = append(summary.Attempts, ar)
		}
	}

	if opts.Format == "json" {
		return formatter.Success(summary)
	}
	return outputSummaryText(cmd, summary)
}

func outputSummaryText(cmd *cobra.Command, summary statusSummary) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Sync state:")
	for _, st := range []store.Status{
		store.StatusPending, store.StatusSynced, store.StatusUpdated,
		store.StatusFailed, store.StatusDeleted,
	} {
		if n, ok := summary.Counts[string(st)]; ok {
			fmt.Fprintf(out, "  %-8s %d\n", st, n)
		}
	}

	if len(summary.Failed) > 0 {
		fmt.Fprintf(out, "\nFailed releases (%d):\n", len(summary.Failed))
		for _, f := range summary.Failed {
			fmt.Fprintf(out, "  %s  retries=%d  %s\n", f.ReleaseID, f.RetryCount, f.LastError)
		}
	}

	if len(summary.Attempts) > 0 {
		fmt.Fprintf(out, "\nLatest attempts (%d):\n", len(summary.Attempts))
		for _, a := range summary.Attempts {
			fmt.Fprintf(out, "  %s  %s/%s  attempt=%d  status=%s  %s\n",
				a.ReleaseID, a.Operation, a.Outcome, a.Attempt, a.Status, a.LastError)
		}
	}
	return nil
}

func runStatusRelease(opts *StatusOptions, releaseID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	app, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		formatter.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	defer app.Close()

	ctx := cmd.Context()

	st, err := app.store.GetState(ctx, releaseID)
	if errors.Is(err, store.ErrReleaseNotFound) {
		formatter.Error(ErrCodeNotFound, fmt.Sprintf("no sync state for %q", releaseID), nil)
		return WrapExitError(ExitFailure, "release not found", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "get state", err)
	}

	trail, err := app.store.AuditTrail(ctx, releaseID)
	if err != nil {
		return WrapExitError(ExitCommandError, "read audit trail", err)
	}

	status := releaseStatus{
		ReleaseID:       st.ReleaseID,
		Status:          string(st.Status),
		ExternalEventID: st.ExternalEventID,
		RetryCount:      st.RetryCount,
		LastError:       st.LastError,
		UpdatedAt:       st.UpdatedAt.UTC().Format(time.RFC3339),
		Trail:           make([]attemptRecord, 0, len(trail)),
	}
	if st.SyncedAt != nil {
		status.SyncedAt = st.SyncedAt.UTC().Format(time.RFC3339)
	}
	for _, rec := range trail {
		status.Trail = append(status.Trail, toAttemptRecord(rec))
	}

	if opts.Format == "json" {
		return formatter.Success(status)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Release:  %s\n", status.ReleaseID)
	fmt.Fprintf(out, "Status:   %s\n", status.Status)
	if status.ExternalEventID != "" {
		fmt.Fprintf(out, "Event:    %s\n", status.ExternalEventID)
	}
	fmt.Fprintf(out, "Retries:  %d\n", status.RetryCount)
	if status.LastError != "" {
		fmt.Fprintf(out, "Error:    %s\n", status.LastError)
	}
	if status.SyncedAt != "" {
		fmt.Fprintf(out, "Synced:   %s\n", status.SyncedAt)
	}
	fmt.Fprintf(out, "\nAudit trail (%d attempts):\n", len(status.Trail))
	for _, a := range status.Trail {
		fmt.Fprintf(out, "  [%d] %s/%s cycle=%s  %s\n",
			a.Attempt, a.Operation, a.Outcome, a.CycleToken, a.Error)
	}
	return nil
}
