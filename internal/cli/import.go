package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/relwatch/relwatch/internal/release"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	DryRun bool
}

// feedFile is the YAML feed consumed by the import command.
type feedFile struct {
	Works    []feedWork    `yaml:"works"`
	Releases []feedRelease `yaml:"releases"`
}

type feedWork struct {
	ID    int64  `yaml:"id"`
	Title string `yaml:"title"`
	Kind  string `yaml:"kind"`
}

type feedRelease struct {
	WorkID    int64  `yaml:"work_id"`
	Type      string `yaml:"type"`
	Number    int    `yaml:"number"`
	Platform  string `yaml:"platform"`
	Date      string `yaml:"date"` // yyyy-mm-dd
	Title     string `yaml:"title"`
	SourceURL string `yaml:"source_url"`
	// RFC 3339 timestamps, optional.
	ContentChangedAt string `yaml:"content_changed_at"`
	CancelledAt      string `yaml:"cancelled_at"`
}

// importResult is the JSON shape of the import output.
type importResult struct {
	Works    int      `json:"works"`
	Releases int      `json:"releases"`
	IDs      []string `json:"release_ids"`
	DryRun   bool     `json:"dry_run,omitempty"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <feed.yaml>",
		Short: "Load works and releases from a YAML feed",
		Long: `Upserts the works and releases from a YAML feed file. Re-importing the
same feed is harmless: identity fields never change, attribute fields are
refreshed in place.

Example:
  relwatch import --config ./relwatch.yaml ./feed.yaml
  relwatch import --config ./relwatch.yaml ./feed.yaml --dry-run`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "parse and validate without writing")

	return cmd
}

func runImport(opts *ImportOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	feed, works, releases, err := loadFeed(path)
	if err != nil {
		formatter.Error(ErrCodeImport, err.Error(), nil)
		return WrapExitError(ExitFailure, "load feed", err)
	}

	ids := make([]string, 0, len(releases))
	for _, r := range releases {
		ids = append(ids, r.ID())
	}

	if opts.DryRun {
		return formatter.SuccessText(
			importResult{Works: len(works), Releases: len(releases), IDs: ids, DryRun: true},
			fmt.Sprintf("feed ok: %d work(s), %d release(s)", len(feed.Works), len(feed.Releases)),
		)
	}

	app, err := openApp(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		formatter.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	defer app.Close()

	ctx := cmd.Context()
	for _, w := range works {
		if err := app.store.UpsertWork(ctx, w); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("upsert work %d", w.ID), err)
		}
	}
	for _, r := range releases {
		if err := app.store.UpsertRelease(ctx, r); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("upsert release %s", r.ID()), err)
		}
	}

	app.log.Info("feed imported", "path", path, "works", len(works), "releases", len(releases))
	return formatter.SuccessText(
		importResult{Works: len(works), Releases: len(releases), IDs: ids},
		fmt.Sprintf("imported %d work(s), %d release(s)", len(works), len(releases)),
	)
}

// loadFeed parses and validates a feed file without touching the store.
func loadFeed(path string) (*feedFile, []release.Work, []release.Release, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read feed: %w", err)
	}

	var feed feedFile
	if err := yaml.Unmarshal(data, &feed); err != nil {
		return nil, nil, nil, fmt.Errorf("parse feed: %w", err)
	}

	works := make([]release.Work, 0, len(feed.Works))
	known := make(map[int64]bool, len(feed.Works))
	for i, fw := range feed.Works {
		if fw.ID <= 0 {
			return nil, nil, nil, fmt.Errorf("work[%d]: id must be positive", i)
		}
		if fw.Title == "" {
			return nil, nil, nil, fmt.Errorf("work[%d]: title is required", i)
		}
		works = append(works, release.Work{ID: fw.ID, Title: fw.Title, Kind: fw.Kind})
		known[fw.ID] = true
	}

	releases := make([]release.Release, 0, len(feed.Releases))
	for i, fr := range feed.Releases {
		r, err := fr.toRelease()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("release[%d]: %w", i, err)
		}
		if !known[r.WorkID] {
			return nil, nil, nil, fmt.Errorf("release[%d]: work %d not in feed", i, r.WorkID)
		}
		releases = append(releases, r)
	}

	return &feed, works, releases, nil
}

func (fr feedRelease) toRelease() (release.Release, error) {
	date, err := time.ParseInLocation("2006-01-02", fr.Date, time.UTC)
	if err != nil {
		return release.Release{}, fmt.Errorf("bad date %q: %w", fr.Date, err)
	}

	r := release.Release{
		WorkID:    fr.WorkID,
		Type:      release.Type(fr.Type),
		Number:    fr.Number,
		Platform:  fr.Platform,
		Date:      date,
		Title:     fr.Title,
		SourceURL: fr.SourceURL,
	}

	if fr.ContentChangedAt != "" {
		t, err := time.Parse(time.RFC3339, fr.ContentChangedAt)
		if err != nil {
			return release.Release{}, fmt.Errorf("bad content_changed_at %q: %w", fr.ContentChangedAt, err)
		}
		r.ContentChangedAt = &t
	}
	if fr.CancelledAt != "" {
		t, err := time.Parse(time.RFC3339, fr.CancelledAt)
		if err != nil {
			return release.Release{}, fmt.Errorf("bad cancelled_at %q: %w", fr.CancelledAt, err)
		}
		r.CancelledAt = &t
	}

	return r, r.Validate()
}
