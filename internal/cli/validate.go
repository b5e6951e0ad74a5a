package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relwatch/relwatch/internal/config"
)

// validateResult is the JSON shape of the validate output.
type validateResult struct {
	ConfigValid bool   `json:"config_valid"`
	Feed        string `json:"feed,omitempty"`
	FeedValid   bool   `json:"feed_valid,omitempty"`
	Works       int    `json:"works,omitempty"`
	Releases    int    `json:"releases,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [feed.yaml]",
		Short: "Check configuration and feed files without side effects",
		Long: `Loads the configuration and checks it against the embedded schema. With
a feed argument, also parses and validates the feed file. Nothing is
written.

Example:
  relwatch validate --config ./relwatch.yaml
  relwatch validate --config ./relwatch.yaml ./feed.yaml`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			feed := ""
			if len(args) == 1 {
				feed = args[0]
			}
			return runValidate(rootOpts, feed, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, feedPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if _, err := config.Load(opts.ConfigPath); err != nil {
		formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitFailure, "invalid config", err)
	}

	result := validateResult{ConfigValid: true}
	lines := []string{"config: ok"}

	if feedPath != "" {
		_, works, releases, err := loadFeed(feedPath)
		if err != nil {
			formatter.Error(ErrCodeImport, err.Error(), nil)
			return WrapExitError(ExitFailure, "invalid feed", err)
		}
		result.Feed = feedPath
		result.FeedValid = true
		result.Works = len(works)
		result.Releases = len(releases)
		lines = append(lines, fmt.Sprintf("feed: ok (%d works, %d releases)", len(works), len(releases)))
	}

	return formatter.SuccessText(result, lines...)
}
