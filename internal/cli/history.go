package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/userops/internal/history"
	"github.com/roach88/userops/internal/record"
	"github.com/roach88/userops/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Owner   string
	Offline bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the merged operation timeline",
		Long: `Show local operations merged with explorer history.

Local records win over explorer records with the same id. If the
explorer cannot be reached, local records are shown alone.

Examples:
  userops history --owner 0xabc
  userops history --owner 0xabc --offline --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "owner address (required)")
	_ = cmd.MarkFlagRequired("owner")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "skip the explorer query")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	cfg, backend, err := opts.openStorage(ctx)
	if err != nil {
		return err
	}
	defer closeStorage(backend)

	ops, err := store.New(backend).Get(ctx, opts.Owner)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read operations", err)
	}

	var hist []record.Historical
	if !opts.Offline && cfg.History.BaseURL != "" {
		src := history.NewSource(cfg.History.BaseURL, cfg.History.APIKey, history.WithRate(cfg.History.RatePerSecond))
		hist, err = src.FetchHistory(ctx, opts.Owner)
		if err != nil {
			slog.Warn("explorer history unavailable, showing local records only", "error", err)
			hist = nil
		}
	}

	return opts.formatter(cmd).Entries(history.Merge(ops, hist))
}
