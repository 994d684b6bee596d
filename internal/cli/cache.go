package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/userops/internal/cache"
)

// CacheOptions holds flags for the cache commands.
type CacheOptions struct {
	*RootOptions
	Owner       string
	Counterpart string
}

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CacheOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached chat reads",
	}

	purge := &cobra.Command{
		Use:           "purge",
		Short:         "Evict the cached conversation between owner and counterpart",
		Example:       `  userops cache purge --owner 0xabc --with 0xdef`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCachePurge(opts, cmd)
		},
	}
	purge.Flags().StringVar(&opts.Owner, "owner", "", "owner address (required)")
	_ = purge.MarkFlagRequired("owner")
	purge.Flags().StringVar(&opts.Counterpart, "with", "", "counterpart address (required)")
	_ = purge.MarkFlagRequired("with")
	cmd.AddCommand(purge)

	return cmd
}

func runCachePurge(opts *CacheOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	_, backend, err := opts.openStorage(ctx)
	if err != nil {
		return err
	}
	defer closeStorage(backend)

	cache.New[string](backend).Purge(ctx, opts.Owner, opts.Counterpart)

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		return out.Success(map[string]string{"owner": opts.Owner, "counterpart": opts.Counterpart, "purged": "true"})
	}
	return out.Success(fmt.Sprintf("Purged cache for %s <-> %s", opts.Owner, opts.Counterpart))
}
