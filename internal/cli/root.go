package cli

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/userops/internal/config"
	"github.com/roach88/userops/internal/kv"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // overrides storage.path
	Backend    string // overrides storage.backend
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the userops CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "userops",
		Short: "Inspect tracked account operations",
		Long: `Inspect operations submitted through the account client.

Reads the durable operation store and chat cache, and merges local
records with explorer history into one timeline.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
			slog.SetDefault(slog.New(handler))
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "storage path (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "storage backend: sqlite|leveldb|redis|memory (overrides config)")

	cmd.AddCommand(NewOpsCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewChatCommand(opts))
	cmd.AddCommand(NewCacheCommand(opts))

	return cmd
}

// resolveConfig loads the config file and applies flag overrides.
func (o *RootOptions) resolveConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Storage.Path = o.Database
	}
	if o.Backend != "" {
		cfg.Storage.Backend = o.Backend
	}
	return cfg, nil
}

// openStorage resolves config and opens the key-value backend.
// The caller closes the returned store.
func (o *RootOptions) openStorage(ctx context.Context) (config.Config, kv.Store, error) {
	cfg, err := o.resolveConfig()
	if err != nil {
		return config.Config{}, nil, err
	}
	slog.Debug("opening storage", "backend", cfg.Storage.Backend, "path", cfg.Storage.Path)
	backend, err := kv.Open(ctx, cfg.KV())
	if err != nil {
		return config.Config{}, nil, WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	return cfg, backend, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func closeStorage(backend kv.Store) {
	if err := backend.Close(); err != nil {
		slog.Error("error closing storage", "error", err)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
