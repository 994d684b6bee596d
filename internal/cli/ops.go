package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/userops/internal/record"
	"github.com/roach88/userops/internal/store"
)

// OpsOptions holds flags for the ops commands.
type OpsOptions struct {
	*RootOptions
	Owner string
	ID    string
}

// NewOpsCommand creates the ops command group.
func NewOpsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OpsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Inspect tracked operations",
	}
	cmd.PersistentFlags().StringVar(&opts.Owner, "owner", "", "owner address (required)")
	_ = cmd.MarkPersistentFlagRequired("owner")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all operations for an owner, newest first",
		Example: `  userops ops list --owner 0xabc
  userops ops list --owner 0xabc --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpsList(opts, cmd, false)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "pending",
		Short:         "List operations that have not reached a terminal state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpsList(opts, cmd, true)
		},
	})
	show := &cobra.Command{
		Use:           "show",
		Short:         "Show one operation with its proofs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpsShow(opts, cmd)
		},
	}
	show.Flags().StringVar(&opts.ID, "id", "", "operation id (required)")
	_ = show.MarkFlagRequired("id")
	cmd.AddCommand(show)

	return cmd
}

func runOpsList(opts *OpsOptions, cmd *cobra.Command, pendingOnly bool) error {
	ctx := commandContext(cmd)
	_, backend, err := opts.openStorage(ctx)
	if err != nil {
		return err
	}
	defer closeStorage(backend)

	st := store.New(backend)
	var ops []record.Operation
	if pendingOnly {
		ops, err = st.Pending(ctx, opts.Owner)
	} else {
		ops, err = st.Get(ctx, opts.Owner)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read operations", err)
	}

	entries := make([]record.Entry, len(ops))
	for i, op := range ops {
		entries[i] = op.Entry()
	}
	return opts.formatter(cmd).Entries(entries)
}

func runOpsShow(opts *OpsOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	_, backend, err := opts.openStorage(ctx)
	if err != nil {
		return err
	}
	defer closeStorage(backend)

	op, found, err := store.New(backend).Find(ctx, opts.Owner, opts.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read operations", err)
	}
	if !found {
		return NewExitError(ExitFailure, fmt.Sprintf("operation %s not found for %s", opts.ID, opts.Owner))
	}

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		return out.Success(op)
	}
	data, err := json.MarshalIndent(op, "", "  ")
	if err != nil {
		return WrapExitError(ExitFailure, "failed to render operation", err)
	}
	return out.Success(string(data))
}
