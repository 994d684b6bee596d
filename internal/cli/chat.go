package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/userops/internal/cache"
	"github.com/roach88/userops/internal/history"
	"github.com/roach88/userops/internal/store"
)

// ChatOptions holds flags for the chat commands.
type ChatOptions struct {
	*RootOptions
	Owner       string
	Counterpart string
}

// NewChatCommand creates the chat command group.
func NewChatCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChatOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Inspect conversations",
	}
	cmd.PersistentFlags().StringVar(&opts.Owner, "owner", "", "owner address (required)")
	_ = cmd.MarkPersistentFlagRequired("owner")

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List counterparts the owner has messaged",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChatList(opts, cmd)
		},
	})

	show := &cobra.Command{
		Use:   "show",
		Short: "Show a conversation from sent messages and the chat cache",
		Long: `Show sent messages merged with cached chat history.

Only cache entries younger than cache.max_age are used; an expired
entry is evicted and only sent messages are shown. Cached entries are
shown as stored; the chat eligibility check is not repeated, and a
notice on stderr says so.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChatShow(opts, cmd)
		},
	}
	show.Flags().StringVar(&opts.Counterpart, "with", "", "counterpart address (required)")
	_ = show.MarkFlagRequired("with")
	cmd.AddCommand(show)

	return cmd
}

func runChatList(opts *ChatOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	_, backend, err := opts.openStorage(ctx)
	if err != nil {
		return err
	}
	defer closeStorage(backend)

	ops, err := store.New(backend).Get(ctx, opts.Owner)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read operations", err)
	}
	participants := history.Participants(ops)
	if participants == nil {
		participants = []string{}
	}

	out := opts.formatter(cmd)
	if opts.Format == "json" {
		return out.Success(participants)
	}
	if len(participants) == 0 {
		return out.Success("No conversations.")
	}
	return out.Success(strings.Join(participants, "\n"))
}

func runChatShow(opts *ChatOptions, cmd *cobra.Command) error {
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

	out := opts.formatter(cmd)
	msgs, hit := cache.New[string](backend).Get(ctx, opts.Owner, opts.Counterpart, cfg.Cache.MaxAge)
	if !hit {
		out.VerboseLog("no fresh cached chat for %s", opts.Counterpart)
	} else if len(msgs) > 0 {
		out.Notice("note: %d cached chat message(s) shown unverified; eligibility was not rechecked", len(msgs))
	}
	return out.Entries(history.MergeChat(ops, msgs, opts.Counterpart, time.Now()))
}
