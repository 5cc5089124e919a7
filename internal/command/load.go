package command

import (
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/ferry/internal/loader"
	"github.com/MikeSquared-Agency/ferry/internal/reconcile"
)

func newLoadCmd(a *app) *cobra.Command {
	var opts loader.Options

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load an extraction into Chatwoot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var (
				dest    reconcile.Destination
				inboxID int64
			)
			if err := a.cfg.ValidateDestination(); err != nil {
				if !opts.DryRun {
					return err
				}
				a.logger.Warn("destination not configured; dry run will not contact Chatwoot", "error", err)
			} else {
				if inboxID, err = a.cfg.InboxID(); err != nil {
					return err
				}
				client, err := a.chatwoot()
				if err != nil {
					return err
				}
				dest = client
			}

			store, err := a.storage()
			if err != nil {
				return err
			}
			be, err := a.openBackend(ctx)
			if err != nil {
				return err
			}
			defer be.close()
			events, closeEvents := a.events()
			defer closeEvents()

			runner := loader.NewRunner(loader.Config{
				InboxID:         inboxID,
				PriorityChannel: a.cfg.PriorityChannel,
				SlackToken:      a.cfg.SlackBotToken,
				SlackChannel:    a.cfg.SlackChannel,
				Out:             cmd.OutOrStdout(),
			}, dest, be.ledgers, store, be.loads, events, a.logger)

			_, err = runner.Run(ctx, opts)
			return err
		},
	}

	cmd.Flags().StringVar(&opts.InputPrefix, "input-prefix", "", "extraction directory under DATA_DIR (required)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "log what would be created without calling Chatwoot")
	cmd.Flags().IntVar(&opts.LimitChats, "limit-chats", 0, "stop after this many chats (0 = all)")
	cmd.Flags().IntVar(&opts.LimitMessages, "limit-messages", 0, "stop after this many processed messages (0 = all)")
	cmd.Flags().IntVar(&opts.ChunkSize, "chunk-size", 0, "log message progress every N messages (default CHUNK_SIZE)")
	cmd.Flags().BoolVar(&opts.SkipMessages, "skip-messages", false, "load contacts and conversations only")
	cmd.Flags().BoolVar(&opts.SkipConversations, "skip-conversations", false, "do not create conversations; mapped chats are still marked")
	cmd.Flags().BoolVar(&opts.ResetCheckpoint, "reset-checkpoint", false, "delete the last_load checkpoint before running")
	_ = cmd.MarkFlagRequired("input-prefix")

	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if opts.ChunkSize <= 0 {
			opts.ChunkSize = a.cfg.ChunkSize
		}
	}

	return cmd
}
