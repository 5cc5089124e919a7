package command

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/ferry/internal/extract"
)

func newExtractCmd(a *app) *cobra.Command {
	var opts extract.Options

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract chats, contacts and messages from Botmaker into NDJSON files",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runner, closeFn, err := a.extractRunner(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			summary, err := runner.Run(ctx, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\n=== Extract Summary ===\n")
			fmt.Fprintf(out, "Window: %s -> %s\n", summary.Window.From, summary.Window.To)
			fmt.Fprintf(out, "Chats: %s\n", humanize.Comma(int64(summary.Counts.Chats)))
			fmt.Fprintf(out, "Contacts: %s\n", humanize.Comma(int64(summary.Counts.Contacts)))
			fmt.Fprintf(out, "Messages: %s\n", humanize.Comma(int64(summary.Counts.Messages)))
			fmt.Fprintf(out, "Output: %s/%s\n", a.cfg.DataDir, summary.Prefix)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "window start, ISO-8601 (default EXTRACT_START or now-1d)")
	cmd.Flags().StringVar(&opts.To, "to", "", "window end, ISO-8601 (default EXTRACT_END or now)")
	cmd.Flags().IntVar(&opts.MaxChats, "max-chats", 0, "stop after this many chats (0 = all)")
	cmd.Flags().IntVar(&opts.MessagesPerChat, "messages-per-chat", 0, "cap messages fetched per chat (0 = all)")
	cmd.Flags().BoolVar(&opts.SkipMessages, "skip-messages", false, "extract chats and contacts only")
	cmd.Flags().BoolVar(&opts.LongTerm, "long-term", false, "use Botmaker long-term message search")
	cmd.Flags().StringVar(&opts.OutputPrefix, "output-prefix", "", "output directory under DATA_DIR (default botmaker/run-<timestamp>)")
	cmd.Flags().BoolVar(&opts.ResetCheckpoint, "reset-checkpoints", false, "delete the last_extract checkpoint before running")

	return cmd
}

// extractRunner wires a Botmaker-backed extraction runner. The returned func releases
// the backend and event connections.
func (a *app) extractRunner(cmd *cobra.Command) (*extract.Runner, func(), error) {
	ctx := cmd.Context()
	source, err := a.botmaker()
	if err != nil {
		return nil, nil, err
	}
	store, err := a.storage()
	if err != nil {
		return nil, nil, err
	}
	be, err := a.openBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	events, closeEvents := a.events()

	runner := extract.NewRunner(source, store, be.extracts, events, extract.Config{
		DefaultStart: a.cfg.ExtractStart,
		DefaultEnd:   a.cfg.ExtractEnd,
	}, a.logger)
	return runner, func() {
		closeEvents()
		be.close()
	}, nil
}
