package loader

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/MikeSquared-Agency/ferry/internal/reconcile"
)

// FormatSummary renders s as a Slack mrkdwn message.
func FormatSummary(s Summary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Load Summary* `%s`", s.Prefix)
	if s.DryRun {
		sb.WriteString(" (dry run)")
	}
	sb.WriteString("\n")
	writeCounts(&sb, "Contacts", s.Counts.ContactsUpdated, s.Contacts)
	writeCounts(&sb, "Conversations", s.Counts.ChatsUpdated, s.Conversations)
	writeCounts(&sb, "Messages", s.Counts.MessagesUpdated, s.Messages)
	if n := s.Failed(); n > 0 {
		fmt.Fprintf(&sb, "_%s entities failed; see entity failure logs for source ids._\n", humanize.Comma(int64(n)))
	}
	return sb.String()
}

func writeCounts(sb *strings.Builder, label string, total int, c reconcile.Counts) {
	fmt.Fprintf(sb, "  - %s: %s (created %s, found %s, mapped %s",
		label,
		humanize.Comma(int64(total)),
		humanize.Comma(int64(c.Created)),
		humanize.Comma(int64(c.Found)),
		humanize.Comma(int64(c.Mapped)),
	)
	if c.DryRun > 0 {
		fmt.Fprintf(sb, ", would create %s", humanize.Comma(int64(c.DryRun)))
	}
	if c.Skipped > 0 {
		fmt.Fprintf(sb, ", skipped %s", humanize.Comma(int64(c.Skipped)))
	}
	if c.Failed > 0 {
		fmt.Fprintf(sb, ", failed %s", humanize.Comma(int64(c.Failed)))
	}
	sb.WriteString(")\n")
}

// PrintSummary writes the end-of-run report for the terminal.
func PrintSummary(w io.Writer, s Summary) {
	fmt.Fprintf(w, "\n=== Load Summary ===\n")
	fmt.Fprintf(w, "Input prefix: %s\n", s.Prefix)
	fmt.Fprintf(w, "Contacts processed: %s\n", humanize.Comma(int64(s.Counts.ContactsUpdated)))
	fmt.Fprintf(w, "Chats processed: %s\n", humanize.Comma(int64(s.Counts.ChatsUpdated)))
	fmt.Fprintf(w, "Messages processed: %s\n", humanize.Comma(int64(s.Counts.MessagesUpdated)))
	fmt.Fprintf(w, "Created: %s contacts, %s conversations, %s messages\n",
		humanize.Comma(int64(s.Contacts.Created)),
		humanize.Comma(int64(s.Conversations.Created)),
		humanize.Comma(int64(s.Messages.Created)),
	)
	fmt.Fprintf(w, "Failed: %s\n", humanize.Comma(int64(s.Failed())))
	if s.DryRun {
		fmt.Fprintf(w, "Mode: DRY RUN (no Chatwoot writes)\n")
	}
	fmt.Fprintf(w, "Run ID: %s\n", s.RunID)
}
