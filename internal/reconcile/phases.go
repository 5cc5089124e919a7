package reconcile

import (
	"context"
	"time"

	"github.com/MikeSquared-Agency/ferry/internal/botmaker"
)

// Batch is one extraction's worth of records.
type Batch struct {
	Contacts []botmaker.Contact
	Chats    []botmaker.Chat
	Messages []botmaker.Message
}

// RunOptions bounds a phase run. Zero limits mean unlimited.
type RunOptions struct {
	LimitChats        int
	LimitMessages     int
	SkipConversations bool
	SkipMessages      bool
	// ProgressEvery logs message progress every N processed messages.
	ProgressEvery int
}

// Counts tallies step statuses for one entity type. Failed also counts mapped or created
// entities whose enrichment failed, so they appear under both.
type Counts struct {
	Mapped  int `json:"mapped"`
	Created int `json:"created"`
	Found   int `json:"found_existing"`
	DryRun  int `json:"dry_run"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (c *Counts) add(s Step) {
	switch s.Status {
	case StatusMapped:
		c.Mapped++
	case StatusCreated:
		c.Created++
	case StatusFound:
		c.Found++
	case StatusDryRun:
		c.DryRun++
	case StatusSkipped:
		c.Skipped++
	}
	if s.Status == StatusFailed || s.Err != nil {
		c.Failed++
	}
}

// Report is the outcome of Run. The record slices are the export-status snapshots: every
// record visited, with Exported and ExportedAt set for those that have a destination
// counterpart.
type Report struct {
	Contacts []botmaker.Contact
	Chats    []botmaker.Chat
	Messages []botmaker.Message

	ContactCounts      Counts
	ConversationCounts Counts
	MessageCounts      Counts

	// MessagesProcessed counts messages towards LimitMessages.
	MessagesProcessed int
}

// Run executes the contact, conversation and message phases in that order. It stops at
// the first run-ending error and returns the partial report.
func (e *Engine) Run(ctx context.Context, b Batch, opts RunOptions) (Report, error) {
	var r Report

	if err := e.contactPhase(ctx, b.Contacts, &r); err != nil {
		return r, err
	}
	if opts.SkipConversations && !opts.SkipMessages {
		e.logger.Warn("skipping conversations; messages for unmapped chats will be skipped")
	}
	if err := e.conversationPhase(ctx, b.Chats, opts, &r); err != nil {
		return r, err
	}
	if opts.SkipMessages {
		return r, nil
	}
	if err := e.messagePhase(ctx, b.Messages, opts, &r); err != nil {
		return r, err
	}
	return r, nil
}

func (e *Engine) contactPhase(ctx context.Context, contacts []botmaker.Contact, r *Report) error {
	for _, c := range contacts {
		if c.ContactID == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		step, err := e.Contact(ctx, c)
		if err != nil {
			return err
		}
		r.ContactCounts.add(step)
		if step.Status.Exported() {
			c.Exported = true
			c.ExportedAt = stamp(step.Record.ExportedAt)
		}
		r.Contacts = append(r.Contacts, c)
	}
	e.logger.Info("contact phase complete",
		"created", r.ContactCounts.Created,
		"found", r.ContactCounts.Found,
		"mapped", r.ContactCounts.Mapped,
		"failed", r.ContactCounts.Failed,
	)
	return nil
}

func (e *Engine) conversationPhase(ctx context.Context, chats []botmaker.Chat, opts RunOptions, r *Report) error {
	for i, chat := range chats {
		if opts.LimitChats > 0 && i >= opts.LimitChats {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var step Step
		if opts.SkipConversations {
			rec, err := e.ledgers.Conversations.Get(ctx, chat.ChatID)
			if err != nil {
				return err
			}
			step = Step{Status: StatusSkipped}
			if rec.Mapped() {
				step = Step{Status: StatusMapped, Record: rec}
			}
		} else {
			var err error
			step, err = e.Conversation(ctx, chat)
			if err != nil {
				return err
			}
		}

		r.ConversationCounts.add(step)
		if step.Status.Exported() {
			chat.Exported = true
			chat.ExportedAt = stamp(step.Record.ExportedAt)
		}
		r.Chats = append(r.Chats, chat)
	}
	e.logger.Info("conversation phase complete",
		"created", r.ConversationCounts.Created,
		"found", r.ConversationCounts.Found,
		"mapped", r.ConversationCounts.Mapped,
		"skipped", r.ConversationCounts.Skipped,
		"failed", r.ConversationCounts.Failed,
	)
	return nil
}

func (e *Engine) messagePhase(ctx context.Context, messages []botmaker.Message, opts RunOptions, r *Report) error {
	for _, m := range messages {
		if opts.LimitMessages > 0 && r.MessagesProcessed >= opts.LimitMessages {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		step, err := e.Message(ctx, m)
		if err != nil {
			return err
		}
		r.MessageCounts.add(step)
		if step.Status != StatusSkipped {
			r.MessagesProcessed++
			if opts.ProgressEvery > 0 && r.MessagesProcessed%opts.ProgressEvery == 0 {
				e.logger.Info("messages progress", "processed", r.MessagesProcessed, "of", len(messages))
			}
		}
		if step.Status.Exported() {
			m.Exported = true
			m.ExportedAt = stamp(step.Record.ExportedAt)
		}
		r.Messages = append(r.Messages, m)
	}
	e.logger.Info("message phase complete",
		"processed", r.MessagesProcessed,
		"created", r.MessageCounts.Created,
		"mapped", r.MessageCounts.Mapped,
		"skipped", r.MessageCounts.Skipped,
		"failed", r.MessageCounts.Failed,
	)
	return nil
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
