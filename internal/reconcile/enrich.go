package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/ferry/internal/botmaker"
	"github.com/MikeSquared-Agency/ferry/internal/ledger"
)

// enrichContact refreshes derived attributes and labels, and seeds the provenance note
// once. rec is updated in place when the note is seeded.
func (e *Engine) enrichContact(ctx context.Context, c botmaker.Contact, rec *ledger.Record) error {
	id := c.ContactID
	if attrs := ContactAttributes(id, e.facts); len(attrs) > 0 {
		if err := e.dest.UpdateContact(ctx, rec.DestinationID, map[string]any{"custom_attributes": attrs}); err != nil {
			return newError(ledger.Contacts, id, fmt.Errorf("update attributes: %w", err))
		}
	}
	if labels := Labels(c.Tags); len(labels) > 0 {
		if err := e.dest.AddContactLabels(ctx, rec.DestinationID, labels); err != nil {
			return newError(ledger.Contacts, id, fmt.Errorf("add labels: %w", err))
		}
	}
	if rec.NoteSeeded {
		return nil
	}
	if err := e.dest.CreateContactNote(ctx, rec.DestinationID, ContactNote(c)); err != nil {
		return newError(ledger.Contacts, id, fmt.Errorf("seed note: %w", err))
	}
	rec.NoteSeeded = true
	if err := e.ledgers.Contacts.Set(ctx, id, *rec); err != nil {
		return fmt.Errorf("record contact note %s: %w", id, err)
	}
	return nil
}

func (e *Engine) enrichConversation(ctx context.Context, chat botmaker.Chat, rec *ledger.Record) error {
	id := chat.ChatID
	if attrs := ChatAttributes(id, e.facts); len(attrs) > 0 {
		if err := e.dest.UpdateConversationAttributes(ctx, rec.DestinationID, attrs); err != nil {
			return newError(ledger.Conversations, id, fmt.Errorf("update attributes: %w", err))
		}
	}
	if labels := Labels(chat.Tags); len(labels) > 0 {
		if err := e.dest.AddConversationLabels(ctx, rec.DestinationID, labels); err != nil {
			return newError(ledger.Conversations, id, fmt.Errorf("add labels: %w", err))
		}
	}
	if rec.NoteSeeded {
		return nil
	}
	if err := e.dest.CreatePrivateNote(ctx, rec.DestinationID, ConversationNote(chat)); err != nil {
		return newError(ledger.Conversations, id, fmt.Errorf("seed note: %w", err))
	}
	rec.NoteSeeded = true
	if err := e.ledgers.Conversations.Set(ctx, id, *rec); err != nil {
		return fmt.Errorf("record conversation note %s: %w", id, err)
	}
	return nil
}

// Labels normalises source tags into Chatwoot labels: lower case, spaces replaced with
// dashes, duplicates removed.
func Labels(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		l := strings.ToLower(strings.Join(strings.Fields(t), "-"))
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// ContactNote is the provenance note seeded on a contact.
func ContactNote(c botmaker.Contact) string {
	var b strings.Builder
	b.WriteString("Imported from Botmaker.\n")
	fmt.Fprintf(&b, "Contact: %s\n", c.ContactID)
	writeLine(&b, "Channel", c.ChannelID)
	writeLine(&b, "First chat", c.ChatID)
	writeLine(&b, "External id", c.ExternalID)
	writeLine(&b, "Country", c.Country)
	return strings.TrimRight(b.String(), "\n")
}

// ConversationNote is the provenance note seeded on a conversation.
func ConversationNote(chat botmaker.Chat) string {
	var b strings.Builder
	b.WriteString("Imported from Botmaker.\n")
	fmt.Fprintf(&b, "Chat: %s\n", chat.ChatID)
	writeLine(&b, "Channel", chat.ChannelID)
	writeLine(&b, "Contact", chat.ContactID)
	writeLine(&b, "Queue", chat.QueueID)
	writeLine(&b, "Started", chat.CreationTime)
	return strings.TrimRight(b.String(), "\n")
}

func writeLine(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "%s: %s\n", label, value)
	}
}
