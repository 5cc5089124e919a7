// Package reconcile writes extracted Botmaker records into Chatwoot exactly once. Each
// entity is looked up in its ledger, created (or found) when unmapped, and then enriched
// with derived attributes on every run.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/ferry/internal/aggregate"
	"github.com/MikeSquared-Agency/ferry/internal/botmaker"
	"github.com/MikeSquared-Agency/ferry/internal/chatwoot"
	"github.com/MikeSquared-Agency/ferry/internal/ledger"
	"github.com/MikeSquared-Agency/ferry/internal/transport"
)

// Destination is the set of Chatwoot operations the engine needs. *chatwoot.Client
// implements it.
type Destination interface {
	CreateContact(ctx context.Context, payload map[string]any) (int64, error)
	UpdateContact(ctx context.Context, contactID int64, payload map[string]any) error
	SearchContacts(ctx context.Context, query string) ([]chatwoot.ContactHit, error)
	CreateContactNote(ctx context.Context, contactID int64, content string) error
	AddContactLabels(ctx context.Context, contactID int64, labels []string) error
	CreateContactInbox(ctx context.Context, contactID, inboxID int64, sourceID string) error
	ListContactConversations(ctx context.Context, contactID int64) ([]chatwoot.ConversationSummary, error)

	CreateConversation(ctx context.Context, payload map[string]any) (int64, error)
	UpdateConversationAttributes(ctx context.Context, conversationID int64, attrs map[string]any) error
	AddConversationLabels(ctx context.Context, conversationID int64, labels []string) error
	CreatePrivateNote(ctx context.Context, conversationID int64, content string) error

	CreateMessage(ctx context.Context, conversationID int64, payload map[string]any) (int64, error)
}

// Ledgers groups the three per-entity ledgers.
type Ledgers struct {
	Contacts      ledger.Ledger
	Conversations ledger.Ledger
	Messages      ledger.Ledger
}

// Options configures an Engine.
type Options struct {
	InboxID int64
	DryRun  bool

	// OnFailure, when set, is called for every entity-level failure.
	OnFailure func(*Error)
	Now       func() time.Time
}

type Engine struct {
	dest    Destination
	ledgers Ledgers
	facts   aggregate.Result
	opts    Options
	logger  *slog.Logger
}

// New builds an Engine. A live run needs a positive inbox id.
func New(dest Destination, ledgers Ledgers, facts aggregate.Result, opts Options, logger *slog.Logger) (*Engine, error) {
	if !opts.DryRun && opts.InboxID <= 0 {
		return nil, &Error{Kind: Configuration, Entity: ledger.Conversations, Err: errors.New("inbox id must be a positive integer")}
	}
	if !opts.DryRun && dest == nil {
		return nil, &Error{Kind: Configuration, Err: errors.New("destination client is required")}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{dest: dest, ledgers: ledgers, facts: facts, opts: opts, logger: logger}, nil
}

// Status is what happened to one entity during a phase.
type Status int

const (
	StatusMapped Status = iota + 1
	StatusCreated
	StatusFound
	StatusDryRun
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusMapped:
		return "mapped"
	case StatusCreated:
		return "created"
	case StatusFound:
		return "found_existing"
	case StatusDryRun:
		return "dry_run"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Exported reports whether the entity has a destination counterpart after the step.
func (s Status) Exported() bool {
	return s == StatusMapped || s == StatusCreated || s == StatusFound
}

// Step is the outcome of reconciling one entity. Err carries entity-scoped failures,
// including enrichment failures on an otherwise mapped entity.
type Step struct {
	Status Status
	Record *ledger.Record
	Err    error
}

// Outcome tags the result of a creation attempt.
type Outcome int

const (
	Created Outcome = iota + 1
	FoundExisting
	Failed
)

// Result is the tagged result of a creation attempt.
type Result struct {
	Outcome       Outcome
	DestinationID int64
	Reconciled    bool
	Err           error
}

func created(id int64) Result { return Result{Outcome: Created, DestinationID: id} }

func found(id int64) Result {
	return Result{Outcome: FoundExisting, DestinationID: id, Reconciled: true}
}

func failed(err error) Result { return Result{Outcome: Failed, Err: err} }

func (r Result) status() Status {
	if r.Outcome == FoundExisting {
		return StatusFound
	}
	return StatusCreated
}

// Contact reconciles one contact. The returned error is non-nil only when the run must
// stop; entity failures are reported in Step.Err.
func (e *Engine) Contact(ctx context.Context, c botmaker.Contact) (Step, error) {
	id := c.ContactID
	rec, err := e.ledgers.Contacts.Get(ctx, id)
	if err != nil {
		return Step{}, fmt.Errorf("read contact ledger: %w", err)
	}

	status := StatusMapped
	if !rec.Mapped() {
		if e.opts.DryRun {
			e.logger.Info("[dry-run] would create contact", "contact_id", id)
			return Step{Status: StatusDryRun}, nil
		}
		payload := ContactPayload(c)
		res := e.createContact(ctx, payload)
		if res.Outcome == Failed {
			return e.fail(ledger.Contacts, id, res.Err)
		}
		rec = &ledger.Record{
			DestinationID: res.DestinationID,
			ExportedAt:    e.opts.Now().UTC(),
			Payload:       payload,
			Reconciled:    res.Reconciled,
		}
		if err := e.ledgers.Contacts.Set(ctx, id, *rec); err != nil {
			return Step{}, fmt.Errorf("record contact %s: %w", id, err)
		}
		status = res.status()
		e.logger.Info("contact "+status.String(), "contact_id", id, "chatwoot_id", rec.DestinationID)
	}
	if e.opts.DryRun {
		return Step{Status: status, Record: rec}, nil
	}

	step := Step{Status: status, Record: rec}
	if err := e.enrichContact(ctx, c, rec); err != nil {
		return e.enrichFailed(ledger.Contacts, id, step, err)
	}
	return step, nil
}

func (e *Engine) createContact(ctx context.Context, payload map[string]any) Result {
	id, err := e.dest.CreateContact(ctx, payload)
	if err == nil {
		return created(id)
	}
	if Classify(err) != Validation {
		return failed(err)
	}

	hit, serr := e.searchContact(ctx, payload)
	if serr != nil {
		return failed(serr)
	}
	if hit != 0 {
		return found(hit)
	}

	lastErr := err
	for _, alt := range alternativeContactPayloads(payload) {
		id, err := e.dest.CreateContact(ctx, alt)
		if err == nil {
			e.logger.Info("contact created with reduced payload", "identifier", payload["identifier"])
			return created(id)
		}
		if Classify(err) != Validation {
			return failed(err)
		}
		lastErr = err
	}
	return failed(lastErr)
}

var contactSearchFields = []string{"identifier", "email", "phone_number", "name"}

// searchContact looks for an existing contact matching the payload. It returns 0 when
// nothing matches.
func (e *Engine) searchContact(ctx context.Context, payload map[string]any) (int64, error) {
	for _, field := range contactSearchFields {
		query := str(payload[field])
		if query == "" {
			continue
		}
		hits, err := e.dest.SearchContacts(ctx, query)
		if err != nil {
			if fatal(err) {
				return 0, err
			}
			e.logger.Warn("contact search failed", "field", field, "query", query, "error", err)
			continue
		}
		for _, h := range hits {
			if h.ID > 0 && matches(h, field, query) {
				e.logger.Info("contact found by search", "field", field, "chatwoot_id", h.ID)
				return h.ID, nil
			}
		}
	}
	return 0, nil
}

func matches(h chatwoot.ContactHit, field, query string) bool {
	var v string
	switch field {
	case "identifier":
		v = h.Identifier
	case "email":
		v = h.Email
	case "phone_number":
		v = h.PhoneNumber
	case "name":
		v = h.Name
	}
	return v != "" && strings.EqualFold(v, query)
}

// alternativeContactPayloads drops phone_number, then identifier as well. Variants that
// are identical to the previous attempt are skipped.
func alternativeContactPayloads(payload map[string]any) []map[string]any {
	var out []map[string]any
	prev := payload
	for _, drop := range []string{"phone_number", "identifier"} {
		if _, ok := prev[drop]; !ok {
			continue
		}
		next := make(map[string]any, len(prev))
		for k, v := range prev {
			if k != drop {
				next[k] = v
			}
		}
		out = append(out, next)
		prev = next
	}
	return out
}

// Conversation reconciles one chat. Chats whose contact is not mapped are skipped.
func (e *Engine) Conversation(ctx context.Context, chat botmaker.Chat) (Step, error) {
	id := chat.ChatID
	rec, err := e.ledgers.Conversations.Get(ctx, id)
	if err != nil {
		return Step{}, fmt.Errorf("read conversation ledger: %w", err)
	}
	if rec.Mapped() {
		step := Step{Status: StatusMapped, Record: rec}
		if e.opts.DryRun {
			return step, nil
		}
		if err := e.enrichConversation(ctx, chat, rec); err != nil {
			return e.enrichFailed(ledger.Conversations, id, step, err)
		}
		return step, nil
	}

	contact, err := e.ledgers.Contacts.Get(ctx, chat.ContactID)
	if err != nil {
		return Step{}, fmt.Errorf("read contact ledger: %w", err)
	}
	if !contact.Mapped() {
		e.logger.Warn("contact not exported yet, skipping chat", "chat_id", id, "contact_id", chat.ContactID)
		return Step{Status: StatusSkipped}, nil
	}
	if e.opts.DryRun {
		e.logger.Info("[dry-run] would create conversation", "chat_id", id, "contact_id", chat.ContactID)
		return Step{Status: StatusDryRun}, nil
	}

	payload := ConversationPayload(chat, e.opts.InboxID, contact.DestinationID, e.facts)
	res := e.createConversation(ctx, chat, contact.DestinationID, payload)
	if res.Outcome == Failed {
		return e.fail(ledger.Conversations, id, res.Err)
	}
	rec = &ledger.Record{
		DestinationID: res.DestinationID,
		ParentID:      contact.DestinationID,
		ExportedAt:    e.opts.Now().UTC(),
		Reconciled:    res.Reconciled,
	}
	if err := e.ledgers.Conversations.Set(ctx, id, *rec); err != nil {
		return Step{}, fmt.Errorf("record conversation %s: %w", id, err)
	}
	step := Step{Status: res.status(), Record: rec}
	e.logger.Info("conversation "+step.Status.String(), "chat_id", id, "conversation_id", rec.DestinationID)

	if err := e.enrichConversation(ctx, chat, rec); err != nil {
		return e.enrichFailed(ledger.Conversations, id, step, err)
	}
	return step, nil
}

func (e *Engine) createConversation(ctx context.Context, chat botmaker.Chat, contactID int64, payload map[string]any) Result {
	id, err := e.dest.CreateConversation(ctx, payload)
	if err == nil {
		return created(id)
	}

	if bindingMissing(err) {
		e.logger.Warn("contact inbox binding missing, creating it", "chat_id", chat.ChatID, "contact_id", contactID)
		if berr := e.dest.CreateContactInbox(ctx, contactID, e.opts.InboxID, chat.ChatID); berr != nil && Classify(berr) != Validation {
			return failed(berr)
		}
		id, err = e.dest.CreateConversation(ctx, payload)
		if err == nil {
			return created(id)
		}
	}

	if Classify(err) != Validation {
		return failed(err)
	}
	existing, lerr := e.findConversation(ctx, contactID, chat.ChatID)
	if lerr != nil {
		return failed(lerr)
	}
	if existing != 0 {
		e.logger.Info("conversation found on contact", "chat_id", chat.ChatID, "conversation_id", existing)
		return found(existing)
	}
	return failed(err)
}

func (e *Engine) findConversation(ctx context.Context, contactID int64, chatID string) (int64, error) {
	convs, err := e.dest.ListContactConversations(ctx, contactID)
	if err != nil {
		if fatal(err) {
			return 0, err
		}
		e.logger.Warn("list contact conversations failed", "contact_id", contactID, "error", err)
		return 0, nil
	}
	for _, c := range convs {
		if c.ID <= 0 {
			continue
		}
		if v, _ := c.AdditionalAttributes["botmaker_chat_id"].(string); v == chatID {
			return c.ID, nil
		}
		if c.ContactInbox.SourceID == chatID {
			return c.ID, nil
		}
	}
	return 0, nil
}

// bindingMissing reports whether a conversation create failed because the contact is
// not yet bound to the inbox.
func bindingMissing(err error) bool {
	var terr *transport.Error
	if !errors.As(err, &terr) {
		return false
	}
	if terr.Status == http.StatusNotFound {
		return true
	}
	body := strings.ToLower(terr.Body)
	return strings.Contains(body, "not found") &&
		(strings.Contains(body, "inbox") || strings.Contains(body, "contact"))
}

// Message reconciles one message. Messages whose conversation is not mapped are skipped.
func (e *Engine) Message(ctx context.Context, m botmaker.Message) (Step, error) {
	rec, err := e.ledgers.Messages.Get(ctx, m.ID)
	if err != nil {
		return Step{}, fmt.Errorf("read message ledger: %w", err)
	}
	if rec.Mapped() {
		return Step{Status: StatusMapped, Record: rec}, nil
	}

	conv, err := e.ledgers.Conversations.Get(ctx, m.ChatID)
	if err != nil {
		return Step{}, fmt.Errorf("read conversation ledger: %w", err)
	}
	if !conv.Mapped() {
		e.logger.Warn("conversation missing for message, skipping", "message_id", m.ID, "chat_id", m.ChatID)
		return Step{Status: StatusSkipped}, nil
	}
	if e.opts.DryRun {
		e.logger.Info("[dry-run] would create message", "message_id", m.ID, "chat_id", m.ChatID)
		return Step{Status: StatusDryRun}, nil
	}

	id, err := e.dest.CreateMessage(ctx, conv.DestinationID, MessagePayload(m))
	if err != nil {
		return e.fail(ledger.Messages, m.ID, err)
	}
	rec = &ledger.Record{
		DestinationID: id,
		ParentID:      conv.DestinationID,
		ExportedAt:    e.opts.Now().UTC(),
	}
	if err := e.ledgers.Messages.Set(ctx, m.ID, *rec); err != nil {
		return Step{}, fmt.Errorf("record message %s: %w", m.ID, err)
	}
	return Step{Status: StatusCreated, Record: rec}, nil
}

// fail converts a creation failure into a Step, or into a run-ending error.
func (e *Engine) fail(entity ledger.Entity, sourceID string, err error) (Step, error) {
	rerr := newError(entity, sourceID, err)
	if rerr.Fatal() {
		return Step{}, rerr
	}
	e.logger.Warn("entity failed, skipping",
		"entity", string(entity),
		"source_id", sourceID,
		"kind", rerr.Kind.String(),
		"error", err,
	)
	if e.opts.OnFailure != nil {
		e.opts.OnFailure(rerr)
	}
	return Step{Status: StatusFailed, Err: rerr}, nil
}

func (e *Engine) enrichFailed(entity ledger.Entity, sourceID string, step Step, err error) (Step, error) {
	if IsFatal(err) {
		return Step{}, err
	}
	var rerr *Error
	errors.As(err, &rerr)
	e.logger.Warn("enrichment failed",
		"entity", string(entity),
		"source_id", sourceID,
		"kind", rerr.Kind.String(),
		"error", rerr.Err,
	)
	if e.opts.OnFailure != nil {
		e.opts.OnFailure(rerr)
	}
	step.Err = rerr
	return step, nil
}
