// Package loader replays an extraction's NDJSON files into Chatwoot through the
// reconciliation engine and records what was exported.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/ferry/internal/aggregate"
	"github.com/MikeSquared-Agency/ferry/internal/botmaker"
	"github.com/MikeSquared-Agency/ferry/internal/checkpoint"
	"github.com/MikeSquared-Agency/ferry/internal/extract"
	"github.com/MikeSquared-Agency/ferry/internal/hermes"
	"github.com/MikeSquared-Agency/ferry/internal/reconcile"
	"github.com/MikeSquared-Agency/ferry/internal/slack"
	"github.com/MikeSquared-Agency/ferry/internal/storage"
)

// Config holds the load command configuration.
type Config struct {
	InboxID         int64
	PriorityChannel string
	SlackToken      string // optional: Slack bot token for posting summaries
	SlackChannel    string // optional: Slack channel for summaries
	Now             func() time.Time
	// Out receives the printed run summary. Defaults to stdout.
	Out io.Writer
}

// Options controls one load run.
type Options struct {
	InputPrefix       string
	DryRun            bool
	LimitChats        int
	LimitMessages     int
	ChunkSize         int
	SkipMessages      bool
	SkipConversations bool
	ResetCheckpoint   bool
}

// Files written next to the input, relative to its prefix.
const (
	ContactsStatusFile = "contacts_export_status.ndjson"
	ChatsStatusFile    = "chats_export_status.ndjson"
	MessagesStatusFile = "messages_export_status.ndjson"
	SummaryFile        = "load_summary.json"
)

// Counts are the snapshot sizes of a run.
type Counts struct {
	ContactsUpdated int `json:"contacts_updated"`
	ChatsUpdated    int `json:"chats_updated"`
	MessagesUpdated int `json:"messages_updated"`
}

// Summary is written to <prefix>/load_summary.json.
type Summary struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	Timestamp string `json:"timestamp"`
	Prefix    string `json:"prefix"`
	DryRun    bool   `json:"dry_run"`
	Counts    Counts `json:"counts"`

	Contacts      reconcile.Counts `json:"contacts"`
	Conversations reconcile.Counts `json:"conversations"`
	Messages      reconcile.Counts `json:"messages"`
}

// Failed is the number of entities skipped because of an error.
func (s Summary) Failed() int {
	return s.Contacts.Failed + s.Conversations.Failed + s.Messages.Failed
}

// Marker is the last_load checkpoint.
type Marker struct {
	RunID             string `json:"run_id"`
	InputPrefix       string `json:"input_prefix"`
	ContactsProcessed int    `json:"contacts_processed"`
	ChatsProcessed    int    `json:"chats_processed"`
	MessagesProcessed int    `json:"messages_processed"`
	DryRun            bool   `json:"dry_run"`
	Timestamp         string `json:"timestamp"`
}

// Runner orchestrates a load run.
type Runner struct {
	cfg         Config
	dest        reconcile.Destination
	ledgers     reconcile.Ledgers
	store       *storage.Local
	checkpoints checkpoint.Store
	events      hermes.Publisher
	slack       *slack.Poster
	logger      *slog.Logger
}

// NewRunner creates a load runner. dest may be nil for dry runs.
func NewRunner(cfg Config, dest reconcile.Destination, ledgers reconcile.Ledgers, store *storage.Local, checkpoints checkpoint.Store, events hermes.Publisher, logger *slog.Logger) *Runner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if events == nil {
		events = hermes.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:         cfg,
		dest:        dest,
		ledgers:     ledgers,
		store:       store,
		checkpoints: checkpoints,
		events:      events,
		slack:       slack.NewPoster(cfg.SlackToken, cfg.SlackChannel, logger),
		logger:      logger,
	}
}

// read loads the extraction files under prefix. Messages are not read when skipped.
func (r *Runner) read(prefix string, skipMessages bool) (reconcile.Batch, error) {
	var b reconcile.Batch
	var err error
	if b.Contacts, err = storage.ReadNDJSON[botmaker.Contact](r.store, path.Join(prefix, extract.ContactsFile)); err != nil {
		return b, fmt.Errorf("read contacts: %w", err)
	}
	if b.Chats, err = storage.ReadNDJSON[botmaker.Chat](r.store, path.Join(prefix, extract.ChatsFile)); err != nil {
		return b, fmt.Errorf("read chats: %w", err)
	}
	if !skipMessages {
		if b.Messages, err = storage.ReadNDJSON[botmaker.Message](r.store, path.Join(prefix, extract.MessagesFile)); err != nil {
			return b, fmt.Errorf("read messages: %w", err)
		}
	}
	return b, nil
}

// Run loads one extraction. On a run-ending error the ledgers keep every success, but
// no snapshots or checkpoint are written.
func (r *Runner) Run(ctx context.Context, opts Options) (Summary, error) {
	if r.store == nil || r.checkpoints == nil {
		return Summary{}, errors.New("load run needs storage and checkpoints")
	}
	prefix := strings.TrimRight(opts.InputPrefix, "/")
	if prefix == "" {
		return Summary{}, errors.New("input prefix is required")
	}
	runID := uuid.New().String()
	log := r.logger.With("run_id", runID, "prefix", prefix)

	if opts.ResetCheckpoint {
		if err := r.checkpoints.Delete(ctx, checkpoint.LastLoad); err != nil {
			return Summary{}, fmt.Errorf("reset checkpoint: %w", err)
		}
	}

	batch, err := r.read(prefix, opts.SkipMessages)
	if err != nil {
		return Summary{}, err
	}
	if len(batch.Contacts) == 0 && len(batch.Chats) == 0 {
		log.Warn("no contacts or chats found under prefix")
	}
	log.Info("load starting",
		"contacts", len(batch.Contacts),
		"chats", len(batch.Chats),
		"messages", len(batch.Messages),
		"dry_run", opts.DryRun,
	)

	facts := aggregate.Build(batch.Chats, batch.Messages, aggregate.SubstringMatcher(r.cfg.PriorityChannel))
	engine, err := reconcile.New(r.dest, r.ledgers, facts, reconcile.Options{
		InboxID:   r.cfg.InboxID,
		DryRun:    opts.DryRun,
		Now:       r.cfg.Now,
		OnFailure: r.entityFailed(runID, log),
	}, log)
	if err != nil {
		return Summary{}, err
	}

	report, err := engine.Run(ctx, batch, reconcile.RunOptions{
		LimitChats:        opts.LimitChats,
		LimitMessages:     opts.LimitMessages,
		SkipConversations: opts.SkipConversations,
		SkipMessages:      opts.SkipMessages,
		ProgressEvery:     opts.ChunkSize,
	})
	if err != nil {
		log.Error("load aborted", "error", err)
		return Summary{}, fmt.Errorf("load %s: %w", prefix, err)
	}

	if err := storage.WriteNDJSON(r.store, path.Join(prefix, ContactsStatusFile), report.Contacts); err != nil {
		return Summary{}, err
	}
	if err := storage.WriteNDJSON(r.store, path.Join(prefix, ChatsStatusFile), report.Chats); err != nil {
		return Summary{}, err
	}
	if len(report.Messages) > 0 {
		if err := storage.WriteNDJSON(r.store, path.Join(prefix, MessagesStatusFile), report.Messages); err != nil {
			return Summary{}, err
		}
	}

	stamp := r.cfg.Now().UTC().Format(time.RFC3339)
	counts := Counts{
		ContactsUpdated: len(report.Contacts),
		ChatsUpdated:    len(report.Chats),
		MessagesUpdated: len(report.Messages),
	}
	marker := Marker{
		RunID:             runID,
		InputPrefix:       prefix,
		ContactsProcessed: counts.ContactsUpdated,
		ChatsProcessed:    counts.ChatsUpdated,
		MessagesProcessed: counts.MessagesUpdated,
		DryRun:            opts.DryRun,
		Timestamp:         stamp,
	}
	if err := r.checkpoints.Set(ctx, checkpoint.LastLoad, marker); err != nil {
		return Summary{}, fmt.Errorf("write checkpoint: %w", err)
	}

	summary := Summary{
		Type:          "load",
		RunID:         runID,
		Timestamp:     stamp,
		Prefix:        prefix,
		DryRun:        opts.DryRun,
		Counts:        counts,
		Contacts:      report.ContactCounts,
		Conversations: report.ConversationCounts,
		Messages:      report.MessageCounts,
	}
	if err := r.store.WriteJSON(path.Join(prefix, SummaryFile), summary); err != nil {
		return Summary{}, err
	}

	hermes.Emit(r.events, log, hermes.SubjectLoadCompleted, hermes.LoadCompleted{
		RunID:             runID,
		Prefix:            prefix,
		DryRun:            opts.DryRun,
		ContactsProcessed: counts.ContactsUpdated,
		ChatsProcessed:    counts.ChatsUpdated,
		MessagesProcessed: counts.MessagesUpdated,
		Failed:            summary.Failed(),
		Timestamp:         stamp,
	})
	r.postSummary(ctx, summary)

	log.Info("load complete",
		"contacts", counts.ContactsUpdated,
		"chats", counts.ChatsUpdated,
		"messages", counts.MessagesUpdated,
		"failed", summary.Failed(),
		"dry_run", opts.DryRun,
	)
	PrintSummary(r.cfg.Out, summary)
	return summary, nil
}

func (r *Runner) entityFailed(runID string, log *slog.Logger) func(*reconcile.Error) {
	return func(e *reconcile.Error) {
		hermes.Emit(r.events, log, hermes.SubjectEntityFailed, hermes.EntityFailed{
			RunID:     runID,
			Entity:    string(e.Entity),
			SourceID:  e.SourceID,
			Kind:      e.Kind.String(),
			Error:     e.Err.Error(),
			Timestamp: r.cfg.Now().UTC().Format(time.RFC3339),
		})
	}
}

// postSummary posts the run summary to Slack. If Slack is not configured, it logs the
// summary instead.
func (r *Runner) postSummary(ctx context.Context, s Summary) {
	text := FormatSummary(s)

	if r.slack == nil {
		r.logger.Info("load summary (no Slack configured)", "summary", text)
		return
	}
	if _, err := r.slack.PostText(ctx, text); err != nil {
		r.logger.Warn("failed to post load summary to Slack, logging instead",
			"error", err,
			"summary", text,
		)
	}
}
