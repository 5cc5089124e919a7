// Package extract pulls chats, contacts and messages out of Botmaker into NDJSON files
// under the data directory.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/ferry/internal/botmaker"
	"github.com/MikeSquared-Agency/ferry/internal/checkpoint"
	"github.com/MikeSquared-Agency/ferry/internal/hermes"
	"github.com/MikeSquared-Agency/ferry/internal/storage"
)

// Source is the part of the Botmaker client the runner reads from.
type Source interface {
	StreamChats(ctx context.Context, q botmaker.ChatQuery, limit int, yield func(botmaker.Chat) error) (int, error)
	StreamMessages(ctx context.Context, q botmaker.MessageQuery, limit int, yield func(botmaker.Message) error) (int, error)
}

// Config holds the runner's defaults.
type Config struct {
	// DefaultStart and DefaultEnd come from EXTRACT_START and EXTRACT_END.
	DefaultStart string
	DefaultEnd   string
	Now          func() time.Time
}

// Options controls one extraction run.
type Options struct {
	From            string
	To              string
	MaxChats        int
	MessagesPerChat int
	SkipMessages    bool
	LongTerm        bool
	OutputPrefix    string
	ResetCheckpoint bool
}

// Counts are the record totals of a run.
type Counts struct {
	Contacts int `json:"contacts"`
	Chats    int `json:"chats"`
	Messages int `json:"messages"`
}

// Summary is written to <prefix>/summary.json.
type Summary struct {
	Type      string            `json:"type"`
	RunID     string            `json:"run_id"`
	Timestamp string            `json:"timestamp"`
	Prefix    string            `json:"prefix"`
	Window    Window            `json:"window"`
	Counts    Counts            `json:"counts"`
	Files     map[string]string `json:"files"`
}

// Marker is the last_extract checkpoint.
type Marker struct {
	RunID            string `json:"run_id"`
	From             string `json:"from"`
	To               string `json:"to"`
	SkipMessages     bool   `json:"skip_messages"`
	LongTermSearch   bool   `json:"long_term_search"`
	ChatsExported    int    `json:"chats_exported"`
	ContactsExported int    `json:"contacts_exported"`
	MessagesExported int    `json:"messages_exported"`
	OutputPrefix     string `json:"output_prefix"`
}

// Files written by a run, relative to its prefix.
const (
	ChatsFile    = "chats.ndjson"
	ContactsFile = "contacts.ndjson"
	MessagesFile = "messages.ndjson"
	SummaryFile  = "summary.json"
)

type Runner struct {
	source      Source
	store       *storage.Local
	checkpoints checkpoint.Store
	events      hermes.Publisher
	cfg         Config
	logger      *slog.Logger
}

// NewRunner builds a Runner. store and checkpoints may be nil for sample-only use.
func NewRunner(source Source, store *storage.Local, checkpoints checkpoint.Store, events hermes.Publisher, cfg Config, logger *slog.Logger) *Runner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if events == nil {
		events = hermes.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		source:      source,
		store:       store,
		checkpoints: checkpoints,
		events:      events,
		cfg:         cfg,
		logger:      logger,
	}
}

// Result holds the records collected by a run.
type Result struct {
	Window   Window
	Contacts []botmaker.Contact
	Chats    []botmaker.Chat
	Messages []botmaker.Message
}

func (r Result) counts() Counts {
	return Counts{Contacts: len(r.Contacts), Chats: len(r.Chats), Messages: len(r.Messages)}
}

// collect streams chats in window, derives contacts and, unless skipped, streams each
// chat's messages.
func (r *Runner) collect(ctx context.Context, w Window, opts Options) (Result, error) {
	now := r.cfg.Now()
	contacts := botmaker.NewContactSet()
	res := Result{Window: w}

	_, err := r.source.StreamChats(ctx, botmaker.ChatQuery{From: w.From, To: w.To}, opts.MaxChats, func(chat botmaker.Chat) error {
		res.Chats = append(res.Chats, chat)
		contacts.Add(chat, now)
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("stream chats: %w", err)
	}

	if !opts.SkipMessages {
		for _, chat := range res.Chats {
			q := botmaker.MessageQuery{
				ChatID:         chat.ChatID,
				ChannelID:      chat.ChannelID,
				ContactID:      chat.ContactID,
				LongTermSearch: opts.LongTerm,
			}
			n, err := r.source.StreamMessages(ctx, q, opts.MessagesPerChat, func(m botmaker.Message) error {
				res.Messages = append(res.Messages, m)
				return nil
			})
			if err != nil {
				return res, fmt.Errorf("stream messages for chat %s: %w", chat.ChatID, err)
			}
			r.logger.Debug("chat messages fetched", "chat_id", chat.ChatID, "messages", n)
		}
	}

	res.Contacts = contacts.List()
	return res, nil
}

// Run extracts one window and writes its files, summary and checkpoint.
func (r *Runner) Run(ctx context.Context, opts Options) (Summary, error) {
	if r.store == nil || r.checkpoints == nil {
		return Summary{}, fmt.Errorf("extract run needs storage and checkpoints")
	}
	runID := uuid.New().String()
	now := r.cfg.Now()
	w := ResolveWindow(opts.From, opts.To, r.cfg.DefaultStart, r.cfg.DefaultEnd, now)

	if opts.ResetCheckpoint {
		if err := r.checkpoints.Delete(ctx, checkpoint.LastExtract); err != nil {
			return Summary{}, fmt.Errorf("reset checkpoint: %w", err)
		}
	}
	prefix := strings.TrimRight(opts.OutputPrefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix(now)
	}

	log := r.logger.With("run_id", runID, "prefix", prefix)
	log.Info("extraction starting", "from", w.From, "to", w.To, "max_chats", opts.MaxChats, "skip_messages", opts.SkipMessages)

	res, err := r.collect(ctx, w, opts)
	if err != nil {
		return Summary{}, err
	}

	if err := storage.WriteNDJSON(r.store, path.Join(prefix, ChatsFile), res.Chats); err != nil {
		return Summary{}, err
	}
	if err := storage.WriteNDJSON(r.store, path.Join(prefix, ContactsFile), res.Contacts); err != nil {
		return Summary{}, err
	}
	if !opts.SkipMessages {
		if err := storage.WriteNDJSON(r.store, path.Join(prefix, MessagesFile), res.Messages); err != nil {
			return Summary{}, err
		}
	}

	counts := res.counts()
	marker := Marker{
		RunID:            runID,
		From:             w.From,
		To:               w.To,
		SkipMessages:     opts.SkipMessages,
		LongTermSearch:   opts.LongTerm,
		ChatsExported:    counts.Chats,
		ContactsExported: counts.Contacts,
		MessagesExported: counts.Messages,
		OutputPrefix:     prefix,
	}
	if err := r.checkpoints.Set(ctx, checkpoint.LastExtract, marker); err != nil {
		return Summary{}, fmt.Errorf("write checkpoint: %w", err)
	}

	stamp := r.cfg.Now().UTC().Format(time.RFC3339)
	summary := Summary{
		Type:      "extract",
		RunID:     runID,
		Timestamp: stamp,
		Prefix:    prefix,
		Window:    w,
		Counts:    counts,
		Files: map[string]string{
			"contacts": ContactsFile,
			"chats":    ChatsFile,
			"messages": MessagesFile,
		},
	}
	if err := r.store.WriteJSON(path.Join(prefix, SummaryFile), summary); err != nil {
		return Summary{}, err
	}

	hermes.Emit(r.events, log, hermes.SubjectExtractCompleted, hermes.ExtractCompleted{
		RunID:     runID,
		Prefix:    prefix,
		From:      w.From,
		To:        w.To,
		Chats:     counts.Chats,
		Contacts:  counts.Contacts,
		Messages:  counts.Messages,
		Timestamp: stamp,
	})
	log.Info("extraction finished", "chats", counts.Chats, "contacts", counts.Contacts, "messages", counts.Messages)
	return summary, nil
}

// SampleOptions bounds a sample extraction. Zero limits default to one.
type SampleOptions struct {
	MaxChats        int
	MessagesPerChat int
	SkipMessages    bool
	LongTerm        bool
}

// SampleLimits echoes the limits a sample ran with.
type SampleLimits struct {
	MaxChats        int  `json:"max_chats"`
	MessagesPerChat int  `json:"messages_per_chat"`
	SkipMessages    bool `json:"skip_messages"`
	LongTermSearch  bool `json:"long_term_search"`
}

// SampleSummary describes a sample extraction.
type SampleSummary struct {
	Type      string       `json:"type"`
	Timestamp string       `json:"timestamp"`
	Window    Window       `json:"window"`
	Limits    SampleLimits `json:"limits"`
	Counts    Counts       `json:"counts"`
}

// Sample is the response of an in-memory sample extraction.
type Sample struct {
	Summary  SampleSummary      `json:"summary"`
	Contacts []botmaker.Contact `json:"contacts"`
	Chats    []botmaker.Chat    `json:"chats"`
	Messages []botmaker.Message `json:"messages"`
}

// Sample runs a small extraction over the default window and returns the records without
// writing anything.
func (r *Runner) Sample(ctx context.Context, opts SampleOptions) (Sample, error) {
	if opts.MaxChats <= 0 {
		opts.MaxChats = 1
	}
	if opts.MessagesPerChat <= 0 {
		opts.MessagesPerChat = 1
	}
	w := ResolveWindow("", "", r.cfg.DefaultStart, r.cfg.DefaultEnd, r.cfg.Now())

	res, err := r.collect(ctx, w, Options{
		MaxChats:        opts.MaxChats,
		MessagesPerChat: opts.MessagesPerChat,
		SkipMessages:    opts.SkipMessages,
		LongTerm:        opts.LongTerm,
	})
	if err != nil {
		return Sample{}, err
	}

	return Sample{
		Summary: SampleSummary{
			Type:      "extract_sample",
			Timestamp: r.cfg.Now().UTC().Format(time.RFC3339),
			Window:    w,
			Limits: SampleLimits{
				MaxChats:        opts.MaxChats,
				MessagesPerChat: opts.MessagesPerChat,
				SkipMessages:    opts.SkipMessages,
				LongTermSearch:  opts.LongTerm,
			},
			Counts: res.counts(),
		},
		Contacts: nonNil(res.Contacts),
		Chats:    nonNil(res.Chats),
		Messages: nonNil(res.Messages),
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
