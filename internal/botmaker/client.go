// Package botmaker reads chats and messages from the Botmaker v2.0 API.
package botmaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/MikeSquared-Agency/ferry/internal/transport"
)

// Config holds the Botmaker connection settings.
type Config struct {
	BaseURL string
	Token   string
	RPS     float64
	Timeout time.Duration
}

type Client struct {
	http   *transport.Client
	logger *slog.Logger
}

// New validates cfg and builds a client with its own rate gate.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("BOTMAKER_API_TOKEN is required")
	}
	tc, err := transport.New(transport.Config{
		BaseURL: cfg.BaseURL,
		Headers: map[string]string{"Authorization": "Bearer " + cfg.Token},
		RPS:     cfg.RPS,
		Timeout: cfg.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("botmaker transport: %w", err)
	}
	return NewWithTransport(tc, logger), nil
}

// NewWithTransport wraps an existing transport client.
func NewWithTransport(tc *transport.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: tc, logger: logger}
}

// ChatQuery filters /chats.
type ChatQuery struct {
	From      string
	To        string
	Limit     int
	ChannelID string
	QueueID   string
	HasAgent  *bool
}

func (q ChatQuery) values() url.Values {
	v := url.Values{}
	setIf(v, "from", q.From)
	setIf(v, "to", q.To)
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	setIf(v, "channel-id", q.ChannelID)
	setIf(v, "queue-id", q.QueueID)
	if q.HasAgent != nil {
		v.Set("has-agent", strconv.FormatBool(*q.HasAgent))
	}
	return v
}

// MessageQuery filters /messages.
type MessageQuery struct {
	From           string
	To             string
	Limit          int
	ChannelID      string
	ContactID      string
	ChatID         string
	LongTermSearch bool
}

func (q MessageQuery) values() url.Values {
	v := url.Values{}
	setIf(v, "from", q.From)
	setIf(v, "to", q.To)
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	setIf(v, "channel-id", q.ChannelID)
	setIf(v, "contact-id", q.ContactID)
	setIf(v, "chat-id", q.ChatID)
	if q.LongTermSearch {
		v.Set("long-term-search", "true")
	}
	return v
}

type listResponse[T any] struct {
	Items    []T    `json:"items"`
	NextPage string `json:"nextPage"`
}

// ListChats fetches one page of chats. A non-empty cursor is the nextPage URL of the
// previous page and replaces the query.
func (c *Client) ListChats(ctx context.Context, q ChatQuery, cursor string) (Page[Chat], error) {
	var raw listResponse[apiChat]
	if err := c.list(ctx, "/chats", q.values(), cursor, &raw); err != nil {
		return Page[Chat]{}, err
	}
	page := Page[Chat]{NextPage: raw.NextPage, Items: make([]Chat, 0, len(raw.Items))}
	for _, item := range raw.Items {
		page.Items = append(page.Items, item.toChat())
	}
	return page, nil
}

// ListMessages fetches one page of messages.
func (c *Client) ListMessages(ctx context.Context, q MessageQuery, cursor string) (Page[Message], error) {
	var raw listResponse[apiMessage]
	if err := c.list(ctx, "/messages", q.values(), cursor, &raw); err != nil {
		return Page[Message]{}, err
	}
	page := Page[Message]{NextPage: raw.NextPage, Items: make([]Message, 0, len(raw.Items))}
	for _, item := range raw.Items {
		page.Items = append(page.Items, item.toMessage())
	}
	return page, nil
}

func (c *Client) list(ctx context.Context, path string, query url.Values, cursor string, out any) error {
	target := path
	if cursor != "" {
		target = cursor
		query = nil
	}
	resp, err := c.http.Do(ctx, http.MethodGet, target, query, nil)
	if err != nil {
		return fmt.Errorf("list %s: %w", path, err)
	}
	if err := resp.JSON(out); err != nil {
		return fmt.Errorf("unexpected response structure for %s: %w", path, err)
	}
	return nil
}

// StreamChats pages through /chats, yielding at most limit chats when limit > 0.
func (c *Client) StreamChats(ctx context.Context, q ChatQuery, limit int, yield func(Chat) error) (int, error) {
	n, err := Stream(ctx, func(ctx context.Context, cursor string) (Page[Chat], error) {
		return c.ListChats(ctx, q, cursor)
	}, limit, yield)
	if err == nil {
		c.logger.Debug("fetched chats", "count", n)
	}
	return n, err
}

// StreamMessages pages through /messages, yielding at most limit messages when limit > 0.
func (c *Client) StreamMessages(ctx context.Context, q MessageQuery, limit int, yield func(Message) error) (int, error) {
	n, err := Stream(ctx, func(ctx context.Context, cursor string) (Page[Message], error) {
		return c.ListMessages(ctx, q, cursor)
	}, limit, yield)
	if err == nil {
		c.logger.Debug("fetched messages", "chat_id", q.ChatID, "count", n)
	}
	return n, err
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}
