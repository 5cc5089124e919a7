// Package chatwoot is the subset of the Chatwoot application API that ferry writes to.
package chatwoot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/ferry/internal/transport"
)

// ErrNoID is returned when a creation response carries no recognisable id.
var ErrNoID = errors.New("no id in response")

// Config holds the Chatwoot connection settings.
type Config struct {
	BaseURL     string
	AccessToken string
	AccountID   string
	RPS         float64
	Timeout     time.Duration
}

type Client struct {
	http      *transport.Client
	accountID string
	logger    *slog.Logger
}

// New validates cfg and builds a client with its own rate gate.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.AccessToken == "" {
		return nil, errors.New("CHATWOOT_API_ACCESS_TOKEN is required")
	}
	if cfg.AccountID == "" {
		return nil, errors.New("CHATWOOT_ACCOUNT_ID is required")
	}
	tc, err := transport.New(transport.Config{
		BaseURL: cfg.BaseURL,
		Headers: map[string]string{"api_access_token": cfg.AccessToken},
		RPS:     cfg.RPS,
		Timeout: cfg.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("chatwoot transport: %w", err)
	}
	return NewWithTransport(tc, cfg.AccountID, logger), nil
}

// NewWithTransport wraps an existing transport client.
func NewWithTransport(tc *transport.Client, accountID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: tc, accountID: accountID, logger: logger}
}

func (c *Client) path(format string, args ...any) string {
	return "/api/v1/accounts/" + url.PathEscape(c.accountID) + fmt.Sprintf(format, args...)
}

// create POSTs payload and extracts the new entity's id.
func (c *Client) create(ctx context.Context, path string, payload any) (int64, error) {
	resp, err := c.http.Do(ctx, http.MethodPost, path, nil, payload)
	if err != nil {
		return 0, err
	}
	id, strategy, ok := ExtractID(resp.Body)
	if !ok {
		return 0, fmt.Errorf("POST %s: %w: %s", path, ErrNoID, truncate(string(resp.Body), 200))
	}
	if strategy != "id" {
		c.logger.Debug("recovered id from nested response", "path", path, "strategy", strategy, "id", id)
	}
	return id, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload any) error {
	_, err := c.http.Do(ctx, method, path, nil, payload)
	return err
}

// CreateContact creates a contact and returns its id.
func (c *Client) CreateContact(ctx context.Context, payload map[string]any) (int64, error) {
	return c.create(ctx, c.path("/contacts"), payload)
}

// UpdateContact applies a partial update to a contact.
func (c *Client) UpdateContact(ctx context.Context, contactID int64, payload map[string]any) error {
	return c.send(ctx, http.MethodPut, c.path("/contacts/%d", contactID), payload)
}

// ContactHit is one contact search result.
type ContactHit struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	Identifier  string `json:"identifier"`
}

// SearchContacts runs the free-text contact search.
func (c *Client) SearchContacts(ctx context.Context, query string) ([]ContactHit, error) {
	resp, err := c.http.Do(ctx, http.MethodGet, c.path("/contacts/search"), url.Values{"q": {query}}, nil)
	if err != nil {
		return nil, err
	}
	var hits []ContactHit
	if err := unwrapList(resp.Body, &hits); err != nil {
		return nil, fmt.Errorf("contact search: %w", err)
	}
	return hits, nil
}

// CreateContactNote adds a note to a contact.
func (c *Client) CreateContactNote(ctx context.Context, contactID int64, content string) error {
	return c.send(ctx, http.MethodPost, c.path("/contacts/%d/notes", contactID), map[string]any{"content": content})
}

// AddContactLabels attaches labels to a contact.
func (c *Client) AddContactLabels(ctx context.Context, contactID int64, labels []string) error {
	return c.send(ctx, http.MethodPost, c.path("/contacts/%d/labels", contactID), map[string]any{"labels": labels})
}

// CreateContactInbox binds a contact to an inbox under sourceID.
func (c *Client) CreateContactInbox(ctx context.Context, contactID, inboxID int64, sourceID string) error {
	return c.send(ctx, http.MethodPost, c.path("/contacts/%d/contact_inboxes", contactID), map[string]any{
		"inbox_id":  inboxID,
		"source_id": sourceID,
	})
}

// ConversationSummary is the part of a conversation ferry matches on.
type ConversationSummary struct {
	ID                   int64          `json:"id"`
	InboxID              int64          `json:"inbox_id"`
	AdditionalAttributes map[string]any `json:"additional_attributes"`
	ContactInbox         struct {
		SourceID string `json:"source_id"`
	} `json:"contact_inbox"`
}

// ListContactConversations returns the conversations of a contact.
func (c *Client) ListContactConversations(ctx context.Context, contactID int64) ([]ConversationSummary, error) {
	resp, err := c.http.Do(ctx, http.MethodGet, c.path("/contacts/%d/conversations", contactID), nil, nil)
	if err != nil {
		return nil, err
	}
	var out []ConversationSummary
	if err := unwrapList(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("contact conversations: %w", err)
	}
	return out, nil
}

// CreateConversation creates a conversation and returns its id.
func (c *Client) CreateConversation(ctx context.Context, payload map[string]any) (int64, error) {
	return c.create(ctx, c.path("/conversations"), payload)
}

// UpdateConversationAttributes replaces a conversation's custom attributes.
func (c *Client) UpdateConversationAttributes(ctx context.Context, conversationID int64, attrs map[string]any) error {
	return c.send(ctx, http.MethodPost, c.path("/conversations/%d/custom_attributes", conversationID), map[string]any{
		"custom_attributes": attrs,
	})
}

// AddConversationLabels attaches labels to a conversation.
func (c *Client) AddConversationLabels(ctx context.Context, conversationID int64, labels []string) error {
	return c.send(ctx, http.MethodPost, c.path("/conversations/%d/labels", conversationID), map[string]any{"labels": labels})
}

// CreateMessage posts a message into a conversation and returns its id.
func (c *Client) CreateMessage(ctx context.Context, conversationID int64, payload map[string]any) (int64, error) {
	return c.create(ctx, c.path("/conversations/%d/messages", conversationID), payload)
}

// CreatePrivateNote posts an agent-only note into a conversation.
func (c *Client) CreatePrivateNote(ctx context.Context, conversationID int64, content string) error {
	return c.send(ctx, http.MethodPost, c.path("/conversations/%d/messages", conversationID), map[string]any{
		"content":      content,
		"message_type": "outgoing",
		"private":      true,
	})
}

// Inbox is one row of the inbox listing.
type Inbox struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ChannelType string `json:"channel_type"`
	WebsiteURL  string `json:"website_url"`
}

// ListInboxes returns the account's inboxes.
func (c *Client) ListInboxes(ctx context.Context) ([]Inbox, error) {
	resp, err := c.http.Do(ctx, http.MethodGet, c.path("/inboxes"), nil, nil)
	if err != nil {
		return nil, err
	}
	var out []Inbox
	if err := unwrapList(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("list inboxes: %w", err)
	}
	return out, nil
}

// unwrapList decodes a list that may be bare or wrapped in payload, data or items.
func unwrapList(body []byte, out any) error {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(body, out)
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("unexpected response structure: %w", err)
	}
	for _, key := range []string{"payload", "data", "items"} {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		if s := strings.TrimSpace(string(raw)); !strings.HasPrefix(s, "[") {
			continue
		}
		return json.Unmarshal(raw, out)
	}
	return fmt.Errorf("unexpected response structure: no list in %s", truncate(trimmed, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
