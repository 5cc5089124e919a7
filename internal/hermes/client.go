package hermes

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is what runs emit events through.
type Publisher interface {
	Publish(subject string, data any) error
}

// Discard drops every event. Runs use it when NATS is not configured.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(string, any) error { return nil }

// Config selects the NATS server events are published to.
type Config struct {
	URL   string
	Token string
	// Name identifies the connection on the server. Defaults to "ferry".
	Name string
}

// Client publishes JSON events to NATS. It never subscribes.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	if cfg.Name == "" {
		cfg.Name = "ferry"
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrlRedacted())
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Client{conn: nc, logger: logger}, nil
}

// Publish sends data as a JSON message on subject.
func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	msg := nats.NewMsg(subject)
	msg.Header.Set("Content-Type", "application/json")
	msg.Data = payload
	if err := c.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	c.logger.Debug("event published", "subject", subject, "bytes", len(payload))
	return nil
}

// Close flushes pending events before closing the connection.
func (c *Client) Close() {
	if err := c.conn.FlushTimeout(2 * time.Second); err != nil {
		c.logger.Warn("nats flush failed", "error", err)
	}
	c.conn.Close()
}
