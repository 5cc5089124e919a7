// Package transport is the rate-limited, retrying HTTP executor shared by the
// Botmaker and Chatwoot clients.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

const (
	defaultMaxAttempts    = 5
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
	defaultTimeout        = 30 * time.Second
	minRPS                = 0.1
)

// Config describes one upstream API.
type Config struct {
	BaseURL string
	Headers map[string]string
	RPS     float64
	Timeout time.Duration

	// Zero values fall back to 5 attempts, 0.5s initial backoff and a 10s cap.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Response is a fully-read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Client executes requests against one base URL. All calls made through a Client share
// a single rate gate.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New builds a Client. rps below 0.1 is raised to 0.1.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	rps := cfg.RPS
	if rps < minRPS {
		rps = minRPS
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}, nil
}

// Do executes one logical call. Transient failures are retried with exponential backoff;
// the returned error, if any, is always a *Error.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &Error{Kind: Permanent, Method: method, Path: path, Err: fmt.Errorf("marshal body: %w", err)}
		}
	}

	target, err := c.resolve(path, query)
	if err != nil {
		return nil, &Error{Kind: Permanent, Method: method, Path: path, Err: err}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.Multiplier = 2
	b.MaxInterval = c.cfg.MaxBackoff
	b.RandomizationFactor = 0

	attempt := 0
	operation := func() (*Response, error) {
		attempt++
		resp, err := c.once(ctx, method, target, path, payload)
		if err == nil {
			return resp, nil
		}
		var terr *Error
		if errors.As(err, &terr) && terr.Kind == Transient && ctx.Err() == nil {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("request failed, retrying",
				"method", method,
				"path", path,
				"attempt", attempt,
				"wait", wait.String(),
				"error", err,
			)
		}),
	)
	if err != nil {
		var terr *Error
		if errors.As(err, &terr) {
			terr.Attempts = attempt
			return nil, terr
		}
		// Context cancelled while backing off.
		return nil, &Error{Kind: Transient, Method: method, Path: path, Attempts: attempt, Err: err}
	}
	return resp, nil
}

func (c *Client) once(ctx context.Context, method, target, path string, payload []byte) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: Transient, Method: method, Path: path, Err: fmt.Errorf("rate gate: %w", err)}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &Error{Kind: Permanent, Method: method, Path: path, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: Transient, Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: Transient, Method: method, Path: path, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if kind, failed := Classify(resp.StatusCode); failed {
		return nil, &Error{Kind: kind, Method: method, Path: path, Status: resp.StatusCode, Body: string(respBody)}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

// resolve joins path onto the base URL. Absolute URLs, such as pagination cursors, are
// used verbatim and query is ignored for them.
func (c *Client) resolve(path string, query url.Values) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		if _, err := url.Parse(path); err != nil {
			return "", fmt.Errorf("parse url: %w", err)
		}
		return path, nil
	}
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// Classify maps an HTTP status to an error kind. failed is false for 2xx responses.
func Classify(status int) (kind Kind, failed bool) {
	switch {
	case status >= 200 && status < 300:
		return 0, false
	case status == http.StatusTooManyRequests,
		status == http.StatusInternalServerError,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable:
		return Transient, true
	case status >= 400 && status < 500:
		return Validation, true
	default:
		return Permanent, true
	}
}
