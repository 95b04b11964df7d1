package remote

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

	"outpost/config"
	"outpost/logging"
)

const (
	defaultRequestTimeout = 15 * time.Second
	defaultUserAgent      = "outpost/1.0"
	maxErrorBodyBytes     = 4 << 10
)

// HTTPDoer abstracts the underlying HTTP client so tests can substitute one.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource supplies the bearer token attached to outgoing requests. An
// empty token means the request goes out unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// Envelope is the decoded body of a successful response. Data holds the raw
// payload; Pagination is present only when the remote paginates the resource.
type Envelope struct {
	Data       json.RawMessage `json:"data"`
	Pagination *Pagination     `json:"pagination,omitempty"`
}

// Pagination describes a paged collection response.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
	TotalItems int `json:"total_items"`
}

// Client issues requests against the backing REST API.
type Client struct {
	baseURL    *url.URL
	userAgent  string
	httpClient HTTPDoer
	tokens     TokenSource
	logger     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.httpClient = doer
		}
	}
}

// WithTokenSource attaches a bearer token source.
func WithTokenSource(source TokenSource) Option {
	return func(c *Client) {
		c.tokens = source
	}
}

// NewClient builds a client from the remote configuration section.
func NewClient(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	base, err := url.Parse(cfg.Remote.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base url %q is not absolute", cfg.Remote.BaseURL)
	}

	timeout := defaultRequestTimeout
	if cfg.Remote.RequestTimeout > 0 {
		timeout = time.Duration(cfg.Remote.RequestTimeout) * time.Second
	}
	userAgent := strings.TrimSpace(cfg.Remote.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	client := &Client{
		baseURL:    base,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(logger, "remote"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Get fetches a resource.
func (c *Client) Get(ctx context.Context, endpoint string) (*Envelope, error) {
	return c.Do(ctx, http.MethodGet, endpoint, nil)
}

// Do issues a request against the API and decodes the response envelope.
// Failures are classified: transport errors, timeouts, and server-side
// statuses wrap ErrConnectivity; client-side refusals wrap ErrRejected or
// ErrUnauthorized.
func (c *Client) Do(ctx context.Context, method, endpoint string, payload json.RawMessage) (*Envelope, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("endpoint is empty")
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	target := c.baseURL.JoinPath(endpoint)

	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, tokenErr := c.tokens.Token(ctx)
		if tokenErr != nil {
			return nil, fmt.Errorf("resolve token: %w", tokenErr)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrConnectivity, method, endpoint, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("remote request",
		logging.String("method", method),
		logging.String("endpoint", endpoint),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError(resp.StatusCode, readErrorMessage(resp.Body))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrConnectivity, err)
	}
	return decodeEnvelope(raw), nil
}

// decodeEnvelope accepts both enveloped bodies ({"data": ...}) and bare
// payloads, which some endpoints return.
func decodeEnvelope(raw []byte) *Envelope {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return &Envelope{}
	}
	var envelope Envelope
	if err := json.Unmarshal(trimmed, &envelope); err == nil && len(envelope.Data) > 0 {
		return &envelope
	}
	return &Envelope{Data: json.RawMessage(trimmed)}
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
	if err != nil {
		return ""
	}
	var decoded struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &decoded); err == nil {
		if decoded.Message != "" {
			return decoded.Message
		}
		if decoded.Error != "" {
			return decoded.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
