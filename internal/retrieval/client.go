// Package retrieval is the best-effort client of the semantic search service.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/animalcare/internal/domain"
)

const (
	// DefaultTimeout bounds one retrieval call.
	DefaultTimeout = 30 * time.Second
	// ContextTurns is the number of recent turns sent for disambiguation.
	ContextTurns = 5

	maxResponseBytes = 1 << 20
)

var (
	// ErrDisabled is returned when no retrieval endpoint is configured.
	ErrDisabled = errors.New("semantic retrieval disabled")
	// ErrMalformedResponse is returned when the service reply carries no context payload.
	ErrMalformedResponse = errors.New("malformed semantic retrieval response")
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Client calls the semantic retrieval service.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient creates a client. An empty endpoint yields a disabled client
// whose Retrieve always returns nil.
func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		endpoint: strings.TrimSpace(endpoint),
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool {
	return c.endpoint != ""
}

// Request is the body sent to the retrieval service.
type Request struct {
	Message       string        `json:"message"`
	SessionID     string        `json:"sessionId,omitempty"`
	RetrievalOnly bool          `json:"retrievalOnly"`
	Limit         int           `json:"limit,omitempty"`
	RecentTurns   []domain.Turn `json:"recentTurns,omitempty"`
}

type response struct {
	SemanticContext json.RawMessage `json:"semanticContext"`
	Context         json.RawMessage `json:"context"`
	Results         json.RawMessage `json:"results"`
}

// Retrieve returns context relevant to message, or nil when retrieval is
// disabled or fails for any reason. Failures are logged, never returned.
func (c *Client) Retrieve(ctx context.Context, sessionID, message string, recent []domain.Turn) json.RawMessage {
	if !c.Enabled() {
		return nil
	}
	if len(recent) > ContextTurns {
		recent = recent[len(recent)-ContextTurns:]
	}
	payload, err := c.Fetch(ctx, Request{
		Message:       message,
		SessionID:     sessionID,
		RetrievalOnly: true,
		RecentTurns:   recent,
	})
	if err != nil {
		c.logger.Warn("semantic retrieval unavailable, continuing without context",
			"session_id", sessionID,
			"error", err,
		)
		return nil
	}
	return payload
}

// Search runs a similarity search on behalf of a tool call and reports
// failures to the caller.
func (c *Client) Search(ctx context.Context, query string, limit int) (json.RawMessage, error) {
	return c.Fetch(ctx, Request{Message: query, RetrievalOnly: true, Limit: limit})
}

// Fetch performs one call to the retrieval service.
func (c *Client) Fetch(ctx context.Context, req Request) (json.RawMessage, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal retrieval request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build retrieval request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("retrieval request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read retrieval response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("retrieval service returned status %d", resp.StatusCode)
	}

	var decoded response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	for _, candidate := range []json.RawMessage{decoded.SemanticContext, decoded.Context, decoded.Results} {
		if present(candidate) {
			return candidate, nil
		}
	}
	return nil, ErrMalformedResponse
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
