// Package workflow dispatches routing decisions to the domain workflow
// endpoints and normalises their replies.
package workflow

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
	// DefaultTimeout bounds one workflow call.
	DefaultTimeout = 60 * time.Second
	// ContextTurns is the number of recent turns forwarded to an endpoint.
	ContextTurns = 5

	maxReplyBytes = 4 << 20
)

// TurnContext is the per-turn data forwarded alongside a decision.
type TurnContext struct {
	Message         string
	SessionID       string
	UserID          string
	RecentTurns     []domain.Turn
	SemanticContext json.RawMessage
	Data            map[string]any
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(e *Executor) {
		if hc != nil {
			e.client = hc
		}
	}
}

// Executor calls workflow endpoints below a common base URL.
type Executor struct {
	baseURL string
	routes  Routes
	client  *http.Client
	logger  *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(baseURL string, routes Routes, timeout time.Duration, logger *slog.Logger, opts ...Option) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		routes:  routes,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

type executeRequest struct {
	UserInput   string                  `json:"userInput"`
	UserMessage string                  `json:"userMessage"`
	SessionID   string                  `json:"sessionId"`
	UserID      string                  `json:"userId"`
	Context     map[string]any          `json:"context"`
	Routing     *domain.RoutingDecision `json:"routing"`
	Intent      domain.Intent           `json:"intent"`
	Agent       string                  `json:"agent"`
}

// executeReply keeps each field raw so one badly typed optional field does
// not discard an otherwise usable reply.
type executeReply struct {
	Message    json.RawMessage `json:"message"`
	Response   json.RawMessage `json:"response"`
	Text       json.RawMessage `json:"text"`
	Agent      json.RawMessage `json:"agent"`
	Confidence json.RawMessage `json:"confidence"`
	Actions    json.RawMessage `json:"actions"`
	Metadata   json.RawMessage `json:"metadata"`
}

// Execute posts the decision to its endpoint and returns the normalised reply.
// Failures are returned as *UpstreamError.
func (e *Executor) Execute(ctx context.Context, decision *domain.RoutingDecision, tc TurnContext) (*domain.WorkflowResponse, error) {
	if decision == nil {
		return nil, errors.New("execute workflow: nil decision")
	}
	endpoint := e.routes.Endpoint(decision.Workflow)

	recent := tc.RecentTurns
	if len(recent) > ContextTurns {
		recent = recent[len(recent)-ContextTurns:]
	}
	wireCtx := make(map[string]any, len(tc.Data)+2)
	for k, v := range tc.Data {
		wireCtx[k] = v
	}
	wireCtx["recentTurns"] = recent
	if len(tc.SemanticContext) > 0 {
		wireCtx["semanticContext"] = tc.SemanticContext
	}

	raw, err := e.post(ctx, endpoint, executeRequest{
		UserInput:   tc.Message,
		UserMessage: tc.Message,
		SessionID:   tc.SessionID,
		UserID:      tc.UserID,
		Context:     wireCtx,
		Routing:     decision,
		Intent:      decision.Intent,
		Agent:       decision.Agent,
	})
	if err != nil {
		return nil, err
	}

	resp, err := normalize(raw, decision)
	if err != nil {
		return nil, &UpstreamError{Endpoint: endpoint, Kind: KindProtocol, Err: err}
	}
	e.logger.Debug("workflow executed",
		"endpoint", endpoint,
		"session_id", tc.SessionID,
		"intent", decision.Intent,
	)
	return resp, nil
}

// PostEntity asks the endpoint owning entity to apply action to it.
func (e *Executor) PostEntity(ctx context.Context, action, entity, id string, data map[string]any) (any, error) {
	endpoint, ok := e.routes.EntityEndpoint(entity)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
	body := map[string]any{
		"action": action,
		"entity": entity,
		"data":   data,
	}
	if id != "" {
		body["id"] = id
	}

	raw, err := e.post(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &UpstreamError{Endpoint: endpoint, Kind: KindProtocol, Err: err}
	}
	return result, nil
}

func (e *Executor) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow request: %w", err)
	}
	url := e.baseURL + "/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build workflow request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, transportError(endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, transportError(endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Endpoint: endpoint, Kind: KindProtocol, StatusCode: resp.StatusCode}
	}
	return raw, nil
}

// normalize turns an endpoint reply into a WorkflowResponse. Some
// endpoints wrap the object in a one-element array.
func normalize(raw []byte, decision *domain.RoutingDecision) (*domain.WorkflowResponse, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode reply: %w", err)
		}
		if len(items) == 0 {
			return nil, errors.New("empty reply array")
		}
		trimmed = items[0]
	}

	var reply executeReply
	if err := json.Unmarshal(trimmed, &reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}

	message := ""
	for _, candidate := range []json.RawMessage{reply.Message, reply.Response, reply.Text} {
		var text string
		if json.Unmarshal(candidate, &text) == nil && strings.TrimSpace(text) != "" {
			message = text
			break
		}
	}
	if message == "" {
		return nil, errors.New("reply has no message, response or text")
	}

	out := &domain.WorkflowResponse{
		Message:    message,
		Agent:      decision.Agent,
		Confidence: decision.Confidence,
		ToolCalls:  []*domain.ToolCall{},
	}
	var agent string
	if json.Unmarshal(reply.Agent, &agent) == nil && strings.TrimSpace(agent) != "" {
		out.Agent = agent
	}
	var confidence *float64
	if json.Unmarshal(reply.Confidence, &confidence) == nil && confidence != nil && *confidence >= 0 && *confidence <= 1 {
		out.Confidence = *confidence
	}
	if json.Unmarshal(reply.Actions, &out.Actions) != nil || out.Actions == nil {
		out.Actions = domain.SuggestedActions(decision.Intent)
	}
	if json.Unmarshal(reply.Metadata, &out.Metadata) != nil || out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return out, nil
}
