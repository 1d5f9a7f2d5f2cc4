package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/animalcare/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel    = "gpt-4o-mini"
	classifierTemperature = 0.1
	classifierMaxTokens   = 800
)

// OpenAIOption configures an OpenAIClassifier.
type OpenAIOption func(*openai.ClientConfig)

// WithOpenAIEndpoint points the client at an OpenAI-compatible API. Both the
// base URL and the full chat completions URL are accepted.
func WithOpenAIEndpoint(endpoint string) OpenAIOption {
	return func(c *openai.ClientConfig) {
		trimmed := strings.TrimRight(strings.TrimSpace(endpoint), "/")
		trimmed = strings.TrimSuffix(trimmed, "/chat/completions")
		if trimmed != "" {
			c.BaseURL = trimmed
		}
	}
}

// WithOpenAIHTTPClient overrides the HTTP client.
func WithOpenAIHTTPClient(client *http.Client) OpenAIOption {
	return func(c *openai.ClientConfig) {
		if client != nil {
			c.HTTPClient = client
		}
	}
}

// OpenAIClassifier classifies through any OpenAI-compatible chat completions API.
type OpenAIClassifier struct {
	client  *openai.Client
	hasKey  bool
	model   string
	timeout time.Duration
	format  *openai.ChatCompletionResponseFormat
}

// NewOpenAIClassifier creates a classifier. timeout bounds each call.
func NewOpenAIClassifier(apiKey, model string, timeout time.Duration, opts ...OpenAIOption) *OpenAIClassifier {
	if strings.TrimSpace(model) == "" {
		model = defaultOpenAIModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	apiKey = strings.TrimSpace(apiKey)
	cfg := openai.DefaultConfig(apiKey)
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	// JSONSchema yields plain maps and strings, so Marshal only fails on a broken schema.
	var format *openai.ChatCompletionResponseFormat
	if raw, err := json.Marshal(JSONSchema(DecisionSchema())); err == nil {
		format = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "routing_decision",
				Schema: json.RawMessage(raw),
			},
		}
	}

	return &OpenAIClassifier{
		client:  openai.NewClientWithConfig(cfg),
		hasKey:  apiKey != "",
		model:   model,
		timeout: timeout,
		format:  format,
	}
}

// Name identifies the classifier in logs.
func (c *OpenAIClassifier) Name() string { return "openai:" + c.model }

// Classify asks the model for a routing decision.
func (c *OpenAIClassifier) Classify(ctx context.Context, in Input) (*domain.RoutingDecision, error) {
	if !c.hasKey {
		return nil, fmt.Errorf("%w: api key is required", ErrClassifierUnavailable)
	}
	prompt, err := userPrompt(in)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:      classifierMaxTokens,
		Temperature:    classifierTemperature,
		ResponseFormat: c.format,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &SchemaError{Reason: "response contained no choices"}
	}
	return DecodeDecision(resp.Choices[0].Message.Content)
}
