package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/animalcare/internal/domain"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiClassifier classifies with the Gemini API using a response schema.
type GeminiClassifier struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	schema  *genai.Schema
}

// NewGeminiClassifier creates a Gemini-backed classifier.
func NewGeminiClassifier(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiClassifier, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = defaultGeminiModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClassifier{
		client:  client,
		model:   model,
		timeout: timeout,
		schema:  DecisionSchema(),
	}, nil
}

// Name identifies the classifier in logs.
func (g *GeminiClassifier) Name() string { return "gemini:" + g.model }

// Classify asks Gemini for a routing decision.
func (g *GeminiClassifier) Classify(ctx context.Context, in Input) (*domain.RoutingDecision, error) {
	prompt, err := userPrompt(in)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(callCtx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](classifierTemperature),
		MaxOutputTokens:   classifierMaxTokens,
		ResponseMIMEType:  "application/json",
		ResponseSchema:    g.schema,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	return DecodeDecision(resp.Text())
}
