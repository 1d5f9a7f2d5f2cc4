// Package router classifies a message into a routing decision.
//
// The primary path asks a language-model classifier for a
// schema-constrained JSON decision. Whenever the classifier is not
// configured, fails, times out or answers outside the schema, the router
// falls back to a deterministic keyword heuristic, so Route only returns
// an error when the caller's own context has ended.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/animalcare/internal/domain"
)

// ErrClassifierUnavailable wraps transport and status failures of the classifier.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

// Input is everything the router knows about the current turn.
type Input struct {
	Message         string          `json:"message"`
	SessionID       string          `json:"-"`
	RecentTurns     []domain.Turn   `json:"recentTurns,omitempty"`
	LastIntent      string          `json:"lastIntent,omitempty"`
	SemanticContext json.RawMessage `json:"semanticContext,omitempty"`
	TurnContext     map[string]any  `json:"context,omitempty"`
}

// Classifier produces a routing decision using a language model.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, in Input) (*domain.RoutingDecision, error)
}

// Router picks the classifier or the heuristic for each message.
type Router struct {
	classifier Classifier
	logger     *slog.Logger
}

// New creates a router. A nil classifier makes the heuristic the sole router.
func New(classifier Classifier, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{classifier: classifier, logger: logger}
}

// Route classifies in.Message.
func (r *Router) Route(ctx context.Context, in Input) (*domain.RoutingDecision, error) {
	if r.classifier == nil {
		return Heuristic(in.Message), nil
	}

	decision, err := r.classifier.Classify(ctx, in)
	if err == nil {
		err = Validate(decision)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("route message: %w", ctxErr)
		}
		var schemaErr *SchemaError
		reason := "unavailable"
		if errors.As(err, &schemaErr) {
			reason = "schema"
		}
		r.logger.Warn("classifier failed, using keyword heuristic",
			"classifier", r.classifier.Name(),
			"session_id", in.SessionID,
			"reason", reason,
			"error", err,
		)
		return Heuristic(in.Message), nil
	}

	decision.Source = domain.SourceClassifier
	return decision, nil
}
