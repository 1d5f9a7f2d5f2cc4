// Package fallback produces a helpful reply when routing or workflow
// execution failed. Respond never fails.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/animalcare/internal/domain"
	"github.com/ashureev/animalcare/internal/router"
	"github.com/ashureev/animalcare/internal/workflow"
)

const (
	// Confidence reported on fallback replies.
	Confidence = 0.3
	// StaticConfidence is reported when the fallback itself failed.
	StaticConfidence = 0.1

	animalPreviewLimit = 3
	listTimeout        = 5 * time.Second
)

// Buckets.
const (
	BucketAnimal   = "animal"
	BucketAdoption = "adoption"
	BucketGeneral  = "general"
)

// Cause tags attached to fallback metadata.
const (
	CauseUpstreamTimeout     = "upstream_timeout"
	CauseUpstreamProtocol    = "upstream_protocol"
	CauseUpstreamUnavailable = "upstream_unavailable"
	CauseRouting             = "routing_error"
	CauseInternal            = "internal_error"
)

var (
	animalKeywords   = []string{"animal", "animais", "cão", "cães", "cachorr", "gato", "gata", "pet", "dog", "cat"}
	adoptionKeywords = []string{"adot", "adoç", "adopt"}
)

// AnimalLister reads a few available animals for the animal bucket.
type AnimalLister interface {
	AvailableAnimals(ctx context.Context, limit int) ([]domain.AnimalSummary, error)
}

// Engine builds fallback replies.
type Engine struct {
	animals AnimalLister
	logger  *slog.Logger
}

// NewEngine creates an engine. animals may be nil.
func NewEngine(animals AnimalLister, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{animals: animals, logger: logger}
}

// CauseTag maps a failure to its metadata tag.
func CauseTag(err error) string {
	var schemaErr *router.SchemaError
	switch {
	case err == nil:
		return CauseInternal
	case errors.Is(err, workflow.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return CauseUpstreamTimeout
	case errors.Is(err, workflow.ErrUpstreamProtocol):
		return CauseUpstreamProtocol
	case errors.Is(err, workflow.ErrUpstreamUnavailable):
		return CauseUpstreamUnavailable
	case errors.As(err, &schemaErr), errors.Is(err, router.ErrClassifierUnavailable):
		return CauseRouting
	default:
		return CauseInternal
	}
}

// Bucket picks the reply family for message, using the session's last
// intent when the message itself carries no keyword.
func Bucket(message string, session *domain.Session) string {
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, adoptionKeywords):
		return BucketAdoption
	case containsAny(lower, animalKeywords):
		return BucketAnimal
	}
	if session == nil {
		return BucketGeneral
	}
	last := domain.Intent(session.LastIntent)
	switch {
	case last == domain.IntentAdopterRegistration, last.Family() == domain.FamilyAdoption:
		return BucketAdoption
	case last.Family() == domain.FamilyCreate, last.Family() == domain.FamilyUpdate, last.Family() == domain.FamilySearch:
		return BucketAnimal
	default:
		return BucketGeneral
	}
}

// Respond builds the fallback reply for a failed turn.
func (e *Engine) Respond(ctx context.Context, message string, session *domain.Session, cause error) (resp *domain.WorkflowResponse) {
	tag := CauseTag(cause)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("fallback failed, sending static reply", "panic", r, "cause", tag)
			resp = Static(tag)
		}
	}()

	bucket := Bucket(message, session)
	var (
		text    string
		actions []domain.Action
	)
	switch bucket {
	case BucketAnimal:
		text = "No momento não consegui concluir sua solicitação sobre animais."
		if preview := e.animalPreview(ctx); preview != "" {
			text += " Alguns animais disponíveis para adoção: " + preview + "."
		}
		text += " Você pode tentar novamente ou refinar sua busca."
		actions = []domain.Action{
			{Type: "retry", Label: "Tentar novamente"},
			{Type: "refine_search", Label: "Refinar busca"},
		}
	case BucketAdoption:
		text = "Não consegui processar seu pedido de adoção agora. " +
			"Seus dados não foram perdidos; tente novamente em alguns instantes ou fale com a equipe de adoção."
		actions = []domain.Action{
			{Type: "retry", Label: "Tentar novamente"},
			{Type: "contact_support", Label: "Falar com a equipe"},
		}
	default:
		text = "Desculpe, não consegui responder agora. Posso ajudar com cadastro de animais, adoções e tarefas da equipe."
		actions = []domain.Action{
			{Type: "retry", Label: "Tentar novamente"},
			{Type: "contact_support", Label: "Falar com o suporte"},
		}
	}

	return &domain.WorkflowResponse{
		Message:    text,
		Agent:      domain.AgentFallback,
		Confidence: Confidence,
		Actions:    actions,
		Metadata: map[string]any{
			"fallback": true,
			"cause":    tag,
			"bucket":   bucket,
		},
		ToolCalls: []*domain.ToolCall{},
	}
}

// animalPreview lists a few available animals, or "" on any failure.
func (e *Engine) animalPreview(ctx context.Context) string {
	if e.animals == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	animals, err := e.animals.AvailableAnimals(ctx, animalPreviewLimit)
	if err != nil {
		e.logger.Debug("fallback animal preview unavailable", "error", err)
		return ""
	}
	names := make([]string, 0, len(animals))
	for _, a := range animals {
		if a.Species != "" {
			names = append(names, fmt.Sprintf("%s (%s)", a.Name, a.Species))
		} else {
			names = append(names, a.Name)
		}
	}
	return strings.Join(names, ", ")
}

// Static is the reply used when even the fallback could not be built.
func Static(cause string) *domain.WorkflowResponse {
	if cause == "" {
		cause = CauseInternal
	}
	return &domain.WorkflowResponse{
		Message:    "Desculpe, ocorreu um erro inesperado. Tente novamente em instantes ou entre em contato com o suporte.",
		Agent:      domain.AgentFallback,
		Confidence: StaticConfidence,
		Actions: []domain.Action{
			{Type: "retry", Label: "Tentar novamente"},
			{Type: "contact_support", Label: "Falar com o suporte"},
		},
		Metadata: map[string]any{
			"fallback": true,
			"static":   true,
			"cause":    cause,
		},
		ToolCalls: []*domain.ToolCall{},
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
