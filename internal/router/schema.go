package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ashureev/animalcare/internal/domain"
	"google.golang.org/genai"
)

// SchemaError reports classifier output that does not match the decision schema.
type SchemaError struct {
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classifier output rejected: %s: %v", e.Reason, e.Err)
	}
	return "classifier output rejected: " + e.Reason
}

func (e *SchemaError) Unwrap() error { return e.Err }

// decisionWire is the exact JSON shape the classifier must produce.
type decisionWire struct {
	Intent     string             `json:"intent"`
	Workflow   string             `json:"workflow"`
	Agent      string             `json:"agent"`
	Confidence *float64           `json:"confidence"`
	Parameters map[string]any     `json:"parameters"`
	ToolCalls  []*domain.ToolCall `json:"toolCalls"`
	Reasoning  string             `json:"reasoning"`
}

// DecodeDecision parses classifier output strictly: unknown fields,
// trailing data and missing required fields are rejected.
func DecodeDecision(raw string) (*domain.RoutingDecision, error) {
	text := stripCodeFence(raw)
	if text == "" {
		return nil, &SchemaError{Reason: "empty output"}
	}

	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	var w decisionWire
	if err := dec.Decode(&w); err != nil {
		return nil, &SchemaError{Reason: "invalid json", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &SchemaError{Reason: "trailing data after decision"}
	}
	if w.Confidence == nil {
		return nil, &SchemaError{Reason: "missing confidence"}
	}

	decision := &domain.RoutingDecision{
		Intent:     domain.Intent(w.Intent),
		Workflow:   w.Workflow,
		Agent:      w.Agent,
		Confidence: *w.Confidence,
		Parameters: w.Parameters,
		ToolCalls:  w.ToolCalls,
		Reasoning:  w.Reasoning,
	}
	if err := Validate(decision); err != nil {
		return nil, err
	}
	return decision, nil
}

// Validate checks a decision and fills optional fields with their defaults.
func Validate(d *domain.RoutingDecision) error {
	if d == nil {
		return &SchemaError{Reason: "no decision"}
	}
	if !d.Intent.Valid() {
		return &SchemaError{Reason: fmt.Sprintf("unknown intent %q", d.Intent)}
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return &SchemaError{Reason: fmt.Sprintf("confidence %v outside [0,1]", d.Confidence)}
	}
	for i, call := range d.ToolCalls {
		if err := validateToolCall(call); err != nil {
			return &SchemaError{Reason: fmt.Sprintf("tool call %d", i), Err: err}
		}
	}

	if strings.TrimSpace(d.Workflow) == "" {
		d.Workflow = string(d.Intent)
	}
	if strings.TrimSpace(d.Agent) == "" {
		d.Agent = domain.DefaultAgent(d.Intent)
	}
	if d.Parameters == nil {
		d.Parameters = map[string]any{}
	}
	if d.ToolCalls == nil {
		d.ToolCalls = []*domain.ToolCall{}
	}
	return nil
}

func validateToolCall(call *domain.ToolCall) error {
	if call == nil || call.Request == nil {
		return errors.New("empty tool call")
	}
	switch req := call.Request.(type) {
	case domain.DataQuery:
		if strings.TrimSpace(req.Statement) == "" {
			return errors.New("dataQuery without query")
		}
	case domain.SemanticSearch:
		if strings.TrimSpace(req.Query) == "" {
			return errors.New("semanticSearch without query")
		}
	case domain.CreateEntity:
		if strings.TrimSpace(req.Entity) == "" {
			return errors.New("createEntity without entity")
		}
	case domain.UpdateEntity:
		if strings.TrimSpace(req.Entity) == "" || strings.TrimSpace(req.ID) == "" {
			return errors.New("updateEntity needs entity and id")
		}
	default:
		return fmt.Errorf("%w: %T", domain.ErrUnknownToolKind, req)
	}
	return nil
}

// stripCodeFence removes a markdown fence some models wrap around JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// entityFields are the extraction slots shared by decision parameters and
// entity payloads.
var entityFields = []string{
	"name", "species", "breed", "age", "sex", "color", "status",
	"animalId", "adopterName", "adopterDocument", "adopterPhone",
	"taskTitle", "dueDate", "municipality", "description",
}

func stringObject(description string) *genai.Schema {
	props := make(map[string]*genai.Schema, len(entityFields))
	for _, f := range entityFields {
		props[f] = &genai.Schema{Type: genai.TypeString}
	}
	return &genai.Schema{Type: genai.TypeObject, Description: description, Properties: props}
}

// DecisionSchema is the response schema both classifier backends request.
func DecisionSchema() *genai.Schema {
	intents := make([]string, len(domain.KnownIntents))
	for i, in := range domain.KnownIntents {
		intents[i] = string(in)
	}
	zero, one := 0.0, 1.0

	toolParams := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"query":  {Type: genai.TypeString, Description: "SQL statement for dataQuery, search text for semanticSearch"},
			"limit":  {Type: genai.TypeInteger},
			"entity": {Type: genai.TypeString, Enum: []string{"animal", "adopter", "adoption", "task"}},
			"id":     {Type: genai.TypeString},
			"data":   stringObject("entity fields"),
		},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"intent":     {Type: genai.TypeString, Enum: intents},
			"workflow":   {Type: genai.TypeString},
			"agent":      {Type: genai.TypeString},
			"confidence": {Type: genai.TypeNumber, Minimum: &zero, Maximum: &one},
			"parameters": stringObject("values extracted from the message"),
			"toolCalls": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"kind": {Type: genai.TypeString, Enum: []string{
							string(domain.ToolDataQuery), string(domain.ToolSemanticSearch),
							string(domain.ToolCreateEntity), string(domain.ToolUpdateEntity),
						}},
						"parameters": toolParams,
					},
					Required: []string{"kind", "parameters"},
				},
			},
			"reasoning": {Type: genai.TypeString},
		},
		Required:         []string{"intent", "confidence", "parameters", "toolCalls"},
		PropertyOrdering: []string{"intent", "workflow", "agent", "confidence", "parameters", "toolCalls", "reasoning"},
	}
}

// JSONSchema renders a genai schema as a plain JSON Schema document.
func JSONSchema(s *genai.Schema) map[string]any {
	if s == nil {
		return nil
	}
	out := map[string]any{"type": strings.ToLower(string(s.Type))}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if s.Minimum != nil {
		out["minimum"] = *s.Minimum
	}
	if s.Maximum != nil {
		out["maximum"] = *s.Maximum
	}
	if s.Items != nil {
		out["items"] = JSONSchema(s.Items)
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = JSONSchema(p)
		}
		out["properties"] = props
		out["additionalProperties"] = false
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

const systemPrompt = `Você é o roteador de intenções do sistema municipal de bem-estar animal.
Classifique a mensagem do usuário e responda somente com JSON no formato pedido.

Intenções:
- animal_registration: cadastrar um novo animal
- animal_update: alterar dados de um animal existente
- animal_search: buscar ou listar animais
- medical_record: vacinas, castração, consultas e prontuários
- adoption_application: pedido de adoção
- adoption_followup: acompanhamento de uma adoção em andamento
- adopter_registration: cadastrar uma pessoa adotante
- task_management: tarefas da equipe
- report_generation: relatórios e estatísticas
- general_query: qualquer outra pergunta

Ferramentas (toolCalls), apenas quando necessárias:
- dataQuery: {"query": "SELECT ..."} somente leitura, tabelas animals, adopters, adoptions, tasks
- semanticSearch: {"query": "texto", "limit": 5}
- createEntity: {"entity": "animal|adopter|adoption|task", "data": {...}}
- updateEntity: {"entity": "...", "id": "...", "data": {...}}

confidence vai de 0 a 1. Use o histórico para resolver referências como "ele" ou "esse animal".`

// userPrompt renders the classifier input as a JSON document.
func userPrompt(in Input) (string, error) {
	if len(in.RecentTurns) > 5 {
		in.RecentTurns = in.RecentTurns[len(in.RecentTurns)-5:]
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(in); err != nil {
		return "", fmt.Errorf("encode classifier input: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
