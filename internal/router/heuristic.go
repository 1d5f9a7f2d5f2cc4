package router

import (
	"strings"
	"unicode"

	"github.com/ashureev/animalcare/internal/domain"
)

const (
	// HeuristicConfidence is reported for keyword matches.
	HeuristicConfidence = 0.7
	// GeneralConfidence is reported when no keyword matched.
	GeneralConfidence = 0.5
)

var (
	creationKeywords = []string{
		"cadastrar", "cadastre", "registrar", "registre", "criar", "crie",
		"adicionar", "adicione", "incluir", "inclua",
		"register", "create", "add ",
	}
	searchKeywords = []string{
		"buscar", "busque", "procurar", "procure", "encontrar", "listar", "liste",
		"pesquisar", "mostrar", "mostre", "quais animais",
		"search", "find", "list ", "show ",
	}
	adopterKeywords = []string{"adotante", "tutor", "adopter"}

	// speciesKeywords maps whole message words to the stored species value.
	// Entries with prefix set also match longer words starting with them.
	speciesKeywords = []struct {
		word    string
		prefix  bool
		species string
	}{
		{word: "cachorr", prefix: true, species: "dog"},
		{word: "cão", species: "dog"}, {word: "cães", species: "dog"},
		{word: "cao", species: "dog"}, {word: "caes", species: "dog"},
		{word: "dog", species: "dog"}, {word: "dogs", species: "dog"},
		{word: "gato", species: "cat"}, {word: "gatos", species: "cat"},
		{word: "gata", species: "cat"}, {word: "gatas", species: "cat"},
		{word: "gatinh", prefix: true, species: "cat"},
		{word: "cat", species: "cat"}, {word: "cats", species: "cat"},
		{word: "kitten", prefix: true, species: "cat"},
	}
)

// Heuristic classifies msg by keyword presence. It never fails.
func Heuristic(msg string) *domain.RoutingDecision {
	lower := strings.ToLower(msg) + " "
	params := map[string]any{}
	if species := detectSpecies(lower); species != "" {
		params["species"] = species
	}

	switch {
	case containsAny(lower, creationKeywords):
		intent := domain.IntentAnimalRegistration
		if containsAny(lower, adopterKeywords) {
			intent = domain.IntentAdopterRegistration
		}
		return &domain.RoutingDecision{
			Intent:     intent,
			Workflow:   string(intent),
			Agent:      domain.DefaultAgent(intent),
			Confidence: HeuristicConfidence,
			Parameters: params,
			ToolCalls:  []*domain.ToolCall{},
			Reasoning:  "creation keyword matched",
			Source:     domain.SourceHeuristic,
		}

	case containsAny(lower, searchKeywords):
		return &domain.RoutingDecision{
			Intent:     domain.IntentAnimalSearch,
			Workflow:   string(domain.IntentAnimalSearch),
			Agent:      domain.AgentAnimal,
			Confidence: HeuristicConfidence,
			Parameters: params,
			ToolCalls:  []*domain.ToolCall{domain.NewToolCall(availableAnimalsQuery(params))},
			Reasoning:  "search keyword matched",
			Source:     domain.SourceHeuristic,
		}

	default:
		return &domain.RoutingDecision{
			Intent:     domain.IntentGeneralQuery,
			Workflow:   string(domain.IntentGeneralQuery),
			Agent:      domain.AgentGeneral,
			Confidence: GeneralConfidence,
			Parameters: params,
			ToolCalls:  []*domain.ToolCall{},
			Reasoning:  "no keyword matched",
			Source:     domain.SourceHeuristic,
		}
	}
}

// availableAnimalsQuery builds the listing statement. The species filter
// comes from a fixed set of values, never from message text.
func availableAnimalsQuery(params map[string]any) domain.DataQuery {
	var b strings.Builder
	b.WriteString("SELECT id, name, species, breed, status FROM animals WHERE status = 'available'")
	switch params["species"] {
	case "dog":
		b.WriteString(" AND species = 'dog'")
	case "cat":
		b.WriteString(" AND species = 'cat'")
	}
	b.WriteString(" ORDER BY name LIMIT 20")
	return domain.DataQuery{Statement: b.String()}
}

func detectSpecies(lower string) string {
	words := strings.FieldsFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, w := range words {
		for _, k := range speciesKeywords {
			if w == k.word || (k.prefix && strings.HasPrefix(w, k.word)) {
				return k.species
			}
		}
	}
	return ""
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
