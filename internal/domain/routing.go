package domain

// Intent is the classified purpose of a message.
type Intent string

const (
	IntentAnimalRegistration  Intent = "animal_registration"
	IntentAnimalUpdate        Intent = "animal_update"
	IntentAnimalSearch        Intent = "animal_search"
	IntentMedicalRecord       Intent = "medical_record"
	IntentAdoptionApplication Intent = "adoption_application"
	IntentAdoptionFollowUp    Intent = "adoption_followup"
	IntentAdopterRegistration Intent = "adopter_registration"
	IntentTaskManagement      Intent = "task_management"
	IntentReportGeneration    Intent = "report_generation"
	IntentGeneralQuery        Intent = "general_query"
)

// KnownIntents lists every intent the router may emit.
var KnownIntents = []Intent{
	IntentAnimalRegistration,
	IntentAnimalUpdate,
	IntentAnimalSearch,
	IntentMedicalRecord,
	IntentAdoptionApplication,
	IntentAdoptionFollowUp,
	IntentAdopterRegistration,
	IntentTaskManagement,
	IntentReportGeneration,
	IntentGeneralQuery,
}

// IntentFamily groups intents by the kind of effect they request.
type IntentFamily string

const (
	FamilyCreate   IntentFamily = "create"
	FamilyUpdate   IntentFamily = "update"
	FamilySearch   IntentFamily = "search"
	FamilyAdoption IntentFamily = "adoption"
	FamilyTask     IntentFamily = "task"
	FamilyGeneral  IntentFamily = "general"
)

// Family returns the family the intent belongs to.
func (i Intent) Family() IntentFamily {
	switch i {
	case IntentAnimalRegistration, IntentAdopterRegistration:
		return FamilyCreate
	case IntentAnimalUpdate, IntentMedicalRecord:
		return FamilyUpdate
	case IntentAnimalSearch:
		return FamilySearch
	case IntentAdoptionApplication, IntentAdoptionFollowUp:
		return FamilyAdoption
	case IntentTaskManagement, IntentReportGeneration:
		return FamilyTask
	default:
		return FamilyGeneral
	}
}

// Valid reports whether the intent is one of KnownIntents.
func (i Intent) Valid() bool {
	for _, k := range KnownIntents {
		if k == i {
			return true
		}
	}
	return false
}

// Agent persona labels. They are informational only.
const (
	AgentAnimal   = "ANIMAL_AGENT"
	AgentAdoption = "ADOPTION_AGENT"
	AgentTask     = "TASK_AGENT"
	AgentGeneral  = "GENERAL_AGENT"
	AgentFallback = "FALLBACK_AGENT"
)

// DefaultAgent returns the persona normally associated with an intent.
func DefaultAgent(i Intent) string {
	switch i.Family() {
	case FamilyCreate:
		if i == IntentAdopterRegistration {
			return AgentAdoption
		}
		return AgentAnimal
	case FamilyUpdate, FamilySearch:
		return AgentAnimal
	case FamilyAdoption:
		return AgentAdoption
	case FamilyTask:
		return AgentTask
	default:
		return AgentGeneral
	}
}

// Decision sources.
const (
	SourceClassifier = "classifier"
	SourceHeuristic  = "heuristic"
)

// RoutingDecision is the router's structured output for one turn.
type RoutingDecision struct {
	Intent     Intent         `json:"intent"`
	Workflow   string         `json:"workflow"`
	Agent      string         `json:"agent"`
	Confidence float64        `json:"confidence"`
	Parameters map[string]any `json:"parameters"`
	ToolCalls  []*ToolCall    `json:"toolCalls"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Source     string         `json:"source,omitempty"`
}

// SuggestedActions returns the default follow-up actions for an intent.
func SuggestedActions(i Intent) []Action {
	switch i.Family() {
	case FamilyCreate:
		return []Action{
			{Type: "view_record", Label: "Ver cadastro"},
			{Type: "upload_document", Label: "Anexar documentos"},
		}
	case FamilyUpdate:
		return []Action{{Type: "view_record", Label: "Ver cadastro"}}
	case FamilySearch:
		return []Action{
			{Type: "refine_search", Label: "Refinar busca"},
			{Type: "start_adoption", Label: "Iniciar adoção"},
		}
	case FamilyAdoption:
		return []Action{
			{Type: "view_adoption_status", Label: "Acompanhar processo"},
			{Type: "schedule_visit", Label: "Agendar visita"},
		}
	case FamilyTask:
		return []Action{{Type: "view_tasks", Label: "Ver tarefas"}}
	default:
		return []Action{}
	}
}
