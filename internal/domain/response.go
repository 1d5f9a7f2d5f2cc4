package domain

import (
	"encoding/json"
	"time"
)

// Action is a suggested follow-up offered to the caller.
type Action struct {
	Type    string         `json:"type"`
	Label   string         `json:"label"`
	Payload map[string]any `json:"payload,omitempty"`
}

// UnmarshalJSON accepts either an object or a bare string, which some
// workflow endpoints return as a shorthand for {type: s, label: s}.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.Type = s
		a.Label = s
		return nil
	}
	type plain Action
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Action(p)
	if a.Label == "" {
		a.Label = a.Type
	}
	return nil
}

// WorkflowResponse is the reply produced for one turn.
type WorkflowResponse struct {
	Message    string         `json:"message"`
	Agent      string         `json:"agent"`
	Confidence float64        `json:"confidence"`
	Actions    []Action       `json:"actions"`
	Metadata   map[string]any `json:"metadata"`
	ToolCalls  []*ToolCall    `json:"toolCalls"`
}

// AnimalSummary is the minimal view of an animal available for adoption.
type AnimalSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Species string `json:"species"`
}

// QueryResult is the outcome of a data query tool call.
type QueryResult struct {
	Rows         []map[string]any `json:"rows,omitempty"`
	RowsAffected int64            `json:"rowsAffected"`
	Truncated    bool             `json:"truncated,omitempty"`
}

// Interaction is the analytics record written for every turn.
type Interaction struct {
	ID           string        `json:"id"`
	SessionID    string        `json:"session_id"`
	UserID       string        `json:"user_id,omitempty"`
	Message      string        `json:"message"`
	Response     string        `json:"response"`
	Intent       string        `json:"intent,omitempty"`
	Agent        string        `json:"agent"`
	Confidence   float64       `json:"confidence"`
	Source       string        `json:"source,omitempty"`
	Fallback     bool          `json:"fallback"`
	Cause        string        `json:"cause,omitempty"`
	ToolCalls    int           `json:"tool_calls"`
	ToolFailures int           `json:"tool_failures"`
	Persisted    bool          `json:"persisted"`
	Duration     time.Duration `json:"duration"`
	Timestamp    time.Time     `json:"timestamp"`
	Channel      string        `json:"channel,omitempty"`
	RequestID    string        `json:"request_id,omitempty"`
}
