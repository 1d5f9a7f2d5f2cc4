// Package domain contains core domain types for the animalcare conversation core.
package domain

import (
	"encoding/json"
	"time"
)

// DefaultHistoryLimit is the maximum number of turns kept per session.
const DefaultHistoryLimit = 20

// Role identifies who authored a turn.
type Role string

const (
	// RoleUser marks a message typed by the citizen or staff member.
	RoleUser Role = "user"
	// RoleAssistant marks a reply produced by the orchestrator.
	RoleAssistant Role = "assistant"
)

// Turn is one entry in a session history. Turns are never modified after
// they have been appended.
type Turn struct {
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// History is an ordered sequence of turns bounded to a fixed size.
// Appending past the limit drops the oldest turns first.
type History struct {
	limit int
	turns []Turn
}

// NewHistory creates a history bounded to limit, keeping only the most
// recent of the given turns.
func NewHistory(limit int, turns ...Turn) History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	h := History{limit: limit}
	h.Append(turns...)
	return h
}

// Append adds turns in order and trims the oldest entries past the limit.
func (h *History) Append(turns ...Turn) {
	if h.limit <= 0 {
		h.limit = DefaultHistoryLimit
	}
	h.turns = append(h.turns, turns...)
	if over := len(h.turns) - h.limit; over > 0 {
		kept := make([]Turn, h.limit)
		copy(kept, h.turns[over:])
		h.turns = kept
	}
}

// Turns returns a copy of the stored turns in chronological order.
func (h History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Recent returns the last n turns in chronological order.
func (h History) Recent(n int) []Turn {
	if n <= 0 {
		return []Turn{}
	}
	if n >= len(h.turns) {
		return h.Turns()
	}
	out := make([]Turn, n)
	copy(out, h.turns[len(h.turns)-n:])
	return out
}

// Len returns the number of stored turns.
func (h History) Len() int {
	return len(h.turns)
}

// Limit returns the maximum number of turns the history keeps.
func (h History) Limit() int {
	if h.limit <= 0 {
		return DefaultHistoryLimit
	}
	return h.limit
}

// MarshalJSON encodes the history as a plain array of turns.
func (h History) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Turns())
}

// Session is the durable per-conversation state keyed by session id.
type Session struct {
	SessionID  string         `json:"sessionId"`
	UserID     string         `json:"userId,omitempty"`
	LastIntent string         `json:"lastIntent,omitempty"`
	LastAgent  string         `json:"lastAgent,omitempty"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	History    History        `json:"history"`
	Context    map[string]any `json:"context,omitempty"`
}

// NewSession returns an empty session that has never been stored.
func NewSession(sessionID, userID string, limit int) *Session {
	return &Session{
		SessionID: sessionID,
		UserID:    userID,
		History:   NewHistory(limit),
		Context:   map[string]any{},
	}
}

// IsNew reports whether the session has never been persisted.
func (s *Session) IsNew() bool {
	return s.UpdatedAt.IsZero()
}

// RecentTurns returns the last n turns of the session history.
func (s *Session) RecentTurns(n int) []Turn {
	return s.History.Recent(n)
}

// MunicipalityID returns the municipality scoping hint, if any.
func (s *Session) MunicipalityID() string {
	if s.Context == nil {
		return ""
	}
	v, _ := s.Context[ContextKeyMunicipality].(string)
	return v
}

// ContextKeyMunicipality is the context_data key holding the municipality hint.
const ContextKeyMunicipality = "municipalityId"
