// Package agent runs the conversational pipeline behind the chat endpoints.
package agent

import (
	"github.com/ashureev/animalcare/internal/domain"
)

// ChatRequest is one inbound user message.
type ChatRequest struct {
	Message        string         `json:"message"`
	SessionID      string         `json:"sessionId,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	MunicipalityID string         `json:"-"`
	RequestID      string         `json:"-"`
	Channel        string         `json:"-"`
}

// ChatResponse is the reply returned on every path, including fallbacks.
type ChatResponse struct {
	Success    bool               `json:"success"`
	SessionID  string             `json:"sessionId"`
	Response   string             `json:"response"`
	Agent      string             `json:"agent"`
	Confidence float64            `json:"confidence"`
	Actions    []domain.Action    `json:"actions"`
	Metadata   map[string]any     `json:"metadata"`
	ToolCalls  []*domain.ToolCall `json:"toolCalls"`
}

// Channels recorded with each turn.
const (
	ChannelHTTP      = "chat_http"
	ChannelWebSocket = "chat_ws"
)

func newChatResponse(sessionID string, wf *domain.WorkflowResponse) *ChatResponse {
	resp := &ChatResponse{
		Success:    true,
		SessionID:  sessionID,
		Response:   wf.Message,
		Agent:      wf.Agent,
		Confidence: wf.Confidence,
		Actions:    wf.Actions,
		Metadata:   wf.Metadata,
		ToolCalls:  wf.ToolCalls,
	}
	if resp.Actions == nil {
		resp.Actions = []domain.Action{}
	}
	if resp.Metadata == nil {
		resp.Metadata = map[string]any{}
	}
	if resp.ToolCalls == nil {
		resp.ToolCalls = []*domain.ToolCall{}
	}
	return resp
}
