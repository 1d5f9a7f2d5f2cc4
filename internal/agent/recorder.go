package agent

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/animalcare/internal/domain"
)

// Recorder stores the analytics record of a finished turn. Recording is
// best effort: errors are logged by the service and never change the reply.
type Recorder interface {
	Record(ctx context.Context, rec *domain.Interaction) error
}

// InteractionStore is the persistence side of SQLRecorder.
type InteractionStore interface {
	RecordInteraction(ctx context.Context, rec *domain.Interaction) error
}

// SQLRecorder appends interactions to the agent_interactions table.
type SQLRecorder struct {
	store InteractionStore
}

// NewSQLRecorder creates a recorder backed by store.
func NewSQLRecorder(store InteractionStore) *SQLRecorder {
	return &SQLRecorder{store: store}
}

// Record implements Recorder.
func (r *SQLRecorder) Record(ctx context.Context, rec *domain.Interaction) error {
	return r.store.RecordInteraction(ctx, rec)
}

// LogRecorder writes each interaction as a user and an assistant event
// to a ConversationLogger.
type LogRecorder struct {
	log ConversationLogger
}

// NewLogRecorder creates a recorder backed by log.
func NewLogRecorder(log ConversationLogger) *LogRecorder {
	if log == nil {
		log = noopConversationLogger{}
	}
	return &LogRecorder{log: log}
}

// Record implements Recorder.
func (r *LogRecorder) Record(_ context.Context, rec *domain.Interaction) error {
	channel := rec.Channel
	if channel == "" {
		channel = ChannelHTTP
	}
	ts := rec.Timestamp.UTC().Format(time.RFC3339Nano)

	r.log.Log(ConversationLogEvent{
		Timestamp:  ts,
		UserID:     rec.UserID,
		SessionID:  rec.SessionID,
		Channel:    channel,
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: rec.Message,
		Content:    cleanForReadability(rec.Message),
		Meta: map[string]any{
			"request_id": rec.RequestID,
		},
	})
	r.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     rec.UserID,
		SessionID:  rec.SessionID,
		Channel:    channel,
		Direction:  "outbound",
		EventType:  "chat_assistant_message",
		ContentRaw: rec.Response,
		Content:    cleanForReadability(rec.Response),
		Meta: map[string]any{
			"request_id":    rec.RequestID,
			"intent":        rec.Intent,
			"agent":         rec.Agent,
			"confidence":    rec.Confidence,
			"source":        rec.Source,
			"fallback":      rec.Fallback,
			"cause":         rec.Cause,
			"tool_calls":    rec.ToolCalls,
			"tool_failures": rec.ToolFailures,
			"persisted":     rec.Persisted,
			"duration_ms":   rec.Duration.Milliseconds(),
		},
	})
	return nil
}

// MultiRecorder fans a record out to every recorder and joins their errors.
type MultiRecorder []Recorder

// Record implements Recorder.
func (m MultiRecorder) Record(ctx context.Context, rec *domain.Interaction) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
