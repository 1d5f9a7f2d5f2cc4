package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/animalcare/internal/domain"
)

type captureLogger struct {
	mu     sync.Mutex
	events []ConversationLogEvent
}

func (c *captureLogger) Log(e ConversationLogEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureLogger) Close() error { return nil }

type failingRecorder struct{ err error }

func (f failingRecorder) Record(context.Context, *domain.Interaction) error { return f.err }

func TestLogRecorderWritesBothSides(t *testing.T) {
	t.Parallel()

	log := &captureLogger{}
	rec := &domain.Interaction{
		SessionID: "s1",
		UserID:    "u1",
		Message:   "quero adotar",
		Response:  "\x1b[1mClaro!\x1b[0m",
		Agent:     domain.AgentAdoption,
		Fallback:  true,
		Cause:     "upstream_timeout",
		Channel:   ChannelWebSocket,
		Timestamp: time.Now(),
	}
	if err := NewLogRecorder(log).Record(context.Background(), rec); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if len(log.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(log.events))
	}
	user, reply := log.events[0], log.events[1]
	if user.EventType != "chat_user_message" || user.ContentRaw != "quero adotar" {
		t.Errorf("unexpected user event: %+v", user)
	}
	if reply.Channel != ChannelWebSocket {
		t.Errorf("expected channel to be kept, got %q", reply.Channel)
	}
	if reply.Content != "Claro!" {
		t.Errorf("expected ANSI stripped content, got %q", reply.Content)
	}
	if reply.Meta["cause"] != "upstream_timeout" || reply.Meta["fallback"] != true {
		t.Errorf("unexpected meta: %v", reply.Meta)
	}
}

func TestMultiRecorderJoinsErrors(t *testing.T) {
	t.Parallel()

	log := &captureLogger{}
	boom := errors.New("disk full")
	m := MultiRecorder{failingRecorder{err: boom}, nil, NewLogRecorder(log)}

	err := m.Record(context.Background(), &domain.Interaction{SessionID: "s1", Timestamp: time.Now()})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(log.events) != 2 {
		t.Errorf("expected later recorders to still run, got %d events", len(log.events))
	}
}
