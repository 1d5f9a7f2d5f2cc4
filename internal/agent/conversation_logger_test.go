package agent

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newFileLogger(t *testing.T, cfg ConversationLogConfig) ConversationLogger {
	t.Helper()
	cfg.Enabled = true
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	logger, err := NewConversationLogger(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	return logger
}

func chatEvent(sessionID, eventType, content string) ConversationLogEvent {
	return ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     "clinic-7",
		SessionID:  sessionID,
		Channel:    ChannelHTTP,
		Direction:  "inbound",
		EventType:  eventType,
		ContentRaw: content,
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestConversationLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger := newFileLogger(t, ConversationLogConfig{Dir: dir, QueueSize: 16})

	logger.Log(chatEvent("sess-1", "chat_user_message", "quero adotar um gato"))
	logger.Log(chatEvent("sess-2", "chat_user_message", "buscar cães"))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "clinic-7", "sess-1.ndjson"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line for sess-1, got %d", len(lines))
	}
	var got ConversationLogEvent
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.Content != "quero adotar um gato" || got.EventType != "chat_user_message" {
		t.Fatalf("unexpected event: %+v", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "clinic-7", "sess-2.ndjson")); err != nil {
		t.Fatalf("expected a separate file per session: %v", err)
	}
}

func TestConversationLoggerMirrorsToGlobalFile(t *testing.T) {
	t.Parallel()

	global := filepath.Join(t.TempDir(), "all", "conversations.ndjson")
	logger := newFileLogger(t, ConversationLogConfig{GlobalEnabled: true, GlobalPath: global})

	logger.Log(chatEvent("sess-a", "chat_user_message", "Olá"))
	logger.Log(chatEvent("sess-b", "chat_assistant_message", "Como posso ajudar?"))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := readLines(t, global)
	if len(lines) != 2 {
		t.Fatalf("expected both sessions in the global log, got %d lines", len(lines))
	}
	if !strings.Contains(lines[1], `"session_id":"sess-b"`) {
		t.Errorf("unexpected global line order: %v", lines)
	}
}

func TestConversationLoggerCloseDrainsQueue(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger := newFileLogger(t, ConversationLogConfig{Dir: dir, QueueSize: 64})

	for i := 0; i < 50; i++ {
		logger.Log(chatEvent("busy", "chat_user_message", "mensagem"))
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if lines := readLines(t, filepath.Join(dir, "clinic-7", "busy.ndjson")); len(lines) != 50 {
		t.Fatalf("expected all 50 queued events written before Close returned, got %d", len(lines))
	}
}

func TestConversationLoggerLogAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger := newFileLogger(t, ConversationLogConfig{Dir: dir})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	logger.Log(chatEvent("late", "chat_user_message", "ainda aí?"))

	if _, err := os.Stat(filepath.Join(dir, "clinic-7", "late.ndjson")); !os.IsNotExist(err) {
		t.Fatalf("expected no file for an event logged after Close, stat err=%v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestConversationLoggerSanitisesPathComponents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger := newFileLogger(t, ConversationLogConfig{Dir: dir})

	event := chatEvent("../../escape", "chat_user_message", "oi")
	event.UserID = ""
	logger.Log(event)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "anonymous", "_.._escape.ndjson")); err != nil {
		t.Fatalf("expected sanitised path under the log dir: %v", err)
	}
}

func TestCleanForReadabilityDropsControlCharacters(t *testing.T) {
	t.Parallel()

	clean := cleanForReadability("  Rex\x00 está\x07 disponível\tpara adoção\n")
	if clean != "Rex está disponível\tpara adoção" {
		t.Fatalf("unexpected cleaned text: %q", clean)
	}
}

func TestDisabledConversationLoggerDiscards(t *testing.T) {
	t.Parallel()

	logger, err := NewConversationLogger(ConversationLogConfig{Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	logger.Log(chatEvent("s", "chat_user_message", "oi"))
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
