package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ashureev/animalcare/internal/domain"
	"github.com/ashureev/animalcare/internal/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func exchange(i int) []domain.Turn {
	now := time.Now()
	return []domain.Turn{
		{Role: domain.RoleUser, Content: fmt.Sprintf("user %d", i), Timestamp: now},
		{Role: domain.RoleAssistant, Content: fmt.Sprintf("assistant %d", i), Timestamp: now, Metadata: map[string]string{"intent": "general_query"}},
	}
}

func TestGetSessionMissingReturnsNil(t *testing.T) {
	s := newTestSQLite(t)

	session, err := s.GetSession(context.Background(), "missing", 20)
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestAppendTurnsUpsertsAndKeepsOrder(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		require.NoError(t, s.AppendTurns(ctx, SessionUpdate{
			SessionID:    "s1",
			UserID:       "u1",
			LastIntent:   "general_query",
			LastAgent:    domain.AgentGeneral,
			ContextData:  map[string]any{domain.ContextKeyMunicipality: "3550308"},
			Turns:        exchange(i),
			HistoryLimit: 20,
		}))
	}

	session, err := s.GetSession(ctx, "s1", 20)
	require.NoError(t, err)
	require.NotNil(t, session)

	turns := session.History.Turns()
	require.Len(t, turns, 4)
	assert.Equal(t, "user 1", turns[0].Content)
	assert.Equal(t, "assistant 1", turns[1].Content)
	assert.Equal(t, "user 2", turns[2].Content)
	assert.Equal(t, "assistant 2", turns[3].Content)
	assert.Equal(t, domain.RoleAssistant, turns[3].Role)
	assert.Equal(t, "general_query", turns[3].Metadata["intent"])
	assert.Equal(t, "u1", session.UserID)
	assert.Equal(t, domain.AgentGeneral, session.LastAgent)
	assert.Equal(t, "3550308", session.MunicipalityID())
	assert.False(t, session.IsNew())
}

func TestAppendTurnsTrimsToHistoryLimit(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	for i := 1; i <= 15; i++ {
		require.NoError(t, s.AppendTurns(ctx, SessionUpdate{
			SessionID:    "busy",
			Turns:        exchange(i),
			HistoryLimit: 20,
		}))
	}

	session, err := s.GetSession(ctx, "busy", 20)
	require.NoError(t, err)
	turns := session.History.Turns()
	require.Len(t, turns, 20)
	assert.Equal(t, "user 6", turns[0].Content)
	assert.Equal(t, "assistant 15", turns[19].Content)

	var stored int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM conversation_turns WHERE session_id = ?`, "busy").Scan(&stored))
	assert.Equal(t, 20, stored)
}

func TestAppendTurnsKeepsUserIDWhenLaterTurnIsAnonymous(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.AppendTurns(ctx, SessionUpdate{SessionID: "s2", UserID: "u9", Turns: exchange(1)}))
	require.NoError(t, s.AppendTurns(ctx, SessionUpdate{SessionID: "s2", Turns: exchange(2)}))

	session, err := s.GetSession(ctx, "s2", 20)
	require.NoError(t, err)
	assert.Equal(t, "u9", session.UserID)
}

func TestRecordInteractionAndRetention(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.RecordInteraction(ctx, &domain.Interaction{
		ID:         "i1",
		SessionID:  "s3",
		Message:    "oi",
		Response:   "olá",
		Agent:      domain.AgentFallback,
		Confidence: 0.3,
		Fallback:   true,
		Cause:      "upstream_timeout",
		Duration:   1500 * time.Millisecond,
	}))

	var cause string
	var fallback bool
	require.NoError(t, s.db.QueryRow(`SELECT cause, fallback FROM agent_interactions WHERE id = ?`, "i1").Scan(&cause, &fallback))
	assert.Equal(t, "upstream_timeout", cause)
	assert.True(t, fallback)

	require.NoError(t, s.AppendTurns(ctx, SessionUpdate{SessionID: "old", Turns: exchange(1)}))
	deleted, err := s.DeleteSessionsBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	session, err := s.GetSession(ctx, "old", 20)
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestRecordInteractionBusyIsNotRetried(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("INSERT INTO agent_interactions").
		WillReturnError(errors.New("database is locked (5) (SQLITE_BUSY)"))

	s := &SQLiteStore{db: db}
	err = s.RecordInteraction(context.Background(), &domain.Interaction{ID: "i1", SessionID: "s1"})

	require.ErrorIs(t, err, shared.ErrDatabaseBusy)
	assert.NoError(t, mock.ExpectationsWereMet())
}
