// Package conversation keeps the bounded per-session conversation memory.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/animalcare/internal/domain"
	"github.com/ashureev/animalcare/internal/store"
)

// Repository is the persistence subset the context store needs.
type Repository interface {
	GetSession(ctx context.Context, sessionID string, historyLimit int) (*domain.Session, error)
	AppendTurns(ctx context.Context, update store.SessionUpdate) error
}

// Store loads and saves sessions. Load never fails and Save failures are
// logged and returned for the caller to report, never to abort a turn.
type Store struct {
	repo   Repository
	limit  int
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a context store bounded to historyLimit turns.
func NewStore(repo Repository, historyLimit int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = domain.DefaultHistoryLimit
	}
	return &Store{
		repo:   repo,
		limit:  historyLimit,
		logger: logger,
		now:    time.Now,
	}
}

// Load returns the stored session or a fresh empty one. A read failure is
// logged and treated like a missing row.
func (s *Store) Load(ctx context.Context, sessionID, userID string) *domain.Session {
	session, err := s.repo.GetSession(ctx, sessionID, s.limit)
	if err != nil {
		s.logger.Warn("failed to load session, starting empty", "session_id", sessionID, "error", err)
		return domain.NewSession(sessionID, userID, s.limit)
	}
	if session == nil {
		return domain.NewSession(sessionID, userID, s.limit)
	}
	if session.UserID == "" {
		session.UserID = userID
	}
	if session.Context == nil {
		session.Context = map[string]any{}
	}
	return session
}

// Save appends the user turn and the reply turn to the session, both in
// memory and in the repository.
func (s *Store) Save(ctx context.Context, session *domain.Session, userTurn, replyTurn domain.Turn) error {
	now := s.now()
	if userTurn.Timestamp.IsZero() {
		userTurn.Timestamp = now
	}
	if replyTurn.Timestamp.IsZero() {
		replyTurn.Timestamp = now
	}

	session.History.Append(userTurn, replyTurn)
	if intent := replyTurn.Metadata["intent"]; intent != "" {
		session.LastIntent = intent
	}
	if agent := replyTurn.Metadata["agent"]; agent != "" {
		session.LastAgent = agent
	}
	session.UpdatedAt = now

	err := s.repo.AppendTurns(ctx, store.SessionUpdate{
		SessionID:    session.SessionID,
		UserID:       session.UserID,
		LastIntent:   session.LastIntent,
		LastAgent:    session.LastAgent,
		ContextData:  session.Context,
		Turns:        []domain.Turn{userTurn, replyTurn},
		HistoryLimit: s.limit,
	})
	if err != nil {
		s.logger.Error("failed to persist conversation turn",
			"session_id", session.SessionID,
			"error", err,
		)
		return fmt.Errorf("persist turn: %w", err)
	}
	return nil
}
