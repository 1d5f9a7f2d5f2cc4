// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/animalcare/internal/domain"
)

// SessionUpdate describes one persisted turn exchange for a session.
type SessionUpdate struct {
	SessionID    string
	UserID       string
	LastIntent   string
	LastAgent    string
	ContextData  map[string]any
	Turns        []domain.Turn
	HistoryLimit int
}

// Repository defines the interface for persisting conversation state.
type Repository interface {
	// GetSession retrieves a session with its most recent historyLimit turns.
	// Returns nil, nil when no row exists for sessionID.
	GetSession(ctx context.Context, sessionID string, historyLimit int) (*domain.Session, error)

	// AppendTurns upserts the session row, appends the turns and drops
	// turns older than the history limit.
	AppendTurns(ctx context.Context, update SessionUpdate) error

	// RecordInteraction appends an analytics record for one turn.
	RecordInteraction(ctx context.Context, rec *domain.Interaction) error

	// DeleteSessionsBefore removes sessions (and their turns) not updated since cutoff.
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
