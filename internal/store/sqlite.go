package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/animalcare/internal/domain"
	"github.com/ashureev/animalcare/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serialises writers to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers alongside the single writer.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

// DB exposes the underlying handle so the business store can share a
// single SQLite file in development.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversation_sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT,
		context_data TEXT NOT NULL DEFAULT '{}',
		last_intent TEXT,
		last_agent TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_sessions_updated ON conversation_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS conversation_turns (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata_json TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS agent_interactions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id TEXT,
		message TEXT NOT NULL,
		response TEXT NOT NULL,
		intent TEXT,
		agent TEXT NOT NULL,
		confidence REAL NOT NULL,
		source TEXT,
		fallback INTEGER NOT NULL DEFAULT 0,
		cause TEXT,
		tool_calls INTEGER NOT NULL DEFAULT 0,
		tool_failures INTEGER NOT NULL DEFAULT 0,
		persisted INTEGER NOT NULL DEFAULT 1,
		duration_ms INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agent_interactions_session ON agent_interactions(session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves a session and its most recent turns.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string, historyLimit int) (*domain.Session, error) {
	if historyLimit <= 0 {
		historyLimit = domain.DefaultHistoryLimit
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, context_data, last_intent, last_agent, updated_at
		FROM conversation_sessions WHERE session_id = ?`, sessionID)

	var (
		userID, lastIntent, lastAgent sql.NullString
		contextData                   string
		updatedAt                     int64
	)
	session := &domain.Session{}
	err := row.Scan(&session.SessionID, &userID, &contextData, &lastIntent, &lastAgent, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.UserID = userID.String
	session.LastIntent = lastIntent.String
	session.LastAgent = lastAgent.String
	session.UpdatedAt = time.UnixMilli(updatedAt)
	session.Context = map[string]any{}
	if contextData != "" {
		if err := json.Unmarshal([]byte(contextData), &session.Context); err != nil {
			slog.Warn("discarding unreadable context_data", "session_id", sessionID, "error", err)
			session.Context = map[string]any{}
		}
	}

	turns, err := s.recentTurns(ctx, sessionID, historyLimit)
	if err != nil {
		return nil, err
	}
	session.History = domain.NewHistory(historyLimit, turns...)

	return session, nil
}

func (s *SQLiteStore) recentTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, metadata_json, created_at FROM (
			SELECT seq, role, content, metadata_json, created_at
			FROM conversation_turns WHERE session_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn rows", "error", closeErr)
		}
	}()

	var turns []domain.Turn
	for rows.Next() {
		var (
			turn      domain.Turn
			role      string
			metadata  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&role, &turn.Content, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turn.Role = domain.Role(role)
		turn.Timestamp = time.UnixMilli(createdAt)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &turn.Metadata); err != nil {
				slog.Warn("discarding unreadable turn metadata", "session_id", sessionID, "error", err)
			}
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// AppendTurns upserts the session and appends turns in one transaction.
func (s *SQLiteStore) AppendTurns(ctx context.Context, update SessionUpdate) error {
	if update.SessionID == "" {
		return errors.New("append turns: session id is required")
	}
	if update.HistoryLimit <= 0 {
		update.HistoryLimit = domain.DefaultHistoryLimit
	}

	contextData := []byte("{}")
	if len(update.ContextData) > 0 {
		b, err := json.Marshal(update.ContextData)
		if err != nil {
			return fmt.Errorf("marshal context_data: %w", err)
		}
		contextData = b
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return shared.WrapConflict("append turns", s.appendTurns(ctx, update, string(contextData)))
}

func (s *SQLiteStore) appendTurns(ctx context.Context, update SessionUpdate, contextData string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back turn append", "error", rbErr)
			}
		}
	}()

	now := time.Now().UnixMilli()
	var userID any
	if update.UserID != "" {
		userID = update.UserID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_sessions (
			session_id, user_id, context_data, last_intent, last_agent, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			user_id = COALESCE(excluded.user_id, conversation_sessions.user_id),
			context_data = excluded.context_data,
			last_intent = excluded.last_intent,
			last_agent = excluded.last_agent,
			updated_at = excluded.updated_at`,
		update.SessionID, userID, contextData, update.LastIntent, update.LastAgent, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	var maxSeq int64
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM conversation_turns WHERE session_id = ?`,
		update.SessionID,
	).Scan(&maxSeq); err != nil {
		return fmt.Errorf("read turn sequence: %w", err)
	}

	for _, turn := range update.Turns {
		maxSeq++
		var metadata any
		if len(turn.Metadata) > 0 {
			b, mErr := json.Marshal(turn.Metadata)
			if mErr != nil {
				err = fmt.Errorf("marshal turn metadata: %w", mErr)
				return err
			}
			metadata = string(b)
		}
		ts := turn.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO conversation_turns (session_id, seq, role, content, metadata_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			update.SessionID, maxSeq, string(turn.Role), turn.Content, metadata, ts.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM conversation_turns WHERE session_id = ? AND seq <= ?`,
		update.SessionID, maxSeq-int64(update.HistoryLimit),
	); err != nil {
		return fmt.Errorf("trim turns: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit turn append: %w", err)
	}
	return nil
}

// RecordInteraction appends an analytics row.
func (s *SQLiteStore) RecordInteraction(ctx context.Context, rec *domain.Interaction) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_interactions (
			id, session_id, user_id, message, response, intent, agent, confidence, source,
			fallback, cause, tool_calls, tool_failures, persisted, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.UserID, rec.Message, rec.Response, rec.Intent, rec.Agent,
		rec.Confidence, rec.Source, rec.Fallback, rec.Cause, rec.ToolCalls, rec.ToolFailures,
		rec.Persisted, rec.Duration.Milliseconds(), ts.UnixMilli(),
	)
	if err != nil {
		return shared.WrapConflict("insert interaction", err)
	}
	return nil
}

// DeleteSessionsBefore removes sessions and turns not updated since cutoff.
func (s *SQLiteStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	threshold := cutoff.UnixMilli()
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM conversation_turns WHERE session_id IN (
			SELECT session_id FROM conversation_sessions WHERE updated_at < ?
		)`, threshold); err != nil {
		return 0, fmt.Errorf("delete expired turns: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM conversation_sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}

var _ Repository = (*SQLiteStore)(nil)
