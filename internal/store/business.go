package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/animalcare/internal/domain"
	_ "github.com/lib/pq"
)

// maxQueryRows caps the rows returned to a single data query tool call.
const maxQueryRows = 100

// BusinessStore gives the conversation core read/write access to the
// municipal business tables (animals, adopters, tasks). The schema itself
// belongs to the back-office application.
type BusinessStore struct {
	db *sql.DB
}

// OpenBusiness opens the business database. Supported drivers are
// "sqlite" (modernc) and "postgres" (lib/pq).
func OpenBusiness(driver, dsn string) (*BusinessStore, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported business database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open business database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &BusinessStore{db: db}, nil
}

// NewBusinessStore wraps an existing handle.
func NewBusinessStore(db *sql.DB) *BusinessStore {
	return &BusinessStore{db: db}
}

// Ping verifies connectivity to the business database.
func (b *BusinessStore) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close closes the business database handle.
func (b *BusinessStore) Close() error {
	return b.db.Close()
}

// Query executes statement. Row-returning statements (SELECT, WITH, or any
// statement with RETURNING) yield at most maxQueryRows rows; other
// statements report the affected row count.
func (b *BusinessStore) Query(ctx context.Context, statement string, args ...any) (*domain.QueryResult, error) {
	if !returnsRows(statement) {
		res, err := b.db.ExecContext(ctx, statement, args...)
		if err != nil {
			return nil, fmt.Errorf("exec statement: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		return &domain.QueryResult{RowsAffected: affected}, nil
	}

	rows, err := b.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("query statement: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close business rows", "error", closeErr)
		}
	}()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := &domain.QueryResult{Rows: []map[string]any{}}
	for rows.Next() {
		if len(result.Rows) == maxQueryRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if raw, ok := values[i].([]byte); ok {
				row[col] = string(raw)
				continue
			}
			row[col] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	result.RowsAffected = int64(len(result.Rows))
	return result, nil
}

// AvailableAnimals lists up to limit animals currently open for adoption.
func (b *BusinessStore) AvailableAnimals(ctx context.Context, limit int) ([]domain.AnimalSummary, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, name, species FROM animals WHERE status = 'available' ORDER BY id LIMIT `+strconv.Itoa(limit))
	if err != nil {
		return nil, fmt.Errorf("query available animals: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close animal rows", "error", closeErr)
		}
	}()

	var animals []domain.AnimalSummary
	for rows.Next() {
		var (
			a             domain.AnimalSummary
			name, species sql.NullString
		)
		if err := rows.Scan(&a.ID, &name, &species); err != nil {
			return nil, fmt.Errorf("scan animal: %w", err)
		}
		a.Name = name.String
		a.Species = species.String
		animals = append(animals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate animals: %w", err)
	}
	return animals, nil
}

func returnsRows(statement string) bool {
	s := strings.ToUpper(strings.TrimSpace(statement))
	return strings.HasPrefix(s, "SELECT") ||
		strings.HasPrefix(s, "WITH") ||
		strings.Contains(s, " RETURNING ")
}
