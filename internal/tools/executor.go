// Package tools executes the auxiliary operations proposed by the router.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ashureev/animalcare/internal/domain"
	"github.com/ashureev/animalcare/internal/workflow"
)

const defaultSearchLimit = 5

var (
	// ErrDestructiveStatement is returned for data queries that could destroy data.
	ErrDestructiveStatement = errors.New("destructive statement rejected")
	// ErrUnknownEntity is returned for entity types no endpoint owns.
	ErrUnknownEntity = workflow.ErrUnknownEntity
	// ErrNoResults is returned when semantic search produced nothing.
	ErrNoResults = errors.New("semantic search returned no results")
	// ErrNotConfigured is returned when the backing collaborator is missing.
	ErrNotConfigured = errors.New("tool backend not configured")
)

var destructivePattern = regexp.MustCompile(`(?i)\b(drop|delete|truncate)\b`)

// DataStore runs statements against the business data store.
type DataStore interface {
	Query(ctx context.Context, statement string, args ...any) (*domain.QueryResult, error)
}

// Searcher runs similarity searches.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) (json.RawMessage, error)
}

// EntityGateway forwards entity mutations to their owning endpoint.
type EntityGateway interface {
	PostEntity(ctx context.Context, action, entity, id string, data map[string]any) (any, error)
}

// Observer is notified after each call.
type Observer interface {
	ObserveToolCall(kind string, ok bool)
}

// Executor runs tool calls. Any collaborator may be nil, in which case
// calls of that kind fail with ErrNotConfigured.
type Executor struct {
	data     DataStore
	search   Searcher
	entities EntityGateway
	observer Observer
	logger   *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(data DataStore, search Searcher, entities EntityGateway, observer Observer, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		data:     data,
		search:   search,
		entities: entities,
		observer: observer,
		logger:   logger,
	}
}

// ExecuteAll runs calls in order. Each call records its own result or
// error; one failing call never prevents the next from running.
// It returns the number of failed calls.
func (e *Executor) ExecuteAll(ctx context.Context, calls []*domain.ToolCall) int {
	failed := 0
	for i, call := range calls {
		if call == nil {
			continue
		}
		e.executeOne(ctx, call)
		ok := !call.Failed()
		if !ok {
			failed++
			e.logger.Warn("tool call failed",
				"index", i,
				"kind", call.Kind(),
				"error", call.Err,
			)
		}
		if e.observer != nil {
			e.observer.ObserveToolCall(string(call.Kind()), ok)
		}
	}
	return failed
}

func (e *Executor) executeOne(ctx context.Context, call *domain.ToolCall) {
	defer func() {
		if r := recover(); r != nil {
			call.Fail(fmt.Errorf("tool call panicked: %v", r))
		}
	}()

	result, err := e.dispatch(ctx, call.Request)
	if err != nil {
		call.Fail(err)
		return
	}
	call.Succeed(result)
}

func (e *Executor) dispatch(ctx context.Context, req domain.ToolRequest) (any, error) {
	switch r := req.(type) {
	case domain.DataQuery:
		return e.dataQuery(ctx, r)
	case domain.SemanticSearch:
		return e.semanticSearch(ctx, r)
	case domain.CreateEntity:
		return e.mutate(ctx, "create", r.Entity, "", r.Data)
	case domain.UpdateEntity:
		if strings.TrimSpace(r.ID) == "" {
			return nil, errors.New("update requires an id")
		}
		return e.mutate(ctx, "update", r.Entity, r.ID, r.Data)
	case nil:
		return nil, errors.New("empty tool request")
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnknownToolKind, req)
	}
}

func (e *Executor) dataQuery(ctx context.Context, q domain.DataQuery) (any, error) {
	if strings.TrimSpace(q.Statement) == "" {
		return nil, errors.New("empty statement")
	}
	if destructivePattern.MatchString(q.Statement) {
		return nil, ErrDestructiveStatement
	}
	if e.data == nil {
		return nil, fmt.Errorf("%w: data store", ErrNotConfigured)
	}
	res, err := e.data.Query(ctx, q.Statement, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("data query: %w", err)
	}
	return res, nil
}

func (e *Executor) semanticSearch(ctx context.Context, q domain.SemanticSearch) (any, error) {
	if e.search == nil {
		return nil, fmt.Errorf("%w: semantic search", ErrNotConfigured)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	res, err := e.search.Search(ctx, q.Query, limit)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	if len(res) == 0 || string(res) == "null" {
		return nil, ErrNoResults
	}
	return res, nil
}

func (e *Executor) mutate(ctx context.Context, action, entity, id string, data map[string]any) (any, error) {
	if strings.TrimSpace(entity) == "" {
		return nil, fmt.Errorf("%w: empty entity", ErrUnknownEntity)
	}
	if e.entities == nil {
		return nil, fmt.Errorf("%w: entity gateway", ErrNotConfigured)
	}
	if data == nil {
		data = map[string]any{}
	}
	res, err := e.entities.PostEntity(ctx, action, entity, id, data)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", action, entity, err)
	}
	return res, nil
}
