package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/animalcare/internal/conversation"
	"github.com/ashureev/animalcare/internal/domain"
	"github.com/ashureev/animalcare/internal/fallback"
	"github.com/ashureev/animalcare/internal/metrics"
	"github.com/ashureev/animalcare/internal/router"
	"github.com/ashureev/animalcare/internal/workflow"
	"github.com/google/uuid"
)

const (
	defaultLockWait    = 90 * time.Second
	persistTimeout     = 10 * time.Second
	retrievalTurns     = 5
	routerContextTurns = 5
)

// ContextStore loads and saves conversation sessions.
type ContextStore interface {
	Load(ctx context.Context, sessionID, userID string) *domain.Session
	Save(ctx context.Context, session *domain.Session, userTurn, replyTurn domain.Turn) error
}

// Retriever returns optional semantic context for a message.
type Retriever interface {
	Retrieve(ctx context.Context, sessionID, message string, recent []domain.Turn) json.RawMessage
}

// IntentRouter classifies a message.
type IntentRouter interface {
	Route(ctx context.Context, in router.Input) (*domain.RoutingDecision, error)
}

// WorkflowExecutor runs the workflow selected by a decision.
type WorkflowExecutor interface {
	Execute(ctx context.Context, decision *domain.RoutingDecision, tc workflow.TurnContext) (*domain.WorkflowResponse, error)
}

// ToolRunner executes proposed tool calls in place.
type ToolRunner interface {
	ExecuteAll(ctx context.Context, calls []*domain.ToolCall) int
}

// FallbackResponder answers when routing or the workflow failed.
type FallbackResponder interface {
	Respond(ctx context.Context, message string, session *domain.Session, cause error) *domain.WorkflowResponse
}

// Dependencies are the collaborators of a Service. Retriever, Locker,
// Recorder and Metrics are optional.
type Dependencies struct {
	Contexts  ContextStore
	Locker    conversation.Locker
	Retriever Retriever
	Router    IntentRouter
	Workflows WorkflowExecutor
	Tools     ToolRunner
	Fallback  FallbackResponder
	Recorder  Recorder
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	LockWait  time.Duration
}

// Service runs one conversational turn per message.
type Service struct {
	deps   Dependencies
	logger *slog.Logger
	now    func() time.Time
}

// NewService validates deps and creates a service.
func NewService(deps Dependencies) (*Service, error) {
	switch {
	case deps.Contexts == nil:
		return nil, fmt.Errorf("agent service: context store is required")
	case deps.Router == nil:
		return nil, fmt.Errorf("agent service: router is required")
	case deps.Workflows == nil:
		return nil, fmt.Errorf("agent service: workflow executor is required")
	case deps.Tools == nil:
		return nil, fmt.Errorf("agent service: tool runner is required")
	case deps.Fallback == nil:
		return nil, fmt.Errorf("agent service: fallback responder is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.LockWait <= 0 {
		deps.LockWait = defaultLockWait
	}
	return &Service{deps: deps, logger: deps.Logger, now: time.Now}, nil
}

// turn carries the state of one message through the pipeline.
type turn struct {
	req       ChatRequest
	started   time.Time
	session   *domain.Session
	decision  *domain.RoutingDecision
	reply     *domain.WorkflowResponse
	cause     error
	failures  int
	persisted bool
}

// HandleMessage runs the full pipeline for req. It always returns a
// well-formed response: errors and panics while routing or running the
// workflow produce a fallback reply, and only a failure inside the fallback
// itself produces the static apology.
func (s *Service) HandleMessage(ctx context.Context, req ChatRequest) (resp *ChatResponse) {
	t := &turn{req: req, started: s.now()}
	if t.req.SessionID == "" {
		t.req.SessionID = uuid.NewString()
	}
	outcome := metrics.OutcomeWorkflow

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("turn failed, sending static reply",
				"session_id", t.req.SessionID,
				"panic", r,
			)
			outcome = metrics.OutcomeStatic
			resp = newChatResponse(t.req.SessionID, fallback.Static(fallback.CauseInternal))
		}
		s.deps.Metrics.ObserveTurn(outcome, s.now().Sub(t.started))
	}()

	unlock := s.lock(ctx, t.req.SessionID)
	defer unlock()

	s.loadContext(ctx, t)
	semantic := s.retrieve(ctx, t)

	t.cause = s.guard(t, "route", func() error { return s.route(ctx, t, semantic) })
	if t.cause == nil {
		t.cause = s.guard(t, "execute_workflow", func() error { return s.executeWorkflow(ctx, t, semantic) })
	}

	if t.cause != nil {
		outcome = metrics.OutcomeFallback
		s.fallback(ctx, t)
	} else if len(t.decision.ToolCalls) > 0 {
		_ = s.guard(t, "execute_tools", func() error {
			t.failures = s.deps.Tools.ExecuteAll(ctx, t.decision.ToolCalls)
			return nil
		})
		t.reply.ToolCalls = t.decision.ToolCalls
	}

	s.annotate(t)
	// The reply is final here; persisting and recording must not replace it.
	_ = s.guard(t, "persist", func() error {
		s.persist(ctx, t)
		return nil
	})
	_ = s.guard(t, "record", func() error {
		s.record(ctx, t)
		return nil
	})

	return newChatResponse(t.req.SessionID, t.reply)
}

// errStagePanic marks a pipeline stage that panicked.
var errStagePanic = errors.New("pipeline stage panicked")

// guard runs one pipeline stage and turns a panic into an error.
func (s *Service) guard(t *turn, stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("pipeline stage panicked",
				"session_id", t.req.SessionID,
				"stage", stage,
				"panic", r,
			)
			err = fmt.Errorf("%s: %w: %v", stage, errStagePanic, r)
		}
	}()
	return fn()
}

// lock acquires the session lock. A failure is logged and the turn runs unlocked.
func (s *Service) lock(ctx context.Context, sessionID string) func() {
	if s.deps.Locker == nil {
		return func() {}
	}
	lockCtx, cancel := context.WithTimeout(ctx, s.deps.LockWait)
	defer cancel()

	unlock, err := s.deps.Locker.Lock(lockCtx, sessionID)
	if err != nil {
		s.logger.Warn("session lock not acquired, continuing unlocked",
			"session_id", sessionID,
			"error", err,
		)
		return func() {}
	}
	return unlock
}

func (s *Service) loadContext(ctx context.Context, t *turn) {
	t.session = s.deps.Contexts.Load(ctx, t.req.SessionID, t.req.UserID)
	if t.session.Context == nil {
		t.session.Context = map[string]any{}
	}
	if t.req.Context != nil {
		t.session.Context["context"] = t.req.Context
	}
	if t.req.MunicipalityID != "" {
		t.session.Context[domain.ContextKeyMunicipality] = t.req.MunicipalityID
	}
}

func (s *Service) retrieve(ctx context.Context, t *turn) json.RawMessage {
	if s.deps.Retriever == nil {
		return nil
	}
	return s.deps.Retriever.Retrieve(ctx, t.req.SessionID, t.req.Message, t.session.RecentTurns(retrievalTurns))
}

func (s *Service) route(ctx context.Context, t *turn, semantic json.RawMessage) error {
	decision, err := s.deps.Router.Route(ctx, router.Input{
		Message:         t.req.Message,
		SessionID:       t.req.SessionID,
		RecentTurns:     t.session.RecentTurns(routerContextTurns),
		LastIntent:      t.session.LastIntent,
		SemanticContext: semantic,
		TurnContext:     t.session.Context,
	})
	if err != nil {
		return fmt.Errorf("route: %w", err)
	}
	if decision.ToolCalls == nil {
		decision.ToolCalls = []*domain.ToolCall{}
	}
	t.decision = decision
	s.deps.Metrics.ObserveRouterDecision(decision.Source)
	return nil
}

func (s *Service) executeWorkflow(ctx context.Context, t *turn, semantic json.RawMessage) error {
	reply, err := s.deps.Workflows.Execute(ctx, t.decision, workflow.TurnContext{
		Message:         t.req.Message,
		SessionID:       t.req.SessionID,
		UserID:          t.session.UserID,
		RecentTurns:     t.session.RecentTurns(workflow.ContextTurns),
		SemanticContext: semantic,
		Data:            t.session.Context,
	})
	if err != nil {
		s.logger.Warn("workflow execution failed",
			"session_id", t.req.SessionID,
			"workflow", t.decision.Workflow,
			"error", err,
		)
		return fmt.Errorf("execute workflow: %w", err)
	}
	t.reply = reply
	return nil
}

func (s *Service) fallback(ctx context.Context, t *turn) {
	t.reply = s.deps.Fallback.Respond(ctx, t.req.Message, t.session, t.cause)
	if t.reply == nil {
		t.reply = fallback.Static(fallback.CauseTag(t.cause))
	}
	cause, _ := t.reply.Metadata["cause"].(string)
	s.deps.Metrics.ObserveFallback(cause)
	s.logger.Info("fallback reply sent",
		"session_id", t.req.SessionID,
		"cause", cause,
		"error", t.cause,
	)
}

// annotate adds routing details to the reply metadata.
func (s *Service) annotate(t *turn) {
	if t.reply.Metadata == nil {
		t.reply.Metadata = map[string]any{}
	}
	md := t.reply.Metadata
	md["sessionId"] = t.req.SessionID
	if t.decision != nil {
		md["intent"] = string(t.decision.Intent)
		md["workflow"] = t.decision.Workflow
		md["routingSource"] = t.decision.Source
	}
	if t.failures > 0 {
		md["toolFailures"] = t.failures
	}
	if t.req.RequestID != "" {
		md["requestId"] = t.req.RequestID
	}
}

func (s *Service) persist(ctx context.Context, t *turn) {
	now := s.now()
	userTurn := domain.Turn{Role: domain.RoleUser, Content: t.req.Message, Timestamp: t.started}
	replyMeta := map[string]string{"agent": t.reply.Agent}
	if t.decision != nil {
		replyMeta["intent"] = string(t.decision.Intent)
	}
	if t.cause != nil {
		replyMeta["fallback"] = "true"
		if cause, ok := t.reply.Metadata["cause"].(string); ok {
			replyMeta["cause"] = cause
		}
	}
	replyTurn := domain.Turn{Role: domain.RoleAssistant, Content: t.reply.Message, Timestamp: now, Metadata: replyMeta}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	t.persisted = s.deps.Contexts.Save(persistCtx, t.session, userTurn, replyTurn) == nil
}

func (s *Service) record(ctx context.Context, t *turn) {
	if s.deps.Recorder == nil {
		return
	}
	rec := &domain.Interaction{
		ID:           uuid.NewString(),
		SessionID:    t.req.SessionID,
		UserID:       t.session.UserID,
		Message:      t.req.Message,
		Response:     t.reply.Message,
		Agent:        t.reply.Agent,
		Confidence:   t.reply.Confidence,
		Fallback:     t.cause != nil,
		ToolCalls:    len(t.reply.ToolCalls),
		ToolFailures: t.failures,
		Persisted:    t.persisted,
		Duration:     s.now().Sub(t.started),
		Timestamp:    t.started,
		Channel:      t.req.Channel,
		RequestID:    t.req.RequestID,
	}
	if t.decision != nil {
		rec.Intent = string(t.decision.Intent)
		rec.Source = t.decision.Source
	}
	if t.cause != nil {
		rec.Cause, _ = t.reply.Metadata["cause"].(string)
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.deps.Recorder.Record(recordCtx, rec); err != nil {
		s.logger.Warn("failed to record interaction",
			"session_id", t.req.SessionID,
			"error", err,
		)
	}
}

// SessionView is the stored state of a session as exposed for debugging.
type SessionView struct {
	*domain.Session
	Exists bool `json:"exists"`
}

// Session returns the stored session without modifying it.
func (s *Service) Session(ctx context.Context, sessionID string) SessionView {
	session := s.deps.Contexts.Load(ctx, strings.TrimSpace(sessionID), "")
	return SessionView{Session: session, Exists: !session.IsNew()}
}
