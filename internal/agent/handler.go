package agent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/animalcare/internal/api"
	"github.com/ashureev/animalcare/internal/identity"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20 // 1MB

// HandlerConfig holds the request limits of the chat endpoints.
type HandlerConfig struct {
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	MaxRequestBodySize int64
}

// Handler serves the HTTP chat API.
type Handler struct {
	agent       *Service
	rateLimiter *RateLimiter
	maxBody     int64
	logger      *slog.Logger
}

// RateLimiter implements a per-caller sliding window limiter.
// Callers are keyed by user ID when known so that rotating session IDs
// does not bypass throttling.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter and starts the background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		done:     make(chan struct{}),
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// startEviction periodically removes expired keys so the map stays bounded.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
			}
			r.mu.Lock()
			cutoff := time.Now().Add(-r.window)
			for key, times := range r.requests {
				var fresh []time.Time
				for _, t := range times {
					if t.After(cutoff) {
						fresh = append(fresh, t)
					}
				}
				if len(fresh) == 0 {
					delete(r.requests, key)
				} else {
					r.requests[key] = fresh
				}
			}
			r.mu.Unlock()
		}
	}()
}

// NewHandler creates the chat handler. Zero config values fall back to
// 30 requests per minute and a 1MB body limit.
func NewHandler(service *Service, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 30
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		agent:       service,
		rateLimiter: NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		maxBody:     cfg.MaxRequestBodySize,
		logger:      logger,
	}
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/agent", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Get("/sessions/{sessionID}", h.HandleSession)
	})
}

// HandleChat handles POST /api/agent/chat requests.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx := r.Context()
	req.SessionID = identity.ResolveSessionID(ctx, req.SessionID)
	req.UserID = identity.ResolveUserID(ctx, req.UserID)
	req.MunicipalityID = identity.MunicipalityFromContext(ctx)
	req.RequestID = chiMiddleware.GetReqID(ctx)
	req.Channel = ChannelHTTP

	if !h.rateLimiter.Allow(rateLimitKey(req.UserID, identity.IPFromRequest(r))) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	h.logger.Info("Agent chat request",
		"user_id", req.UserID,
		"session_id", req.SessionID,
		"request_id", req.RequestID,
		"message_length", len(req.Message),
	)

	api.JSON(w, http.StatusOK, h.agent.HandleMessage(ctx, req))
}

// HandleSession handles GET /api/agent/sessions/{sessionID}.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SanitizeSessionID(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		api.Error(w, http.StatusBadRequest, "invalid session id")
		return
	}
	api.JSON(w, http.StatusOK, h.agent.Session(r.Context(), sessionID))
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
}

// rateLimitKey keys anonymous callers by IP so new session ids do not reset
// their budget.
func rateLimitKey(userID, clientIP string) string {
	if userID != "" {
		return "user:" + userID
	}
	return "ip:" + clientIP
}
