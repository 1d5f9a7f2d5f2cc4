package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultHealthTimeout = 5 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

type namedCheck struct {
	name     string
	check    Check
	required bool
}

// HealthHandler reports the state of the service dependencies.
type HealthHandler struct {
	timeout time.Duration
	checks  []namedCheck
}

// NewHealthHandler creates a health handler. Each probe gets timeout.
func NewHealthHandler(timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = defaultHealthTimeout
	}
	return &HealthHandler{timeout: timeout}
}

// Require adds a check whose failure makes the service unhealthy.
func (h *HealthHandler) Require(name string, c Check) *HealthHandler {
	h.checks = append(h.checks, namedCheck{name: name, check: c, required: true})
	return h
}

// Optional adds a check whose failure only degrades the service.
func (h *HealthHandler) Optional(name string, c Check) *HealthHandler {
	h.checks = append(h.checks, namedCheck{name: name, check: c})
	return h
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	results := map[string]string{"api": "ok"}
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failed   bool
		degraded bool
	)
	for _, c := range h.checks {
		wg.Add(1)
		go func(c namedCheck) {
			defer wg.Done()
			err := c.check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				results[c.name] = "ok"
				return
			}
			slog.Error("Health check failed", "check", c.name, "error", err)
			results[c.name] = "unreachable"
			if c.required {
				failed = true
			} else {
				degraded = true
			}
		}(c)
	}
	wg.Wait()

	status, code := "healthy", http.StatusOK
	switch {
	case failed:
		status, code = "unhealthy", http.StatusServiceUnavailable
	case degraded:
		status = "degraded"
	}
	JSON(w, code, map[string]interface{}{
		"status": status,
		"checks": results,
	})
}

// RegisterHealth registers the dependency health route. The plain /health
// liveness probe is served by the Heartbeat middleware.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
