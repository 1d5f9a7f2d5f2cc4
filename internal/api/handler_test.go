//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusBadRequest, "message is required")

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "message is required" {
		t.Errorf("Unexpected error body: %v", got)
	}
}

type healthBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func serveHealth(t *testing.T, h *HealthHandler) (int, healthBody) {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterHealth(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var body healthBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return w.Code, body
}

func ok(context.Context) error { return nil }

func failing(context.Context) error { return errors.New("connection refused") }

func TestHealthAllChecksPass(t *testing.T) {
	t.Parallel()

	code, body := serveHealth(t, NewHealthHandler(time.Second).Require("database", ok).Optional("redis", ok))
	if code != http.StatusOK || body.Status != "healthy" {
		t.Fatalf("Expected healthy 200, got %d %q", code, body.Status)
	}
	if body.Checks["database"] != "ok" || body.Checks["redis"] != "ok" {
		t.Errorf("Unexpected checks: %v", body.Checks)
	}
}

func TestHealthRequiredFailure(t *testing.T) {
	t.Parallel()

	code, body := serveHealth(t, NewHealthHandler(time.Second).Require("database", failing))
	if code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", code)
	}
	if body.Checks["database"] != "unreachable" {
		t.Errorf("Expected database unreachable, got %v", body.Checks)
	}
}

func TestHealthOptionalFailureDegrades(t *testing.T) {
	t.Parallel()

	code, body := serveHealth(t, NewHealthHandler(time.Second).Require("database", ok).Optional("business_database", failing))
	if code != http.StatusOK || body.Status != "degraded" {
		t.Fatalf("Expected degraded 200, got %d %q", code, body.Status)
	}
}
