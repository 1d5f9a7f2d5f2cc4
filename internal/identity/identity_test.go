package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestSanitizeSessionID(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"abc-123":                "abc-123",
		"  tab:1.2_x ":           "tab:1.2_x",
		"":                       "",
		"../../etc/passwd":       "",
		"has space":              "",
		strings.Repeat("a", 129): "",
		strings.Repeat("b", 128): strings.Repeat("b", 128),
	}
	for in, want := range cases {
		if got := SanitizeSessionID(in); got != want {
			t.Errorf("SanitizeSessionID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMiddlewareReadsForwardedIdentity(t *testing.T) {
	t.Parallel()

	var user, session, municipality string
	h := Middleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		user = UserIDFromContext(r.Context())
		session = SessionIDFromContext(r.Context())
		municipality = MunicipalityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/agent/chat?session_id=from-query", nil)
	req.Header.Set(UserHeaderName, "staff@prefeitura")
	req.Header.Set(SessionHeaderName, "from-header")
	req.Header.Set(MunicipalityHeaderName, "3550308")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if user != "staff@prefeitura" {
		t.Errorf("unexpected user %q", user)
	}
	if session != "from-header" {
		t.Errorf("expected header session to win, got %q", session)
	}
	if municipality != "3550308" {
		t.Errorf("unexpected municipality %q", municipality)
	}
}

func TestMiddlewareFallsBackToQuery(t *testing.T) {
	t.Parallel()

	var session string
	h := Middleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		session = SessionIDFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ws/agent?session_id=q-1", nil))

	if session != "q-1" {
		t.Errorf("expected query session, got %q", session)
	}
}

func TestResolveSessionID(t *testing.T) {
	t.Parallel()

	ctx := context.WithValue(context.Background(), sessionIDKey, "header-sid")
	if got := ResolveSessionID(ctx, "body-sid"); got != "body-sid" {
		t.Errorf("body should win, got %q", got)
	}
	if got := ResolveSessionID(ctx, "bad sid!"); got != "header-sid" {
		t.Errorf("invalid body should fall back to header, got %q", got)
	}
	got := ResolveSessionID(context.Background(), "")
	if _, err := uuid.Parse(got); err != nil {
		t.Errorf("expected generated uuid, got %q", got)
	}
}

func TestResolveUserID(t *testing.T) {
	t.Parallel()

	ctx := context.WithValue(context.Background(), userIDKey, "header-user")
	if got := ResolveUserID(ctx, "body-user"); got != "body-user" {
		t.Errorf("body should win, got %q", got)
	}
	if got := ResolveUserID(ctx, ""); got != "header-user" {
		t.Errorf("expected header user, got %q", got)
	}
}

func TestIPFromRequest(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.7:52814"
	if got := IPFromRequest(r); got != "203.0.113.7" {
		t.Errorf("expected host only, got %q", got)
	}

	r.RemoteAddr = "203.0.113.7"
	if got := IPFromRequest(r); got != "203.0.113.7" {
		t.Errorf("expected bare address kept, got %q", got)
	}
}
