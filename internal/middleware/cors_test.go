package middleware

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func serveCORS(origins []string, method, origin string) *httptest.ResponseRecorder {
	h := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(method, "/api/agent/chat", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCORSExplicitOriginAllowsCredentials(t *testing.T) {
	t.Parallel()

	w := serveCORS([]string{"https://painel.prefeitura.gov.br"}, http.MethodPost, "https://painel.prefeitura.gov.br")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://painel.prefeitura.gov.br" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("expected credentials for explicit origin")
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), "X-Session-ID") {
		t.Error("expected session header to be allowed")
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("expected request to reach handler, got %d", w.Code)
	}
}

func TestCORSWildcardOmitsCredentials(t *testing.T) {
	t.Parallel()

	w := serveCORS([]string{"*"}, http.MethodPost, "https://anywhere.example")
	if w.Header().Get("Access-Control-Allow-Origin") != "https://anywhere.example" {
		t.Fatal("expected wildcard to echo origin")
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("wildcard must not allow credentials")
	}
}

func TestCORSRejectsUnknownOriginAndAnswersPreflight(t *testing.T) {
	t.Parallel()

	w := serveCORS([]string{"https://painel.prefeitura.gov.br"}, http.MethodOptions, "https://evil.example")
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unknown origin must not be allowed")
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected preflight 200, got %d", w.Code)
	}
}

func TestParseOrigins(t *testing.T) {
	t.Parallel()

	if got := ParseOrigins(" https://a , ,https://b"); !reflect.DeepEqual(got, []string{"https://a", "https://b"}) {
		t.Errorf("unexpected origins %v", got)
	}
	if got := ParseOrigins(""); !reflect.DeepEqual(got, []string{"*"}) {
		t.Errorf("expected wildcard default, got %v", got)
	}
}
