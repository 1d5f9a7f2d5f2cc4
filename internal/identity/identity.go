// Package identity resolves the caller identity carried by each request.
// Authentication happens upstream; this package only reads the forwarded
// user, session and municipality hints.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	SessionHeaderName      = "X-Session-ID"
	UserHeaderName         = "X-User-ID"
	MunicipalityHeaderName = "X-Municipality-ID"
	SessionQueryParam      = "session_id"
)

type contextKey int

const (
	userIDKey contextKey = iota
	sessionIDKey
	municipalityKey
)

var (
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
	userIDPattern    = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)
)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the session ID sent in headers or query,
// or "" when the request carried none.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// MunicipalityFromContext extracts the municipality scoping hint.
func MunicipalityFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(municipalityKey).(string); ok {
		return v
	}
	return ""
}

// SanitizeSessionID returns id when it is a well-formed session id, else "".
func SanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return ""
	}
	return id
}

func sanitizeUserID(id string) string {
	id = strings.TrimSpace(id)
	if !userIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// ResolveSessionID picks the session for a turn: the body value, then the
// header or query value, then a fresh random id.
func ResolveSessionID(ctx context.Context, bodySessionID string) string {
	if sid := SanitizeSessionID(bodySessionID); sid != "" {
		return sid
	}
	if sid := SessionIDFromContext(ctx); sid != "" {
		return sid
	}
	return uuid.NewString()
}

// ResolveUserID prefers the body value over the forwarded header.
func ResolveUserID(ctx context.Context, bodyUserID string) string {
	if uid := sanitizeUserID(bodyUserID); uid != "" {
		return uid
	}
	return UserIDFromContext(ctx)
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get(SessionQueryParam)
	}
	return SanitizeSessionID(sid)
}

// Middleware injects the forwarded identity into the request context.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), userIDKey, sanitizeUserID(r.Header.Get(UserHeaderName)))
			ctx = context.WithValue(ctx, sessionIDKey, sessionIDFromRequest(r))
			ctx = context.WithValue(ctx, municipalityKey, strings.TrimSpace(r.Header.Get(MunicipalityHeaderName)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for rate limiting anonymous callers.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
