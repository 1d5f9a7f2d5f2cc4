package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ashureev/animalcare/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// wsError is sent in place of a reply when a frame is rejected.
type wsError struct {
	Error string `json:"error"`
}

// WebSocketHandler serves the chat pipeline over a WebSocket. Each text
// frame carries one ChatRequest and is answered by one ChatResponse.
type WebSocketHandler struct {
	handler       *Handler
	allowedOrigin []string
}

// NewWebSocketHandler creates a WebSocket endpoint sharing the rate limits of h.
func NewWebSocketHandler(h *Handler, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{handler: h, allowedOrigin: allowedOrigins}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.handler.logger
	sessionID := identity.ResolveSessionID(r.Context(), "")
	userID := identity.UserIDFromContext(r.Context())

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns(),
	})
	if err != nil {
		logger.Warn("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()
	ws.SetReadLimit(h.handler.maxBody)

	logger.Info("Chat WebSocket connected", "user_id", userID, "session_id", sessionID)

	base := conn{
		sessionID:      sessionID,
		municipalityID: identity.MunicipalityFromContext(r.Context()),
		requestID:      chiMiddleware.GetReqID(r.Context()),
		clientIP:       identity.IPFromRequest(r),
	}
	h.readLoop(r.Context(), ws, base)
}

// conn holds the identity resolved at upgrade time.
type conn struct {
	sessionID      string
	municipalityID string
	requestID      string
	clientIP       string
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, c conn) {
	logger := h.handler.logger
	for {
		typ, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				logger.Debug("WebSocket closed by client", "session_id", c.sessionID)
			} else {
				logger.Warn("WebSocket read error", "error", err, "session_id", c.sessionID)
			}
			return
		}

		var req ChatRequest
		if typ != websocket.MessageText || json.Unmarshal(message, &req) != nil {
			if !h.write(ctx, ws, wsError{Error: "invalid message"}) {
				return
			}
			continue
		}

		if strings.TrimSpace(req.Message) == "" {
			if !h.write(ctx, ws, wsError{Error: "message is required"}) {
				return
			}
			continue
		}

		if sid := identity.SanitizeSessionID(req.SessionID); sid != "" {
			c.sessionID = sid
		}
		req.SessionID = c.sessionID
		req.UserID = identity.ResolveUserID(ctx, req.UserID)
		req.MunicipalityID = c.municipalityID
		req.RequestID = c.requestID
		req.Channel = ChannelWebSocket

		if !h.handler.rateLimiter.Allow(rateLimitKey(req.UserID, c.clientIP)) {
			if !h.write(ctx, ws, wsError{Error: "rate limit exceeded"}) {
				return
			}
			continue
		}

		if !h.write(ctx, ws, h.handler.agent.HandleMessage(ctx, req)) {
			return
		}
	}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, v any) bool {
	if err := wsjson.Write(ctx, ws, v); err != nil {
		if ctx.Err() == nil {
			h.handler.logger.Debug("WebSocket write error", "error", err)
		}
		return false
	}
	return true
}

func (h *WebSocketHandler) originPatterns() []string {
	var patterns []string
	for _, o := range h.allowedOrigin {
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		if o != "" {
			patterns = append(patterns, o)
		}
	}
	if len(patterns) == 0 {
		return []string{"*"}
	}
	return patterns
}
