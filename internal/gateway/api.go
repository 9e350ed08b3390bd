// ABOUTME: HTTP routes: WebSocket upgrade, out-of-process publish, and session listing
// ABOUTME: POST /internal/events feeds the same bridge as in-process Publish

package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/bridge"
	"github.com/2389/chat-gateway/internal/protocol"
	"github.com/2389/chat-gateway/internal/session"
)

// maxPublishBody caps a single published event.
const maxPublishBody = 1 << 20

// Publish retries carrying the same Idempotency-Key within this window are
// acknowledged without being fanned out again.
const (
	idempotencyTTL  = 5 * time.Minute
	idempotencyKeys = 100_000
)

// SessionsResponse is the JSON response for GET /api/sessions.
type SessionsResponse struct {
	Connections int            `json:"connections"`
	Registry    session.Stats  `json:"registry"`
	Bridge      bridge.Stats   `json:"bridge"`
	Sessions    []session.Info `json:"sessions,omitempty"`
}

// PublishResponse is the JSON response for a successful publish.
type PublishResponse struct {
	Status string             `json:"status"`
	Event  protocol.EventType `json:"event"`
}

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	requireToken := auth.RequireBearer(g.config.Server.PublishToken)

	mux.Handle(g.config.Server.WSPath, g.conns)
	mux.Handle("POST /internal/events", requireToken(http.HandlerFunc(g.handlePublish)))
	mux.HandleFunc("GET /api/sessions", g.handleSessions)
	mux.Handle("GET /api/sessions/detail", requireToken(http.HandlerFunc(g.handleSessionsDetail)))
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	return mux
}

// handlePublish handles POST /internal/events. The body is the bridge
// message format: {"event": ..., "data": ..., "target": {...}}.
func (g *Gateway) handlePublish(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPublishBody))
	if err != nil {
		g.sendJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	ev, err := protocol.DecodeBridge(body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key != "" && !g.recent.Claim(key) {
		g.logger.Debug("duplicate publish ignored", "event", ev.Type, "key", key)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(PublishResponse{Status: "duplicate", Event: ev.Type})
		return
	}

	if err := g.bridge.Publish(r.Context(), ev); err != nil {
		if key != "" {
			g.recent.Release(key)
		}
		g.logger.Warn("publish failed", "event", ev.Type, "error", err)
		g.sendJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(PublishResponse{Status: "published", Event: ev.Type})
}

func (g *Gateway) sessionCounts() SessionsResponse {
	return SessionsResponse{
		Connections: g.conns.Count(),
		Registry:    g.registry.Stats(),
		Bridge:      g.bridge.Stats(),
	}
}

// handleSessions handles GET /api/sessions: local counts only.
func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(g.sessionCounts())
}

// handleSessionsDetail handles GET /api/sessions/detail, adding one entry
// per live connection.
func (g *Gateway) handleSessionsDetail(w http.ResponseWriter, r *http.Request) {
	resp := g.sessionCounts()
	resp.Sessions = g.conns.Sessions()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
