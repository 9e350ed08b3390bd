// ABOUTME: Liveness and readiness endpoints
// ABOUTME: Readiness requires a reachable store and a live bus subscription

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// readiness lists the backends that are not usable; empty means ready.
func (g *Gateway) readiness(ctx context.Context) []string {
	var problems []string

	if g.store == nil {
		problems = append(problems, "storage backend not configured")
	} else {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := g.store.Ping(pingCtx)
		cancel()
		if err != nil {
			problems = append(problems, "storage: "+err.Error())
		}
	}

	if !g.bridge.Ready() {
		problems = append(problems, "pub/sub backend not subscribed")
	}
	return problems
}

// handleHealth returns 200 OK if the process is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 when storage and the bus are usable, 503 otherwise.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	problems := g.readiness(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if len(problems) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "unavailable", "problems": problems})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ready",
		"connections": g.conns.Count(),
	})
}
