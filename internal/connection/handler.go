// ABOUTME: HTTP entry point that upgrades requests and supervises live connections
// ABOUTME: Tracks every connection so shutdown can close them with 1001

package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/2389/chat-gateway/internal/protocol"
	"github.com/2389/chat-gateway/internal/session"
)

// Handler accepts gateway connections.
type Handler struct {
	deps     Deps
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger

	// base outlives individual requests; cancelled only on hard stop
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	live     map[*session.Session]struct{}
	draining bool
	wg       sync.WaitGroup
}

// NewHandler creates a Handler. CheckOrigin accepts all origins; the gateway
// authenticates with Identify, not cookies.
func NewHandler(deps Deps, opts Options, logger *slog.Logger) *Handler {
	base, cancel := context.WithCancel(context.Background())
	return &Handler{
		deps: deps,
		opts: opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "connection"),
		base:   base,
		cancel: cancel,
		live:   make(map[*session.Session]struct{}),
	}
}

// ServeHTTP upgrades the request and blocks until the connection ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	draining := h.draining
	h.mu.Unlock()
	if draining {
		http.Error(w, "gateway shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	t := NewWebSocketTransport(conn, h.opts.MaxMessageSize, h.opts.WriteTimeout)
	h.Serve(t, r.RemoteAddr)
}

// Serve runs one connection over an already-established transport.
func (h *Handler) Serve(t Transport, remoteAddr string) {
	sess := session.New(remoteAddr, h.opts.QueueSize, h.logger)

	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		_ = t.WriteClose(protocol.GoingAway())
		_ = t.Close()
		return
	}
	h.live[sess] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.live, sess)
		h.mu.Unlock()
		h.wg.Done()
	}()

	sess.Logger().Debug("connection accepted", "remote", remoteAddr)
	newConn(sess, t, h.deps, h.opts).Run(h.base)
}

// Sessions snapshots every live connection, identified or not.
func (h *Handler) Sessions() []session.Info {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]session.Info, 0, len(h.live))
	for s := range h.live {
		out = append(out, s.Snapshot())
	}
	return out
}

// Count returns the number of live connections.
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

// Shutdown stops accepting connections, asks every live one to close with
// 1001, and waits for them. If ctx ends first the rest are torn down hard.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	for s := range h.live {
		s.Close(protocol.GoingAway())
	}
	n := len(h.live)
	h.mu.Unlock()

	h.logger.Info("closing live connections", "count", n)

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.cancel()
		return nil
	case <-ctx.Done():
		h.cancel()
		<-done
		return ctx.Err()
	}
}
