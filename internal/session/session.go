// ABOUTME: Per-connection state shared by the RX and TX pipelines
// ABOUTME: Owns the bounded outbound queue, close directive, pong signal, and identity

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chat-gateway/internal/protocol"
	"github.com/2389/chat-gateway/internal/snowflake"
)

// ErrSenderGone is returned when the TX pipeline has exited and the queue
// will never be drained again.
var ErrSenderGone = errors.New("session sender gone")

// Frame is an encoded outbound event waiting in a session queue.
type Frame struct {
	Type    protocol.EventType
	Payload []byte
}

// Session is one client connection. RX and TX each hold the same *Session;
// the registry and the bridge reach it through the registry indexes.
type Session struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	out       chan Frame
	closeReq  chan protocol.CloseFrame
	closeOnce sync.Once
	pongs     chan struct{}
	done      chan struct{}
	doneOnce  sync.Once

	identified chan struct{}
	identOnce  sync.Once

	// guarded by mu; see Registry for lock ordering
	mu      sync.Mutex
	userID  snowflake.ID
	intents protocol.Intents
	guilds  map[snowflake.ID]struct{}
	removed bool

	dropped atomic.Uint64
	logger  *slog.Logger
}

// New creates a session with an outbound queue of the given capacity.
func New(remoteAddr string, queueSize int, logger *slog.Logger) *Session {
	if queueSize < 1 {
		queueSize = 1
	}
	id := uuid.NewString()
	return &Session{
		ID:          id,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		out:         make(chan Frame, queueSize),
		closeReq:    make(chan protocol.CloseFrame, 1),
		pongs:       make(chan struct{}, 1),
		done:        make(chan struct{}),
		identified:  make(chan struct{}),
		guilds:      make(map[snowflake.ID]struct{}),
		logger:      logger.With("conn_id", id),
	}
}

// Enqueue blocks until the frame is queued, the sender exits, or ctx ends.
// Used for direct replies where backpressure on the reader is acceptable.
func (s *Session) Enqueue(ctx context.Context, f Frame) error {
	select {
	case <-s.done:
		return ErrSenderGone
	default:
	}

	select {
	case s.out <- f:
		return nil
	case <-s.done:
		return ErrSenderGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Offer queues a fan-out frame without blocking. When the queue is full the
// oldest queued frame is discarded to make room. Returns false if the sender
// has exited.
func (s *Session) Offer(f Frame) bool {
	for {
		select {
		case <-s.done:
			return false
		default:
		}

		select {
		case s.out <- f:
			return true
		default:
		}

		select {
		case old := <-s.out:
			n := s.dropped.Add(1)
			s.logger.Debug("outbound queue full, dropped oldest event",
				"event", old.Type,
				"dropped_total", n,
			)
		default:
		}
	}
}

// Queue is the TX side of the outbound queue.
func (s *Session) Queue() <-chan Frame {
	return s.out
}

// Close asks the TX pipeline to send a close frame and end the connection.
// Only the first request wins; it returns whether this call was the first.
func (s *Session) Close(f protocol.CloseFrame) bool {
	first := false
	s.closeOnce.Do(func() {
		s.closeReq <- f
		first = true
	})
	return first
}

// CloseRequests delivers at most one close directive.
func (s *Session) CloseRequests() <-chan protocol.CloseFrame {
	return s.closeReq
}

// SignalPong records that the client answered a heartbeat Ping.
func (s *Session) SignalPong() {
	select {
	case s.pongs <- struct{}{}:
	default:
	}
}

// Pongs is read by TX to clear its pending heartbeat deadline.
func (s *Session) Pongs() <-chan struct{} {
	return s.pongs
}

// MarkDone is called by TX on exit. Later Enqueue calls fail with ErrSenderGone.
func (s *Session) MarkDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed once the TX pipeline has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// IdentifiedCh is closed once the session completes Identify. It never reopens.
func (s *Session) IdentifiedCh() <-chan struct{} {
	return s.identified
}

// Identified reports whether Identify has completed.
func (s *Session) Identified() bool {
	select {
	case <-s.identified:
		return true
	default:
		return false
	}
}

// UserID returns the authenticated user, if identified.
func (s *Session) UserID() (snowflake.ID, bool) {
	if !s.Identified() {
		return snowflake.ID{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, true
}

// Intents returns the mask declared at Identify.
func (s *Session) Intents() protocol.Intents {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intents
}

// Wants reports whether the session's intents admit the event type.
func (s *Session) Wants(t protocol.EventType) bool {
	return s.Intents().Allows(t.RequiredIntent())
}

// Guilds returns the guilds the session is indexed under.
func (s *Session) Guilds() []snowflake.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]snowflake.ID, 0, len(s.guilds))
	for id := range s.guilds {
		ids = append(ids, id)
	}
	return ids
}

// Dropped returns how many fan-out frames were discarded for overflow.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

func (s *Session) markIdentified() {
	s.identOnce.Do(func() { close(s.identified) })
}

// Info is a point-in-time view used by the admin listing.
type Info struct {
	ID          string           `json:"id"`
	UserID      *snowflake.ID    `json:"user_id,omitempty"`
	Intents     protocol.Intents `json:"intents"`
	Guilds      int              `json:"guilds"`
	RemoteAddr  string           `json:"remote_addr"`
	ConnectedAt time.Time        `json:"connected_at"`
	Dropped     uint64           `json:"dropped"`
	Queued      int              `json:"queued"`
}

// Snapshot captures the session's current state.
func (s *Session) Snapshot() Info {
	info := Info{
		ID:          s.ID,
		RemoteAddr:  s.RemoteAddr,
		ConnectedAt: s.ConnectedAt,
		Dropped:     s.Dropped(),
		Queued:      len(s.out),
	}
	identified := s.Identified()

	s.mu.Lock()
	defer s.mu.Unlock()
	if identified {
		uid := s.userID
		info.UserID = &uid
	}
	info.Intents = s.intents
	info.Guilds = len(s.guilds)
	return info
}
