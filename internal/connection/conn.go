// ABOUTME: Per-connection supervisor that runs the RX and TX pipelines
// ABOUTME: Guarantees unregistration and transport release however the connection ends

package connection

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/protocol"
	"github.com/2389/chat-gateway/internal/session"
	"github.com/2389/chat-gateway/internal/snowflake"
)

// GuildLister is the storage read that scopes a session's guild interest.
type GuildLister interface {
	ListUserGuilds(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error)
}

// PubSub reports whether the fan-out subscription is live.
type PubSub interface {
	Ready() bool
}

// Deps are the process-wide collaborators shared by every connection.
// Any of them may be nil when its backend failed to start; affected
// connections are closed with the matching server-fault code.
type Deps struct {
	Registry *session.Registry
	Auth     auth.Authenticator
	Guilds   GuildLister
	PubSub   PubSub
}

// Options tune per-connection behavior.
type Options struct {
	QueueSize         int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	// IdentifyTimeout defaults to HeartbeatInterval.
	IdentifyTimeout time.Duration
	WriteTimeout    time.Duration
	MaxMessageSize  int64
	// CloseGrace is how long TX waits for the peer's close reply after
	// sending a close frame.
	CloseGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 20 * time.Second
	}
	if o.IdentifyTimeout <= 0 {
		o.IdentifyTimeout = o.HeartbeatInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
	if o.CloseGrace <= 0 {
		o.CloseGrace = time.Second
	}
	return o
}

// Conn is one accepted connection and its two pipelines.
type Conn struct {
	sess      *session.Session
	transport Transport
	deps      Deps
	opts      Options
	logger    *slog.Logger
	// rxLog gains user_id after Identify; touched only by the RX goroutine
	rxLog *slog.Logger

	pongFrame session.Frame
	pingFrame session.Frame

	// readsDone is closed once nothing reads the transport any more
	readsDone chan struct{}
}

func newConn(sess *session.Session, t Transport, deps Deps, opts Options) *Conn {
	return &Conn{
		sess:      sess,
		transport: t,
		deps:      deps,
		opts:      opts,
		logger:    sess.Logger(),
		rxLog:     sess.Logger(),
		pongFrame: mustFrame(protocol.PongEvent()),
		pingFrame: mustFrame(protocol.PingEvent()),
		readsDone: make(chan struct{}),
	}
}

func (c *Conn) discardReads() {
	for {
		if _, _, err := c.transport.ReadMessage(); err != nil {
			return
		}
	}
}

func mustFrame(ev protocol.Outbound) session.Frame {
	data, err := ev.EncodeFrame()
	if err != nil {
		panic(err)
	}
	return session.Frame{Type: ev.Type, Payload: data}
}

// Session returns the connection's session.
func (c *Conn) Session() *session.Session {
	return c.sess
}

// unregister is safe to call from both pipelines.
func (c *Conn) unregister() {
	if c.deps.Registry != nil {
		c.deps.Registry.Unregister(c.sess)
	}
}

// Run drives the connection until both pipelines have exited.
func (c *Conn) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	txDone := make(chan struct{})
	go func() {
		defer close(txDone)
		c.runTX(ctx)
	}()

	closeRequested := c.runRX(ctx)
	if closeRequested {
		// keep consuming so the peer's close reply is read before TX hangs up
		go func() {
			defer close(c.readsDone)
			c.discardReads()
		}()
	} else {
		close(c.readsDone)
	}

	c.unregister()

	// A requested close lets TX flush and send the frame; anything else
	// (peer close, read error) stops TX immediately.
	if !closeRequested {
		cancel()
	}
	<-txDone

	c.logger.Debug("connection finished",
		"dropped", c.sess.Dropped(),
		"duration", time.Since(c.sess.ConnectedAt),
	)
}
