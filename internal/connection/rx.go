// ABOUTME: RX pipeline: decodes inbound frames and enforces the Identify handshake
// ABOUTME: Every handler outcome is a protocol.Directive; errors never escape the loop

package connection

import (
	"context"
	"errors"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/protocol"
	"github.com/2389/chat-gateway/internal/session"
)

// runRX reads until the transport fails or a handler ends the connection.
// It returns true when it asked TX to send a close frame.
func (c *Conn) runRX(ctx context.Context) bool {
	if d := c.preflight(); d.Terminal() {
		c.rxLog.Warn("backend unavailable, refusing connection", "close", d.Close.String())
		c.sess.Close(d.Close)
		return true
	}

	for {
		kind, data, err := c.transport.ReadMessage()
		if err != nil {
			if isPeerClose(err) {
				c.rxLog.Debug("client closed connection")
			} else {
				c.rxLog.Debug("read ended", "error", err)
			}
			return false
		}

		d := c.dispatch(ctx, kind, data)

		switch d.Kind {
		case protocol.DirectiveContinue:
		case protocol.DirectiveSendAndContinue:
			if err := c.reply(ctx, d.Event); err != nil {
				c.rxLog.Debug("reply not queued, sender gone", "event", d.Event.Type, "error", err)
				return false
			}
		case protocol.DirectiveCloseWith:
			c.rxLog.Info("closing connection",
				"code", int(d.Close.Code),
				"reason", d.Close.Reason,
				"client_caused", d.Close.Code.ClientCaused(),
			)
			c.sess.Close(d.Close)
			return true
		case protocol.DirectiveSenderGone:
			c.rxLog.Debug("sender gone, ending read loop")
			return false
		}
	}
}

// preflight checks the process-wide backends before serving the connection.
func (c *Conn) preflight() protocol.Directive {
	switch {
	case c.deps.PubSub == nil || !c.deps.PubSub.Ready():
		return protocol.CloseWith(protocol.PubSubUnavailable())
	case c.deps.Auth == nil || c.deps.Guilds == nil:
		return protocol.CloseWith(protocol.StorageUnavailable())
	case c.deps.Registry == nil:
		return protocol.CloseWith(protocol.RegistryUnavailable())
	}
	return protocol.Continue()
}

// dispatch decodes one frame, applies the handshake gate, and routes by tag.
func (c *Conn) dispatch(ctx context.Context, kind MessageKind, data []byte) protocol.Directive {
	if kind != TextMessage {
		return protocol.CloseWith(protocol.UnsupportedData())
	}

	ev, err := protocol.DecodeInbound(data)
	if err != nil {
		return protocol.CloseWith(protocol.InvalidPayload(err))
	}

	if !c.sess.Identified() {
		if _, ok := ev.(protocol.Identify); !ok {
			return protocol.CloseWith(protocol.NotIdentified())
		}
	}

	switch e := ev.(type) {
	case protocol.Identify:
		return c.handleIdentify(ctx, e)
	case protocol.Ping:
		return protocol.SendAndContinue(protocol.PongEvent())
	case protocol.Pong:
		c.sess.SignalPong()
		return protocol.Continue()
	default:
		return protocol.CloseWith(protocol.InvalidPayload(protocol.ErrUnknownEvent))
	}
}

func (c *Conn) handleIdentify(ctx context.Context, ev protocol.Identify) protocol.Directive {
	if c.sess.Identified() {
		return protocol.CloseWith(protocol.AlreadyIdentified())
	}

	userID, err := c.deps.Auth.Authenticate(ctx, ev.Token)
	if err != nil {
		if auth.IsCredentialError(err) {
			c.rxLog.Info("identify rejected", "error", err)
			return protocol.CloseWith(protocol.BadCredentials())
		}
		c.rxLog.Error("authenticator failed", "error", err)
		return protocol.CloseWith(protocol.StorageUnavailable())
	}

	guilds, err := c.deps.Guilds.ListUserGuilds(ctx, userID)
	if err != nil {
		c.rxLog.Error("loading guilds failed", "user_id", userID, "error", err)
		return protocol.CloseWith(protocol.StorageUnavailable())
	}

	err = c.deps.Registry.Register(c.sess, userID, ev.Intents, guilds)
	switch {
	case errors.Is(err, session.ErrAlreadyIdentified):
		return protocol.CloseWith(protocol.AlreadyIdentified())
	case errors.Is(err, session.ErrSessionClosed):
		return protocol.SenderGone()
	case err != nil:
		c.rxLog.Error("registering session failed", "error", err)
		return protocol.CloseWith(protocol.RegistryUnavailable())
	}

	c.rxLog = c.rxLog.With("user_id", userID)
	c.rxLog.Info("session identified",
		"intents", uint64(ev.Intents),
		"guilds", len(guilds),
	)
	return protocol.Continue()
}

// reply queues a direct response, waiting for room if the queue is full.
func (c *Conn) reply(ctx context.Context, ev protocol.Outbound) error {
	f := c.pongFrame
	if ev.Type != protocol.EventPong {
		data, err := ev.EncodeFrame()
		if err != nil {
			return err
		}
		f = session.Frame{Type: ev.Type, Payload: data}
	}
	return c.sess.Enqueue(ctx, f)
}
