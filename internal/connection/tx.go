// ABOUTME: TX pipeline: sole writer of the transport, heartbeat, and close path
// ABOUTME: Always closes the transport on exit, which unblocks RX

package connection

import (
	"context"
	"time"

	"github.com/2389/chat-gateway/internal/protocol"
)

func (c *Conn) runTX(ctx context.Context) {
	defer c.sess.MarkDone()
	defer c.transport.Close()
	// out of the registry before the transport is released
	defer c.unregister()

	heartbeat := time.NewTicker(c.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	identifyTimer := time.NewTimer(c.opts.IdentifyTimeout)
	defer identifyTimer.Stop()
	identified := c.sess.IdentifiedCh()

	var pongTimer *time.Timer
	var pongDeadline <-chan time.Time
	stopPongTimer := func() {
		if pongTimer != nil {
			pongTimer.Stop()
		}
		pongTimer, pongDeadline = nil, nil
	}
	defer stopPongTimer()

	for {
		select {
		case f := <-c.sess.Queue():
			if err := c.transport.WriteText(f.Payload); err != nil {
				c.logger.Debug("write failed", "event", f.Type, "error", err)
				return
			}

		case frame := <-c.sess.CloseRequests():
			c.flush()
			c.writeClose(frame)
			return

		case <-identified:
			identifyTimer.Stop()
			identified = nil

		case <-identifyTimer.C:
			if c.sess.Identified() {
				continue
			}
			c.logger.Info("identify timeout")
			c.closeWith(protocol.IdentifyTimeout())
			return

		case <-heartbeat.C:
			if identified != nil || pongDeadline != nil {
				// not identified yet, or a ping is already outstanding
				continue
			}
			// a pong that arrived before this ping does not answer it
			select {
			case <-c.sess.Pongs():
			default:
			}
			if err := c.transport.WriteText(c.pingFrame.Payload); err != nil {
				c.logger.Debug("heartbeat write failed", "error", err)
				return
			}
			pongTimer = time.NewTimer(c.opts.HeartbeatTimeout)
			pongDeadline = pongTimer.C

		case <-c.sess.Pongs():
			stopPongTimer()

		case <-pongDeadline:
			c.logger.Info("heartbeat timeout", "timeout", c.opts.HeartbeatTimeout)
			c.closeWith(protocol.HeartbeatTimeout())
			return

		case <-ctx.Done():
			return
		}
	}
}

// closeWith claims the session's close slot and sends whichever frame won.
func (c *Conn) closeWith(f protocol.CloseFrame) {
	c.sess.Close(f)
	frame := <-c.sess.CloseRequests()
	c.flush()
	c.writeClose(frame)
}

// flush writes frames already queued, bounded by one write timeout overall.
func (c *Conn) flush() {
	deadline := time.Now().Add(c.opts.WriteTimeout)
	for time.Now().Before(deadline) {
		select {
		case f := <-c.sess.Queue():
			if err := c.transport.WriteText(f.Payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) writeClose(f protocol.CloseFrame) {
	if err := c.transport.WriteClose(f); err != nil {
		c.logger.Debug("close frame not sent", "code", int(f.Code), "error", err)
		return
	}

	grace := time.NewTimer(c.opts.CloseGrace)
	defer grace.Stop()
	select {
	case <-c.readsDone:
	case <-grace.C:
	}
}
