// ABOUTME: NATS core Bus, an alternative fan-out backend
// ABOUTME: Plain publish and channel subscription on one subject per deployment

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// natsPendingBuffer bounds messages waiting for the subscriber loop.
const natsPendingBuffer = 4096

// NATSOptions configures the NATS connection.
type NATSOptions struct {
	URL  string
	Name string
}

// NATSBus publishes and subscribes through core NATS (no JetStream, so no
// persistence and no replay).
type NATSBus struct {
	nc         *nats.Conn
	subject    string
	logger     *slog.Logger
	subscribed atomic.Bool
}

// NewNATSBus connects to NATS. The client reconnects forever.
func NewNATSBus(opts NATSOptions, deployment string, logger *slog.Logger) (*NATSBus, error) {
	logger = logger.With("component", "nats_bus")
	nc, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", opts.URL, err)
	}
	return &NATSBus{nc: nc, subject: NATSSubject(deployment), logger: logger}, nil
}

func (b *NATSBus) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.nc.Publish(b.subject, payload)
}

// Subscribe opens a channel subscription and flushes so it is registered
// with the server before returning.
func (b *NATSBus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	msgs := make(chan *nats.Msg, natsPendingBuffer)
	sub, err := b.nc.ChanSubscribe(b.subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", b.subject, err)
	}
	if err := b.nc.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("flushing subscription: %w", err)
	}
	b.subscribed.Store(true)
	b.logger.Info("subscribed", "subject", b.subject)

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer b.subscribed.Store(false)
		defer func() { _ = sub.Unsubscribe() }()

		for {
			select {
			case msg := <-msgs:
				select {
				case out <- msg.Data:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Ready reports whether the connection is up and the subscription open.
func (b *NATSBus) Ready() bool {
	return b.subscribed.Load() && b.nc.IsConnected()
}

func (b *NATSBus) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return err
	}
	return nil
}
