// ABOUTME: Fan-out bridge: publishes events to the bus and delivers bus messages locally
// ABOUTME: Routes by event target using only the local session registry

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/2389/chat-gateway/internal/protocol"
	"github.com/2389/chat-gateway/internal/session"
)

var (
	// ErrPublish wraps any failure to hand an event to the bus.
	ErrPublish = errors.New("publish failed")
	// ErrBusUnavailable means no bus is configured or it is down.
	ErrBusUnavailable = errors.New("pub/sub backend unavailable")
)

// Stats counts bridge traffic on this node.
type Stats struct {
	Published uint64 `json:"published"`
	Received  uint64 `json:"received"`
	Rejected  uint64 `json:"rejected"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Bridge connects the local registry to the deployment-wide bus.
type Bridge struct {
	bus      Bus
	registry *session.Registry
	logger   *slog.Logger

	running atomic.Bool

	published atomic.Uint64
	received  atomic.Uint64
	rejected  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a Bridge. Run must be called to receive events.
func New(bus Bus, registry *session.Registry, logger *slog.Logger) *Bridge {
	return &Bridge{
		bus:      bus,
		registry: registry,
		logger:   logger.With("component", "bridge"),
	}
}

// Publish validates and sends an event to every node. It does not wait for
// delivery; an event nobody is connected for is silently dropped downstream.
func (b *Bridge) Publish(ctx context.Context, ev protocol.Outbound) error {
	if b.bus == nil || !b.bus.Ready() {
		return fmt.Errorf("%w: %w", ErrPublish, ErrBusUnavailable)
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	payload, err := ev.EncodeBridge()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}
	if err := b.bus.Publish(ctx, payload); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublish, ev.Type, err)
	}
	b.published.Add(1)
	return nil
}

// Run holds the node's single subscription and delivers until ctx ends.
// A malformed message is logged and skipped.
func (b *Bridge) Run(ctx context.Context) error {
	if b.bus == nil {
		return ErrBusUnavailable
	}
	msgs, err := b.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBusUnavailable, err)
	}

	b.running.Store(true)
	defer b.running.Store(false)
	b.logger.Info("bridge subscriber running")

	for {
		select {
		case payload, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: subscription ended", ErrBusUnavailable)
			}
			b.handle(payload)
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *Bridge) handle(payload []byte) {
	b.received.Add(1)
	ev, err := protocol.DecodeBridge(payload)
	if err != nil {
		b.rejected.Add(1)
		b.logger.Warn("skipping malformed bridge message", "error", err, "bytes", len(payload))
		return
	}
	b.Deliver(ev)
}

// Deliver routes one event to matching local sessions and returns how many
// were offered it. Membership hints update the guild index around delivery
// so a joining user sees the event and a leaving user sees it last.
func (b *Bridge) Deliver(ev protocol.Outbound) int {
	m := ev.Target.Membership
	if m != nil && m.Op == protocol.MembershipJoin {
		b.registry.Apply(*m)
	}

	n := b.offer(ev)

	if m != nil && m.Op != protocol.MembershipJoin {
		b.registry.Apply(*m)
	}
	return n
}

func (b *Bridge) offer(ev protocol.Outbound) int {
	recipients := b.registry.Recipients(ev.Target)
	if len(recipients) == 0 {
		return 0
	}

	data, err := ev.EncodeFrame()
	if err != nil {
		b.rejected.Add(1)
		b.logger.Error("encoding event for delivery", "event", ev.Type, "error", err)
		return 0
	}
	frame := session.Frame{Type: ev.Type, Payload: data}

	n := 0
	for _, s := range recipients {
		if !s.Wants(ev.Type) {
			continue
		}
		if !s.Offer(frame) {
			// session is tearing down
			b.dropped.Add(1)
			continue
		}
		n++
	}
	b.delivered.Add(uint64(n))
	return n
}

// Ready reports whether events published now would reach this node.
func (b *Bridge) Ready() bool {
	return b.bus != nil && b.bus.Ready() && b.running.Load()
}

// Stats returns counters since start.
func (b *Bridge) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Received:  b.received.Load(),
		Rejected:  b.rejected.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
	}
}
