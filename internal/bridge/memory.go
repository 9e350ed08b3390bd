// ABOUTME: In-process Bus used by single-node deployments and tests
// ABOUTME: Fans each payload out to every subscriber, dropping for full subscribers

package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// memorySubscriberBuffer is the channel buffer for each subscriber.
const memorySubscriberBuffer = 1024

// MemoryBus is a Bus that never leaves the process. Several Bridges sharing
// one MemoryBus behave like several nodes sharing a broker.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string]chan []byte
	closed      bool
	logger      *slog.Logger
}

// NewMemoryBus creates an in-process bus. Pass nil logger for default.
func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBus{
		subscribers: make(map[string]chan []byte),
		logger:      logger.With("component", "memory_bus"),
	}
}

// Publish hands the payload to every subscriber without blocking.
func (b *MemoryBus) Publish(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	for id, ch := range b.subscribers {
		select {
		case ch <- payload:
		default:
			b.logger.Debug("dropped message for slow subscriber", "sub_id", id)
		}
	}
	return nil
}

// Subscribe registers a subscriber that is removed when ctx is cancelled.
func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	subID := uuid.New().String()
	ch := make(chan []byte, memorySubscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.unsubscribe(subID)
	}()
	return ch, nil
}

func (b *MemoryBus) unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)
	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Ready is true until Close.
func (b *MemoryBus) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// SubscriberCount returns the number of live subscriptions.
func (b *MemoryBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close ends every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
	return nil
}
