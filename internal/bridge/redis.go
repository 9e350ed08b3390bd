// ABOUTME: Redis pub/sub Bus, the default fan-out backend
// ABOUTME: PUBLISH / SUBSCRIBE on one channel per deployment

package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultRedisHealthInterval is how often the bus pings Redis.
const defaultRedisHealthInterval = time.Second

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int

	// HealthInterval defaults to one second.
	HealthInterval time.Duration
}

// RedisBus publishes and subscribes through Redis pub/sub.
//
// go-redis keeps a PubSub open across server loss and resubscribes on its
// own once the server returns, so the subscription alone says nothing about
// reachability. A watcher pings the server and Ready requires both.
type RedisBus struct {
	client     *redis.Client
	channel    string
	logger     *slog.Logger
	subscribed atomic.Bool
	reachable  atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
	watcher  sync.WaitGroup
}

// NewRedisBus connects to Redis and verifies the connection with a PING.
func NewRedisBus(ctx context.Context, opts RedisOptions, deployment string, logger *slog.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}

	interval := opts.HealthInterval
	if interval <= 0 {
		interval = defaultRedisHealthInterval
	}

	b := &RedisBus{
		client:  client,
		channel: RedisChannel(deployment),
		logger:  logger.With("component", "redis_bus"),
		stop:    make(chan struct{}),
	}
	b.reachable.Store(true)
	b.watcher.Add(1)
	go b.watch(interval)
	return b, nil
}

// watch pings Redis every interval until Close, logging transitions.
func (b *RedisBus) watch(interval time.Duration) {
	defer b.watcher.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	timeout := max(interval, 500*time.Millisecond)

	for {
		select {
		case <-ticker.C:
		case <-b.stop:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := b.client.Ping(ctx).Err()
		cancel()

		was := b.reachable.Swap(err == nil)
		switch {
		case err != nil && was:
			b.logger.Warn("redis unreachable", "error", err)
		case err == nil && !was:
			b.logger.Info("redis reachable again")
		}
	}
}

// Publish sends the payload to every subscribed node.
func (b *RedisBus) Publish(ctx context.Context, payload []byte) error {
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe opens the subscription and waits for Redis to confirm it.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}
	b.subscribed.Store(true)
	b.logger.Info("subscribed", "channel", b.channel)

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer b.subscribed.Store(false)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					b.logger.Warn("subscription channel closed", "channel", b.channel)
					return
				}
				select {
				case out <- []byte(msg.Payload):
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

// Ready reports whether the subscription is open and the last health ping
// succeeded.
func (b *RedisBus) Ready() bool {
	return b.subscribed.Load() && b.reachable.Load()
}

func (b *RedisBus) Close() error {
	b.stopOnce.Do(func() { close(b.stop) })
	b.watcher.Wait()
	return b.client.Close()
}
