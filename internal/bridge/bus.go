// ABOUTME: Bus abstraction for the cross-node fan-out channel
// ABOUTME: One shared channel per deployment, at-most-once, no replay

package bridge

import (
	"context"
	"errors"
)

// ErrBusClosed is returned by a bus after Close.
var ErrBusClosed = errors.New("bus closed")

// Bus carries encoded events between gateway nodes. Every subscriber on every
// node receives every message published after it subscribed.
type Bus interface {
	Publish(ctx context.Context, payload []byte) error
	// Subscribe opens the node's subscription. The channel closes when ctx
	// ends or the subscription is lost.
	Subscribe(ctx context.Context) (<-chan []byte, error)
	// Ready reports whether the backend connection is usable.
	Ready() bool
	Close() error
}

// RedisChannel is the pub/sub channel name for a deployment.
func RedisChannel(deployment string) string {
	return "chat-gateway:" + deployment + ":events"
}

// NATSSubject is the subject name for a deployment.
func NATSSubject(deployment string) string {
	return "chat-gateway." + deployment + ".events"
}
