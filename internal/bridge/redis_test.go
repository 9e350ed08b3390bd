// ABOUTME: Tests for the Redis bus against an in-process Redis server
// ABOUTME: Covers cross-node delivery, readiness when the server goes away, and Close

package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-gateway/internal/protocol"
	"github.com/2389/chat-gateway/internal/snowflake"
)

func startMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	return mr
}

func newTestRedisBus(t *testing.T, addr string) *RedisBus {
	t.Helper()
	bus, err := NewRedisBus(context.Background(), RedisOptions{
		Addr:           addr,
		PoolSize:       4,
		HealthInterval: 20 * time.Millisecond,
	}, "test", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestRedisBus_TwoNodesEachDeliverOnce(t *testing.T) {
	mr := startMiniredis(t)
	t.Cleanup(mr.Close)

	n1 := startNode(t, newTestRedisBus(t, mr.Addr()))
	n2 := startNode(t, newTestRedisBus(t, mr.Addr()))

	assertDeliveredOnce(t, n1, n2)
}

func TestRedisBus_PublishReachesSubscriber(t *testing.T) {
	mr := startMiniredis(t)
	t.Cleanup(mr.Close)
	bus := newTestRedisBus(t, mr.Addr())

	assert.False(t, bus.Ready(), "not ready before subscribing")

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	assert.True(t, bus.Ready())
	assert.Equal(t, []string{RedisChannel("test")}, mr.PubSubChannels(""))

	require.NoError(t, bus.Publish(context.Background(), []byte("hi")))
	select {
	case got := <-msgs:
		assert.Equal(t, "hi", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	select {
	case _, ok := <-msgs:
		assert.False(t, ok, "channel closes when ctx ends")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end with ctx")
	}
	assert.False(t, bus.Ready(), "not ready after the subscription ends")
}

func TestRedisBus_NotReadyWhileServerDown(t *testing.T) {
	mr := startMiniredis(t)
	t.Cleanup(mr.Close)
	bus := newTestRedisBus(t, mr.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	require.True(t, bus.Ready())

	mr.Close()
	require.Eventually(t, func() bool { return !bus.Ready() },
		2*time.Second, 10*time.Millisecond, "bus still ready with redis down")

	require.NoError(t, mr.Restart())
	require.Eventually(t, bus.Ready, 5*time.Second, 10*time.Millisecond,
		"bus not ready after redis came back")
}

func TestRedisBus_BridgeRejectsPublishWhileServerDown(t *testing.T) {
	mr := startMiniredis(t)
	t.Cleanup(mr.Close)
	n := startNode(t, newTestRedisBus(t, mr.Addr()))

	mr.Close()
	require.Eventually(t, func() bool { return !n.bridge.Ready() },
		2*time.Second, 10*time.Millisecond)

	role := protocol.Role{ID: snowflake.FromUint64(5), GuildID: guildG, Name: "mods"}
	err := n.bridge.Publish(context.Background(), protocol.RoleDelete(role))
	assert.ErrorIs(t, err, ErrBusUnavailable)
}

func TestNewRedisBus_Unreachable(t *testing.T) {
	mr := startMiniredis(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisBus(context.Background(), RedisOptions{Addr: addr}, "test", testLogger())
	assert.Error(t, err)
}

func TestRedisBus_CloseStopsWatcher(t *testing.T) {
	mr := startMiniredis(t)
	t.Cleanup(mr.Close)
	bus := newTestRedisBus(t, mr.Addr())

	require.NoError(t, bus.Close())
	assert.NotPanics(t, func() { _ = bus.Close() })
}
