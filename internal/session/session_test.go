// ABOUTME: Tests for session queue semantics and registry indexing
// ABOUTME: Includes concurrent register/unregister to catch lock-order bugs under -race

package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-gateway/internal/protocol"
	"github.com/2389/chat-gateway/internal/snowflake"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func id(v uint64) snowflake.ID { return snowflake.FromUint64(v) }

func frame(t protocol.EventType) Frame {
	return Frame{Type: t, Payload: []byte(`{"event":"` + string(t) + `"}`)}
}

func TestSession_OfferDropsOldestWhenFull(t *testing.T) {
	s := New("test", 2, testLogger())

	require.True(t, s.Offer(frame(protocol.EventGuildCreate)))
	require.True(t, s.Offer(frame(protocol.EventGuildUpdate)))
	require.True(t, s.Offer(frame(protocol.EventGuildDelete)))

	assert.Equal(t, uint64(1), s.Dropped())
	assert.Equal(t, protocol.EventGuildUpdate, (<-s.Queue()).Type)
	assert.Equal(t, protocol.EventGuildDelete, (<-s.Queue()).Type)
}

func TestSession_EnqueueAfterDoneReturnsSenderGone(t *testing.T) {
	s := New("test", 1, testLogger())
	s.MarkDone()

	err := s.Enqueue(t.Context(), frame(protocol.EventPong))
	assert.ErrorIs(t, err, ErrSenderGone)
	assert.False(t, s.Offer(frame(protocol.EventPong)))
}

func TestSession_EnqueueUnblocksWhenSenderExits(t *testing.T) {
	s := New("test", 1, testLogger())
	require.NoError(t, s.Enqueue(t.Context(), frame(protocol.EventPong)))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Enqueue(context.Background(), frame(protocol.EventPong)) }()

	select {
	case err := <-errCh:
		t.Fatalf("enqueue should block on a full queue, got %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	s.MarkDone()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSenderGone)
	case <-time.After(time.Second):
		t.Fatal("enqueue did not unblock")
	}
}

func TestSession_CloseFirstWins(t *testing.T) {
	s := New("test", 1, testLogger())

	assert.True(t, s.Close(protocol.HeartbeatTimeout()))
	assert.False(t, s.Close(protocol.GoingAway()))

	got := <-s.CloseRequests()
	assert.Equal(t, protocol.CloseHeartbeatTimeout, got.Code)
}

func TestSession_SignalPongDoesNotBlock(t *testing.T) {
	s := New("test", 1, testLogger())
	s.SignalPong()
	s.SignalPong()

	<-s.Pongs()
	select {
	case <-s.Pongs():
		t.Fatal("pong signal should coalesce")
	default:
	}
}

func TestRegistry_RegisterLookupUnregister(t *testing.T) {
	r := NewRegistry(4, testLogger())
	s := New("a", 8, testLogger())

	require.NoError(t, r.Register(s, id(1), protocol.IntentGuilds, []snowflake.ID{id(10), id(11)}))
	assert.True(t, s.Identified())
	uid, ok := s.UserID()
	require.True(t, ok)
	assert.Equal(t, id(1), uid)

	assert.Equal(t, []*Session{s}, r.Lookup(id(1)))
	assert.Equal(t, []*Session{s}, r.LookupGuild(id(10)))
	assert.ElementsMatch(t, []snowflake.ID{id(10), id(11)}, s.Guilds())

	r.Unregister(s)
	r.Unregister(s)
	assert.Empty(t, r.Lookup(id(1)))
	assert.Empty(t, r.LookupGuild(id(10)))
	assert.Equal(t, Stats{}, r.Stats())
	assert.True(t, s.Identified(), "identification is monotonic")
}

func TestRegistry_RegisterTwiceFails(t *testing.T) {
	r := NewRegistry(4, testLogger())
	s := New("a", 8, testLogger())

	require.NoError(t, r.Register(s, id(1), 0, nil))
	err := r.Register(s, id(2), 0, nil)
	assert.ErrorIs(t, err, ErrAlreadyIdentified)
	assert.Empty(t, r.Lookup(id(2)))
}

func TestRegistry_RegisterAfterUnregisterFails(t *testing.T) {
	r := NewRegistry(4, testLogger())
	s := New("a", 8, testLogger())

	r.Unregister(s)
	err := r.Register(s, id(1), 0, nil)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Empty(t, r.Lookup(id(1)))
}

func TestRegistry_MultipleSessionsPerUser(t *testing.T) {
	r := NewRegistry(4, testLogger())
	a := New("a", 8, testLogger())
	b := New("b", 8, testLogger())

	require.NoError(t, r.Register(a, id(1), 0, nil))
	require.NoError(t, r.Register(b, id(1), 0, nil))
	assert.ElementsMatch(t, []*Session{a, b}, r.Lookup(id(1)))

	r.Unregister(a)
	assert.Equal(t, []*Session{b}, r.Lookup(id(1)))
}

func TestRegistry_MembershipUpdates(t *testing.T) {
	r := NewRegistry(4, testLogger())
	s := New("a", 8, testLogger())
	require.NoError(t, r.Register(s, id(1), 0, nil))

	r.Apply(protocol.Membership{Op: protocol.MembershipJoin, GuildID: id(20), UserID: id(1)})
	assert.Equal(t, []*Session{s}, r.LookupGuild(id(20)))

	r.Apply(protocol.Membership{Op: protocol.MembershipLeave, GuildID: id(20), UserID: id(1)})
	assert.Empty(t, r.LookupGuild(id(20)))
	assert.Empty(t, s.Guilds())

	r.JoinGuild(id(1), id(30))
	r.Apply(protocol.Membership{Op: protocol.MembershipDrop, GuildID: id(30)})
	assert.Empty(t, r.LookupGuild(id(30)))
	assert.Empty(t, s.Guilds())
}

func TestRegistry_RecipientsDeduplicates(t *testing.T) {
	r := NewRegistry(4, testLogger())
	a := New("a", 8, testLogger())
	b := New("b", 8, testLogger())
	require.NoError(t, r.Register(a, id(1), 0, []snowflake.ID{id(10)}))
	require.NoError(t, r.Register(b, id(2), 0, nil))

	g := id(10)
	got := r.Recipients(protocol.Target{GuildID: &g, UserIDs: []snowflake.ID{id(1), id(2), id(3)}})
	assert.ElementsMatch(t, []*Session{a, b}, got)
}

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry(8, testLogger())
	var wg sync.WaitGroup

	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := New("c", 4, testLogger())
			user := id(uint64(i % 8))
			_ = r.Register(s, user, 0, []snowflake.ID{id(100), id(uint64(200 + i%4))})
			r.JoinGuild(user, id(300))
			_ = r.Recipients(protocol.Target{UserIDs: []snowflake.ID{user}})
			r.Unregister(s)
		}()
	}
	wg.Wait()

	assert.Equal(t, Stats{}, r.Stats())
	assert.Empty(t, r.LookupGuild(id(100)))
	assert.Empty(t, r.LookupGuild(id(300)))
}
