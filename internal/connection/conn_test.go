// ABOUTME: Tests for the RX/TX pipelines over a scripted in-memory transport
// ABOUTME: Asserts close codes, handshake gating, heartbeat, ordering, and cleanup

package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/protocol"
	"github.com/2389/chat-gateway/internal/session"
	"github.com/2389/chat-gateway/internal/snowflake"
	"github.com/2389/chat-gateway/internal/store"
)

var errTransportClosed = errors.New("transport closed")

type inbound struct {
	kind MessageKind
	data []byte
	err  error
}

// fakeTransport is driven by the test: frames pushed to in are read by RX;
// everything TX writes is observable on wrote and closeSent.
type fakeTransport struct {
	in        chan inbound
	wrote     chan []byte
	closeSent chan protocol.CloseFrame
	closed    chan struct{}
	closeOnce sync.Once

	// optional, set before the connection starts
	writeGate chan struct{}
	onClose   func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:        make(chan inbound, 16),
		wrote:     make(chan []byte, 64),
		closeSent: make(chan protocol.CloseFrame, 1),
		closed:    make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (MessageKind, []byte, error) {
	select {
	case m := <-f.in:
		return m.kind, m.data, m.err
	case <-f.closed:
		return 0, nil, errTransportClosed
	}
}

func (f *fakeTransport) WriteText(data []byte) error {
	if f.writeGate != nil {
		<-f.writeGate
	}
	select {
	case <-f.closed:
		return errTransportClosed
	default:
	}
	f.wrote <- data
	return nil
}

func (f *fakeTransport) WriteClose(cf protocol.CloseFrame) error {
	select {
	case f.closeSent <- cf:
	default:
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() {
		if f.onClose != nil {
			f.onClose()
		}
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) sendText(s string) {
	f.in <- inbound{kind: TextMessage, data: []byte(s)}
}

func (f *fakeTransport) peerClose() {
	f.in <- inbound{err: io.EOF}
}

func (f *fakeTransport) expectWrite(t *testing.T) string {
	t.Helper()
	select {
	case data := <-f.wrote:
		return string(data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a written frame")
		return ""
	}
}

func (f *fakeTransport) expectClose(t *testing.T) protocol.CloseFrame {
	t.Helper()
	select {
	case cf := <-f.closeSent:
		return cf
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a close frame")
		return protocol.CloseFrame{}
	}
}

type authFunc func(ctx context.Context, token string) (snowflake.ID, error)

func (f authFunc) Authenticate(ctx context.Context, token string) (snowflake.ID, error) {
	return f(ctx, token)
}

type readyFlag bool

func (r readyFlag) Ready() bool { return bool(r) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	alice = snowflake.FromUint64(1)
	guild = snowflake.FromUint64(7)
)

// staticAuth accepts "good" as alice and rejects everything else.
func staticAuth() authFunc {
	return func(_ context.Context, token string) (snowflake.ID, error) {
		if token == "good" {
			return alice, nil
		}
		return snowflake.Zero, auth.ErrInvalidToken
	}
}

type harness struct {
	handler  *Handler
	registry *session.Registry
	store    *store.MockStore
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	st := store.NewMockStore()
	ctx := context.Background()
	require.NoError(t, st.CreateUser(ctx, &store.User{ID: alice, Name: "alice"}))
	require.NoError(t, st.CreateGuild(ctx, &store.Guild{ID: guild, OwnerID: alice, Name: "g"}))

	reg := session.NewRegistry(4, testLogger())
	deps := Deps{Registry: reg, Auth: staticAuth(), Guilds: st, PubSub: readyFlag(true)}
	if opts.CloseGrace == 0 {
		opts.CloseGrace = 10 * time.Millisecond
	}
	return &harness{
		handler:  NewHandler(deps, opts, testLogger()),
		registry: reg,
		store:    st,
	}
}

// serve runs a connection in the background; the returned channel closes
// when the connection is fully torn down.
func (h *harness) serve(t *testing.T) (*fakeTransport, <-chan struct{}) {
	t.Helper()
	ft := newFakeTransport()
	return ft, h.serveTransport(ft)
}

func (h *harness) serveTransport(ft *fakeTransport) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.handler.Serve(ft, "test")
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not finish")
	}
}

func identify(t *testing.T, h *harness, ft *fakeTransport) *session.Session {
	t.Helper()
	ft.sendText(`{"event":"Identify","token":"good","intents":0}`)
	require.Eventually(t, func() bool { return len(h.registry.Lookup(alice)) == 1 },
		2*time.Second, 5*time.Millisecond)
	return h.registry.Lookup(alice)[0]
}

func TestRX_PingBeforeIdentifyCloses2004(t *testing.T) {
	h := newHarness(t, Options{})
	ft, done := h.serve(t)

	ft.sendText(`{"event":"Ping"}`)

	cf := ft.expectClose(t)
	assert.Equal(t, protocol.CloseNotIdentified, cf.Code)
	waitDone(t, done)
	assert.Empty(t, h.registry.Lookup(alice))
	assert.Empty(t, ft.wrote, "no Pong may be sent before Identify")
}

func TestRX_BinaryFrameClosesUnsupported(t *testing.T) {
	for _, identified := range []bool{false, true} {
		h := newHarness(t, Options{})
		ft, done := h.serve(t)
		if identified {
			identify(t, h, ft)
		}

		ft.in <- inbound{kind: BinaryMessage, data: []byte(`{"event":"Ping"}`)}

		assert.Equal(t, protocol.CloseUnsupported, ft.expectClose(t).Code)
		waitDone(t, done)
		assert.Empty(t, h.registry.Lookup(alice))
	}
}

func TestRX_InvalidPayloadCloses2001(t *testing.T) {
	for _, payload := range []string{`{not json`, `{"event":"Resume"}`, `{"token":"x"}`} {
		h := newHarness(t, Options{})
		ft, done := h.serve(t)

		ft.sendText(payload)

		assert.Equal(t, protocol.CloseInvalidPayload, ft.expectClose(t).Code, "payload %s", payload)
		waitDone(t, done)
	}
}

func TestRX_BadCredentialsNeverRegisters(t *testing.T) {
	h := newHarness(t, Options{})
	ft, done := h.serve(t)

	ft.sendText(`{"event":"Identify","token":"bad","intents":0}`)

	assert.Equal(t, protocol.CloseBadCredentials, ft.expectClose(t).Code)
	waitDone(t, done)
	assert.Equal(t, session.Stats{}, h.registry.Stats())
}

func TestRX_IdentifyThenPing(t *testing.T) {
	h := newHarness(t, Options{})
	ft, done := h.serve(t)

	s := identify(t, h, ft)
	assert.ElementsMatch(t, []snowflake.ID{guild}, s.Guilds())
	assert.Equal(t, []*session.Session{s}, h.registry.LookupGuild(guild))

	ft.sendText(`{"event":"Ping"}`)
	assert.JSONEq(t, `{"event":"Pong"}`, ft.expectWrite(t))

	ft.peerClose()
	waitDone(t, done)
	assert.Empty(t, h.registry.Lookup(alice))
	assert.Empty(t, h.registry.LookupGuild(guild))
	assert.Empty(t, ft.closeSent, "peer close needs no close frame")
}

func TestRX_SecondIdentifyCloses4002(t *testing.T) {
	h := newHarness(t, Options{})
	ft, done := h.serve(t)
	identify(t, h, ft)

	ft.sendText(`{"event":"Identify","token":"good","intents":0}`)

	assert.Equal(t, protocol.CloseAlreadyIdentified, ft.expectClose(t).Code)
	waitDone(t, done)
	assert.Empty(t, h.registry.Lookup(alice))
}

func TestRX_BackendPreflight(t *testing.T) {
	reg := session.NewRegistry(1, testLogger())
	st := store.NewMockStore()

	tests := []struct {
		name string
		deps Deps
		want protocol.CloseCode
	}{
		{"no pubsub", Deps{Registry: reg, Auth: staticAuth(), Guilds: st}, protocol.ClosePubSubUnavailable},
		{"pubsub down", Deps{Registry: reg, Auth: staticAuth(), Guilds: st, PubSub: readyFlag(false)}, protocol.ClosePubSubUnavailable},
		{"no storage", Deps{Registry: reg, Auth: staticAuth(), PubSub: readyFlag(true)}, protocol.CloseStorageUnavailable},
		{"no registry", Deps{Auth: staticAuth(), Guilds: st, PubSub: readyFlag(true)}, protocol.CloseRegistryUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(tt.deps, Options{CloseGrace: 10 * time.Millisecond}, testLogger())
			ft := newFakeTransport()
			done := make(chan struct{})
			go func() {
				defer close(done)
				h.Serve(ft, "test")
			}()

			cf := ft.expectClose(t)
			assert.Equal(t, tt.want, cf.Code)
			assert.True(t, cf.Code.ServerCaused())
			waitDone(t, done)
		})
	}
}

func TestRX_StorageFailureDuringIdentify(t *testing.T) {
	h := newHarness(t, Options{})
	h.store.SetErr(errors.New("database is locked"))
	ft, done := h.serve(t)

	ft.sendText(`{"event":"Identify","token":"good","intents":0}`)

	assert.Equal(t, protocol.CloseStorageUnavailable, ft.expectClose(t).Code)
	waitDone(t, done)
	assert.Empty(t, h.registry.Lookup(alice))
}

func TestRX_AuthBackendFailureIsServerFault(t *testing.T) {
	h := newHarness(t, Options{})
	h.handler.deps.Auth = authFunc(func(context.Context, string) (snowflake.ID, error) {
		return snowflake.Zero, auth.ErrUnavailable
	})
	ft, done := h.serve(t)

	ft.sendText(`{"event":"Identify","token":"good","intents":0}`)

	assert.Equal(t, protocol.CloseStorageUnavailable, ft.expectClose(t).Code)
	waitDone(t, done)
}

func TestTX_HeartbeatTimeout(t *testing.T) {
	h := newHarness(t, Options{
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  30 * time.Millisecond,
		IdentifyTimeout:   time.Second,
	})
	ft, done := h.serve(t)
	identify(t, h, ft)

	assert.JSONEq(t, `{"event":"Ping"}`, ft.expectWrite(t))

	assert.Equal(t, protocol.CloseHeartbeatTimeout, ft.expectClose(t).Code)
	waitDone(t, done)
	assert.Empty(t, h.registry.Lookup(alice))
}

func TestTX_UnregistersBeforeReleasingTransport(t *testing.T) {
	h := newHarness(t, Options{
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  30 * time.Millisecond,
		IdentifyTimeout:   time.Second,
	})
	ft := newFakeTransport()
	registeredAtClose := make(chan int, 1)
	ft.onClose = func() { registeredAtClose <- len(h.registry.Lookup(alice)) }
	done := h.serveTransport(ft)
	identify(t, h, ft)

	assert.Equal(t, protocol.CloseHeartbeatTimeout, ft.expectClose(t).Code)
	waitDone(t, done)
	assert.Equal(t, 0, <-registeredAtClose)
}

func TestTX_PongBeforePingDoesNotAnswerIt(t *testing.T) {
	h := newHarness(t, Options{
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  40 * time.Millisecond,
		IdentifyTimeout:   time.Second,
	})
	ft := newFakeTransport()
	ft.writeGate = make(chan struct{})
	done := h.serveTransport(ft)
	s := identify(t, h, ft)

	// hold TX inside a write while a pong and a heartbeat tick both queue up
	require.True(t, s.Offer(session.Frame{Type: protocol.EventGuildUpdate, Payload: []byte(`{"event":"GuildUpdate"}`)}))
	require.Eventually(t, func() bool { return len(s.Queue()) == 0 },
		2*time.Second, 5*time.Millisecond)
	ft.sendText(`{"event":"Pong"}`)
	require.Eventually(t, func() bool { return len(s.Pongs()) == 1 },
		2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(ft.writeGate)

	assert.JSONEq(t, `{"event":"GuildUpdate"}`, ft.expectWrite(t))
	assert.JSONEq(t, `{"event":"Ping"}`, ft.expectWrite(t))
	assert.Equal(t, protocol.CloseHeartbeatTimeout, ft.expectClose(t).Code)
	waitDone(t, done)
}

func TestTX_HeartbeatAnsweredStaysOpen(t *testing.T) {
	h := newHarness(t, Options{
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  50 * time.Millisecond,
		IdentifyTimeout:   time.Second,
	})
	ft, done := h.serve(t)
	identify(t, h, ft)

	for range 4 {
		assert.JSONEq(t, `{"event":"Ping"}`, ft.expectWrite(t))
		ft.sendText(`{"event":"Pong"}`)
	}
	assert.Empty(t, ft.closeSent)

	ft.peerClose()
	waitDone(t, done)
}

func TestTX_IdentifyTimeout(t *testing.T) {
	h := newHarness(t, Options{IdentifyTimeout: 30 * time.Millisecond})
	ft, done := h.serve(t)

	assert.Equal(t, protocol.CloseIdentifyTimeout, ft.expectClose(t).Code)
	waitDone(t, done)
}

func TestTX_PreservesPerSessionOrder(t *testing.T) {
	h := newHarness(t, Options{})
	ft, done := h.serve(t)
	s := identify(t, h, ft)

	for _, ev := range []protocol.EventType{protocol.EventGuildUpdate, protocol.EventRoleCreate} {
		require.True(t, s.Offer(session.Frame{Type: ev, Payload: []byte(`{"event":"` + string(ev) + `"}`)}))
	}
	ft.sendText(`{"event":"Ping"}`)

	assert.JSONEq(t, `{"event":"GuildUpdate"}`, ft.expectWrite(t))
	assert.JSONEq(t, `{"event":"RoleCreate"}`, ft.expectWrite(t))
	assert.JSONEq(t, `{"event":"Pong"}`, ft.expectWrite(t))

	ft.peerClose()
	waitDone(t, done)
}

func TestHandler_ShutdownClosesGoingAway(t *testing.T) {
	h := newHarness(t, Options{})
	ft, done := h.serve(t)
	identify(t, h, ft)
	require.Equal(t, 1, h.handler.Count())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.handler.Shutdown(ctx))

	assert.Equal(t, protocol.CloseGoingAway, ft.expectClose(t).Code)
	waitDone(t, done)
	assert.Zero(t, h.handler.Count())
	assert.Empty(t, h.registry.Lookup(alice))

	late := newFakeTransport()
	h.handler.Serve(late, "late")
	assert.Equal(t, protocol.CloseGoingAway, late.expectClose(t).Code)
}

func TestHandler_SessionsListsUnidentified(t *testing.T) {
	h := newHarness(t, Options{})
	ft, done := h.serve(t)

	require.Eventually(t, func() bool { return h.handler.Count() == 1 }, time.Second, 5*time.Millisecond)
	infos := h.handler.Sessions()
	require.Len(t, infos, 1)
	assert.Nil(t, infos[0].UserID)

	ft.peerClose()
	waitDone(t, done)
}

func TestTruncateReason(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, truncateReason(string(long)), maxCloseReason)
	assert.Equal(t, "short", truncateReason("short"))

	// a multibyte rune straddling the limit is dropped whole
	s := string(long[:maxCloseReason-1]) + "é"
	assert.Equal(t, string(long[:maxCloseReason-1]), truncateReason(s))
}
