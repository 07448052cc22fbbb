package tcpserver

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-netserver/endpoint"
	"github.com/cyberinferno/go-netserver/neterror"
)

// recServerHandler records server lifecycle notifications for assertions.
type recServerHandler struct {
	NopServerHandler

	mu           sync.Mutex
	started      int
	stopped      int
	connected    []*Session
	disconnected []*Session
	errors       []*neterror.Error
}

func (h *recServerHandler) OnStarted(*Server) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started++
}

func (h *recServerHandler) OnStopped(*Server) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped++
}

func (h *recServerHandler) OnSessionConnected(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = append(h.connected, s)
}

func (h *recServerHandler) OnSessionDisconnected(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, s)
}

func (h *recServerHandler) OnError(_ *Server, err *neterror.Error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, err)
}

func (h *recServerHandler) startedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

func (h *recServerHandler) stoppedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

func (h *recServerHandler) firstSession() *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.connected) == 0 {
		return nil
	}
	return h.connected[0]
}

func (h *recServerHandler) errorCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.errors)
}

// recSessionHandler records per-session notifications for assertions.
type recSessionHandler struct {
	NopSessionHandler

	mu           sync.Mutex
	received     [][]byte
	sent         []int
	empties      int
	disconnected int
	errors       []*neterror.Error
}

func (h *recSessionHandler) OnReceived(_ *Session, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	h.received = append(h.received, buf)
}

func (h *recSessionHandler) OnSent(_ *Session, sent int, _ int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, sent)
}

func (h *recSessionHandler) OnEmpty(*Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.empties++
}

func (h *recSessionHandler) OnDisconnected(*Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected++
}

func (h *recSessionHandler) OnError(_ *Session, err *neterror.Error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, err)
}

func (h *recSessionHandler) receivedJoined() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	var all []byte
	for _, chunk := range h.received {
		all = append(all, chunk...)
	}
	return all
}

func (h *recSessionHandler) sentEvents() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int, len(h.sent))
	copy(out, h.sent)
	return out
}

// startTestServer starts a server on an ephemeral loopback port and
// registers cleanup. The session handler factory is shared by all sessions.
func startTestServer(t *testing.T, srvHandler ServerHandler, factory SessionFactory) *Server {
	t.Helper()

	cfg := DefaultConfig(endpoint.TCP("127.0.0.1", 0))
	cfg.Handler = srvHandler
	cfg.SessionFactory = factory
	srv := New(cfg)

	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		_ = srv.Stop()
	})
	return srv
}

func dialTestServer(t *testing.T, srv *Server) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", srv.ListenAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func waitSessions(t *testing.T, srv *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return srv.ConnectedSessions() == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_StartStop(t *testing.T) {
	handler := &recServerHandler{}
	cfg := DefaultConfig(endpoint.TCP("127.0.0.1", 0))
	cfg.Handler = handler
	srv := New(cfg)

	t.Run("initial state is stopped", func(t *testing.T) {
		assert.Equal(t, Stopped, srv.State())
		assert.False(t, srv.IsStarted())
	})

	t.Run("start succeeds", func(t *testing.T) {
		require.NoError(t, srv.Start(context.Background()))
		assert.Equal(t, Started, srv.State())
		assert.True(t, srv.IsStarted())
		assert.NotNil(t, srv.ListenAddr())
		assert.Equal(t, 1, handler.startedCount())
	})

	t.Run("double start fails without notification", func(t *testing.T) {
		err := srv.Start(context.Background())
		assert.ErrorIs(t, err, ErrAlreadyStarted)
		assert.Equal(t, Started, srv.State())
		assert.Equal(t, 1, handler.startedCount())
	})

	t.Run("stop succeeds", func(t *testing.T) {
		require.NoError(t, srv.Stop())
		assert.Equal(t, Stopped, srv.State())
		assert.Equal(t, 1, handler.stoppedCount())
	})

	t.Run("double stop fails and leaves state unchanged", func(t *testing.T) {
		err := srv.Stop()
		assert.ErrorIs(t, err, ErrNotStarted)
		assert.Equal(t, Stopped, srv.State())
		assert.Equal(t, 1, handler.stoppedCount())
	})
}

func TestServer_BindFailure(t *testing.T) {
	first := startTestServer(t, &recServerHandler{}, nil)

	addr := first.ListenAddr().(*net.TCPAddr)
	handler := &recServerHandler{}
	cfg := DefaultConfig(endpoint.TCP("127.0.0.1", addr.Port))
	cfg.Handler = handler
	second := New(cfg)

	err := second.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, Stopped, second.State())
	assert.Equal(t, 1, handler.errorCount())
	assert.Equal(t, 0, handler.startedCount())
}

func TestServer_Restart(t *testing.T) {
	handler := &recServerHandler{}
	srv := startTestServer(t, handler, nil)

	require.NoError(t, srv.Restart(context.Background()))
	assert.True(t, srv.IsStarted())
	assert.Equal(t, 2, handler.startedCount())
	assert.Equal(t, 1, handler.stoppedCount())
}

func TestServer_Echo(t *testing.T) {
	srvHandler := &recServerHandler{}
	sessHandler := &recSessionHandler{}
	srv := startTestServer(t, srvHandler, func(*Session) SessionHandler { return sessHandler })

	peer := dialTestServer(t, srv)
	waitSessions(t, srv, 1)

	_, err := peer.Write([]byte("ping"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return string(sessHandler.receivedJoined()) == "ping"
	}, 2*time.Second, 10*time.Millisecond)

	sess := srvHandler.firstSession()
	require.NotNil(t, sess)
	assert.True(t, sess.Send([]byte("pong")))

	reply := make([]byte, 4)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = io.ReadFull(peer, reply)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(reply))

	assert.EqualValues(t, 4, sess.BytesReceived())
	require.Eventually(t, func() bool {
		return sess.BytesSent() == 4 && sess.BytesPending() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_Multicast(t *testing.T) {
	srv := startTestServer(t, &recServerHandler{}, nil)

	const peers = 3
	conns := make([]net.Conn, 0, peers)
	for i := 0; i < peers; i++ {
		conns = append(conns, dialTestServer(t, srv))
	}
	waitSessions(t, srv, peers)

	require.True(t, srv.Multicast([]byte("hello")))

	for _, conn := range conns {
		buf := make([]byte, 5)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, err := io.ReadFull(conn, buf)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(buf))
	}
}

func TestServer_MulticastNotStarted(t *testing.T) {
	srv := New(DefaultConfig(endpoint.TCP("127.0.0.1", 0)))
	assert.False(t, srv.Multicast([]byte("x")))
}

func TestServer_DisconnectAll(t *testing.T) {
	srv := startTestServer(t, &recServerHandler{}, nil)

	for i := 0; i < 3; i++ {
		dialTestServer(t, srv)
	}
	waitSessions(t, srv, 3)

	require.True(t, srv.DisconnectAll())
	assert.Equal(t, 0, srv.ConnectedSessions())
}

func TestServer_DisconnectAllDuringAttach(t *testing.T) {
	handler := &recServerHandler{}
	srv := startTestServer(t, handler, nil)

	// A session in the accept loop's registration window: stored in the
	// registry with no socket attached yet.
	sess := newSession(srv.ids.Id(), srv)
	sess.handler = NopSessionHandler{}
	srv.sessions.Store(sess.ID(), sess)
	require.Equal(t, Connecting, sess.State())

	done := make(chan struct{})
	go func() {
		srv.DisconnectAll()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("DisconnectAll blocked on a session that was still attaching")
	}

	assert.Equal(t, Disconnected, sess.State())
	assert.Equal(t, 0, srv.ConnectedSessions())
}

func TestServer_DisconnectAllNotStarted(t *testing.T) {
	srv := New(DefaultConfig(endpoint.TCP("127.0.0.1", 0)))
	assert.False(t, srv.DisconnectAll())
}

func TestServer_StopDisconnectsSessions(t *testing.T) {
	handler := &recServerHandler{}
	srv := startTestServer(t, handler, nil)

	peer := dialTestServer(t, srv)
	waitSessions(t, srv, 1)

	require.NoError(t, srv.Stop())
	assert.Equal(t, 0, srv.ConnectedSessions())

	// Peer observes the closure.
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := peer.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestServer_PeerClosureRemovesSession(t *testing.T) {
	handler := &recServerHandler{}
	srv := startTestServer(t, handler, nil)

	peer := dialTestServer(t, srv)
	waitSessions(t, srv, 1)

	sess := waitFirstSession(t, handler)
	require.NoError(t, peer.Close())

	require.Eventually(t, func() bool {
		return srv.ConnectedSessions() == 0 && sess.State() == Disconnected
	}, 2*time.Second, 10*time.Millisecond)

	_, found := srv.FindSession(sess.ID())
	assert.False(t, found)
}

func TestServer_SessionIDsNeverReused(t *testing.T) {
	handler := &recServerHandler{}
	srv := startTestServer(t, handler, nil)

	first := dialTestServer(t, srv)
	waitSessions(t, srv, 1)
	firstID := waitFirstSession(t, handler).ID()

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		return srv.ConnectedSessions() == 0
	}, 2*time.Second, 10*time.Millisecond)

	dialTestServer(t, srv)
	waitSessions(t, srv, 1)

	handler.mu.Lock()
	secondID := handler.connected[len(handler.connected)-1].ID()
	handler.mu.Unlock()

	assert.Greater(t, secondID, firstID)
}

func TestServer_FactoryRoutesNotifications(t *testing.T) {
	type customHandler struct {
		recSessionHandler
	}

	var mu sync.Mutex
	handlers := make(map[uint64]*customHandler)

	srvHandler := &recServerHandler{}
	srv := startTestServer(t, srvHandler, func(s *Session) SessionHandler {
		h := &customHandler{}
		mu.Lock()
		handlers[s.ID()] = h
		mu.Unlock()
		return h
	})

	peer := dialTestServer(t, srv)
	waitSessions(t, srv, 1)

	_, err := peer.Write([]byte("abc"))
	require.NoError(t, err)

	sess := waitFirstSession(t, srvHandler)
	require.Eventually(t, func() bool {
		mu.Lock()
		h, ok := handlers[sess.ID()]
		mu.Unlock()
		return ok && string(h.receivedJoined()) == "abc"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Stopped", Stopped.String())
	assert.Equal(t, "Starting", Starting.String())
	assert.Equal(t, "Started", Started.String())
	assert.Equal(t, "Stopping", Stopping.String())
	assert.Equal(t, "Unknown", State(42).String())
}

// waitFirstSession waits for the handler to have observed a session.
func waitFirstSession(t *testing.T, h *recServerHandler) *Session {
	t.Helper()
	var sess *Session
	require.Eventually(t, func() bool {
		sess = h.firstSession()
		return sess != nil
	}, 2*time.Second, 10*time.Millisecond)
	return sess
}
