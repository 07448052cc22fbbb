package tcpserver

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/go-netserver/logger"
	"github.com/cyberinferno/go-netserver/neterror"
)

// SessionState represents the lifecycle state of a session.
type SessionState int32

const (
	Disconnected  SessionState = iota // No connection attached, or teardown complete
	Connecting                        // Accepted socket being attached
	Connected                         // Duplex I/O active
	Disconnecting                     // Teardown in progress
)

// String returns a human-readable name for the session state.
func (s SessionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// Session is one accepted connection. It owns the connection's socket, an
// ordered send queue drained by a single writer goroutine, and a scratch
// receive buffer filled by a single reader goroutine. Sessions are created
// by a Server and never reused: after Disconnect completes the object stays
// Disconnected forever and a new connection always yields a new Session.
//
// Send may be called from any goroutine. All notification callbacks fire on
// the session's I/O goroutines.
type Session struct {
	id      uint64
	server  *Server
	handler SessionHandler
	log     logger.Logger

	state atomic.Int32

	mu    sync.Mutex
	conn  net.Conn
	queue [][]byte

	wake   chan struct{}
	stop   chan struct{}
	closed chan struct{}

	recvBuf []byte

	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	bytesPending  atomic.Int64
}

// newSession constructs a session owned by srv with the given identifier.
// The session starts in the Connecting state so it is already
// disconnectable when the server registers it; the handler is assigned by
// the server (via the session factory) before the socket is attached.
func newSession(id uint64, srv *Server) *Session {
	s := &Session{
		id:      id,
		server:  srv,
		log:     srv.log.With(logger.Field{Key: "session", Value: id}),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		closed:  make(chan struct{}),
		recvBuf: make([]byte, srv.scratchSize),
	}
	s.state.Store(int32(Connecting))
	return s
}

// ID returns the session's server-scoped unique identifier. IDs are stable
// for the session's lifetime and never reused by the owning server.
//
// Returns:
//   - The session ID (uint64)
func (s *Session) ID() uint64 {
	return s.id
}

// Server returns the server that accepted this session.
func (s *Session) Server() *Server {
	return s.server
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// IsConnected reports whether the session is in the Connected state.
func (s *Session) IsConnected() bool {
	return s.State() == Connected
}

// RemoteAddr returns the peer's address, or nil if no socket is attached.
func (s *Session) RemoteAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}

// BytesSent returns the total bytes successfully written to the peer.
// Monotonic non-decreasing.
func (s *Session) BytesSent() int64 {
	return s.bytesSent.Load()
}

// BytesReceived returns the total bytes read from the peer. Monotonic
// non-decreasing.
func (s *Session) BytesReceived() int64 {
	return s.bytesReceived.Load()
}

// BytesPending returns the bytes queued but not yet written. It rises on
// Send and falls as the writer flushes; it is zero exactly when the send
// queue is empty.
func (s *Session) BytesPending() int64 {
	return s.bytesPending.Load()
}

// SetReceiveBufferSize sets the SO_RCVBUF hint on the attached socket.
// Best-effort: unsupported platforms and detached sessions ignore it.
//
// Parameters:
//   - size: Receive buffer size in bytes
func (s *Session) SetReceiveBufferSize(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tcp, ok := s.conn.(*net.TCPConn); ok && size > 0 {
		_ = tcp.SetReadBuffer(size)
	}
}

// SetSendBufferSize sets the SO_SNDBUF hint on the attached socket.
// Best-effort, like SetReceiveBufferSize.
//
// Parameters:
//   - size: Send buffer size in bytes
func (s *Session) SetSendBufferSize(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tcp, ok := s.conn.(*net.TCPConn); ok && size > 0 {
		_ = tcp.SetWriteBuffer(size)
	}
}

// Send queues the whole buffer for transmission and wakes the writer. The
// buffer is copied, so the caller may reuse it immediately. The call never
// blocks and never partially enqueues.
//
// Parameters:
//   - data: The bytes to send
//
// Returns:
//   - true if the buffer was accepted, false if the session is not Connected
func (s *Session) Send(data []byte) bool {
	if s.State() != Connected {
		return false
	}
	if len(data) == 0 {
		return true
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	if s.State() != Connected {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, buf)
	s.bytesPending.Add(int64(len(buf)))
	s.server.bytesPending.Add(int64(len(buf)))
	s.mu.Unlock()

	s.wakeSender()
	return true
}

// ResumeSending retriggers the writer. It is only needed after an OnSending
// veto when no further Send call will arrive: the vetoed chunk stays queued
// and is offered to OnSending again on the next trigger.
func (s *Session) ResumeSending() {
	s.wakeSender()
}

// Disconnect tears the session down. The policy is abortive: bytes still in
// the send queue are discarded, the socket close cancels the outstanding
// read, the session is removed from the server's registry, and the
// disconnected notifications fire exactly once.
//
// Disconnecting a session that is still Connecting aborts the attach: the
// socket is closed without the connected notifications ever firing.
//
// Returns:
//   - true if this call performed the disconnect, false if the session was
//     already disconnecting or disconnected
func (s *Session) Disconnect() bool {
	if !s.state.CompareAndSwap(int32(Connected), int32(Disconnecting)) &&
		!s.state.CompareAndSwap(int32(Connecting), int32(Disconnecting)) {
		return false
	}

	close(s.stop)

	s.mu.Lock()
	discarded := s.bytesPending.Swap(0)
	s.queue = nil
	conn := s.conn
	s.mu.Unlock()

	if discarded > 0 {
		s.server.bytesPending.Add(-discarded)
		s.log.Debug("discarding unsent bytes on disconnect",
			logger.Field{Key: "bytes", Value: discarded})
	}

	if conn != nil {
		_ = conn.Close()
	}

	// Registry removal happens before the disconnected notifications so a
	// concurrent multicast can never observe a dead session.
	s.server.removeSession(s)

	s.handler.OnDisconnected(s)
	s.server.handler.OnSessionDisconnected(s)

	s.state.Store(int32(Disconnected))
	close(s.closed)

	s.log.Debug("session disconnected")
	return true
}

// attach binds the accepted socket and moves the session to Connected,
// firing the session-level connected notification. Called only by the
// owning server's accept loop.
//
// Returns:
//   - true on success, false if a concurrent Disconnect aborted the attach;
//     the socket is closed in that case and no notifications fire
func (s *Session) attach(conn net.Conn) bool {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if !s.state.CompareAndSwap(int32(Connecting), int32(Connected)) {
		_ = conn.Close()
		return false
	}

	s.handler.OnConnected(s)
	return true
}

// start launches the reader and writer goroutines. Called by the server
// after the connected notifications have fired.
func (s *Session) start() {
	go s.readLoop()
	go s.writeLoop()
}

// wakeSender nudges the writer goroutine; the buffered channel coalesces
// redundant wakeups.
func (s *Session) wakeSender() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// readLoop issues one read at a time into the scratch buffer and delivers
// each chunk through OnReceived. The delivered slice is valid only for the
// duration of the callback. Peer closure or a read error ends the loop and
// triggers Disconnect.
func (s *Session) readLoop() {
	for {
		conn := s.connection()
		if conn == nil {
			return
		}

		n, err := conn.Read(s.recvBuf)
		if n > 0 {
			s.bytesReceived.Add(int64(n))
			s.server.bytesReceived.Add(int64(n))
			s.handler.OnReceived(s, s.recvBuf[:n])
		}

		if err != nil {
			if !neterror.IsClosed(err) && s.IsConnected() {
				s.handler.OnError(s, neterror.Wrap("read", err))
			}

			s.Disconnect()
			return
		}
	}
}

// writeLoop waits for wakeups and drains the queue. It exits when the
// session starts disconnecting.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}

		if !s.flush() {
			return
		}
	}
}

// flush writes queued chunks in FIFO order until the queue is empty, a
// chunk is vetoed by OnSending, or an error occurs. Returns false when the
// writer should exit.
func (s *Session) flush() bool {
	for {
		select {
		case <-s.stop:
			return false
		default:
		}

		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return true
		}
		chunk := s.queue[0]
		conn := s.conn
		s.mu.Unlock()

		if conn == nil {
			return false
		}

		if !s.handler.OnSending(s, len(chunk)) {
			// Vetoed: the chunk stays queued and is offered again on the
			// next wakeup.
			return true
		}

		n, err := conn.Write(chunk)
		if n > 0 {
			s.bytesSent.Add(int64(n))
			s.server.bytesSent.Add(int64(n))
		}

		if err != nil {
			s.mu.Lock()
			if len(s.queue) > 0 {
				if n > 0 && n < len(chunk) {
					s.queue[0] = chunk[n:]
				}
				s.bytesPending.Add(-int64(n))
				s.server.bytesPending.Add(-int64(n))
			}
			s.mu.Unlock()

			if !neterror.IsClosed(err) && s.IsConnected() {
				s.handler.OnError(s, neterror.Wrap("write", err))
			}

			s.Disconnect()
			return false
		}

		s.mu.Lock()
		empty := false
		if len(s.queue) > 0 {
			s.queue = s.queue[1:]
			s.bytesPending.Add(-int64(n))
			s.server.bytesPending.Add(-int64(n))
			empty = len(s.queue) == 0
		}
		s.mu.Unlock()

		// A disconnect that raced the write has already fired the
		// disconnected notifications; sent notifications never follow them.
		select {
		case <-s.stop:
			return false
		default:
		}

		s.handler.OnSent(s, n, s.BytesPending())
		if empty {
			s.handler.OnEmpty(s)
			return true
		}
	}
}

// connection returns the attached socket, or nil.
func (s *Session) connection() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}
