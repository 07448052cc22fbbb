// Package tcpserver implements a callback-driven, session-oriented TCP
// server. The server owns the listening socket and a registry of live
// sessions; each accepted connection becomes a Session with its own send
// queue and receive loop. Consumers observe everything through the
// ServerHandler and SessionHandler capability interfaces.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-netserver/endpoint"
	"github.com/cyberinferno/go-netserver/idgenerator"
	"github.com/cyberinferno/go-netserver/logger"
	"github.com/cyberinferno/go-netserver/neterror"
	"github.com/cyberinferno/go-netserver/registry"
	"github.com/cyberinferno/go-netserver/socketopt"
)

// State represents the lifecycle state of a server.
type State int32

const (
	Stopped  State = iota // Not listening
	Starting              // Bind and listen in progress
	Started               // Accept loop running
	Stopping              // Teardown in progress
)

// String returns a human-readable name for the server state.
func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Starting:
		return "Starting"
	case Started:
		return "Started"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

var (
	// ErrAlreadyStarted is returned by Start when the server is not Stopped.
	ErrAlreadyStarted = errors.New("server already started")
	// ErrNotStarted is returned by Stop when the server is not Started.
	ErrNotStarted = errors.New("server not started")
)

// DefaultScratchBufferSize is the per-session receive buffer size used when
// the config does not specify one.
const DefaultScratchBufferSize = 4096

// Config holds configuration for a Server.
type Config struct {
	// Name identifies the server in log entries.
	Name string
	// Endpoint is the address to bind and listen on.
	Endpoint endpoint.Endpoint
	// Options are the socket options for the listener and accepted connections.
	Options socketopt.Options
	// ScratchBufferSize is the per-session receive buffer size; 0 selects
	// DefaultScratchBufferSize.
	ScratchBufferSize int
	// Handler receives server lifecycle notifications; nil selects NopServerHandler.
	Handler ServerHandler
	// SessionFactory produces the handler for each accepted session; nil
	// yields NopSessionHandler for every session.
	SessionFactory SessionFactory
	// Logger receives structured log output; nil selects a no-op logger.
	Logger logger.Logger
	// Resolver resolves hostname endpoints; nil selects a fresh resolver
	// with the default TTL.
	Resolver *endpoint.Resolver
}

// DefaultConfig returns a Config for the given endpoint with the usual
// server defaults: address reuse enabled, default scratch buffer, no-op
// handler, factory and logger.
//
// Parameters:
//   - ep: The endpoint to bind and listen on
//
// Returns:
//   - A Config with defaults applied; override fields as needed before New
func DefaultConfig(ep endpoint.Endpoint) Config {
	return Config{
		Name:              "tcp-server",
		Endpoint:          ep,
		Options:           socketopt.Default(),
		ScratchBufferSize: DefaultScratchBufferSize,
	}
}

// Server accepts connections and manages the registry of live sessions. All
// lifecycle and I/O notifications route through the configured handlers.
// Server methods are safe for concurrent use.
type Server struct {
	cfg     Config
	ep      endpoint.Endpoint
	opts    socketopt.Options
	handler ServerHandler
	factory SessionFactory
	log     logger.Logger

	resolver    *endpoint.Resolver
	ids         *idgenerator.IdGenerator
	sessions    *registry.Map[uint64, *Session]
	scratchSize int

	state      atomic.Int32
	listener   net.Listener
	acceptDone chan struct{}

	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	bytesPending  atomic.Int64
}

// New creates a Server from the given config. The server starts Stopped;
// call Start to bind and begin accepting.
//
// Parameters:
//   - cfg: Server configuration (e.g. from DefaultConfig)
//
// Returns:
//   - A new *Server ready to be started
func New(cfg Config) *Server {
	if cfg.Name == "" {
		cfg.Name = "tcp-server"
	}
	if cfg.Handler == nil {
		cfg.Handler = NopServerHandler{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNopLogger()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = endpoint.NewResolver(0)
	}
	if cfg.ScratchBufferSize <= 0 {
		cfg.ScratchBufferSize = DefaultScratchBufferSize
	}

	return &Server{
		cfg:         cfg,
		ep:          cfg.Endpoint,
		opts:        cfg.Options,
		handler:     cfg.Handler,
		factory:     cfg.SessionFactory,
		log:         cfg.Logger.With(logger.Field{Key: "server", Value: cfg.Name}),
		resolver:    cfg.Resolver,
		ids:         idgenerator.NewIdGenerator(0),
		sessions:    registry.NewMap[uint64, *Session](),
		scratchSize: cfg.ScratchBufferSize,
	}
}

// State returns the server's current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// IsStarted reports whether the server is accepting connections.
func (s *Server) IsStarted() bool {
	return s.State() == Started
}

// Endpoint returns the endpoint the server was configured with.
func (s *Server) Endpoint() endpoint.Endpoint {
	return s.ep
}

// ListenAddr returns the bound listener address, or nil when not started.
// Useful when the configured endpoint uses port 0.
func (s *Server) ListenAddr() net.Addr {
	if ln := s.listener; ln != nil {
		return ln.Addr()
	}
	return nil
}

// ConnectedSessions returns the number of sessions currently in the
// registry. Point-in-time: concurrent connects and disconnects may change
// the value immediately.
func (s *Server) ConnectedSessions() int {
	return s.sessions.Len()
}

// BytesSent returns the total bytes written across all sessions the server
// has ever owned. Monotonic non-decreasing.
func (s *Server) BytesSent() int64 {
	return s.bytesSent.Load()
}

// BytesReceived returns the total bytes read across all sessions the server
// has ever owned. Monotonic non-decreasing.
func (s *Server) BytesReceived() int64 {
	return s.bytesReceived.Load()
}

// BytesPending returns the bytes queued but not yet written across all live
// sessions.
func (s *Server) BytesPending() int64 {
	return s.bytesPending.Load()
}

// FindSession returns the registered session with the given id, if any.
//
// Parameters:
//   - id: The session ID to look up
//
// Returns:
//   - The session and true if found, or nil and false otherwise
func (s *Server) FindSession(id uint64) (*Session, bool) {
	return s.sessions.Load(id)
}

// Start resolves the configured endpoint, binds and listens, and begins the
// accept loop. A bind or listen failure is reported through the handler's
// OnError and the server stays Stopped.
//
// Parameters:
//   - ctx: Context bounding endpoint resolution and the bind
//
// Returns:
//   - nil on success; ErrAlreadyStarted if the server is not Stopped, or
//     the resolution/bind error otherwise
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Stopped), int32(Starting)) {
		return ErrAlreadyStarted
	}

	addr, err := s.resolver.ResolveTCP(ctx, s.ep)
	if err != nil {
		s.state.Store(int32(Stopped))
		s.handler.OnError(s, neterror.Wrap("resolve", err))
		s.log.Error("failed to resolve endpoint", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server %s failed to resolve %s: %w", s.cfg.Name, s.ep, err)
	}

	lc := net.ListenConfig{Control: socketopt.ListenControl(s.opts)}
	ln, err := lc.Listen(ctx, s.ep.Network, addr.String())
	if err != nil {
		s.state.Store(int32(Stopped))
		s.handler.OnError(s, neterror.Wrap("listen", err))
		s.log.Error("failed to listen", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server %s failed to listen on %s: %w", s.cfg.Name, s.ep, err)
	}

	s.listener = ln
	s.acceptDone = make(chan struct{})
	s.state.Store(int32(Started))

	s.log.Info("server started", logger.Field{Key: "addr", Value: ln.Addr().String()})
	s.handler.OnStarted(s)

	go s.acceptLoop()
	return nil
}

// Stop cancels the pending accept, disconnects every registered session,
// waits for their teardown, and closes the listener.
//
// Returns:
//   - nil on success; ErrNotStarted if the server is not Started
func (s *Server) Stop() error {
	if !s.state.CompareAndSwap(int32(Started), int32(Stopping)) {
		return ErrNotStarted
	}

	_ = s.listener.Close()
	<-s.acceptDone

	s.disconnectSessions()

	s.state.Store(int32(Stopped))
	s.log.Info("server stopped")
	s.handler.OnStopped(s)
	return nil
}

// Restart stops the server and starts it again with the same endpoint.
//
// Parameters:
//   - ctx: Context bounding the new bind
//
// Returns:
//   - nil on success, or the first error from Stop or Start
func (s *Server) Restart(ctx context.Context) error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.Start(ctx)
}

// Multicast queues the same buffer for send on every registered session
// currently in the Connected state; Connecting and Disconnecting sessions
// are skipped. A send failure on one session raises only that session's
// error notification.
//
// Parameters:
//   - data: The bytes to fan out
//
// Returns:
//   - true if the fan-out was attempted, false if the server is not Started
func (s *Server) Multicast(data []byte) bool {
	if !s.IsStarted() {
		return false
	}

	for _, sess := range s.sessions.Snapshot() {
		if sess.IsConnected() {
			sess.Send(data)
		}
	}
	return true
}

// DisconnectAll disconnects every registered session and waits for their
// teardown to complete. After it returns the registry is empty.
//
// Returns:
//   - true if the disconnects were performed, false if the server is not Started
func (s *Server) DisconnectAll() bool {
	if !s.IsStarted() {
		return false
	}

	s.disconnectSessions()
	return true
}

// disconnectSessions tears down every session in the registry and waits for
// each to reach Disconnected, including sessions mid-teardown on another
// goroutine.
func (s *Server) disconnectSessions() {
	g := new(errgroup.Group)
	for _, sess := range s.sessions.Snapshot() {
		sess := sess
		g.Go(func() error {
			sess.Disconnect()
			<-sess.closed
			return nil
		})
	}
	_ = g.Wait()
}

// acceptLoop accepts connections until the listener closes. Each accepted
// connection is registered in the Connecting state and then attached; a
// disconnect racing the attach aborts it. Accept errors are reported and
// the loop resumes.
func (s *Server) acceptLoop() {
	defer close(s.acceptDone)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if neterror.IsClosed(err) || s.State() != Started {
				return
			}

			s.log.Warn("accept error", logger.Field{Key: "error", Value: err})
			s.handler.OnError(s, neterror.Wrap("accept", err))
			continue
		}

		socketopt.ApplyConn(conn, s.opts)

		id := s.ids.Id()
		sess := newSession(id, s)
		sess.handler = s.sessionHandler(sess)

		s.sessions.Store(id, sess)
		if !sess.attach(conn) {
			// A concurrent DisconnectAll or Stop tore the session down
			// between registration and attach.
			continue
		}
		s.handler.OnSessionConnected(sess)
		sess.start()

		s.log.Debug("session connected",
			logger.Field{Key: "session", Value: id},
			logger.Field{Key: "remote", Value: conn.RemoteAddr().String()})
	}
}

// sessionHandler invokes the configured factory, falling back to the no-op
// handler when no factory is set or the factory returns nil.
func (s *Server) sessionHandler(sess *Session) SessionHandler {
	if s.factory != nil {
		if h := s.factory(sess); h != nil {
			return h
		}
	}
	return NopSessionHandler{}
}

// removeSession drops the session from the registry during teardown.
func (s *Server) removeSession(sess *Session) {
	s.sessions.Delete(sess.id)
}
