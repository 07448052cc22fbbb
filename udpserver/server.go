// Package udpserver implements a callback-driven datagram server. One bound
// UDP socket serves every peer: a single continuous receive loop delivers
// inbound datagrams through the Handler interface, and outbound datagrams
// are serialized FIFO through a single sender goroutine. The server can
// optionally join a multicast group at start, which then becomes the
// destination for Multicast sends.
package udpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/go-netserver/endpoint"
	"github.com/cyberinferno/go-netserver/logger"
	"github.com/cyberinferno/go-netserver/neterror"
	"github.com/cyberinferno/go-netserver/socketopt"
)

// State represents the lifecycle state of a server.
type State int32

const (
	Stopped  State = iota // Not bound
	Starting              // Bind in progress
	Started               // Receive loop running
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

// DefaultScratchBufferSize is the receive buffer size used when the config
// does not specify one. Large enough for any non-jumbo datagram.
const DefaultScratchBufferSize = 65507

// Config holds configuration for a Server.
type Config struct {
	// Name identifies the server in log entries.
	Name string
	// Endpoint is the address to bind.
	Endpoint endpoint.Endpoint
	// Options are the socket options for the bound socket.
	Options socketopt.Options
	// ScratchBufferSize is the receive buffer size; 0 selects
	// DefaultScratchBufferSize.
	ScratchBufferSize int
	// Handler receives all notifications; nil selects NopHandler.
	Handler Handler
	// Logger receives structured log output; nil selects a no-op logger.
	Logger logger.Logger
	// Resolver resolves hostname endpoints; nil selects a fresh resolver
	// with the default TTL.
	Resolver *endpoint.Resolver
}

// DefaultConfig returns a Config for the given endpoint with the usual
// defaults applied.
//
// Parameters:
//   - ep: The endpoint to bind
//
// Returns:
//   - A Config with defaults; override fields as needed before New
func DefaultConfig(ep endpoint.Endpoint) Config {
	return Config{
		Name:              "udp-server",
		Endpoint:          ep,
		Options:           socketopt.Default(),
		ScratchBufferSize: DefaultScratchBufferSize,
	}
}

// outbound is one queued datagram awaiting the sender goroutine.
type outbound struct {
	addr *net.UDPAddr
	data []byte
}

// Server owns one UDP socket and its receive/send loops. Send and Multicast
// may be called from any goroutine; notifications fire on the server's I/O
// goroutines. Server methods are safe for concurrent use.
type Server struct {
	cfg     Config
	ep      endpoint.Endpoint
	opts    socketopt.Options
	handler Handler
	log     logger.Logger

	resolver    *endpoint.Resolver
	scratchSize int

	state atomic.Int32

	mu       sync.Mutex
	conn     *net.UDPConn
	queue    []outbound
	group    *net.UDPAddr
	groupEp  endpoint.Endpoint
	hasGroup bool
	wake     chan struct{}
	stop     chan struct{}
	recvDone chan struct{}
	sendDone chan struct{}

	datagramsSent     atomic.Int64
	datagramsReceived atomic.Int64
	bytesSent         atomic.Int64
	bytesReceived     atomic.Int64
	bytesPending      atomic.Int64
}

// New creates a Server from the given config. The server starts Stopped;
// call Start or StartMulticast to bind and begin receiving.
//
// Parameters:
//   - cfg: Server configuration (e.g. from DefaultConfig)
//
// Returns:
//   - A new *Server ready to be started
func New(cfg Config) *Server {
	if cfg.Name == "" {
		cfg.Name = "udp-server"
	}
	if cfg.Handler == nil {
		cfg.Handler = NopHandler{}
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
		log:         cfg.Logger.With(logger.Field{Key: "server", Value: cfg.Name}),
		resolver:    cfg.Resolver,
		scratchSize: cfg.ScratchBufferSize,
	}
}

// State returns the server's current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// IsStarted reports whether the server is bound and receiving.
func (s *Server) IsStarted() bool {
	return s.State() == Started
}

// Endpoint returns the endpoint the server was configured with.
func (s *Server) Endpoint() endpoint.Endpoint {
	return s.ep
}

// LocalAddr returns the bound socket address, or nil when not started.
// Useful when the configured endpoint uses port 0.
func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// DatagramsSent returns the total datagrams written. Monotonic non-decreasing.
func (s *Server) DatagramsSent() int64 {
	return s.datagramsSent.Load()
}

// DatagramsReceived returns the total datagrams read. Monotonic non-decreasing.
func (s *Server) DatagramsReceived() int64 {
	return s.datagramsReceived.Load()
}

// BytesSent returns the total payload bytes written. Monotonic non-decreasing.
func (s *Server) BytesSent() int64 {
	return s.bytesSent.Load()
}

// BytesReceived returns the total payload bytes read. Monotonic non-decreasing.
func (s *Server) BytesReceived() int64 {
	return s.bytesReceived.Load()
}

// BytesPending returns the payload bytes queued but not yet written.
func (s *Server) BytesPending() int64 {
	return s.bytesPending.Load()
}

// Start binds the configured endpoint and begins the continuous receive
// loop. A bind failure is reported through the handler's OnError and the
// server stays Stopped.
//
// Parameters:
//   - ctx: Context bounding endpoint resolution and the bind
//
// Returns:
//   - nil on success; ErrAlreadyStarted if the server is not Stopped, or
//     the resolution/bind error otherwise
func (s *Server) Start(ctx context.Context) error {
	return s.start(ctx, endpoint.Endpoint{}, false)
}

// StartMulticast binds the configured endpoint, joins the given multicast
// group, and begins the receive loop. The group endpoint is recorded as the
// destination for subsequent Multicast calls.
//
// Parameters:
//   - ctx: Context bounding endpoint resolution and the bind
//   - group: The multicast group endpoint to join
//
// Returns:
//   - nil on success; ErrAlreadyStarted if the server is not Stopped, or
//     the resolution/join error otherwise
func (s *Server) StartMulticast(ctx context.Context, group endpoint.Endpoint) error {
	return s.start(ctx, group, true)
}

func (s *Server) start(ctx context.Context, group endpoint.Endpoint, multicast bool) error {
	if !s.state.CompareAndSwap(int32(Stopped), int32(Starting)) {
		return ErrAlreadyStarted
	}

	conn, groupAddr, err := s.bind(ctx, group, multicast)
	if err != nil {
		s.state.Store(int32(Stopped))
		s.handler.OnError(s, neterror.Wrap("bind", err))
		s.log.Error("failed to bind", logger.Field{Key: "error", Value: err})
		return fmt.Errorf("server %s failed to bind %s: %w", s.cfg.Name, s.ep, err)
	}

	socketopt.ApplyConn(conn, s.opts)

	s.mu.Lock()
	s.conn = conn
	s.queue = nil
	s.group = groupAddr
	s.groupEp = group
	s.hasGroup = multicast
	s.wake = make(chan struct{}, 1)
	s.stop = make(chan struct{})
	s.recvDone = make(chan struct{})
	s.sendDone = make(chan struct{})
	s.mu.Unlock()

	s.state.Store(int32(Started))

	s.log.Info("server started", logger.Field{Key: "addr", Value: conn.LocalAddr().String()})
	s.handler.OnStarted(s)

	go s.receiveLoop(conn)
	go s.sendLoop(conn)
	return nil
}

// bind opens the UDP socket, joining the multicast group when requested.
func (s *Server) bind(ctx context.Context, group endpoint.Endpoint, multicast bool) (*net.UDPConn, *net.UDPAddr, error) {
	if multicast {
		groupAddr, err := s.resolver.ResolveUDP(ctx, group)
		if err != nil {
			return nil, nil, err
		}

		// ListenMulticastUDP sets the reuse options itself and binds to the
		// group's port on all interfaces.
		conn, err := net.ListenMulticastUDP(group.Network, nil, groupAddr)
		if err != nil {
			return nil, nil, err
		}
		return conn, groupAddr, nil
	}

	addr, err := s.resolver.ResolveUDP(ctx, s.ep)
	if err != nil {
		return nil, nil, err
	}

	lc := net.ListenConfig{Control: socketopt.ListenControl(s.opts)}
	pc, err := lc.ListenPacket(ctx, s.ep.Network, addr.String())
	if err != nil {
		return nil, nil, err
	}

	return pc.(*net.UDPConn), nil, nil
}

// Stop closes the socket, which cancels the outstanding receive, waits for
// both loops to finish, and discards any queued sends.
//
// Returns:
//   - nil on success; ErrNotStarted if the server is not Started
func (s *Server) Stop() error {
	if !s.state.CompareAndSwap(int32(Started), int32(Stopping)) {
		return ErrNotStarted
	}

	s.mu.Lock()
	conn := s.conn
	close(s.stop)
	discarded := s.bytesPending.Swap(0)
	s.queue = nil
	s.mu.Unlock()

	_ = conn.Close()
	<-s.recvDone
	<-s.sendDone

	if discarded > 0 {
		s.log.Debug("discarding unsent bytes on stop",
			logger.Field{Key: "bytes", Value: discarded})
	}

	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()

	s.state.Store(int32(Stopped))
	s.log.Info("server stopped")
	s.handler.OnStopped(s)
	return nil
}

// Restart stops the server and starts it again with the same endpoint,
// rejoining the multicast group when one was configured.
//
// Parameters:
//   - ctx: Context bounding the new bind
//
// Returns:
//   - nil on success, or the first error from Stop or Start
func (s *Server) Restart(ctx context.Context) error {
	s.mu.Lock()
	group := s.groupEp
	multicast := s.hasGroup
	s.mu.Unlock()

	if err := s.Stop(); err != nil {
		return err
	}
	return s.start(ctx, group, multicast)
}

// Send resolves the destination endpoint and queues the datagram for the
// sender goroutine. The buffer is copied; the call never blocks. A
// resolution failure is reported through OnError.
//
// Parameters:
//   - ep: The destination endpoint
//   - data: The datagram payload
//
// Returns:
//   - true if the datagram was queued, false if the server is not Started
//     or the endpoint did not resolve
func (s *Server) Send(ep endpoint.Endpoint, data []byte) bool {
	if !s.IsStarted() {
		return false
	}

	addr, err := s.resolver.ResolveUDP(context.Background(), ep)
	if err != nil {
		s.handler.OnError(s, neterror.Wrap(fmt.Sprintf("resolve %s", ep), err))
		return false
	}

	return s.SendTo(addr, data)
}

// SendTo queues a datagram for an already-resolved destination. Typically
// used to reply to the source address delivered by OnReceived.
//
// Parameters:
//   - addr: The destination address
//   - data: The datagram payload
//
// Returns:
//   - true if the datagram was queued, false if the server is not Started
func (s *Server) SendTo(addr *net.UDPAddr, data []byte) bool {
	if addr == nil {
		return false
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	if s.State() != Started {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, outbound{addr: addr, data: buf})
	s.bytesPending.Add(int64(len(buf)))
	wake := s.wake
	s.mu.Unlock()

	select {
	case wake <- struct{}{}:
	default:
	}
	return true
}

// Multicast queues a datagram for the multicast group joined at start.
//
// Parameters:
//   - data: The datagram payload
//
// Returns:
//   - true if the datagram was queued, false if the server is not Started
//     or was started without a multicast group
func (s *Server) Multicast(data []byte) bool {
	s.mu.Lock()
	group := s.group
	s.mu.Unlock()

	if group == nil || !s.IsStarted() {
		return false
	}
	return s.SendTo(group, data)
}

// receiveLoop issues one receive at a time into the scratch buffer and
// delivers each datagram through OnReceived. There is exactly one logical
// reader regardless of how many peers send. The loop exits when the socket
// closes; other receive errors are reported and the loop resumes.
func (s *Server) receiveLoop(conn *net.UDPConn) {
	defer close(s.recvDone)

	buf := make([]byte, s.scratchSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if n > 0 {
			s.datagramsReceived.Add(1)
			s.bytesReceived.Add(int64(n))
			s.handler.OnReceived(s, from, buf[:n])
		}

		if err != nil {
			if neterror.IsClosed(err) || s.State() != Started {
				return
			}

			s.handler.OnError(s, neterror.Wrap("receive-from", err))
		}
	}
}

// sendLoop drains the queue FIFO, one datagram at a time. Serializing sends
// through one goroutine gives per-server FIFO completion order across all
// destinations. A failed send is reported with its destination and not
// retried.
func (s *Server) sendLoop(conn *net.UDPConn) {
	defer close(s.sendDone)

	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			out := s.queue[0]
			s.queue = s.queue[1:]
			s.bytesPending.Add(-int64(len(out.data)))
			s.mu.Unlock()

			n, err := conn.WriteToUDP(out.data, out.addr)
			if err != nil {
				if neterror.IsClosed(err) {
					return
				}

				s.handler.OnError(s, neterror.Wrap(fmt.Sprintf("send-to %s", out.addr), err))
				continue
			}

			s.datagramsSent.Add(1)
			s.bytesSent.Add(int64(n))
			s.handler.OnSent(s, out.addr, n)
		}
	}
}
