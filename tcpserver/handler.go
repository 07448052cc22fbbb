package tcpserver

import (
	"github.com/cyberinferno/go-netserver/neterror"
)

// SessionHandler receives the notifications of one session. The server
// obtains a handler for each accepted connection through the session
// factory; all notifications for that connection route through it.
//
// Handlers are invoked from the session's I/O goroutines and must not block;
// a blocking handler stalls that session's reads or writes. Implementations
// that only care about some notifications should embed NopSessionHandler.
type SessionHandler interface {
	// OnConnected is called once when the session reaches the Connected state.
	OnConnected(s *Session)

	// OnDisconnected is called once when the session is torn down, after it
	// has been removed from the server's registry.
	OnDisconnected(s *Session)

	// OnReceived is called for each chunk of bytes read from the peer. The
	// data slice is a view into the session's scratch buffer and is only
	// valid for the duration of the call; copy it to retain it.
	//
	// Parameters:
	//   - s: The session the data arrived on
	//   - data: The received bytes (valid only during the callback)
	OnReceived(s *Session, data []byte)

	// OnSending is called before a queued chunk is written to the transport.
	// Returning false vetoes the write: the chunk stays queued, no bytes
	// move, and the same chunk is offered again on the next send trigger
	// (a subsequent Send call or ResumeSending).
	//
	// Parameters:
	//   - s: The session about to write
	//   - size: Size of the chunk about to be written
	//
	// Returns:
	//   - true to allow the write, false to leave the chunk queued
	OnSending(s *Session, size int) bool

	// OnSent is called after a chunk has been written to the transport.
	//
	// Parameters:
	//   - s: The session that wrote
	//   - sent: Number of bytes just written
	//   - pending: Number of bytes still queued after this write
	OnSent(s *Session, sent int, pending int64)

	// OnEmpty is called when the send queue drains to empty. It is the
	// natural point to enqueue more data without polling BytesPending.
	OnEmpty(s *Session)

	// OnError is called when a read or write on this session fails for a
	// reason other than orderly closure. The failure is confined to this
	// session; the server keeps accepting.
	OnError(s *Session, err *neterror.Error)
}

// NopSessionHandler is a SessionHandler whose methods do nothing and whose
// OnSending always allows the write. Embed it to implement only the
// notifications you care about.
type NopSessionHandler struct{}

func (NopSessionHandler) OnConnected(*Session)              {}
func (NopSessionHandler) OnDisconnected(*Session)           {}
func (NopSessionHandler) OnReceived(*Session, []byte)       {}
func (NopSessionHandler) OnSending(*Session, int) bool      { return true }
func (NopSessionHandler) OnSent(*Session, int, int64)       {}
func (NopSessionHandler) OnEmpty(*Session)                  {}
func (NopSessionHandler) OnError(*Session, *neterror.Error) {}

// ServerHandler receives the lifecycle notifications of a server. Implement
// it to observe start/stop transitions, session arrivals and departures, and
// server-level errors (bind and accept failures). Embed NopServerHandler to
// implement a subset.
type ServerHandler interface {
	// OnStarted is called once when the server has bound and begun accepting.
	OnStarted(srv *Server)

	// OnStopped is called once when the server has fully stopped.
	OnStopped(srv *Server)

	// OnSessionConnected is called after a session is registered and
	// Connected, before its receive loop starts.
	OnSessionConnected(s *Session)

	// OnSessionDisconnected is called after a session has been removed from
	// the registry during teardown.
	OnSessionDisconnected(s *Session)

	// OnError is called for bind and accept failures. Accept failures are
	// transient: the accept loop resumes after reporting.
	OnError(srv *Server, err *neterror.Error)
}

// NopServerHandler is a ServerHandler whose methods do nothing.
type NopServerHandler struct{}

func (NopServerHandler) OnStarted(*Server)                {}
func (NopServerHandler) OnStopped(*Server)                {}
func (NopServerHandler) OnSessionConnected(*Session)      {}
func (NopServerHandler) OnSessionDisconnected(*Session)   {}
func (NopServerHandler) OnError(*Server, *neterror.Error) {}

// SessionFactory produces the handler for a newly accepted session. The
// server calls the factory for every connection it accepts, so a deployer
// can route notifications to a specialized handler per session (the session
// is fully constructed but not yet Connected when the factory runs). A nil
// factory yields NopSessionHandler for every session.
type SessionFactory func(s *Session) SessionHandler
