package udpserver

import (
	"net"

	"github.com/cyberinferno/go-netserver/neterror"
)

// Handler receives the notifications of a datagram server. Unlike the
// connection-oriented server there are no sessions: one handler observes
// every datagram regardless of how many peers send them.
//
// Handlers are invoked from the server's I/O goroutines and must not block.
// Embed NopHandler to implement a subset.
type Handler interface {
	// OnStarted is called once when the server has bound its socket.
	OnStarted(srv *Server)

	// OnStopped is called once when the server has fully stopped.
	OnStopped(srv *Server)

	// OnReceived is called for each datagram read from the socket. The data
	// slice is a view into the server's scratch buffer and is only valid
	// for the duration of the call; copy it to retain it.
	//
	// Parameters:
	//   - srv: The receiving server
	//   - from: The datagram's source address
	//   - data: The datagram payload (valid only during the callback)
	OnReceived(srv *Server, from *net.UDPAddr, data []byte)

	// OnSent is called after a datagram has been written to the socket.
	//
	// Parameters:
	//   - srv: The sending server
	//   - to: The datagram's destination address
	//   - sent: Number of bytes written
	OnSent(srv *Server, to *net.UDPAddr, sent int)

	// OnError is called when a receive or send fails. Failures are scoped
	// to the single operation: the receive loop resumes and queued sends
	// continue. There is no automatic retry.
	OnError(srv *Server, err *neterror.Error)
}

// NopHandler is a Handler whose methods do nothing.
type NopHandler struct{}

func (NopHandler) OnStarted(*Server)                        {}
func (NopHandler) OnStopped(*Server)                        {}
func (NopHandler) OnReceived(*Server, *net.UDPAddr, []byte) {}
func (NopHandler) OnSent(*Server, *net.UDPAddr, int)        {}
func (NopHandler) OnError(*Server, *neterror.Error)         {}
