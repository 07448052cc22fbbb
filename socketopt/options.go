// Package socketopt holds the socket option surface shared by the
// connection-oriented and connectionless servers: address/port reuse, kernel
// buffer sizes and no-delay. Every option is a best-effort OS hint; a kernel
// that does not support an option silently ignores it.
package socketopt

import "net"

// Options configures socket-level behavior for a server and the connections
// it accepts. The zero value applies no options; use Default for the usual
// server settings.
type Options struct {
	// ReuseAddress enables SO_REUSEADDR on the listening or bound socket.
	ReuseAddress bool
	// ReusePort enables SO_REUSEPORT where the OS supports it.
	ReusePort bool
	// ReceiveBufferSize sets SO_RCVBUF when > 0.
	ReceiveBufferSize int
	// SendBufferSize sets SO_SNDBUF when > 0.
	SendBufferSize int
	// NoDelay disables Nagle's algorithm on accepted TCP connections.
	NoDelay bool
}

// Default returns the options servers start from: address reuse on (so
// restarts do not trip over TIME_WAIT), port reuse off, kernel-default
// buffer sizes, no-delay off.
//
// Returns:
//   - The default Options value
func Default() Options {
	return Options{
		ReuseAddress: true,
	}
}

// ApplyConn applies the per-connection options to an accepted or bound
// socket: no-delay for TCP connections and kernel buffer sizes for any
// connection type that supports them. Failures are ignored; these are hints.
//
// Parameters:
//   - conn: The connection to configure
//   - opts: The options to apply
func ApplyConn(conn net.Conn, opts Options) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(opts.NoDelay)
		if opts.ReceiveBufferSize > 0 {
			_ = tcp.SetReadBuffer(opts.ReceiveBufferSize)
		}
		if opts.SendBufferSize > 0 {
			_ = tcp.SetWriteBuffer(opts.SendBufferSize)
		}
		return
	}

	if udp, ok := conn.(*net.UDPConn); ok {
		if opts.ReceiveBufferSize > 0 {
			_ = udp.SetReadBuffer(opts.ReceiveBufferSize)
		}
		if opts.SendBufferSize > 0 {
			_ = udp.SetWriteBuffer(opts.SendBufferSize)
		}
	}
}
