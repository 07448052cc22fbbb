//go:build unix

package socketopt

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// ListenControl returns a control function for net.ListenConfig that applies
// the reuse options before the socket is bound. Option failures are ignored;
// SO_REUSEPORT in particular is not available on every kernel.
//
// Parameters:
//   - opts: The options whose reuse flags should be applied
//
// Returns:
//   - A function suitable for net.ListenConfig.Control
func ListenControl(opts Options) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		return c.Control(func(fd uintptr) {
			if opts.ReuseAddress {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}
			if opts.ReusePort {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}
		})
	}
}
