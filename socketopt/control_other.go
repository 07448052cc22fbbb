//go:build !unix

package socketopt

import "syscall"

// ListenControl returns a no-op control function on platforms without the
// unix socket option interface. Reuse flags are hints and their absence is
// not an error.
func ListenControl(opts Options) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		return nil
	}
}
