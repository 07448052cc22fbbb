// Package neterror normalizes I/O failures into the uniform error
// notification payload used across the server engine: a numeric code, a
// category string, and a human-readable message. Handlers receive *Error
// values regardless of which socket operation failed.
package neterror

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Category values reported through error notifications.
const (
	CategorySystem  = "system"  // OS-level socket failure carrying an errno
	CategoryAddress = "address" // address resolution or parse failure
	CategoryTimeout = "timeout" // deadline exceeded on a socket operation
	CategoryClosed  = "closed"  // operation on a closed or reset socket
	CategoryGeneric = "generic" // anything that fits no other category
)

// Error is the payload delivered to error notification handlers. Code is the
// OS errno when one is available and 0 otherwise; Category is one of the
// Category constants; Message describes the failing operation.
type Error struct {
	Code     int
	Category string
	Message  string
	Err      error
}

// Error implements the error interface.
//
// Returns:
//   - A string of the form "category (code): message"
func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap normalizes err into an *Error attributed to the named operation
// (e.g. "accept", "read", "send-to"). The errno is extracted when the error
// chain contains a syscall.Errno; the category is derived from the error's
// shape.
//
// Parameters:
//   - op: Short name of the socket operation that failed
//   - err: The underlying error; must be non-nil
//
// Returns:
//   - An *Error carrying code, category and a human-readable message
func Wrap(op string, err error) *Error {
	return &Error{
		Code:     errnoOf(err),
		Category: categoryOf(err),
		Message:  fmt.Sprintf("%s: %v", op, err),
		Err:      err,
	}
}

// IsClosed reports whether err indicates the peer closed the connection or
// the local socket was shut down: EOF, use-of-closed, connection reset, or a
// broken pipe. Read loops use this to distinguish orderly closure from
// reportable failures.
//
// Parameters:
//   - err: The error returned by a socket operation
//
// Returns:
//   - true if the error means the stream is finished, false otherwise
func IsClosed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}

// errnoOf extracts the OS errno from the error chain, or 0 if none.
func errnoOf(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}

	return 0
}

// categoryOf maps an error to one of the Category constants.
func categoryOf(err error) string {
	if IsClosed(err) {
		return CategoryClosed
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}

	var addrErr *net.AddrError
	var dnsErr *net.DNSError
	if errors.As(err, &addrErr) || errors.As(err, &dnsErr) {
		return CategoryAddress
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return CategorySystem
	}

	return CategoryGeneric
}
