// Package endpoint provides the immutable (network, address-or-hostname,
// port) value that servers bind to and datagrams are addressed with, plus a
// Resolver that turns hostnames into socket addresses through a TTL cache.
package endpoint

import (
	"net"
	"strconv"
)

// Endpoint is an immutable transport endpoint. The zero value is not usable;
// construct endpoints with TCP, UDP or their protocol-specific variants.
// Servers and sessions hold endpoints by value and never mutate them.
type Endpoint struct {
	// Network is a Go network name: "tcp", "tcp4", "tcp6", "udp", "udp4" or "udp6".
	Network string
	// Host is an IP address literal, a hostname, or empty for a wildcard bind.
	Host string
	// Port is the port number.
	Port int
}

// TCP returns a connection-oriented endpoint for the given host and port.
// The host may be an IP literal, a hostname, or empty for wildcard binds.
//
// Parameters:
//   - host: IP address, hostname or "" for all interfaces
//   - port: Port number
//
// Returns:
//   - An Endpoint with network "tcp"
func TCP(host string, port int) Endpoint {
	return Endpoint{Network: "tcp", Host: host, Port: port}
}

// TCPv4 returns an IPv4-only connection-oriented endpoint.
func TCPv4(host string, port int) Endpoint {
	return Endpoint{Network: "tcp4", Host: host, Port: port}
}

// TCPv6 returns an IPv6-only connection-oriented endpoint.
func TCPv6(host string, port int) Endpoint {
	return Endpoint{Network: "tcp6", Host: host, Port: port}
}

// UDP returns a connectionless endpoint for the given host and port.
//
// Parameters:
//   - host: IP address, hostname or "" for all interfaces
//   - port: Port number
//
// Returns:
//   - An Endpoint with network "udp"
func UDP(host string, port int) Endpoint {
	return Endpoint{Network: "udp", Host: host, Port: port}
}

// UDPv4 returns an IPv4-only connectionless endpoint.
func UDPv4(host string, port int) Endpoint {
	return Endpoint{Network: "udp4", Host: host, Port: port}
}

// UDPv6 returns an IPv6-only connectionless endpoint.
func UDPv6(host string, port int) Endpoint {
	return Endpoint{Network: "udp6", Host: host, Port: port}
}

// Addr returns the "host:port" form suitable for net.Listen and net.Dial.
//
// Returns:
//   - The joined host and port (e.g. "127.0.0.1:8080" or ":8080")
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String returns a readable "network://host:port" form for logs.
func (e Endpoint) String() string {
	return e.Network + "://" + e.Addr()
}

// IsZero reports whether the endpoint is the unusable zero value.
func (e Endpoint) IsZero() bool {
	return e.Network == "" && e.Host == "" && e.Port == 0
}
