package endpoint

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// DefaultResolveTTL is the cache lifetime for resolved hostnames when no TTL
// is supplied to NewResolver.
const DefaultResolveTTL = 30 * time.Second

// Resolver resolves endpoint hostnames to IP addresses with a TTL cache.
// Lookups for the same hostname issued concurrently are collapsed into a
// single DNS query via singleflight, so a burst of sends to one destination
// costs one lookup. IP-literal and wildcard hosts bypass the cache entirely.
// Resolver is safe for concurrent use.
type Resolver struct {
	cache *cache.Cache
	group singleflight.Group
	ttl   time.Duration
}

// NewResolver creates a Resolver whose entries expire after ttl. A
// non-positive ttl selects DefaultResolveTTL.
//
// Parameters:
//   - ttl: Time-to-live for cached hostname resolutions
//
// Returns:
//   - A new Resolver instance
func NewResolver(ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultResolveTTL
	}

	return &Resolver{
		cache: cache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// ResolveTCP resolves ep to a *net.TCPAddr. The endpoint's network must be a
// tcp variant.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control of the DNS lookup
//   - ep: The endpoint to resolve
//
// Returns:
//   - The resolved TCP address
//   - An error if the network is not tcp or the lookup fails
func (r *Resolver) ResolveTCP(ctx context.Context, ep Endpoint) (*net.TCPAddr, error) {
	switch ep.Network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("endpoint %s is not a tcp endpoint", ep)
	}

	ip, err := r.lookup(ctx, ep.Host)
	if err != nil {
		return nil, err
	}

	return &net.TCPAddr{IP: ip, Port: ep.Port}, nil
}

// ResolveUDP resolves ep to a *net.UDPAddr. The endpoint's network must be a
// udp variant.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control of the DNS lookup
//   - ep: The endpoint to resolve
//
// Returns:
//   - The resolved UDP address
//   - An error if the network is not udp or the lookup fails
func (r *Resolver) ResolveUDP(ctx context.Context, ep Endpoint) (*net.UDPAddr, error) {
	switch ep.Network {
	case "udp", "udp4", "udp6":
	default:
		return nil, fmt.Errorf("endpoint %s is not a udp endpoint", ep)
	}

	ip, err := r.lookup(ctx, ep.Host)
	if err != nil {
		return nil, err
	}

	return &net.UDPAddr{IP: ip, Port: ep.Port}, nil
}

// lookup returns the IP for host. An empty host (wildcard bind) yields a nil
// IP; an IP literal is parsed directly. Hostnames go through the cache and
// the singleflight group.
func (r *Resolver) lookup(ctx context.Context, host string) (net.IP, error) {
	if host == "" {
		return nil, nil
	}

	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}

	if cached, found := r.cache.Get(host); found {
		if ip, ok := cached.(net.IP); ok {
			return ip, nil
		}
	}

	val, err, _ := r.group.Do(host, func() (interface{}, error) {
		// Another goroutine may have populated the cache while this one
		// waited on the singleflight lock.
		if cached, found := r.cache.Get(host); found {
			if ip, ok := cached.(net.IP); ok {
				return ip, nil
			}
		}

		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("no addresses found for host %q", host)
		}

		ip := addrs[0].IP
		r.cache.Set(host, ip, r.ttl)
		return ip, nil
	})
	if err != nil {
		return nil, err
	}

	return val.(net.IP), nil
}

// Flush drops all cached resolutions. Subsequent lookups hit DNS again.
func (r *Resolver) Flush() {
	r.cache.Flush()
}
