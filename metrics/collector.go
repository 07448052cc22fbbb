// Package metrics exposes the read-only counters surface of the servers as
// a Prometheus collector. Counter values are read point-in-time at scrape;
// they are not transactionally consistent with concurrent I/O.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamStats is the counters surface of a connection-oriented server.
// *tcpserver.Server satisfies it.
type StreamStats interface {
	ConnectedSessions() int
	BytesSent() int64
	BytesReceived() int64
	BytesPending() int64
}

// DatagramStats is the counters surface of a connectionless server.
// *udpserver.Server satisfies it.
type DatagramStats interface {
	DatagramsSent() int64
	DatagramsReceived() int64
	BytesSent() int64
	BytesReceived() int64
	BytesPending() int64
}

// Collector gathers the counters of any number of registered servers. It
// implements prometheus.Collector; register it with a prometheus.Registerer
// to scrape it. Safe for concurrent use.
type Collector struct {
	mu        sync.RWMutex
	streams   map[string]StreamStats
	datagrams map[string]DatagramStats

	connectedSessions *prometheus.Desc
	bytesSent         *prometheus.Desc
	bytesReceived     *prometheus.Desc
	bytesPending      *prometheus.Desc
	datagramsSent     *prometheus.Desc
	datagramsReceived *prometheus.Desc
}

// NewCollector creates a Collector whose metrics live under the given
// namespace (e.g. "netserver"). Servers are attached afterwards with
// RegisterStream and RegisterDatagram.
//
// Parameters:
//   - namespace: The Prometheus namespace for all emitted metrics
//
// Returns:
//   - A new *Collector with no servers attached
func NewCollector(namespace string) *Collector {
	labels := []string{"server", "transport"}
	return &Collector{
		streams:   make(map[string]StreamStats),
		datagrams: make(map[string]DatagramStats),
		connectedSessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "connected_sessions"),
			"Number of sessions currently registered on the server.",
			[]string{"server"}, nil,
		),
		bytesSent: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "bytes_sent_total"),
			"Total payload bytes written by the server.",
			labels, nil,
		),
		bytesReceived: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "bytes_received_total"),
			"Total payload bytes read by the server.",
			labels, nil,
		),
		bytesPending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "bytes_pending"),
			"Payload bytes queued but not yet written.",
			labels, nil,
		),
		datagramsSent: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "datagrams_sent_total"),
			"Total datagrams written by the server.",
			[]string{"server"}, nil,
		),
		datagramsReceived: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "datagrams_received_total"),
			"Total datagrams read by the server.",
			[]string{"server"}, nil,
		),
	}
}

// RegisterStream attaches a connection-oriented server's counters under the
// given name. Registering the same name again replaces the previous entry.
//
// Parameters:
//   - name: Value of the "server" label for this server's metrics
//   - stats: The server's counters surface
func (c *Collector) RegisterStream(name string, stats StreamStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams[name] = stats
}

// RegisterDatagram attaches a connectionless server's counters under the
// given name. Registering the same name again replaces the previous entry.
//
// Parameters:
//   - name: Value of the "server" label for this server's metrics
//   - stats: The server's counters surface
func (c *Collector) RegisterDatagram(name string, stats DatagramStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.datagrams[name] = stats
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connectedSessions
	ch <- c.bytesSent
	ch <- c.bytesReceived
	ch <- c.bytesPending
	ch <- c.datagramsSent
	ch <- c.datagramsReceived
}

// Collect implements prometheus.Collector. Values are read from the
// registered servers at call time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for name, s := range c.streams {
		ch <- prometheus.MustNewConstMetric(c.connectedSessions,
			prometheus.GaugeValue, float64(s.ConnectedSessions()), name)
		ch <- prometheus.MustNewConstMetric(c.bytesSent,
			prometheus.CounterValue, float64(s.BytesSent()), name, "tcp")
		ch <- prometheus.MustNewConstMetric(c.bytesReceived,
			prometheus.CounterValue, float64(s.BytesReceived()), name, "tcp")
		ch <- prometheus.MustNewConstMetric(c.bytesPending,
			prometheus.GaugeValue, float64(s.BytesPending()), name, "tcp")
	}

	for name, d := range c.datagrams {
		ch <- prometheus.MustNewConstMetric(c.datagramsSent,
			prometheus.CounterValue, float64(d.DatagramsSent()), name)
		ch <- prometheus.MustNewConstMetric(c.datagramsReceived,
			prometheus.CounterValue, float64(d.DatagramsReceived()), name)
		ch <- prometheus.MustNewConstMetric(c.bytesSent,
			prometheus.CounterValue, float64(d.BytesSent()), name, "udp")
		ch <- prometheus.MustNewConstMetric(c.bytesReceived,
			prometheus.CounterValue, float64(d.BytesReceived()), name, "udp")
		ch <- prometheus.MustNewConstMetric(c.bytesPending,
			prometheus.GaugeValue, float64(d.BytesPending()), name, "udp")
	}
}
