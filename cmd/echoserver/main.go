// Command echoserver runs a TCP echo server and a UDP echo server built on
// the go-netserver engine, with optional Prometheus metrics. It exists both
// as a usage example and as a handy peer for manual testing:
//
//	echoserver --tcp-addr :4000 --udp-addr :4001 --metrics-addr :9100
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/go-netserver/endpoint"
	"github.com/cyberinferno/go-netserver/logger"
	"github.com/cyberinferno/go-netserver/metrics"
	"github.com/cyberinferno/go-netserver/tcpserver"
	"github.com/cyberinferno/go-netserver/udpserver"
)

func main() {
	var (
		tcpPort     int
		udpPort     int
		bindHost    string
		metricsAddr string
		debug       bool
	)

	rootCmd := &cobra.Command{
		Use:   "echoserver",
		Short: "TCP and UDP echo servers built on go-netserver",
		Long: `echoserver starts a connection-oriented echo server and a
connectionless echo server on the given ports. Every byte a peer sends is
sent straight back. With --metrics-addr set, server counters are exposed
as Prometheus metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(bindHost, tcpPort, udpPort, metricsAddr, debug)
		},
	}

	rootCmd.Flags().StringVar(&bindHost, "host", "", "host or IP to bind (default all interfaces)")
	rootCmd.Flags().IntVar(&tcpPort, "tcp-port", 4000, "TCP echo port")
	rootCmd.Flags().IntVar(&udpPort, "udp-port", 4001, "UDP echo port")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address for the Prometheus /metrics endpoint (disabled when empty)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// echoSession echoes every received chunk back to the peer.
type echoSession struct {
	tcpserver.NopSessionHandler
}

func (echoSession) OnReceived(s *tcpserver.Session, data []byte) {
	s.Send(data)
}

// echoDatagram echoes every received datagram back to its source.
type echoDatagram struct {
	udpserver.NopHandler
}

func (echoDatagram) OnReceived(srv *udpserver.Server, from *net.UDPAddr, data []byte) {
	srv.SendTo(from, data)
}

func run(host string, tcpPort, udpPort int, metricsAddr string, debug bool) error {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	log := logger.NewZerologLogger(zerolog.New(os.Stdout), "echoserver", level)

	resolver := endpoint.NewResolver(0)

	tcpCfg := tcpserver.DefaultConfig(endpoint.TCP(host, tcpPort))
	tcpCfg.Name = "tcp-echo"
	tcpCfg.Logger = log
	tcpCfg.Resolver = resolver
	tcpCfg.SessionFactory = func(*tcpserver.Session) tcpserver.SessionHandler {
		return echoSession{}
	}
	tcpSrv := tcpserver.New(tcpCfg)

	udpCfg := udpserver.DefaultConfig(endpoint.UDP(host, udpPort))
	udpCfg.Name = "udp-echo"
	udpCfg.Logger = log
	udpCfg.Resolver = resolver
	udpCfg.Handler = echoDatagram{}
	udpSrv := udpserver.New(udpCfg)

	ctx := context.Background()
	if err := tcpSrv.Start(ctx); err != nil {
		return err
	}
	defer func() {
		_ = tcpSrv.Stop()
	}()

	if err := udpSrv.Start(ctx); err != nil {
		return err
	}
	defer func() {
		_ = udpSrv.Stop()
	}()

	if metricsAddr != "" {
		collector := metrics.NewCollector("netserver")
		collector.RegisterStream("tcp-echo", tcpSrv)
		collector.RegisterDatagram("udp-echo", udpSrv)

		reg := prometheus.NewRegistry()
		if err := reg.Register(collector); err != nil {
			return err
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Error("metrics endpoint failed", logger.Field{Key: "error", Value: err})
			}
		}()
		log.Info("metrics endpoint started", logger.Field{Key: "addr", Value: metricsAddr})
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	return nil
}
