// Command dnssrc serves the DNS reflector of §1-§9: a single authoritative
// zone that answers with properties of the query itself (source address,
// EDNS state, a monotonic counter, random values, timestamps) over UDP,
// TCP, DoT, DoH and DoQ simultaneously, on IPv4 and IPv6.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davidgroves/dnssrc/internal/config"
	"github.com/davidgroves/dnssrc/internal/dnsengine"
	"github.com/davidgroves/dnssrc/internal/dnslog"
	"github.com/davidgroves/dnssrc/internal/metrics"
	"github.com/davidgroves/dnssrc/internal/privdrop"
	"github.com/davidgroves/dnssrc/internal/transport"
	"github.com/davidgroves/dnssrc/internal/zone"
)

// shutdownGrace is the drain deadline of §4.F's "Shutdown" lifecycle step.
const shutdownGrace = 5 * time.Second

func main() {
	cfg, err := config.Parse(os.Args[1:], os.LookupEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	dnslog.SetLevel(dnslog.ParseLevel(cfg.LogLevel))

	if err := run(cfg); err != nil {
		dnslog.Error(err, "dnssrc exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	z := zone.New(cfg.Domain, cfg.TTL, cfg.NSRecords, zone.SOAParams{
		MName:   cfg.SOA.MName,
		RName:   cfg.SOA.RName,
		Serial:  cfg.SOA.Serial,
		Refresh: cfg.SOA.Refresh,
		Retry:   cfg.SOA.Retry,
		Expire:  cfg.SOA.Expire,
		Minimum: cfg.SOA.Minimum,
	})

	state := dnsengine.NewState()
	dispatcher := dnsengine.NewDispatcher(z, state, 0)

	var rec *metrics.Recorder
	var metricsSrv *metrics.Server
	var metricsLn net.Listener
	if cfg.MetricsAddr != "" {
		rec = metrics.New()
		dispatcher.Metrics = rec

		ln, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("dnssrc: binding --metrics %s: %w", cfg.MetricsAddr, err)
		}
		metricsLn = ln
		metricsSrv = metrics.NewServer(cfg.MetricsAddr, rec)
	}

	var tlsConfig *tls.Config
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return fmt.Errorf("dnssrc: loading --certfile/--keyfile: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	srv := transport.NewServer(dispatcher, tlsConfig)

	// §4.F: bind every listener socket first (Add* only binds now; it
	// queues the accept/read loop rather than starting it).
	if err := bindAll(srv, cfg); err != nil {
		return err
	}

	if err := privdrop.Drop(cfg.User, cfg.Group); err != nil {
		return fmt.Errorf("dnssrc: dropping privileges: %w", err)
	}

	// Only after privileges are dropped do the already-bound listeners
	// start reading, and the metrics endpoint start serving.
	srv.Start()

	if metricsLn != nil {
		go func() {
			if err := metricsSrv.Serve(metricsLn); err != nil {
				dnslog.Error(err, "metrics server exited")
			}
		}()
	}

	dnslog.Info("dnssrc started", "domain", cfg.Domain, "listeners", listenerSummary(cfg))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		dnslog.Info("received signal, shutting down", "signal", sig.String())
	case err := <-srv.Errs():
		dnslog.Error(err, "listener failed, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("dnssrc: shutdown: %w", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			dnslog.Error(err, "metrics server shutdown")
		}
	}
	return nil
}

func bindAll(srv *transport.Server, cfg *config.Config) error {
	for _, addr := range cfg.UDP {
		if err := srv.AddUDP(addr); err != nil {
			return fmt.Errorf("dnssrc: --udp %s: %w", addr, err)
		}
	}
	for _, addr := range cfg.UDP6 {
		if err := srv.AddUDP(addr); err != nil {
			return fmt.Errorf("dnssrc: --udp6 %s: %w", addr, err)
		}
	}
	for _, addr := range cfg.TCP {
		if err := srv.AddTCP(addr); err != nil {
			return fmt.Errorf("dnssrc: --tcp %s: %w", addr, err)
		}
	}
	for _, addr := range cfg.TCP6 {
		if err := srv.AddTCP(addr); err != nil {
			return fmt.Errorf("dnssrc: --tcp6 %s: %w", addr, err)
		}
	}
	for _, addr := range cfg.TLS {
		if err := srv.AddTLS(addr); err != nil {
			return fmt.Errorf("dnssrc: --tls %s: %w", addr, err)
		}
	}
	for _, addr := range cfg.TLS6 {
		if err := srv.AddTLS(addr); err != nil {
			return fmt.Errorf("dnssrc: --tls6 %s: %w", addr, err)
		}
	}
	for _, addr := range cfg.DoH {
		if err := srv.AddDoH(addr); err != nil {
			return fmt.Errorf("dnssrc: --doh %s: %w", addr, err)
		}
	}
	for _, addr := range cfg.DoH6 {
		if err := srv.AddDoH(addr); err != nil {
			return fmt.Errorf("dnssrc: --doh6 %s: %w", addr, err)
		}
	}
	for _, addr := range cfg.QUIC {
		if err := srv.AddQUIC(addr); err != nil {
			return fmt.Errorf("dnssrc: --quic %s: %w", addr, err)
		}
	}
	for _, addr := range cfg.QUIC6 {
		if err := srv.AddQUIC(addr); err != nil {
			return fmt.Errorf("dnssrc: --quic6 %s: %w", addr, err)
		}
	}
	return nil
}

func listenerSummary(cfg *config.Config) int {
	return len(cfg.UDP) + len(cfg.UDP6) + len(cfg.TCP) + len(cfg.TCP6) +
		len(cfg.DoH) + len(cfg.DoH6) + len(cfg.TLS) + len(cfg.TLS6) +
		len(cfg.QUIC) + len(cfg.QUIC6)
}
