// Command homaengine runs a standalone Homa transport engine bound to a
// raw IP socket, exporting its counters over Prometheus and driving the
// timer off a fixed-period ticker — the engine's equivalent of the
// teacher's tap-driven example stacks, wired to a real network interface
// instead of a loopback tap.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dcrpc/homa/engine"
	"github.com/dcrpc/homa/metrics"
	"github.com/dcrpc/homa/rawsock"
)

func main() {
	var (
		iface      = flag.String("iface", "", "network interface to bind the raw Homa socket to (required)")
		source     = flag.String("source", "", "local IPv4 source address (required)")
		metricAddr = flag.String("metrics-addr", ":9146", "address to serve /metrics on")
		linkMbps   = flag.Int("link-mbps", 10000, "link rate used for NIC pacing, in Mbit/s")
		tickPeriod = flag.Duration("tick", 5*time.Millisecond, "timer tick period")
		verbose    = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()
	if *iface == "" || *source == "" {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := engine.DefaultConfig()
	cfg.LinkMbps = uint32(*linkMbps)
	cfg.Logger = logger

	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("homaengine: build engine: %v", err)
	}

	conn, err := rawsock.Open(rawsock.Config{
		Source:    net.ParseIP(*source),
		Interface: *iface,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("homaengine: open raw socket: %v", err)
	}
	defer conn.Close()
	eng.SetWriter(conn)

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(eng.Metrics()))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: *metricAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("homaengine: metrics server", slog.String("err", err.Error()))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := conn.ReadLoop(ctx, eng); err != nil && ctx.Err() == nil {
			logger.Error("homaengine: read loop exited", slog.String("err", err.Error()))
		}
	}()

	ticker := time.NewTicker(*tickPeriod)
	defer ticker.Stop()
	logger.Info("homaengine: running", slog.String("iface", *iface), slog.String("source", *source), slog.String("metrics", *metricAddr))
	for {
		select {
		case <-ctx.Done():
			logger.Info("homaengine: shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(shutdownCtx)
			shutdownCancel()
			return
		case <-ticker.C:
			eng.Tick()
		}
	}
}
