// Command ipcookied runs the Cookie Daemon: it owns the rotating
// secret pair and the shared cookie cache, listens for SET-COOKIE and
// SETCOOKIE-NOT-EXPECTED control messages, and serves Prometheus
// metrics alongside them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ayourtch/ipcookied/internal/acl"
	"github.com/ayourtch/ipcookied/internal/config"
	"github.com/ayourtch/ipcookied/internal/daemon"
	"github.com/ayourtch/ipcookied/internal/eventbus"
	"github.com/ayourtch/ipcookied/internal/ratelimit"
	"github.com/ayourtch/ipcookied/internal/sharedstate"
	"github.com/ayourtch/ipcookied/internal/worker"
)

var (
	cfgPath       = flag.String("config", "", "Path to YAML config file")
	controlListen = flag.String("control", "", "Control-socket listen address (overrides config)")
	metricsListen = flag.String("metrics-listen", "", "Prometheus metrics listen address (overrides config)")
	statePath     = flag.String("shared-state", "", "Shared-state file path (overrides config; empty = anonymous heap region)")
	printStats    = flag.Bool("stats", true, "Print statistics periodically")
)

func main() {
	flag.Parse()

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                                                              ║")
	fmt.Println("║                ipcookied - spoofing mitigation               ║")
	fmt.Println("║                                                              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *controlListen != "" {
		cfg.ControlListen = *controlListen
	}
	if *metricsListen != "" {
		cfg.MetricsListen = *metricsListen
	}
	if *statePath != "" {
		cfg.SharedStatePath = *statePath
	}

	fmt.Printf("Configuration:\n")
	fmt.Printf("  Control listen:   %s\n", cfg.ControlListen)
	fmt.Printf("  Metrics listen:   %s\n", cfg.MetricsListen)
	fmt.Printf("  Shared state:     %s\n", nonEmptyOr(cfg.SharedStatePath, "(anonymous heap region)"))
	fmt.Printf("  Accept uncookied: %v\n", cfg.AcceptUncookied)
	fmt.Printf("  Cache shards:     %d\n", cfg.CacheShardCount)
	fmt.Printf("  Cache capacity:   %d\n", cfg.CacheCapacity)
	fmt.Println()

	var handle *sharedstate.Handle
	var err error
	if cfg.SharedStatePath != "" {
		handle, err = sharedstate.InitFile(cfg.SharedStatePath, cfg.CacheCapacity, cfg.CacheShardCount, cfg.SecretRotationInterval)
	} else {
		handle, err = sharedstate.InitAnonymous(cfg.CacheCapacity, cfg.CacheShardCount, cfg.SecretRotationInterval)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing shared state: %v\n", err)
		os.Exit(1)
	}
	defer handle.Close()

	accessList := acl.New(true)
	for _, cidr := range cfg.AllowedPeers {
		if err := accessList.AllowNet(cidr); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing allowed peer %q: %v\n", cidr, err)
			os.Exit(1)
		}
	}
	for _, cidr := range cfg.DeniedPeers {
		if err := accessList.DenyNet(cidr); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing denied peer %q: %v\n", cidr, err)
			os.Exit(1)
		}
	}

	conn, err := net.ListenPacket("udp", cfg.ControlListen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening control socket: %v\n", err)
		os.Exit(1)
	}

	bus := eventbus.New(256)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	d := daemon.New(conn, handle.State.Secret, handle.Cache, accessList, bus, daemon.Config{
		AdvertisedLifetimeLog2: cfg.AdvertisedLifetimeLog2,
		RateLimit:              ratelimit.DefaultConfig(),
		Workers:                worker.Config{},
	}, logger)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics listening", "addr", cfg.MetricsListen)
		if err := http.ListenAndServe(cfg.MetricsListen, mux); err != nil {
			logger.Error("metrics server exited", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		rotateTicker := time.NewTicker(10 * time.Second)
		defer rotateTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-rotateTicker.C:
				d.RotateSecretIfDue(ctx, now)
			}
		}
	}()

	go func() {
		metricsTicker := time.NewTicker(5 * time.Second)
		defer metricsTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-metricsTicker.C:
				d.RefreshCacheMetrics()
			}
		}
	}()

	if *printStats {
		go printStatsLoop(ctx, d)
	}

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- d.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println()
		logger.Info("shutting down")
	case err := <-runErrCh:
		if err != nil {
			logger.Error("control loop exited", "error", err)
		}
	}
	cancel()
	d.Stop()
}

func printStatsLoop(ctx context.Context, d *daemon.Daemon) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := d.Stats()
			fmt.Printf("═══════════════════════════════════════════════════════════\n")
			fmt.Printf("Cache:  hits=%d misses=%d evictions=%d size=%d\n", s.Cache.Hits, s.Cache.Misses, s.Cache.Evictions, s.Cache.Size)
			fmt.Printf("Rate limiter tracked peers: %d\n", s.TrackedLimit)
			fmt.Printf("═══════════════════════════════════════════════════════════\n\n")
		}
	}
}

func nonEmptyOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
