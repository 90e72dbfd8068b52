// Command ipcookie-admin runs the control-plane surface alongside a
// running ipcookied: a health/reflection-enabled gRPC listener and a
// plain HTTP mux serving metrics and JSON stats, both reading the same
// shared-state region the daemon maps.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ayourtch/ipcookied/api/admin"
	"github.com/ayourtch/ipcookied/internal/acl"
	"github.com/ayourtch/ipcookied/internal/config"
	"github.com/ayourtch/ipcookied/internal/daemon"
	"github.com/ayourtch/ipcookied/internal/eventbus"
	"github.com/ayourtch/ipcookied/internal/ratelimit"
	"github.com/ayourtch/ipcookied/internal/sharedstate"
	"github.com/ayourtch/ipcookied/internal/worker"
)

var (
	cfgPath = flag.String("config", "", "Path to YAML config file")
	listen  = flag.String("listen", "", "gRPC admin listen address (overrides config)")
	apiKeys = flag.String("api-keys", "", "Comma-separated API keys (empty = no API-key check)")
	cert    = flag.String("tls-cert", "", "TLS certificate file (overrides config)")
	key     = flag.String("tls-key", "", "TLS private key file (overrides config)")
)

func main() {
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.AdminListen = *listen
	}
	if *cert != "" {
		cfg.TLSCert = *cert
	}
	if *key != "" {
		cfg.TLSKey = *key
	}

	if cfg.SharedStatePath == "" {
		fmt.Fprintln(os.Stderr, "Error: admin plane requires shared_state_path to attach to a running daemon")
		os.Exit(1)
	}
	handle, err := sharedstate.AttachFile(cfg.SharedStatePath, cfg.CacheCapacity, cfg.CacheShardCount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error attaching shared state: %v\n", err)
		os.Exit(1)
	}
	defer handle.Close()

	// A nil ControlConn is safe here: the admin plane only calls Stats,
	// LookupPeer, ForceRotate and RefreshCacheMetrics, none of which
	// touch the control socket; it never calls Run.
	d := daemon.New(nil, handle.State.Secret, handle.Cache, acl.New(true), eventbus.New(8), daemon.Config{
		RateLimit: ratelimit.DefaultConfig(),
		Workers:   worker.Config{},
	}, nil)

	var keys []string
	if *apiKeys != "" {
		keys = strings.Split(*apiKeys, ",")
	}

	adminCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-adminCtx.Done():
				return
			case <-ticker.C:
				d.RefreshCacheMetrics()
			}
		}
	}()

	gs, ln, err := admin.New(admin.Config{
		ListenAddr:  cfg.AdminListen,
		TLSCertFile: cfg.TLSCert,
		TLSKeyFile:  cfg.TLSKey,
		APIKeys:     keys,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting admin gRPC server: %v\n", err)
		os.Exit(1)
	}

	go func() {
		mux := admin.NewMux(d)
		fmt.Printf("admin HTTP listening on %s\n", cfg.MetricsListen)
		if err := http.ListenAndServe(cfg.MetricsListen, mux); err != nil {
			fmt.Fprintf(os.Stderr, "admin HTTP server error: %v\n", err)
		}
	}()

	fmt.Printf("admin gRPC listening on %s\n", ln.Addr())
	if err := gs.Serve(ln); err != nil {
		fmt.Fprintf(os.Stderr, "Error serving admin gRPC: %v\n", err)
		os.Exit(1)
	}
}
