package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ayourtch/ipcookied/internal/daemon"
)

// StatsProvider is satisfied by *daemon.Daemon; accepted as an
// interface so http tests can supply a stub without a live daemon.
type StatsProvider interface {
	Stats() daemon.Stats
	ForceRotate(ctx context.Context, now time.Time) error
	LookupPeer(ip net.IP) daemon.PeerEntry
}

// NewMux builds the plain-HTTP admin surface: Prometheus metrics, a
// JSON introspection endpoint for cache/rate-limiter occupancy, a
// force-rotate trigger, and a per-peer lookup — the same shape as the
// metrics-only HTTP server the teacher's gRPC front-end runs alongside
// its TLS gRPC listener, extended with the two write/lookup operations
// the daemon itself can't expose over plain Prometheus scraping.
func NewMux(stats StatsProvider) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats.Stats()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("/rotate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := stats.ForceRotate(r.Context(), time.Now()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/peer/", func(w http.ResponseWriter, r *http.Request) {
		addr := r.URL.Path[len("/peer/"):]
		ip := net.ParseIP(addr)
		if ip == nil {
			http.Error(w, "invalid peer address", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats.LookupPeer(ip)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return mux
}
