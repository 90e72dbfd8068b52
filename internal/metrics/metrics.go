// Package metrics registers the daemon's Prometheus instrumentation:
// counters for control-message handling outcomes, cache occupancy
// gauges, and a pair of gRPC interceptors for the admin plane, built
// the same manual CounterVec/HistogramVec-plus-MustRegister way the
// admin API's RPC metrics are registered.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	// ControlMessagesTotal counts inbound control messages by code and
	// outcome (accepted, unknown_peer, denied_acl, dropped_malformed,
	// dropped_mismatch, dropped_forged, spoof_confirmed).
	ControlMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ipcookied_control_messages_total",
			Help: "Control messages processed by the cookie daemon, by code and outcome.",
		},
		[]string{"code", "outcome"},
	)

	// CacheEntriesGauge reports current cookie cache occupancy.
	CacheEntriesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ipcookied_cache_entries",
			Help: "Number of peer entries currently held in the cookie cache.",
		},
	)

	// CacheEvictionsTotal counts FIFO evictions of the cookie cache.
	CacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ipcookied_cache_evictions_total",
			Help: "Total cookie cache entries evicted to make room for a new peer.",
		},
	)

	// SecretRotationsTotal counts daemon secret rotations.
	SecretRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ipcookied_secret_rotations_total",
			Help: "Total times the daemon has rotated its current/previous secret pair.",
		},
	)

	rpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ipcookied_admin_rpc_requests_total", Help: "Total admin-plane gRPC requests."},
		[]string{"method", "code"},
	)
	rpcDurations = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "ipcookied_admin_rpc_duration_seconds", Help: "Admin-plane RPC duration.", Buckets: prometheus.DefBuckets},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		ControlMessagesTotal,
		CacheEntriesGauge,
		CacheEvictionsTotal,
		SecretRotationsTotal,
		rpcRequests,
		rpcDurations,
	)
}

// UnaryServerInterceptor records per-method request counts and
// latency for the admin gRPC server.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		st := status.Convert(err)
		rpcRequests.WithLabelValues(info.FullMethod, st.Code().String()).Inc()
		rpcDurations.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// StreamServerInterceptor is the streaming-RPC counterpart of
// UnaryServerInterceptor.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		st := status.Convert(err)
		rpcRequests.WithLabelValues(info.FullMethod, st.Code().String()).Inc()
		rpcDurations.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		return err
	}
}
