// Package admin builds the control-plane gRPC server for the cookie
// daemon: API-key authenticated, TLS-optional, with health checking
// and reflection registered the same way the teacher's gRPC front-end
// wires them, but stripped of any generated service stubs since the
// admin surface here is introspection-only (stats over plain structs,
// not a typed RPC schema).
package admin

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/ayourtch/ipcookied/internal/metrics"
)

// Config controls the admin gRPC listener.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
	APIKeys     []string
}

// New builds a *grpc.Server with health checking, reflection, API-key
// auth, and the daemon's RPC metrics interceptors wired in, plus the
// net.Listener it should be Serve'd on.
func New(cfg Config) (*grpc.Server, net.Listener, error) {
	var opts []grpc.ServerOption

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("admin: tls: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	opts = append(opts,
		grpc.ChainUnaryInterceptor(apiKeyUnaryInterceptor(cfg.APIKeys), metrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(apiKeyStreamInterceptor(cfg.APIKeys), metrics.StreamServerInterceptor()),
	)

	gs := grpc.NewServer(opts...)

	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, h)
	reflection.Register(gs)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("admin: listen %s: %w", cfg.ListenAddr, err)
	}
	return gs, ln, nil
}

func apiKeyUnaryInterceptor(validKeys []string) grpc.UnaryServerInterceptor {
	set := keySet(validKeys)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if len(set) > 0 {
			md, _ := metadata.FromIncomingContext(ctx)
			if !authorize(md, set) {
				return nil, status.Error(codes.Unauthenticated, "unauthenticated")
			}
		}
		return handler(ctx, req)
	}
}

func apiKeyStreamInterceptor(validKeys []string) grpc.StreamServerInterceptor {
	set := keySet(validKeys)
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if len(set) > 0 {
			md, _ := metadata.FromIncomingContext(ss.Context())
			if !authorize(md, set) {
				return status.Error(codes.Unauthenticated, "unauthenticated")
			}
		}
		return handler(srv, ss)
	}
}

func keySet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func authorize(md metadata.MD, set map[string]struct{}) bool {
	if md == nil {
		return false
	}
	for _, v := range md.Get("authorization") {
		var token string
		fmt.Sscanf(v, "Bearer %s", &token)
		if _, ok := set[token]; ok {
			return true
		}
	}
	return false
}
