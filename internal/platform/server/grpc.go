package server

import (
	"crypto/tls"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthv1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/auth"
)

var healthMethods = []string{
	"/grpc.health.v1.Health/Check",
	"/grpc.health.v1.Health/Watch",
	"/grpc.health.v1.Health/List",
}

// NewGRPCServer builds the gRPC listener's server with health checks open
// and everything else behind the JWT interceptor.
func NewGRPCServer(tlsCfg *tls.Config, verifier *auth.JWTVerifier) (*grpc.Server, *health.Server) {
	policy := auth.GRPCPolicy{Open: healthMethods}
	opts := []grpc.ServerOption{
		grpc.UnaryInterceptor(auth.UnaryJWTInterceptor(verifier, policy)),
		grpc.StreamInterceptor(auth.StreamJWTInterceptor(verifier, policy)),
	}
	if tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	hs.SetServingStatus("", healthv1.HealthCheckResponse_SERVING)
	healthv1.RegisterHealthServer(srv, hs)
	return srv, hs
}
