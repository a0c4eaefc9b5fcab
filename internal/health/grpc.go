package health

import (
	"context"
	"log"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside the overall ("") status.
const ServiceName = "phone_onboarding.identity"

// GRPCServer exposes the checker through grpc.health.v1.Health.
type GRPCServer struct {
	server   *grpc.Server
	health   *grpchealth.Server
	checker  *Checker
	interval time.Duration
}

// NewGRPCServer returns a gRPC server with only the health service
// registered. Status starts NOT_SERVING until the first probe passes.
func NewGRPCServer(checker *Checker, interval time.Duration) *GRPCServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	h := grpchealth.NewServer()
	healthpb.RegisterHealthServer(s, h)
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &GRPCServer{server: s, health: h, checker: checker, interval: interval}
}

// Probe runs the checker once and publishes the resulting status.
func (g *GRPCServer) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := g.checker.Ready(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve probes on every interval and serves lis until ctx is cancelled or Serve fails.
func (g *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		t := time.NewTicker(g.interval)
		defer t.Stop()
		for {
			g.Probe(ctx)
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return g.server.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
	log.Println("health: gRPC server stopped")
}
