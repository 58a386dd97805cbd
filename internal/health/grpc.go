package health

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultSyncInterval is how often [GRPCBridge] re-evaluates the checkers.
const DefaultSyncInterval = 2 * time.Second

// GRPCBridge mirrors a [Handler]'s readiness into the standard gRPC health
// service (grpc.health.v1.Health) under the overall ("") service name.
type GRPCBridge struct {
	handler  *Handler
	server   *grpchealth.Server
	interval time.Duration
}

// NewGRPCBridge creates a bridge that starts in NOT_SERVING.
func NewGRPCBridge(h *Handler, interval time.Duration) *GRPCBridge {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	s := grpchealth.NewServer()
	s.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &GRPCBridge{handler: h, server: s, interval: interval}
}

// Register attaches the health service to s.
func (b *GRPCBridge) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, b.server)
}

// Sync evaluates the checkers once and publishes the result.
func (b *GRPCBridge) Sync(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if _, ok := b.handler.Check(ctx); ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	b.server.SetServingStatus("", status)
	return status
}

// Run syncs until ctx is done, then marks every service NOT_SERVING.
func (b *GRPCBridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	last := b.Sync(ctx)
	for {
		select {
		case <-ctx.Done():
			b.server.Shutdown()
			return nil
		case <-ticker.C:
			if s := b.Sync(ctx); s != last {
				slog.Info("grpc health status changed", "status", s.String())
				last = s
			}
		}
	}
}
