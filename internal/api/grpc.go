package api

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported for the backtest API.
const ServiceName = "zhunleme.Backtest"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthMonitor publishes dependency health on the standard gRPC health
// service. The overall status ("") and ServiceName move together.
type HealthMonitor struct {
	health   *health.Server
	pinger   Pinger
	interval time.Duration
	log      *slog.Logger
}

// NewHealthMonitor creates a monitor that pings p every interval. The initial
// status is NOT_SERVING until the first successful check.
func NewHealthMonitor(p Pinger, interval time.Duration, log *slog.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	m := &HealthMonitor{
		health:   health.NewServer(),
		pinger:   p,
		interval: interval,
		log:      log.With("component", "grpc-health"),
	}
	m.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return m
}

// Register installs the health service on srv.
func (m *HealthMonitor) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, m.health)
}

// Check pings once and updates the published status.
func (m *HealthMonitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if m.pinger != nil {
		if err := m.pinger.Ping(ctx); err != nil {
			m.log.Warn("dependency unhealthy", "error", err)
			m.set(healthpb.HealthCheckResponse_NOT_SERVING)
			return false
		}
	}
	m.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run checks immediately and then every interval until ctx is cancelled, at
// which point every service is marked NOT_SERVING.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			m.health.Shutdown()
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *HealthMonitor) set(status healthpb.HealthCheckResponse_ServingStatus) {
	m.health.SetServingStatus("", status)
	m.health.SetServingStatus(ServiceName, status)
}
