package grpc

import (
	"context"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name the mint pipeline reports its health under.
const ServiceName = "semaphore.credentials.Minting"

// Pinger is anything whose reachability decides whether minting can proceed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker publishes SERVING while every dependency answers a ping.
type HealthChecker struct {
	server   *health.Server
	deps     []Pinger
	interval time.Duration
	timeout  time.Duration
	last     healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthChecker(interval time.Duration, deps ...Pinger) *HealthChecker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthChecker{
		server:   health.NewServer(),
		deps:     deps,
		interval: interval,
		timeout:  3 * time.Second,
		last:     healthpb.HealthCheckResponse_UNKNOWN,
	}
}

func (h *HealthChecker) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Check pings every dependency once and updates the published status.
func (h *HealthChecker) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for _, dep := range h.deps {
		pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := dep.Ping(pingCtx)
		cancel()
		if err != nil {
			if h.last != healthpb.HealthCheckResponse_NOT_SERVING {
				log.Printf("grpc health: dependency unavailable: %v", err)
			}
			status = healthpb.HealthCheckResponse_NOT_SERVING
			break
		}
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
	h.last = status
	return status
}

// Start checks immediately and then on every interval until ctx ends, when
// the server is moved to NOT_SERVING for draining clients.
func (h *HealthChecker) Start(ctx context.Context) {
	h.Check(ctx)
	ticker := time.NewTicker(h.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				h.server.Shutdown()
				return
			case <-ticker.C:
				h.Check(ctx)
			}
		}
	}()
}
