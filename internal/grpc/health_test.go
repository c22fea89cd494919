package grpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type pinger struct {
	err error
}

func (p *pinger) Ping(context.Context) error {
	return p.err
}

func TestHealthFollowsDependencies(t *testing.T) {
	dep := &pinger{}
	checker := NewHealthChecker(0, dep)

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	checker.Register(server)
	go server.Serve(listener)
	defer server.Stop()

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)
	ctx := context.Background()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			t.Fatalf("health check: %v", err)
		}
		return resp.GetStatus()
	}

	if status := checker.Check(ctx); status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", status)
	}
	if status := check(); status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING over grpc, got %s", status)
	}

	dep.err = errors.New("redis down")
	checker.Check(ctx)
	if status := check(); status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING over grpc, got %s", status)
	}

	dep.err = nil
	checker.Check(ctx)
	if status := check(); status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected recovery to SERVING, got %s", status)
	}
}
