package grpcx

import (
	"context"
	"net"
	"testing"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestProbeFollowsHealthStatus(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	srv, hs := NewServer()
	go func() {
		_ = srv.Serve(lis)
	}()
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := Probe(ctx, lis.Addr().String(), 2*time.Second); err == nil {
		t.Fatal("expected probe to fail while NOT_SERVING")
	}

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	if err := Probe(ctx, lis.Addr().String(), 2*time.Second); err != nil {
		t.Fatalf("probe: %v", err)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if RequestIDFromContext(ctx) != "" {
		t.Fatal("empty id should not be stored")
	}
	ctx = WithRequestID(ctx, "abc")
	if RequestIDFromContext(ctx) != "abc" {
		t.Fatalf("unexpected id %q", RequestIDFromContext(ctx))
	}
}
