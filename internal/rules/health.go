package rules

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/boardwatch/internal/timeutil"
)

// HealthService is the service name reported over the gRPC health protocol.
const HealthService = "boardwatch.rules"

// probeMove is judged from the start position on every health probe.
const probeMove = "e2e4"

// Judge is anything that can answer a validate_and_predict request.
type Judge interface {
	ValidateAndPredict(ctx context.Context, req Request) (Response, error)
}

// Health publishes the rules service's readiness over the standard gRPC
// health protocol. A probe judges a fixed opening move; the service is
// SERVING only while that succeeds, so a dead engine process shows up here.
type Health struct {
	judge   Judge
	server  *health.Server
	timeout time.Duration
}

// NewHealth creates a health server that starts out NOT_SERVING until the
// first probe.
func NewHealth(judge Judge, timeout time.Duration) *Health {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	h := &Health{judge: judge, server: health.NewServer(), timeout: timeout}
	h.server.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register adds the health service to s.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Probe checks the judge once and updates the published status.
func (h *Health) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	resp, err := h.judge.ValidateAndPredict(ctx, Request{Move: probeMove})
	ok := err == nil && resp.Valid && resp.AIMove != ""
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		logf("health probe failed: err=%v valid=%t ai=%q", err, resp.Valid, resp.AIMove)
	}
	h.server.SetServingStatus(HealthService, status)
	return ok
}

// Run probes immediately and then on every tick until ctx ends, when the
// server is marked as shutting down.
func (h *Health) Run(ctx context.Context, clock timeutil.Clock, interval time.Duration) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	h.Probe(ctx)
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C():
			h.Probe(ctx)
		}
	}
}

// DialHealth opens a plaintext gRPC connection for health checks.
func DialHealth(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial rules health %s: %w", addr, err)
	}
	return conn, nil
}

// WaitForHealth blocks until the rules service reports SERVING or ctx ends.
func WaitForHealth(ctx context.Context, conn *grpc.ClientConn) error {
	client := healthpb.NewHealthClient(conn)
	backoff := 200 * time.Millisecond
	for {
		callCtx, cancel := context.WithTimeout(ctx, time.Second)
		resp, err := client.Check(callCtx, &healthpb.HealthCheckRequest{Service: HealthService})
		cancel()
		if err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			logf("rules service is SERVING")
			return nil
		}
		if err != nil {
			logf("waiting for rules service: %v", err)
		} else {
			logf("waiting for rules service: status %s", resp.GetStatus())
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for rules health: %w", ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < time.Second {
			backoff *= 2
			if backoff > time.Second {
				backoff = time.Second
			}
		}
	}
}
