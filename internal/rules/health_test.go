package rules

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/boardwatch/internal/timeutil"
)

type judgeFunc func(ctx context.Context, req Request) (Response, error)

func (f judgeFunc) ValidateAndPredict(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// serveHealth runs h on an in-memory listener and returns a client
// connection to it.
func serveHealth(t *testing.T, h *Health) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 16)
	s := grpc.NewServer()
	h.Register(s)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := DialHealth("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func checkStatus(t *testing.T, conn *grpc.ClientConn) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealth_Probe(t *testing.T) {
	failing := true
	h := NewHealth(judgeFunc(func(ctx context.Context, req Request) (Response, error) {
		if failing {
			return Response{}, errors.New("engine exited")
		}
		return NewService(nil).ValidateAndPredict(ctx, req)
	}), time.Second)
	conn := serveHealth(t, h)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, conn), "not serving before the first probe")

	assert.False(t, h.Probe(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, conn))

	failing = false
	assert.True(t, h.Probe(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, conn))
}

func TestHealth_RunAndWait(t *testing.T) {
	h := NewHealth(NewService(nil), time.Second)
	conn := serveHealth(t, h)

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx, clock, time.Minute)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, WaitForHealth(waitCtx, conn))

	cancel()
	<-done
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, conn), "shutdown marks the service not serving")
}

func TestWaitForHealth_GivesUp(t *testing.T) {
	h := NewHealth(NewService(nil), time.Second)
	conn := serveHealth(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := WaitForHealth(ctx, conn)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
