package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"zhunleme/internal/config"
	"zhunleme/internal/util"
)

type togglePinger struct {
	down atomic.Bool
}

func (p *togglePinger) Ping(context.Context) error {
	if p.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return l
}

func TestHealthMonitorCheck(t *testing.T) {
	p := &togglePinger{}
	m := NewHealthMonitor(p, time.Hour, util.Discard())
	ctx := context.Background()

	resp, err := m.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status, "not serving before the first check")

	assert.True(t, m.Check(ctx))
	resp, err = m.health.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	p.down.Store(true)
	assert.False(t, m.Check(ctx))
	resp, err = m.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}

func TestServerServe(t *testing.T) {
	cfg := &config.Config{Server: config.Server{Host: "127.0.0.1", Port: 1, GRPCPort: 1}}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	monitor := NewHealthMonitor(&togglePinger{}, time.Hour, util.Discard())
	srv := NewServer(cfg, handler, monitor, util.Discard())

	hl, gl := listen(t), listen(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, hl, gl) }()

	resp, err := http.Get("http://" + hl.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	conn, err := grpc.NewClient(gl.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)
	require.Eventually(t, func() bool {
		r, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		return err == nil && r.Status == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerWithoutGRPC(t *testing.T) {
	cfg := &config.Config{Server: config.Server{Port: 8000}}
	srv := NewServer(cfg, http.NotFoundHandler(), nil, util.Discard())
	assert.Nil(t, srv.grpc)
	assert.Equal(t, ":8000", srv.httpAddr)
}
