package handler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func servingStatus(t *testing.T, srv *health.Server, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := srv.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.Status
}

func TestHealthReporter_Sync(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	check := ReadinessCheck{Name: "rpc", Check: func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("rpc unreachable")
	}}

	srv := health.NewServer()
	r := NewHealthReporter(srv, "chainmmo-mid", time.Second, check)

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, r.Sync(context.Background()))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, servingStatus(t, srv, "chainmmo-mid"))

	healthy.Store(false)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, r.Sync(context.Background()))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, servingStatus(t, srv, ""))
}

func TestHealthReporter_StartStop(t *testing.T) {
	srv := health.NewServer()
	r := NewHealthReporter(srv, "chainmmo-mid", 10*time.Millisecond)

	r.Start(context.Background())
	assert.Eventually(t, func() bool {
		resp, err := srv.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: "chainmmo-mid"})
		return err == nil && resp.Status == grpc_health_v1.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)

	r.Stop()
	r.Stop()
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, servingStatus(t, srv, "chainmmo-mid"))
}

func TestRecoveryUnaryServerInterceptor(t *testing.T) {
	interceptor := RecoveryUnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err := interceptor(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))

	resp, err := UnaryServerInterceptor()(context.Background(), "req", info, func(_ context.Context, req interface{}) (interface{}, error) {
		return req, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "req", resp)
}
