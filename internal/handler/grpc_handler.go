package handler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/stokasz/ChainMMO-Monad-sub000/pkg/logger"
)

// HealthReporter 周期性执行就绪检查并同步到 gRPC 健康服务
//
// 空服务名 "" 反映整体状态, serviceName 与之相同
type HealthReporter struct {
	server      *health.Server
	serviceName string
	checks      []ReadinessCheck
	interval    time.Duration
	timeout     time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHealthReporter 创建健康状态上报器
func NewHealthReporter(server *health.Server, serviceName string, interval time.Duration, checks ...ReadinessCheck) *HealthReporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HealthReporter{
		server:      server,
		serviceName: serviceName,
		checks:      checks,
		interval:    interval,
		timeout:     3 * time.Second,
	}
}

// Sync 执行一次检查并更新状态
func (r *HealthReporter) Sync(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	st := grpc_health_v1.HealthCheckResponse_SERVING
	if failed := checkAll(ctx, r.checks); len(failed) > 0 {
		st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	r.server.SetServingStatus("", st)
	r.server.SetServingStatus(r.serviceName, st)
	return st
}

// Start 启动周期检查
func (r *HealthReporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh != nil {
		return
	}
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go func(stopCh <-chan struct{}, doneCh chan<- struct{}) {
		defer close(doneCh)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		last := r.Sync(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				if st := r.Sync(ctx); st != last {
					logger.Info("grpc health status changed",
						zap.String("service", r.serviceName),
						zap.String("status", st.String()))
					last = st
				}
			}
		}
	}(r.stopCh, r.doneCh)
}

// Stop 停止周期检查并标记 NOT_SERVING
func (r *HealthReporter) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh == nil {
		return
	}
	close(r.stopCh)
	<-r.doneCh
	r.stopCh = nil
	r.server.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	r.server.SetServingStatus(r.serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}
