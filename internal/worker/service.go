package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wxorder-next/internal/config"
	"github.com/wxorder-next/internal/logger"
	"github.com/wxorder-next/internal/queue"

	"github.com/hibiken/asynq"
)

const defaultSweepInterval = 5 * time.Minute

// Service 异步队列服务
type Service struct {
	name     string
	server   *asynq.Server
	mux      *asynq.ServeMux
	consumer *Consumer
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	return &Service{
		name:     "worker",
		server:   server,
		mux:      mux,
		consumer: consumer,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(_ context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(_ context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	s.server.Shutdown()
	return nil
}

// SweepService 周期扫描超时仍待支付的订单，兜底丢失的通知与查单任务
type SweepService struct {
	orders   PaymentOrderReconciler
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSweepService 创建扫描服务
func NewSweepService(consumer *Consumer, interval time.Duration) (*SweepService, error) {
	if consumer == nil || consumer.Orders == nil {
		return nil, errors.New("payment order service is nil")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &SweepService{
		orders:   consumer.Orders,
		interval: interval,
		stop:     make(chan struct{}),
	}, nil
}

// Name 服务名称
func (s *SweepService) Name() string {
	return "sweeper"
}

// Start 启动扫描循环，阻塞直到 ctx 结束或 Stop
func (s *SweepService) Start(ctx context.Context) error {
	if s == nil || s.orders == nil {
		return errors.New("sweeper not initialized")
	}
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// Stop 停止扫描
func (s *SweepService) Stop(_ context.Context) error {
	if s == nil {
		return nil
	}
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *SweepService) runOnce(ctx context.Context) {
	processed, err := s.orders.SweepStalePending(ctx)
	if err != nil {
		logger.Warnw("worker_payment_order_sweep_failed", "processed", processed, "error", err)
		return
	}
	if processed > 0 {
		logger.Infow("worker_payment_order_sweep_done", "processed", processed)
	}
}
