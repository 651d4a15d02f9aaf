package app

import (
	"context"
	"errors"
	"time"

	"github.com/wxorder-next/internal/provider"
	"github.com/wxorder-next/internal/router"
	"github.com/wxorder-next/internal/worker"
)

// BuildRunner 按启动模式组装服务；容器资源在所有服务停止后释放
func BuildRunner(opts Options) (*Runner, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := ValidateMode(opts.Mode); err != nil {
		return nil, err
	}
	opts = normalizeOptions(opts)

	container := provider.NewContainer(cfg)
	var services []Service

	if opts.servesAPI() {
		services = append(services, NewHTTPService(cfg.Server, router.SetupRouter(cfg, container)))
	}

	if opts.runsWorker() {
		consumer := worker.NewConsumer(container)
		if cfg.Queue.Enabled {
			workerService, err := worker.NewService(&cfg.Queue, consumer)
			if err != nil {
				container.Close()
				return nil, err
			}
			services = append(services, workerService)
		} else {
			opts.Logger.Warnw("app_queue_disabled_skip_worker", "mode", opts.Mode)
		}

		sweeper, err := worker.NewSweepService(consumer, time.Duration(cfg.Order.SweepIntervalSeconds)*time.Second)
		if err != nil {
			container.Close()
			return nil, err
		}
		services = append(services, sweeper)
	}

	services = append(services, &closerService{name: "container", close: container.Close})
	return NewRunner(services...), nil
}

// closerService 占位服务，Stop 时释放资源，需排在最后
type closerService struct {
	name  string
	close func()
}

func (s *closerService) Name() string { return s.name }

func (s *closerService) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (s *closerService) Stop(context.Context) error {
	if s.close != nil {
		s.close()
	}
	return nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts = normalizeOptions(opts)
	runner, err := BuildRunner(opts)
	if err != nil {
		return err
	}

	opts.Logger.Infow("app_start",
		"addr", opts.Config.Server.Addr(),
		"mode", opts.Mode,
		"queue_enabled", opts.Config.Queue.Enabled,
	)
	return RunWithOptions(runner, opts)
}
