package provider

import (
	"time"

	"github.com/wxorder-next/internal/cache"
	"github.com/wxorder-next/internal/config"
	"github.com/wxorder-next/internal/logger"
	"github.com/wxorder-next/internal/models"
	"github.com/wxorder-next/internal/payment/wxpay"
	"github.com/wxorder-next/internal/queue"
	"github.com/wxorder-next/internal/repository"
	"github.com/wxorder-next/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// Repositories
	PaymentOrderRepo repository.PaymentOrderRepository

	// Gateway
	Credentials   service.CredentialProvider
	GatewayClient *wxpay.Client

	// Services
	PaymentOrderService *service.PaymentOrderService
	NotifyService       *service.NotifyService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		logger.Errorw("provider_init_queue_client_failed", "error", err)
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化网关与 Services
	c.initServices()

	return c
}

func (c *Container) initRepositories() {
	c.PaymentOrderRepo = repository.NewPaymentOrderRepository(models.DB)
}

func (c *Container) initServices() {
	c.Credentials = service.NewConfigCredentialProvider(c.Config.Channels)
	c.GatewayClient = wxpay.NewClient(wxpay.ClientOptions{
		BaseURL:  c.Config.Gateway.BaseURL,
		Timeout:  c.Config.Gateway.Timeout(),
		SignType: wxpay.ParseSignType(c.Config.Gateway.SignType),
	})

	orderCfg := c.Config.Order
	c.PaymentOrderService = service.NewPaymentOrderService(
		c.PaymentOrderRepo,
		c.Credentials,
		c.GatewayClient,
		c.QueueClient,
		service.CacheQueryThrottle{Window: seconds(orderCfg.QueryThrottleSeconds)},
		service.PaymentOrderOptions{
			ReconcileDelay:       seconds(orderCfg.ReconcileDelaySeconds),
			ReconcileMaxAttempts: orderCfg.ReconcileMaxAttempts,
			StalePendingAfter:    time.Duration(orderCfg.StalePendingMinutes) * time.Minute,
			SweepBatchSize:       orderCfg.SweepBatchSize,
		},
	)
	c.NotifyService = service.NewNotifyService(c.PaymentOrderRepo, c.Credentials)
}

// Close 释放容器持有的外部连接
func (c *Container) Close() {
	if c == nil {
		return
	}
	if err := c.QueueClient.Close(); err != nil {
		logger.Warnw("provider_close_queue_client_failed", "error", err)
	}
	if err := cache.Close(); err != nil {
		logger.Warnw("provider_close_redis_failed", "error", err)
	}
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}
