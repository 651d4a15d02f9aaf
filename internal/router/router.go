package router

import (
	"fmt"
	"strings"

	"github.com/wxorder-next/internal/cache"
	"github.com/wxorder-next/internal/config"
	publichandlers "github.com/wxorder-next/internal/http/handlers/public"
	"github.com/wxorder-next/internal/logger"
	"github.com/wxorder-next/internal/provider"

	"github.com/gin-gonic/gin"
)

// NotifyPath 网关支付结果通知地址，需与渠道配置的 notify_url 对应
const NotifyPath = "/api/v1/payments/wxpay/notify"

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	publicHandler := publichandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "wx"
	}
	createOrderRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:create_order", redisPrefix),
		WindowSeconds: cfg.Order.CreateRateLimit.WindowSeconds,
		MaxRequests:   cfg.Order.CreateRateLimit.MaxRequests,
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	// 网关回调（无用户身份，依赖签名校验）
	r.POST(NotifyPath, publicHandler.WxpayNotify)

	apiV1 := r.Group("/api/v1")
	{
		// 用户接口（身份由上游注入）
		user := apiV1.Group("")
		user.Use(UserIdentityMiddleware(userIDHeader))
		{
			user.POST("/payment-orders", RateLimitMiddleware(cache.Client(), createOrderRule, KeyByUser), publicHandler.CreatePaymentOrder)
			user.GET("/payment-orders", publicHandler.ListPaymentOrders)
			user.GET("/payment-orders/:order_no", publicHandler.GetPaymentOrder)
			user.POST("/payment-orders/:order_no/refund", publicHandler.RefundPaymentOrder)
			user.GET("/payment-transactions/:transaction_id", publicHandler.GetPaymentOrderByTransaction)
		}
	}

	// 健康检查
	r.GET("/health", func(ctx *gin.Context) {
		redisStatus := "disabled"
		if cache.Enabled() {
			redisStatus = "ok"
			if err := cache.Ping(ctx.Request.Context()); err != nil {
				redisStatus = "unavailable"
			}
		}
		ctx.JSON(200, gin.H{"status": "ok", "redis": redisStatus})
	})

	return r
}
