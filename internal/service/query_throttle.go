package service

import (
	"context"
	"time"

	"github.com/wxorder-next/internal/cache"
)

// QueryThrottle 查单节流
type QueryThrottle interface {
	Allow(ctx context.Context, orderNo string) (bool, error)
}

// CacheQueryThrottle 基于 Redis SET NX 的查单节流，Redis 未启用时不限流
type CacheQueryThrottle struct {
	Window time.Duration
}

// Allow 窗口内首次查询返回 true
func (t CacheQueryThrottle) Allow(ctx context.Context, orderNo string) (bool, error) {
	return cache.AcquirePaymentQuery(ctx, orderNo, t.Window)
}

type noopQueryThrottle struct{}

func (noopQueryThrottle) Allow(context.Context, string) (bool, error) {
	return true, nil
}
