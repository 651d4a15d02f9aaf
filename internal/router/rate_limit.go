package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	handlershared "github.com/wxorder-next/internal/http/handlers/shared"
	"github.com/wxorder-next/internal/http/response"
	"github.com/wxorder-next/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitKeyFunc 生成限流 key 的函数
type RateLimitKeyFunc func(*gin.Context) string

// RateLimitRule 固定窗口限流规则
type RateLimitRule struct {
	Prefix        string
	WindowSeconds int
	MaxRequests   int
}

func (r RateLimitRule) enabled() bool {
	return r.WindowSeconds > 0 && r.MaxRequests > 0
}

func (r RateLimitRule) key(raw string) string {
	if r.Prefix == "" {
		return raw
	}
	return r.Prefix + ":" + raw
}

// retryAfter 窗口剩余秒数，TTL 异常时按整个窗口计
func (r RateLimitRule) retryAfter(ttlSeconds int64) int {
	if ttlSeconds >= 1 {
		return int(ttlSeconds)
	}
	if r.WindowSeconds >= 1 {
		return r.WindowSeconds
	}
	return 1
}

// 返回 {当前计数, 剩余 TTL}
var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("TTL", KEYS[1])}
`)

func countWindow(ctx context.Context, client *redis.Client, key string, window int) (int64, int64, error) {
	values, err := rateLimitScript.Run(ctx, client, []string{key}, window).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(values) < 2 {
		return 0, 0, fmt.Errorf("unexpected rate limit reply: %v", values)
	}
	return values[0], values[1], nil
}

// RateLimitMiddleware Redis 固定窗口限流。
// Redis 不可用时放行并记录告警，下单链路不依赖限流存储。
func RateLimitMiddleware(client *redis.Client, rule RateLimitRule, keyFunc RateLimitKeyFunc) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = KeyByIP
	}
	return func(c *gin.Context) {
		if client == nil || !rule.enabled() {
			c.Next()
			return
		}

		raw := strings.TrimSpace(keyFunc(c))
		if raw == "" {
			raw = "ip:" + c.ClientIP()
		}
		key := rule.key(raw)

		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		count, ttl, err := countWindow(ctx, client, key, rule.WindowSeconds)
		cancel()
		if err != nil {
			handlershared.RequestLog(c).Warnw("rate_limit_unavailable", "key", key, "error", err)
			c.Next()
			return
		}
		if count > int64(rule.MaxRequests) {
			wait := rule.retryAfter(ttl)
			logger.Infow("rate_limit_exceeded", "key", key, "count", count, "retry_after", wait)
			c.Header("Retry-After", strconv.Itoa(wait))
			response.Error(c, response.CodeTooManyRequests, fmt.Sprintf("请求过于频繁，请 %d 秒后重试", wait))
			c.Abort()
			return
		}
		c.Next()
	}
}

// KeyByIP 使用 IP 作为限流 key
func KeyByIP(c *gin.Context) string {
	return c.ClientIP()
}

// KeyByUser 使用用户标识作为限流 key，缺失时退化为 IP
func KeyByUser(c *gin.Context) string {
	if userID := strings.TrimSpace(c.GetString(handlershared.ContextUserIDKey)); userID != "" {
		return "user:" + userID
	}
	return "ip:" + KeyByIP(c)
}
