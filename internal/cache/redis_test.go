package cache

import (
	"context"
	"testing"
	"time"

	"github.com/wxorder-next/internal/config"
)

func TestDisabledCacheAlwaysAcquires(t *testing.T) {
	if err := InitRedis(&config.RedisConfig{Enabled: false}); err != nil {
		t.Fatalf("init redis failed: %v", err)
	}
	if Enabled() || Client() != nil {
		t.Fatalf("cache should be disabled")
	}
	for i := 0; i < 2; i++ {
		ok, err := AcquirePaymentQuery(context.Background(), "WX1", time.Minute)
		if err != nil || !ok {
			t.Fatalf("disabled cache should always allow, ok=%v err=%v", ok, err)
		}
	}
	if err := Ping(context.Background()); err != nil {
		t.Fatalf("ping on disabled cache should be a no-op: %v", err)
	}
}

func TestBuildKey(t *testing.T) {
	redisPrefix = "wx"
	if got := buildKey(paymentQueryKey(" WX1 ")); got != "wx:payment_order:query:WX1" {
		t.Fatalf("unexpected key: %s", got)
	}
	if got := buildKey(" "); got != "wx" {
		t.Fatalf("unexpected empty key: %s", got)
	}
}
