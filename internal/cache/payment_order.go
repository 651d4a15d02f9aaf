package cache

import (
	"context"
	"strings"
	"time"
)

func paymentQueryKey(orderNo string) string {
	return "payment_order:query:" + strings.TrimSpace(orderNo)
}

// AcquirePaymentQuery 查单节流：同一订单在窗口内只向网关查询一次
func AcquirePaymentQuery(ctx context.Context, orderNo string, window time.Duration) (bool, error) {
	return AcquireWindow(ctx, paymentQueryKey(orderNo), window)
}
