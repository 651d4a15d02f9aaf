package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/wxorder-next/internal/logger"
	"github.com/wxorder-next/internal/provider"
	"github.com/wxorder-next/internal/queue"
	"github.com/wxorder-next/internal/service"

	"github.com/hibiken/asynq"
)

// PaymentOrderReconciler 查单与超时扫描
type PaymentOrderReconciler interface {
	ReconcileOrder(ctx context.Context, orderNo string, attempt int) error
	SweepStalePending(ctx context.Context) (int, error)
}

// Consumer 异步任务消费者
type Consumer struct {
	Orders PaymentOrderReconciler
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	consumer := &Consumer{}
	if c != nil && c.PaymentOrderService != nil {
		consumer.Orders = c.PaymentOrderService
	}
	return consumer
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskPaymentOrderReconcile, c.handlePaymentOrderReconcile)
}

// handlePaymentOrderReconcile 任务本身不重试，后续轮次由服务按退避重新入队
func (c *Consumer) handlePaymentOrderReconcile(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_payment_order_reconcile_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	payload, err := queue.ParsePaymentOrderReconcilePayload(task)
	if err != nil {
		logger.Warnw("worker_payment_order_reconcile_unmarshal_failed", "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if c.Orders == nil {
		logger.Warnw("worker_payment_order_reconcile_skip_service_nil", "order_no", payload.OrderNo)
		return nil
	}
	attempt := payload.Attempt
	if attempt < 1 {
		attempt = 1
	}
	err = c.Orders.ReconcileOrder(ctx, payload.OrderNo, attempt)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrOrderNotFound):
		logger.Debugw("worker_payment_order_reconcile_skip_not_found", "order_no", payload.OrderNo)
		return nil
	case errors.Is(err, service.ErrConfiguration):
		logger.Errorw("worker_payment_order_reconcile_config_invalid", "order_no", payload.OrderNo, "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		logger.Warnw("worker_payment_order_reconcile_failed",
			"order_no", payload.OrderNo,
			"attempt", attempt,
			"kind", service.KindOf(err),
			"error", err,
		)
		return nil
	}
}
