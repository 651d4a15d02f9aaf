package service

import (
	"context"
	"time"

	"github.com/wxorder-next/internal/constants"
	"github.com/wxorder-next/internal/models"
	"github.com/wxorder-next/internal/repository"
)

// paidConfirmation 网关确认支付的事实，来源为通知或查单
type paidConfirmation struct {
	OrderNo       string
	TransactionID string
	PaymentTime   *time.Time
	Raw           map[string]string
}

// orderStateMachine 订单状态迁移的唯一入口，通知与查单共用。
// 所有迁移都落在带 status 条件的 UPDATE 上，并发写入只有一个生效。
type orderStateMachine struct {
	repo repository.PaymentOrderRepository
}

func newOrderStateMachine(ctx context.Context, repo repository.PaymentOrderRepository) orderStateMachine {
	return orderStateMachine{repo: repo.WithContext(ctx)}
}

func (s *PaymentOrderService) stateFor(ctx context.Context) orderStateMachine {
	return newOrderStateMachine(ctx, s.repo)
}

func (s *NotifyService) stateFor(ctx context.Context) orderStateMachine {
	return newOrderStateMachine(ctx, s.repo)
}

var duplicateNotifyStatuses = []string{
	constants.PaymentOrderStatusPaid,
	constants.PaymentOrderStatusRefunded,
}

// markPaid pending -> paid，写入交易号、支付时间、原始数据，并将通知计数置 1
func (m orderStateMachine) markPaid(c paidConfirmation) (bool, error) {
	fields := map[string]interface{}{
		"status":         constants.PaymentOrderStatusPaid,
		"transaction_id": c.TransactionID,
		"callback_data":  models.JSONFromStrings(c.Raw),
		"notify_count":   1,
	}
	if c.PaymentTime != nil {
		fields["payment_time"] = *c.PaymentTime
	}
	return m.repo.ConditionalUpdateStatus(c.OrderNo, constants.PaymentOrderStatusPending, fields)
}

// acknowledgeDuplicate 已支付订单的重复确认：只累加通知计数
func (m orderStateMachine) acknowledgeDuplicate(orderNo string) (bool, error) {
	return m.repo.IncrementNotifyCount(orderNo, duplicateNotifyStatuses)
}

// markClosed pending -> cancelled / failed
func (m orderStateMachine) markClosed(orderNo, status string, raw map[string]string) (bool, error) {
	return m.repo.ConditionalUpdateStatus(orderNo, constants.PaymentOrderStatusPending, map[string]interface{}{
		"status":        status,
		"callback_data": models.JSONFromStrings(raw),
	})
}

// markRefunded paid -> refunded
func (m orderStateMachine) markRefunded(orderNo, refundNo string, amount int64, at time.Time) (bool, error) {
	return m.repo.ConditionalUpdateStatus(orderNo, constants.PaymentOrderStatusPaid, map[string]interface{}{
		"status":        constants.PaymentOrderStatusRefunded,
		"refund_no":     refundNo,
		"refund_amount": amount,
		"refunded_at":   at,
	})
}

// attachPrepay 记录预支付信息，状态不变
func (m orderStateMachine) attachPrepay(orderNo, prepayID, codeURL string) (bool, error) {
	return m.repo.ConditionalUpdateStatus(orderNo, constants.PaymentOrderStatusPending, map[string]interface{}{
		"prepay_id": prepayID,
		"code_url":  codeURL,
	})
}
