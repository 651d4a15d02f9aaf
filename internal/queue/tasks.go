package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wxorder-next/internal/constants"

	"github.com/hibiken/asynq"
)

// TaskPaymentOrderReconcile 待支付订单查单任务
const TaskPaymentOrderReconcile = constants.TaskPaymentOrderReconcile

// PaymentOrderReconcilePayload 查单任务载荷
type PaymentOrderReconcilePayload struct {
	OrderNo string `json:"order_no"`
	Attempt int    `json:"attempt"`
}

// NewPaymentOrderReconcileTask 创建查单任务
func NewPaymentOrderReconcileTask(payload PaymentOrderReconcilePayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.OrderNo) == "" {
		return nil, fmt.Errorf("reconcile payload order_no is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentOrderReconcile, body), nil
}

// ParsePaymentOrderReconcilePayload 解析查单任务载荷
func ParsePaymentOrderReconcilePayload(task *asynq.Task) (PaymentOrderReconcilePayload, error) {
	var payload PaymentOrderReconcilePayload
	if task == nil {
		return payload, fmt.Errorf("task is nil")
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, err
	}
	if strings.TrimSpace(payload.OrderNo) == "" {
		return payload, fmt.Errorf("reconcile payload order_no is required")
	}
	return payload, nil
}
