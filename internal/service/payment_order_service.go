package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wxorder-next/internal/constants"
	"github.com/wxorder-next/internal/logger"
	"github.com/wxorder-next/internal/models"
	"github.com/wxorder-next/internal/payment/wxpay"
	"github.com/wxorder-next/internal/queue"
	"github.com/wxorder-next/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	orderNoPrefix  = "WX"
	refundNoPrefix = "RF"
	orderNoLayout  = "20060102150405"

	maxProductNameRunes = 128
)

// GatewayClient 网关调用
type GatewayClient interface {
	CreateUnifiedOrder(ctx context.Context, creds *wxpay.Credentials, req wxpay.UnifiedOrderRequest) (*wxpay.UnifiedOrderResponse, error)
	QueryOrder(ctx context.Context, creds *wxpay.Credentials, orderNo string) (*wxpay.OrderQueryResponse, error)
	Refund(ctx context.Context, creds *wxpay.Credentials, req wxpay.RefundRequest) (*wxpay.RefundResult, error)
}

// ReconcileScheduler 延迟查单任务调度
type ReconcileScheduler interface {
	EnqueuePaymentOrderReconcile(payload queue.PaymentOrderReconcilePayload, delay time.Duration) error
}

// PaymentOrderOptions 订单服务参数
type PaymentOrderOptions struct {
	ReconcileDelay       time.Duration
	ReconcileMaxAttempts int
	StalePendingAfter    time.Duration
	SweepBatchSize       int
}

// PaymentOrderService 支付订单生命周期
type PaymentOrderService struct {
	repo        repository.PaymentOrderRepository
	credentials CredentialProvider
	gateway     GatewayClient
	scheduler   ReconcileScheduler
	throttle    QueryThrottle
	options     PaymentOrderOptions
	now         func() time.Time
	nonce       func() (string, error)
}

// NewPaymentOrderService 创建订单服务；scheduler 与 throttle 可为 nil
func NewPaymentOrderService(repo repository.PaymentOrderRepository, credentials CredentialProvider, gateway GatewayClient, scheduler ReconcileScheduler, throttle QueryThrottle, options PaymentOrderOptions) *PaymentOrderService {
	if throttle == nil {
		throttle = noopQueryThrottle{}
	}
	if options.ReconcileDelay <= 0 {
		options.ReconcileDelay = time.Minute
	}
	if options.ReconcileMaxAttempts <= 0 {
		options.ReconcileMaxAttempts = 5
	}
	if options.StalePendingAfter <= 0 {
		options.StalePendingAfter = 10 * time.Minute
	}
	if options.SweepBatchSize <= 0 {
		options.SweepBatchSize = 100
	}
	return &PaymentOrderService{
		repo:        repo,
		credentials: credentials,
		gateway:     gateway,
		scheduler:   scheduler,
		throttle:    throttle,
		options:     options,
		now:         time.Now,
		nonce:       wxpay.NewNonce,
	}
}

func paymentLogger(kv ...interface{}) *zap.SugaredLogger {
	if len(kv) == 0 {
		return logger.S()
	}
	return logger.SW(kv...)
}

// CreateOrderInput 下单请求
type CreateOrderInput struct {
	UserID      string
	Channel     string
	Amount      int64
	Currency    string
	ProductID   string
	ProductName string
	Description string
	ClientIP    string
	OpenID      string
	Attach      string
}

// PaymentPayload 客户端拉起支付所需数据，按渠道只填充其一
type PaymentPayload struct {
	Channel   string             `json:"channel"`
	TradeType string             `json:"trade_type"`
	CodeURL   string             `json:"code_url,omitempty"`
	JSAPI     *wxpay.JSAPIInvoke `json:"jsapi,omitempty"`
	App       *wxpay.AppInvoke   `json:"app,omitempty"`
}

// CreateOrderResult 下单结果
type CreateOrderResult struct {
	Order   *models.PaymentOrder
	Payload *PaymentPayload
}

// DispatchError 本地订单已落库但网关下单失败，调用方应通过查单确认状态而非重复下单
type DispatchError struct {
	OrderNo string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("payment order %s dispatch failed: %v", e.OrderNo, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// RefundInput 退款请求，Amount 为 0 表示全额退款
type RefundInput struct {
	OrderNo string
	UserID  string
	Amount  int64
	Reason  string
}

// CreateOrder 创建订单：先落库 pending，再调用网关统一下单
func (s *PaymentOrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*CreateOrderResult, error) {
	input = normalizeCreateOrderInput(input)
	tradeType, err := validateCreateOrderInput(input)
	if err != nil {
		return nil, err
	}
	creds, err := s.credentials.GetCredentials(input.Channel)
	if err != nil {
		paymentLogger("channel", input.Channel).Errorw("payment_order_channel_config_invalid", "error", err)
		return nil, err
	}

	now := s.now()
	order := &models.PaymentOrder{
		OrderNo:     generateOrderNo(orderNoPrefix, now),
		UserID:      input.UserID,
		Channel:     input.Channel,
		TradeType:   tradeType,
		Amount:      input.Amount,
		Currency:    input.Currency,
		ProductID:   input.ProductID,
		ProductName: input.ProductName,
		Description: input.Description,
		ClientIP:    input.ClientIP,
		OpenID:      input.OpenID,
		Status:      constants.PaymentOrderStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	log := paymentLogger(
		"order_no", order.OrderNo,
		"user_id", order.UserID,
		"channel", order.Channel,
		"trade_type", order.TradeType,
		"amount", order.Amount,
	)
	if err := s.repo.WithContext(ctx).Create(order); err != nil {
		log.Errorw("payment_order_create_failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrOrderStoreFailed, err)
	}
	log.Infow("payment_order_created")

	resp, err := s.gateway.CreateUnifiedOrder(ctx, creds, wxpay.UnifiedOrderRequest{
		OrderNo:   order.OrderNo,
		TradeType: tradeType,
		Body:      order.ProductName,
		TotalFee:  order.Amount,
		FeeType:   order.Currency,
		ClientIP:  order.ClientIP,
		OpenID:    order.OpenID,
		ProductID: order.ProductID,
		Attach:    input.Attach,
	})
	if err != nil {
		mapped := mapGatewayError(err)
		log.Warnw("payment_order_gateway_dispatch_failed",
			"error", err,
			"kind", KindOf(mapped),
			"gateway_message", wxpay.GatewayMessage(err),
		)
		s.scheduleReconcile(order.OrderNo, 1)
		return nil, &DispatchError{OrderNo: order.OrderNo, Err: mapped}
	}

	order.PrepayID = resp.PrepayID
	order.CodeURL = resp.CodeURL
	attached, err := s.stateFor(ctx).attachPrepay(order.OrderNo, resp.PrepayID, resp.CodeURL)
	if err != nil {
		log.Errorw("payment_order_prepay_persist_failed", "prepay_id", resp.PrepayID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrOrderStoreFailed, err)
	}
	if !attached {
		log.Warnw("payment_order_prepay_persist_skipped", "prepay_id", resp.PrepayID)
	}

	payload, err := s.buildPayload(creds, order, now)
	if err != nil {
		log.Errorw("payment_order_payload_build_failed", "error", err)
		return nil, mapGatewayError(err)
	}
	s.scheduleReconcile(order.OrderNo, 1)
	log.Infow("payment_order_prepay_issued", "prepay_id", resp.PrepayID)
	return &CreateOrderResult{Order: order, Payload: payload}, nil
}

func (s *PaymentOrderService) buildPayload(creds *wxpay.Credentials, order *models.PaymentOrder, now time.Time) (*PaymentPayload, error) {
	payload := &PaymentPayload{Channel: order.Channel, TradeType: order.TradeType}
	switch order.TradeType {
	case constants.TradeTypeNative:
		payload.CodeURL = order.CodeURL
		return payload, nil
	case constants.TradeTypeJSAPI:
		nonce, err := s.nonce()
		if err != nil {
			return nil, err
		}
		invoke, err := wxpay.BuildJSAPIInvoke(creds, order.PrepayID, now, nonce)
		if err != nil {
			return nil, err
		}
		payload.JSAPI = invoke
		return payload, nil
	case constants.TradeTypeApp:
		nonce, err := s.nonce()
		if err != nil {
			return nil, err
		}
		invoke, err := wxpay.BuildAppInvoke(creds, order.PrepayID, now, nonce)
		if err != nil {
			return nil, err
		}
		payload.App = invoke
		return payload, nil
	default:
		return nil, fmt.Errorf("%w: trade_type %s", ErrInvalidInput, order.TradeType)
	}
}

// GetOrder 查询本地订单，userID 非空时校验归属
func (s *PaymentOrderService) GetOrder(ctx context.Context, orderNo, userID string) (*models.PaymentOrder, error) {
	order, err := s.repo.WithContext(ctx).GetByOrderNo(orderNo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderStoreFailed, err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if userID != "" && order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// GetOrderByTransactionID 按网关交易号查询订单，userID 非空时校验归属
func (s *PaymentOrderService) GetOrderByTransactionID(ctx context.Context, transactionID, userID string) (*models.PaymentOrder, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, fmt.Errorf("%w: transaction_id is required", ErrInvalidInput)
	}
	order, err := s.repo.WithContext(ctx).GetByTransactionID(transactionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderStoreFailed, err)
	}
	if order == nil || (userID != "" && order.UserID != userID) {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// ListByUser 用户订单分页列表
func (s *PaymentOrderService) ListByUser(ctx context.Context, filter repository.PaymentOrderListFilter) ([]models.PaymentOrder, int64, error) {
	if strings.TrimSpace(filter.UserID) == "" {
		return nil, 0, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if filter.Status != "" && !isKnownOrderStatus(filter.Status) {
		return nil, 0, fmt.Errorf("%w: status %q", ErrInvalidInput, filter.Status)
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	orders, total, err := s.repo.WithContext(ctx).ListByUser(filter)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrOrderStoreFailed, err)
	}
	return orders, total, nil
}

// QueryOrder 查询订单；本地仍为 pending 时向网关查单并同步状态。
// 网关不可用或应答异常时返回本地订单，配置与存储错误照常返回。
func (s *PaymentOrderService) QueryOrder(ctx context.Context, orderNo, userID string) (*models.PaymentOrder, error) {
	order, err := s.GetOrder(ctx, orderNo, userID)
	if err != nil {
		return nil, err
	}
	if order.Status != constants.PaymentOrderStatusPending {
		return order, nil
	}
	allowed, err := s.throttle.Allow(ctx, order.OrderNo)
	if err != nil {
		paymentLogger("order_no", order.OrderNo).Warnw("payment_order_query_throttle_failed", "error", err)
		allowed = true
	}
	if !allowed {
		return order, nil
	}
	synced, err := s.syncWithGateway(ctx, order, "query")
	if err != nil {
		switch KindOf(err) {
		case KindGatewayProtocol, KindSignatureVerification, KindNetwork:
			paymentLogger("order_no", order.OrderNo).Warnw("payment_order_query_fallback_local", "error", err, "kind", KindOf(err))
			return order, nil
		}
		return nil, err
	}
	return synced, nil
}

// ReconcileOrder 队列查单：仍未确定时按退避重新入队，直到达到最大次数
func (s *PaymentOrderService) ReconcileOrder(ctx context.Context, orderNo string, attempt int) error {
	order, err := s.repo.WithContext(ctx).GetByOrderNo(orderNo)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOrderStoreFailed, err)
	}
	if order == nil {
		return ErrOrderNotFound
	}
	if order.Status != constants.PaymentOrderStatusPending {
		return nil
	}
	synced, syncErr := s.syncWithGateway(ctx, order, "reconcile")
	if syncErr == nil && synced.Status != constants.PaymentOrderStatusPending {
		return nil
	}
	if errors.Is(syncErr, ErrConfiguration) {
		return syncErr
	}
	if attempt < s.options.ReconcileMaxAttempts {
		s.scheduleReconcile(orderNo, attempt+1)
	} else {
		paymentLogger("order_no", orderNo, "attempt", attempt).Warnw("payment_order_reconcile_exhausted")
	}
	return syncErr
}

// SweepStalePending 扫描超时仍 pending 的订单并查单，返回处理数量
func (s *PaymentOrderService) SweepStalePending(ctx context.Context) (int, error) {
	before := s.now().Add(-s.options.StalePendingAfter)
	orders, err := s.repo.WithContext(ctx).ListStalePending(before, s.options.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOrderStoreFailed, err)
	}
	processed := 0
	for i := range orders {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		order := &orders[i]
		allowed, err := s.throttle.Allow(ctx, order.OrderNo)
		if err == nil && !allowed {
			continue
		}
		if _, err := s.syncWithGateway(ctx, order, "sweep"); err != nil {
			paymentLogger("order_no", order.OrderNo).Warnw("payment_order_sweep_sync_failed", "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

// syncWithGateway 以网关查单结果驱动状态迁移，与通知共用 orderStateMachine
func (s *PaymentOrderService) syncWithGateway(ctx context.Context, order *models.PaymentOrder, source string) (*models.PaymentOrder, error) {
	log := paymentLogger("order_no", order.OrderNo, "channel", order.Channel, "source", source)
	creds, err := s.credentials.GetCredentials(order.Channel)
	if err != nil {
		log.Errorw("payment_order_channel_config_invalid", "error", err)
		return nil, err
	}
	if err := s.repo.WithContext(ctx).IncrementReconcileCount(order.OrderNo); err != nil {
		log.Warnw("payment_order_reconcile_count_failed", "error", err)
	}
	resp, err := s.gateway.QueryOrder(ctx, creds, order.OrderNo)
	if err != nil {
		if wxpay.IsOrderNotExist(err) {
			log.Infow("payment_order_gateway_order_not_exist")
			return s.reload(ctx, order.OrderNo)
		}
		mapped := mapGatewayError(err)
		log.Warnw("payment_order_gateway_query_failed", "error", err, "kind", KindOf(mapped))
		return nil, mapped
	}
	if resp.OutTradeNo != order.OrderNo {
		log.Errorw("payment_order_gateway_query_mismatch", "gateway_out_trade_no", resp.OutTradeNo)
		return nil, fmt.Errorf("%w: out_trade_no mismatch", ErrGatewayProtocol)
	}

	switch {
	case resp.Paid():
		if resp.TotalFee > 0 && resp.TotalFee != order.Amount {
			log.Errorw("payment_order_gateway_amount_mismatch", "gateway_total_fee", resp.TotalFee, "amount", order.Amount)
			return nil, fmt.Errorf("%w: total_fee mismatch", ErrGatewayProtocol)
		}
		applied, err := s.stateFor(ctx).markPaid(paidConfirmation{
			OrderNo:       order.OrderNo,
			TransactionID: resp.TransactionID,
			PaymentTime:   resp.TimeEnd,
			Raw:           resp.Fields,
		})
		if err != nil {
			log.Errorw("payment_order_mark_paid_failed", "error", err)
			return nil, fmt.Errorf("%w: %v", ErrOrderStoreFailed, err)
		}
		if applied {
			log.Infow("payment_order_paid", "transaction_id", resp.TransactionID)
		}
	case resp.TradeState == constants.GatewayTradeStateClosed || resp.TradeState == constants.GatewayTradeStateRevoked:
		if _, err := s.stateFor(ctx).markClosed(order.OrderNo, constants.PaymentOrderStatusCancelled, resp.Fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOrderStoreFailed, err)
		}
		log.Infow("payment_order_cancelled", "trade_state", resp.TradeState)
	case resp.TradeState == constants.GatewayTradeStatePayError:
		if _, err := s.stateFor(ctx).markClosed(order.OrderNo, constants.PaymentOrderStatusFailed, resp.Fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOrderStoreFailed, err)
		}
		log.Infow("payment_order_failed", "trade_state", resp.TradeState, "trade_state_desc", resp.TradeStateDesc)
	default:
		log.Debugw("payment_order_still_pending", "trade_state", resp.TradeState)
	}

	return s.reload(ctx, order.OrderNo)
}

func (s *PaymentOrderService) reload(ctx context.Context, orderNo string) (*models.PaymentOrder, error) {
	latest, err := s.repo.WithContext(ctx).GetByOrderNo(orderNo)
	if err != nil || latest == nil {
		return nil, fmt.Errorf("%w: reload %s", ErrOrderStoreFailed, orderNo)
	}
	return latest, nil
}

// Refund 退款：仅 paid 订单可退，金额不得超过订单金额。
// 网关退款为本地桩实现，只生成并签名请求，不做远程结算。
func (s *PaymentOrderService) Refund(ctx context.Context, input RefundInput) (*models.PaymentOrder, error) {
	order, err := s.GetOrder(ctx, strings.TrimSpace(input.OrderNo), strings.TrimSpace(input.UserID))
	if err != nil {
		return nil, err
	}
	log := paymentLogger("order_no", order.OrderNo, "status", order.Status)
	if order.Status != constants.PaymentOrderStatusPaid {
		log.Warnw("payment_order_refund_not_payable")
		return nil, ErrOrderNotPayable
	}
	amount := input.Amount
	if amount == 0 {
		amount = order.Amount
	}
	if amount < 0 || amount > order.Amount {
		return nil, fmt.Errorf("%w: refund amount must be in (0, %d]", ErrInvalidInput, order.Amount)
	}
	creds, err := s.credentials.GetCredentials(order.Channel)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result, err := s.gateway.Refund(ctx, creds, wxpay.RefundRequest{
		OrderNo:       order.OrderNo,
		TransactionID: order.TransactionID,
		RefundNo:      generateOrderNo(refundNoPrefix, now),
		TotalFee:      order.Amount,
		RefundFee:     amount,
	})
	if err != nil {
		log.Warnw("payment_order_refund_gateway_failed", "error", err)
		return nil, mapGatewayError(err)
	}
	applied, err := s.stateFor(ctx).markRefunded(order.OrderNo, result.RefundNo, amount, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderStoreFailed, err)
	}
	if !applied {
		log.Warnw("payment_order_refund_conflict")
		return nil, ErrOrderNotPayable
	}
	log.Infow("payment_order_refunded",
		"refund_no", result.RefundNo,
		"refund_amount", amount,
		"submitted", result.Submitted,
		"reason", strings.TrimSpace(input.Reason),
	)
	return s.GetOrder(ctx, order.OrderNo, "")
}

func (s *PaymentOrderService) scheduleReconcile(orderNo string, attempt int) {
	if s.scheduler == nil {
		return
	}
	delay := s.options.ReconcileDelay * time.Duration(attempt)
	if err := s.scheduler.EnqueuePaymentOrderReconcile(queue.PaymentOrderReconcilePayload{
		OrderNo: orderNo,
		Attempt: attempt,
	}, delay); err != nil {
		paymentLogger("order_no", orderNo, "attempt", attempt).Warnw("payment_order_reconcile_enqueue_failed", "error", err)
	}
}

func normalizeCreateOrderInput(input CreateOrderInput) CreateOrderInput {
	input.UserID = strings.TrimSpace(input.UserID)
	input.Channel = strings.ToLower(strings.TrimSpace(input.Channel))
	input.Currency = strings.ToUpper(strings.TrimSpace(input.Currency))
	if input.Currency == "" {
		input.Currency = constants.DefaultCurrency
	}
	input.ProductID = strings.TrimSpace(input.ProductID)
	input.ProductName = strings.TrimSpace(input.ProductName)
	if runes := []rune(input.ProductName); len(runes) > maxProductNameRunes {
		input.ProductName = string(runes[:maxProductNameRunes])
	}
	input.Description = strings.TrimSpace(input.Description)
	input.ClientIP = strings.TrimSpace(input.ClientIP)
	input.OpenID = strings.TrimSpace(input.OpenID)
	input.Attach = strings.TrimSpace(input.Attach)
	return input
}

func validateCreateOrderInput(input CreateOrderInput) (string, error) {
	tradeType, ok := constants.ChannelTradeType(input.Channel)
	if !ok {
		return "", fmt.Errorf("%w: channel %q is not supported", ErrInvalidInput, input.Channel)
	}
	if input.UserID == "" {
		return "", fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if input.Amount <= 0 {
		return "", fmt.Errorf("%w: amount must be greater than zero", ErrInvalidInput)
	}
	if input.ProductName == "" {
		return "", fmt.Errorf("%w: product_name is required", ErrInvalidInput)
	}
	if tradeType == constants.TradeTypeJSAPI && input.OpenID == "" {
		return "", fmt.Errorf("%w: openid is required for miniapp", ErrInvalidInput)
	}
	return tradeType, nil
}

func isKnownOrderStatus(status string) bool {
	switch status {
	case constants.PaymentOrderStatusPending,
		constants.PaymentOrderStatusPaid,
		constants.PaymentOrderStatusCancelled,
		constants.PaymentOrderStatusRefunded,
		constants.PaymentOrderStatusFailed:
		return true
	}
	return false
}

// generateOrderNo 前缀 + 时间 + 16 位随机十六进制，总长 32
func generateOrderNo(prefix string, now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + now.Format(orderNoLayout) + strings.ToUpper(random[:16])
}
