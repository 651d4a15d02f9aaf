package service

import (
	"context"
	"strings"

	"github.com/wxorder-next/internal/constants"
	"github.com/wxorder-next/internal/models"
	"github.com/wxorder-next/internal/payment/wxpay"
	"github.com/wxorder-next/internal/repository"
)

// 回调应答文案
const (
	notifyMsgBadPayload      = "invalid payload"
	notifyMsgMerchantUnknown = "merchant not configured"
	notifyMsgSignInvalid     = "signature invalid"
	notifyMsgNotSuccess      = "trade not success"
	notifyMsgOrderNotFound   = "order not found"
	notifyMsgAmountMismatch  = "amount mismatch"
	notifyMsgOrderClosed     = "order closed"
	notifyMsgInternal        = "internal error"
)

// NotifyResult 回调处理结果，Code/Message 即回包内容
type NotifyResult struct {
	Code      string
	Message   string
	OrderNo   string
	Kind      ErrorKind
	Applied   bool
	Duplicate bool
}

// Succeeded 是否应答 SUCCESS
func (r NotifyResult) Succeeded() bool {
	return r.Code == constants.GatewayCodeSuccess
}

// Ack 编码为网关回包
func (r NotifyResult) Ack() []byte {
	return wxpay.EncodeAck(r.Code, r.Message)
}

func notifyOK(orderNo string) NotifyResult {
	return NotifyResult{Code: constants.GatewayCodeSuccess, Message: constants.GatewayAckOK, OrderNo: orderNo}
}

func notifyFail(orderNo string, kind ErrorKind, msg string) NotifyResult {
	return NotifyResult{Code: constants.GatewayCodeFail, Message: msg, OrderNo: orderNo, Kind: kind}
}

// NotifyService 支付结果通知处理
type NotifyService struct {
	repo        repository.PaymentOrderRepository
	credentials CredentialProvider
}

// NewNotifyService 创建通知处理服务
func NewNotifyService(repo repository.PaymentOrderRepository, credentials CredentialProvider) *NotifyService {
	return &NotifyService{
		repo:        repo,
		credentials: credentials,
	}
}

// Handle 处理一次通知投递。
// 验签失败、状态码非 SUCCESS、订单不存在、金额不符时不修改任何订单并应答 FAIL，由网关重投。
func (s *NotifyService) Handle(ctx context.Context, body []byte) NotifyResult {
	fields, err := wxpay.DecodeXML(body)
	if err != nil {
		paymentLogger().Warnw("wxpay_notify_decode_failed", "error", err, "body_size", len(body))
		return notifyFail("", KindInvalidInput, notifyMsgBadPayload)
	}
	orderNo := strings.TrimSpace(fields["out_trade_no"])
	log := paymentLogger(
		"order_no", orderNo,
		"transaction_id", strings.TrimSpace(fields["transaction_id"]),
		"appid", strings.TrimSpace(fields["appid"]),
		"mch_id", strings.TrimSpace(fields["mch_id"]),
	)
	log.Infow("wxpay_notify_received")

	creds, err := s.credentials.FindByMerchant(fields["appid"], fields["mch_id"])
	if err != nil {
		log.Warnw("wxpay_notify_merchant_unknown", "error", err)
		return notifyFail(orderNo, KindConfiguration, notifyMsgMerchantUnknown)
	}
	if !wxpay.Verify(fields, fields["sign"], creds.MerchantKey) {
		log.Warnw("wxpay_notify_signature_invalid", "sign_type", fields["sign_type"])
		return notifyFail(orderNo, KindSignatureVerification, notifyMsgSignInvalid)
	}
	if fields["return_code"] != constants.GatewayCodeSuccess || fields["result_code"] != constants.GatewayCodeSuccess {
		log.Warnw("wxpay_notify_not_success",
			"return_code", fields["return_code"],
			"result_code", fields["result_code"],
			"err_code", fields["err_code"],
		)
		return notifyFail(orderNo, KindGatewayProtocol, notifyMsgNotSuccess)
	}
	payload, err := wxpay.DecodeNotifyPayload(fields)
	if err != nil {
		log.Warnw("wxpay_notify_payload_invalid", "error", err)
		return notifyFail(orderNo, KindGatewayProtocol, notifyMsgBadPayload)
	}

	order, err := s.repo.WithContext(ctx).GetByOrderNo(payload.OutTradeNo)
	if err != nil {
		log.Errorw("wxpay_notify_order_fetch_failed", "error", err)
		return notifyFail(orderNo, KindInternal, notifyMsgInternal)
	}
	if order == nil {
		log.Warnw("wxpay_notify_order_not_found")
		return notifyFail(orderNo, KindOrderNotFound, notifyMsgOrderNotFound)
	}
	if payload.TotalFee != order.Amount {
		log.Errorw("wxpay_notify_amount_mismatch", "total_fee", payload.TotalFee, "amount", order.Amount)
		return notifyFail(orderNo, KindGatewayProtocol, notifyMsgAmountMismatch)
	}

	switch order.Status {
	case constants.PaymentOrderStatusPaid, constants.PaymentOrderStatusRefunded:
		return s.acknowledgeDuplicate(ctx, order, payload)
	case constants.PaymentOrderStatusPending:
	default:
		log.Errorw("wxpay_notify_order_closed", "status", order.Status)
		return notifyFail(orderNo, KindOrderNotPayable, notifyMsgOrderClosed)
	}

	applied, err := s.stateFor(ctx).markPaid(paidConfirmation{
		OrderNo:       order.OrderNo,
		TransactionID: payload.TransactionID,
		PaymentTime:   payload.TimeEnd,
		Raw:           fields,
	})
	if err != nil {
		log.Errorw("wxpay_notify_mark_paid_failed", "error", err)
		return notifyFail(orderNo, KindInternal, notifyMsgInternal)
	}
	if applied {
		log.Infow("wxpay_notify_order_paid")
		result := notifyOK(order.OrderNo)
		result.Applied = true
		return result
	}

	// 并发写入失败方：重新读取后按重复通知处理
	latest, err := s.repo.WithContext(ctx).GetByOrderNo(order.OrderNo)
	if err != nil || latest == nil {
		log.Errorw("wxpay_notify_order_reload_failed", "error", err)
		return notifyFail(orderNo, KindInternal, notifyMsgInternal)
	}
	if latest.Status == constants.PaymentOrderStatusPaid || latest.Status == constants.PaymentOrderStatusRefunded {
		return s.acknowledgeDuplicate(ctx, latest, payload)
	}
	log.Errorw("wxpay_notify_order_closed", "status", latest.Status)
	return notifyFail(orderNo, KindOrderNotPayable, notifyMsgOrderClosed)
}

func (s *NotifyService) acknowledgeDuplicate(ctx context.Context, order *models.PaymentOrder, payload *wxpay.NotifyPayload) NotifyResult {
	log := paymentLogger("order_no", order.OrderNo, "status", order.Status)
	if order.TransactionID != "" && order.TransactionID != payload.TransactionID {
		log.Errorw("wxpay_notify_transaction_mismatch",
			"stored_transaction_id", order.TransactionID,
			"notify_transaction_id", payload.TransactionID,
		)
	}
	if _, err := s.stateFor(ctx).acknowledgeDuplicate(order.OrderNo); err != nil {
		log.Errorw("wxpay_notify_count_increment_failed", "error", err)
		return notifyFail(order.OrderNo, KindInternal, notifyMsgInternal)
	}
	log.Infow("wxpay_notify_duplicate_acknowledged")
	result := notifyOK(order.OrderNo)
	result.Duplicate = true
	return result
}
