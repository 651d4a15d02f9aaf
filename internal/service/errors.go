package service

import (
	"errors"
	"fmt"

	"github.com/wxorder-next/internal/payment/wxpay"
)

// ErrorKind 错误类别，用于 API 边界分发
type ErrorKind string

const (
	KindConfiguration         ErrorKind = "configuration"
	KindGatewayProtocol       ErrorKind = "gateway_protocol"
	KindSignatureVerification ErrorKind = "signature_verification"
	KindOrderNotFound         ErrorKind = "order_not_found"
	KindOrderNotPayable       ErrorKind = "order_not_payable"
	KindNetwork               ErrorKind = "network"
	KindInvalidInput          ErrorKind = "invalid_input"
	KindInternal              ErrorKind = "internal"
)

var (
	ErrConfiguration         = errors.New("payment channel configuration invalid")
	ErrGatewayProtocol       = errors.New("payment gateway rejected request")
	ErrSignatureVerification = errors.New("payment signature verification failed")
	ErrOrderNotFound         = errors.New("payment order not found")
	ErrOrderNotPayable       = errors.New("payment order state does not allow operation")
	ErrGatewayNetwork        = errors.New("payment gateway unreachable")
	ErrInvalidInput          = errors.New("payment order input invalid")
	ErrOrderStoreFailed      = errors.New("payment order store failed")
)

var kindRules = []struct {
	target error
	kind   ErrorKind
}{
	{ErrConfiguration, KindConfiguration},
	{ErrGatewayProtocol, KindGatewayProtocol},
	{ErrSignatureVerification, KindSignatureVerification},
	{ErrOrderNotFound, KindOrderNotFound},
	{ErrOrderNotPayable, KindOrderNotPayable},
	{ErrGatewayNetwork, KindNetwork},
	{ErrInvalidInput, KindInvalidInput},
	{ErrOrderStoreFailed, KindInternal},
}

// KindOf 返回错误类别，未识别的错误归为 internal
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, rule := range kindRules {
		if errors.Is(err, rule.target) {
			return rule.kind
		}
	}
	return KindInternal
}

var kindMessages = map[ErrorKind]string{
	KindConfiguration:         "支付渠道未配置或配置不完整",
	KindGatewayProtocol:       "支付网关返回失败",
	KindSignatureVerification: "签名校验失败",
	KindOrderNotFound:         "订单不存在",
	KindOrderNotPayable:       "订单状态不允许该操作",
	KindNetwork:               "支付网关请求失败，请稍后查询订单状态",
	KindInvalidInput:          "请求参数错误",
	KindInternal:              "服务器内部错误",
}

// DisplayMessage 面向用户的提示文本，仅用于展示。
// 网关协议错误优先返回网关提示。
func DisplayMessage(err error) string {
	if err == nil {
		return ""
	}
	kind := KindOf(err)
	if kind == KindGatewayProtocol {
		if msg := wxpay.GatewayMessage(err); msg != "" {
			return msg
		}
	}
	return kindMessages[kind]
}

// mapGatewayError 将网关包错误映射为服务错误，保留原始错误链
func mapGatewayError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, wxpay.ErrConfigInvalid):
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	case errors.Is(err, wxpay.ErrRequestInvalid):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	case errors.Is(err, wxpay.ErrProtocol):
		return fmt.Errorf("%w: %w", ErrGatewayProtocol, err)
	case errors.Is(err, wxpay.ErrSignatureInvalid):
		return fmt.Errorf("%w: %w", ErrSignatureVerification, err)
	case errors.Is(err, wxpay.ErrResponseInvalid), errors.Is(err, wxpay.ErrWireFormat):
		return fmt.Errorf("%w: %w", ErrGatewayProtocol, err)
	case errors.Is(err, wxpay.ErrRequestFailed):
		return fmt.Errorf("%w: %w", ErrGatewayNetwork, err)
	default:
		return fmt.Errorf("%w: %w", ErrGatewayNetwork, err)
	}
}
