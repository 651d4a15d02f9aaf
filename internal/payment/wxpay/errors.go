package wxpay

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfigInvalid    = errors.New("wxpay config invalid")
	ErrRequestInvalid   = errors.New("wxpay request invalid")
	ErrRequestFailed    = errors.New("wxpay request failed")
	ErrResponseInvalid  = errors.New("wxpay response invalid")
	ErrSignatureInvalid = errors.New("wxpay signature invalid")
	ErrProtocol         = errors.New("wxpay protocol error")
	ErrWireFormat       = errors.New("wxpay wire format invalid")
)

// ErrCodeOrderNotExist 查单时网关尚无此订单，用户未扫码前常见
const ErrCodeOrderNotExist = "ORDERNOTEXIST"

// ProtocolError 网关返回 return_code / result_code 非 SUCCESS
type ProtocolError struct {
	Endpoint   string
	ReturnCode string
	ReturnMsg  string
	ResultCode string
	ErrCode    string
	ErrCodeDes string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s return_code=%s result_code=%s err_code=%s message=%s",
		ErrProtocol.Error(), e.Endpoint, e.ReturnCode, e.ResultCode, e.ErrCode, e.Message())
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}

// Message 网关提示信息，业务错误描述优先
func (e *ProtocolError) Message() string {
	if e == nil {
		return ""
	}
	if msg := strings.TrimSpace(e.ErrCodeDes); msg != "" {
		return msg
	}
	return strings.TrimSpace(e.ReturnMsg)
}

// GatewayMessage 从错误链中提取网关返回的提示信息
func GatewayMessage(err error) string {
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return protoErr.Message()
	}
	return ""
}

// IsOrderNotExist 网关明确答复订单不存在
func IsOrderNotExist(err error) bool {
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(protoErr.ErrCode), ErrCodeOrderNotExist)
}
