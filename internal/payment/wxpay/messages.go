package wxpay

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wxorder-next/internal/constants"
)

// GatewayTimeLayout 网关时间格式（北京时间）
const GatewayTimeLayout = "20060102150405"

var gatewayLocation = time.FixedZone("CST", 8*3600)

// Credentials 商户凭证，每次调用时注入
type Credentials struct {
	AppID       string
	MerchantID  string
	MerchantKey string
	NotifyURL   string
}

// Validate 校验凭证完整性
func (c *Credentials) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: credentials is nil", ErrConfigInvalid)
	}
	if strings.TrimSpace(c.AppID) == "" {
		return fmt.Errorf("%w: appid is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(c.MerchantID) == "" {
		return fmt.Errorf("%w: mch_id is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(c.MerchantKey) == "" {
		return fmt.Errorf("%w: mch_key is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(c.NotifyURL) == "" {
		return fmt.Errorf("%w: notify_url is required", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(strings.TrimSpace(c.NotifyURL)); err != nil {
		return fmt.Errorf("%w: notify_url is invalid", ErrConfigInvalid)
	}
	return nil
}

// ReturnHeader 所有网关报文共有的通信/业务状态字段
type ReturnHeader struct {
	ReturnCode string
	ReturnMsg  string
	AppID      string
	MchID      string
	NonceStr   string
	Sign       string
	SignType   string
	ResultCode string
	ErrCode    string
	ErrCodeDes string
}

// Succeeded return_code 与 result_code 同时为 SUCCESS
func (h ReturnHeader) Succeeded() bool {
	return h.ReturnCode == constants.GatewayCodeSuccess && h.ResultCode == constants.GatewayCodeSuccess
}

func (h ReturnHeader) check(endpoint string) error {
	if h.Succeeded() {
		return nil
	}
	return &ProtocolError{
		Endpoint:   endpoint,
		ReturnCode: h.ReturnCode,
		ReturnMsg:  h.ReturnMsg,
		ResultCode: h.ResultCode,
		ErrCode:    h.ErrCode,
		ErrCodeDes: h.ErrCodeDes,
	}
}

func decodeHeader(fields map[string]string) ReturnHeader {
	return ReturnHeader{
		ReturnCode: strings.TrimSpace(fields["return_code"]),
		ReturnMsg:  strings.TrimSpace(fields["return_msg"]),
		AppID:      strings.TrimSpace(fields["appid"]),
		MchID:      strings.TrimSpace(fields["mch_id"]),
		NonceStr:   strings.TrimSpace(fields["nonce_str"]),
		Sign:       strings.TrimSpace(fields["sign"]),
		SignType:   strings.TrimSpace(fields["sign_type"]),
		ResultCode: strings.TrimSpace(fields["result_code"]),
		ErrCode:    strings.TrimSpace(fields["err_code"]),
		ErrCodeDes: strings.TrimSpace(fields["err_code_des"]),
	}
}

// UnifiedOrderResponse 统一下单应答
type UnifiedOrderResponse struct {
	ReturnHeader
	TradeType string
	PrepayID  string
	CodeURL   string
}

// DecodeUnifiedOrderResponse 解析统一下单应答并逐字段校验
func DecodeUnifiedOrderResponse(fields map[string]string) (*UnifiedOrderResponse, error) {
	header := decodeHeader(fields)
	if err := header.check(unifiedOrderPath); err != nil {
		return nil, err
	}
	resp := &UnifiedOrderResponse{
		ReturnHeader: header,
		TradeType:    strings.ToUpper(strings.TrimSpace(fields["trade_type"])),
		PrepayID:     strings.TrimSpace(fields["prepay_id"]),
		CodeURL:      strings.TrimSpace(fields["code_url"]),
	}
	if resp.PrepayID == "" {
		return nil, fmt.Errorf("%w: missing prepay_id", ErrResponseInvalid)
	}
	if resp.TradeType == constants.TradeTypeNative && resp.CodeURL == "" {
		return nil, fmt.Errorf("%w: missing code_url", ErrResponseInvalid)
	}
	return resp, nil
}

// OrderQueryResponse 订单查询应答
type OrderQueryResponse struct {
	ReturnHeader
	TradeState     string
	TradeStateDesc string
	OutTradeNo     string
	TransactionID  string
	TradeType      string
	TotalFee       int64
	FeeType        string
	OpenID         string
	BankType       string
	Attach         string
	TimeEnd        *time.Time
	Fields         map[string]string
}

// Paid 网关侧已支付（含已转入退款）
func (r *OrderQueryResponse) Paid() bool {
	return r != nil && (r.TradeState == constants.GatewayTradeStateSuccess || r.TradeState == constants.GatewayTradeStateRefund)
}

// DecodeOrderQueryResponse 解析订单查询应答并逐字段校验
func DecodeOrderQueryResponse(fields map[string]string) (*OrderQueryResponse, error) {
	header := decodeHeader(fields)
	if err := header.check(orderQueryPath); err != nil {
		return nil, err
	}
	resp := &OrderQueryResponse{
		ReturnHeader:   header,
		TradeState:     strings.ToUpper(strings.TrimSpace(fields["trade_state"])),
		TradeStateDesc: strings.TrimSpace(fields["trade_state_desc"]),
		OutTradeNo:     strings.TrimSpace(fields["out_trade_no"]),
		TransactionID:  strings.TrimSpace(fields["transaction_id"]),
		TradeType:      strings.ToUpper(strings.TrimSpace(fields["trade_type"])),
		FeeType:        strings.ToUpper(strings.TrimSpace(fields["fee_type"])),
		OpenID:         strings.TrimSpace(fields["openid"]),
		BankType:       strings.TrimSpace(fields["bank_type"]),
		Attach:         fields["attach"],
		Fields:         fields,
	}
	if resp.TradeState == "" {
		return nil, fmt.Errorf("%w: missing trade_state", ErrResponseInvalid)
	}
	if resp.OutTradeNo == "" {
		return nil, fmt.Errorf("%w: missing out_trade_no", ErrResponseInvalid)
	}
	if raw := strings.TrimSpace(fields["total_fee"]); raw != "" {
		fee, err := parseFee(raw)
		if err != nil {
			return nil, err
		}
		resp.TotalFee = fee
	}
	if raw := strings.TrimSpace(fields["time_end"]); raw != "" {
		paidAt, err := ParseGatewayTime(raw)
		if err != nil {
			return nil, err
		}
		resp.TimeEnd = paidAt
	}
	if resp.Paid() && resp.TransactionID == "" {
		return nil, fmt.Errorf("%w: missing transaction_id", ErrResponseInvalid)
	}
	return resp, nil
}

// NotifyPayload 支付结果通知
type NotifyPayload struct {
	ReturnHeader
	OutTradeNo    string
	TransactionID string
	TradeType     string
	TotalFee      int64
	CashFee       int64
	FeeType       string
	OpenID        string
	BankType      string
	Attach        string
	TimeEnd       *time.Time
}

// DecodeNotifyPayload 解析支付结果通知；调用方需先完成验签与状态码检查。
func DecodeNotifyPayload(fields map[string]string) (*NotifyPayload, error) {
	header := decodeHeader(fields)
	if err := header.check("notify"); err != nil {
		return nil, err
	}
	payload := &NotifyPayload{
		ReturnHeader:  header,
		OutTradeNo:    strings.TrimSpace(fields["out_trade_no"]),
		TransactionID: strings.TrimSpace(fields["transaction_id"]),
		TradeType:     strings.ToUpper(strings.TrimSpace(fields["trade_type"])),
		FeeType:       strings.ToUpper(strings.TrimSpace(fields["fee_type"])),
		OpenID:        strings.TrimSpace(fields["openid"]),
		BankType:      strings.TrimSpace(fields["bank_type"]),
		Attach:        fields["attach"],
	}
	if payload.OutTradeNo == "" {
		return nil, fmt.Errorf("%w: missing out_trade_no", ErrResponseInvalid)
	}
	if payload.TransactionID == "" {
		return nil, fmt.Errorf("%w: missing transaction_id", ErrResponseInvalid)
	}
	fee, err := parseFee(fields["total_fee"])
	if err != nil {
		return nil, err
	}
	payload.TotalFee = fee
	if raw := strings.TrimSpace(fields["cash_fee"]); raw != "" {
		cash, err := parseFee(raw)
		if err != nil {
			return nil, err
		}
		payload.CashFee = cash
	}
	paidAt, err := ParseGatewayTime(fields["time_end"])
	if err != nil {
		return nil, err
	}
	payload.TimeEnd = paidAt
	return payload, nil
}

// ParseGatewayTime 解析网关时间（yyyyMMddHHmmss，UTC+8）
func ParseGatewayTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: missing time_end", ErrResponseInvalid)
	}
	parsed, err := time.ParseInLocation(GatewayTimeLayout, raw, gatewayLocation)
	if err != nil {
		return nil, fmt.Errorf("%w: time_end is invalid", ErrResponseInvalid)
	}
	return &parsed, nil
}

// FormatGatewayTime 格式化为网关时间
func FormatGatewayTime(t time.Time) string {
	return t.In(gatewayLocation).Format(GatewayTimeLayout)
}

func parseFee(raw string) (int64, error) {
	fee, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || fee < 0 {
		return 0, fmt.Errorf("%w: fee %q is invalid", ErrResponseInvalid, raw)
	}
	return fee, nil
}
