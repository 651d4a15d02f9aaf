package wxpay

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/wxorder-next/internal/constants"

	"github.com/go-resty/resty/v2"
	"github.com/wechatpay-apiv3/wechatpay-go/utils"
)

const (
	DefaultBaseURL = "https://api.mch.weixin.qq.com"
	DefaultTimeout = 10 * time.Second

	unifiedOrderPath = "/pay/unifiedorder"
	orderQueryPath   = "/pay/orderquery"
	refundPath       = "/secapi/pay/refund"

	maxBodyRunes = 128
)

// ClientOptions 网关客户端配置
type ClientOptions struct {
	BaseURL  string
	Timeout  time.Duration
	SignType SignType
}

// Client 网关客户端。凭证不在客户端内保存，由调用方每次传入。
type Client struct {
	http     *resty.Client
	baseURL  string
	signType SignType
	nonce    func() (string, error)
}

// UnifiedOrderRequest 统一下单请求
type UnifiedOrderRequest struct {
	OrderNo   string
	TradeType string
	Body      string
	TotalFee  int64
	FeeType   string
	ClientIP  string
	OpenID    string
	ProductID string
	Attach    string
}

// RefundRequest 退款请求
type RefundRequest struct {
	OrderNo       string
	TransactionID string
	RefundNo      string
	TotalFee      int64
	RefundFee     int64
}

// RefundResult 退款结果
type RefundResult struct {
	RefundNo  string
	Submitted bool
	Params    map[string]string
}

// NewClient 创建网关客户端
func NewClient(opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	signType := opts.SignType
	if signType == "" {
		signType = SignTypeMD5
	}
	return &Client{
		http:     resty.New().SetTimeout(timeout),
		baseURL:  baseURL,
		signType: signType,
		nonce:    NewNonce,
	}
}

// NewNonce 生成随机串
func NewNonce() (string, error) {
	nonce, err := utils.GenerateNonce()
	if err != nil {
		return "", fmt.Errorf("%w: generate nonce failed", ErrRequestFailed)
	}
	return nonce, nil
}

// CreateUnifiedOrder 统一下单
func (c *Client) CreateUnifiedOrder(ctx context.Context, creds *Credentials, req UnifiedOrderRequest) (*UnifiedOrderResponse, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if err := validateUnifiedOrderRequest(req); err != nil {
		return nil, err
	}
	feeType := strings.ToUpper(strings.TrimSpace(req.FeeType))
	if feeType == "" {
		feeType = constants.DefaultCurrency
	}
	params := map[string]string{
		"appid":            creds.AppID,
		"mch_id":           creds.MerchantID,
		"body":             truncateRunes(strings.TrimSpace(req.Body), maxBodyRunes),
		"out_trade_no":     req.OrderNo,
		"total_fee":        strconv.FormatInt(req.TotalFee, 10),
		"fee_type":         feeType,
		"spbill_create_ip": normalizeClientIP(req.ClientIP),
		"notify_url":       creds.NotifyURL,
		"trade_type":       req.TradeType,
	}
	switch req.TradeType {
	case constants.TradeTypeJSAPI:
		params["openid"] = strings.TrimSpace(req.OpenID)
	case constants.TradeTypeNative:
		productID := strings.TrimSpace(req.ProductID)
		if productID == "" {
			productID = req.OrderNo
		}
		params["product_id"] = productID
	}
	if attach := strings.TrimSpace(req.Attach); attach != "" {
		params["attach"] = attach
	}

	fields, err := c.post(ctx, creds, unifiedOrderPath, params)
	if err != nil {
		return nil, err
	}
	resp, err := DecodeUnifiedOrderResponse(fields)
	if err != nil {
		return nil, err
	}
	if resp.TradeType == "" {
		resp.TradeType = req.TradeType
	}
	return resp, nil
}

// QueryOrder 按商户订单号查询
func (c *Client) QueryOrder(ctx context.Context, creds *Credentials, orderNo string) (*OrderQueryResponse, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, fmt.Errorf("%w: out_trade_no is required", ErrRequestInvalid)
	}
	fields, err := c.post(ctx, creds, orderQueryPath, map[string]string{
		"appid":        creds.AppID,
		"mch_id":       creds.MerchantID,
		"out_trade_no": orderNo,
	})
	if err != nil {
		return nil, err
	}
	return DecodeOrderQueryResponse(fields)
}

// Refund 构造并签名退款请求。
// 退款接口要求商户证书双向 TLS，证书配置方案未定，当前不提交网关，仅返回本地退款单号。
func (c *Client) Refund(ctx context.Context, creds *Credentials, req RefundRequest) (*RefundResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.OrderNo) == "" || strings.TrimSpace(req.RefundNo) == "" {
		return nil, fmt.Errorf("%w: out_trade_no and out_refund_no are required", ErrRequestInvalid)
	}
	if req.RefundFee <= 0 || req.RefundFee > req.TotalFee {
		return nil, fmt.Errorf("%w: refund_fee must be in (0, total_fee]", ErrRequestInvalid)
	}
	nonce, err := c.nonce()
	if err != nil {
		return nil, err
	}
	params := map[string]string{
		"appid":          creds.AppID,
		"mch_id":         creds.MerchantID,
		"nonce_str":      nonce,
		"out_trade_no":   req.OrderNo,
		"transaction_id": req.TransactionID,
		"out_refund_no":  req.RefundNo,
		"total_fee":      strconv.FormatInt(req.TotalFee, 10),
		"refund_fee":     strconv.FormatInt(req.RefundFee, 10),
	}
	c.signRequest(params, creds.MerchantKey)
	return &RefundResult{
		RefundNo:  req.RefundNo,
		Submitted: false,
		Params:    params,
	}, nil
}

// RefundEndpoint 退款接口地址
func (c *Client) RefundEndpoint() string {
	return c.baseURL + refundPath
}

func (c *Client) post(ctx context.Context, creds *Credentials, path string, params map[string]string) (map[string]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	nonce, err := c.nonce()
	if err != nil {
		return nil, err
	}
	params["nonce_str"] = nonce
	c.signRequest(params, creds.MerchantKey)

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/xml; charset=utf-8").
		SetBody(EncodeXML(params)).
		Post(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrResponseInvalid, resp.StatusCode())
	}
	fields, err := DecodeXML(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseInvalid, err)
	}
	if fields["return_code"] == constants.GatewayCodeSuccess && strings.TrimSpace(fields["sign"]) != "" {
		if !Verify(fields, fields["sign"], creds.MerchantKey) {
			return nil, fmt.Errorf("%w: %s response", ErrSignatureInvalid, path)
		}
	}
	return fields, nil
}

// signRequest 出站请求签名：覆盖全部请求参数
func (c *Client) signRequest(params map[string]string, key string) {
	if c.signType == SignTypeHMACSHA256 {
		params["sign_type"] = string(SignTypeHMACSHA256)
	}
	params[signField] = SignWithType(params, key, c.signType)
}

func validateUnifiedOrderRequest(req UnifiedOrderRequest) error {
	if strings.TrimSpace(req.OrderNo) == "" {
		return fmt.Errorf("%w: out_trade_no is required", ErrRequestInvalid)
	}
	if req.TotalFee <= 0 {
		return fmt.Errorf("%w: total_fee must be greater than zero", ErrRequestInvalid)
	}
	switch req.TradeType {
	case constants.TradeTypeNative, constants.TradeTypeApp:
	case constants.TradeTypeJSAPI:
		if strings.TrimSpace(req.OpenID) == "" {
			return fmt.Errorf("%w: openid is required for JSAPI", ErrRequestInvalid)
		}
	default:
		return fmt.Errorf("%w: trade_type %s is not supported", ErrRequestInvalid, req.TradeType)
	}
	return nil
}

func truncateRunes(raw string, limit int) string {
	runes := []rune(raw)
	if len(runes) <= limit {
		return raw
	}
	return string(runes[:limit])
}

func normalizeClientIP(raw string) string {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return "127.0.0.1"
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}
