package constants

// 支付订单状态常量
const (
	PaymentOrderStatusPending   = "pending"
	PaymentOrderStatusPaid      = "paid"
	PaymentOrderStatusCancelled = "cancelled"
	PaymentOrderStatusRefunded  = "refunded"
	PaymentOrderStatusFailed    = "failed"
)

// 客户端渠道常量
const (
	PaymentChannelWeb     = "web"
	PaymentChannelMiniapp = "miniapp"
	PaymentChannelMobile  = "mobile"
)

// 网关交易类型常量
const (
	TradeTypeNative = "NATIVE"
	TradeTypeJSAPI  = "JSAPI"
	TradeTypeApp    = "APP"
)

// 网关交易状态常量（订单查询 trade_state）
const (
	GatewayTradeStateSuccess    = "SUCCESS"
	GatewayTradeStateRefund     = "REFUND"
	GatewayTradeStateNotPay     = "NOTPAY"
	GatewayTradeStateClosed     = "CLOSED"
	GatewayTradeStateRevoked    = "REVOKED"
	GatewayTradeStateUserPaying = "USERPAYING"
	GatewayTradeStatePayError   = "PAYERROR"
)

// 网关回包常量
const (
	GatewayCodeSuccess = "SUCCESS"
	GatewayCodeFail    = "FAIL"
	GatewayAckOK       = "OK"
)

// 默认币种
const DefaultCurrency = "CNY"

// 队列相关常量
const (
	QueueDefault  = "default"
	QueueCritical = "critical"

	TaskPaymentOrderReconcile = "payment_order:reconcile"
)
