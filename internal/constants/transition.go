package constants

var paymentOrderTransitions = map[string][]string{
	PaymentOrderStatusPending: {PaymentOrderStatusPaid, PaymentOrderStatusCancelled, PaymentOrderStatusFailed},
	PaymentOrderStatusPaid:    {PaymentOrderStatusRefunded},
}

// CanTransitPaymentOrder 判断订单状态迁移是否合法，状态不变视为合法
func CanTransitPaymentOrder(from, to string) bool {
	if from == to {
		return true
	}
	for _, next := range paymentOrderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ChannelTradeType 渠道对应的网关交易类型
func ChannelTradeType(channel string) (string, bool) {
	switch channel {
	case PaymentChannelWeb:
		return TradeTypeNative, true
	case PaymentChannelMiniapp:
		return TradeTypeJSAPI, true
	case PaymentChannelMobile:
		return TradeTypeApp, true
	default:
		return "", false
	}
}
