package models

import (
	"time"
)

// PaymentOrder 支付订单，金额单位为分
type PaymentOrder struct {
	ID             uint       `gorm:"primarykey" json:"id"`                                       // 主键
	OrderNo        string     `gorm:"size:32;uniqueIndex;not null" json:"order_no"`               // 商户订单号
	UserID         string     `gorm:"size:64;index;not null" json:"user_id"`                      // 下单用户
	Channel        string     `gorm:"size:16;not null" json:"channel"`                            // 下单渠道（web/miniapp/mobile）
	TradeType      string     `gorm:"size:16;not null" json:"trade_type"`                         // 交易类型（NATIVE/JSAPI/APP）
	Amount         int64      `gorm:"not null" json:"amount"`                                     // 订单金额（分）
	Currency       string     `gorm:"size:8;not null;default:CNY" json:"currency"`                // 币种
	ProductID      string     `gorm:"size:64" json:"product_id"`                                  // 商品ID
	ProductName    string     `gorm:"size:128;not null" json:"product_name"`                      // 商品名称
	Description    string     `gorm:"type:text" json:"description"`                               // 商品描述
	ClientIP       string     `gorm:"size:64" json:"client_ip"`                                   // 下单IP
	OpenID         string     `gorm:"size:128" json:"open_id,omitempty"`                          // 小程序用户标识
	Status         string     `gorm:"size:16;index;not null" json:"status"`                       // 订单状态
	PrepayID       string     `gorm:"size:128" json:"prepay_id"`                                  // 预支付会话标识
	CodeURL        string     `gorm:"type:text" json:"code_url"`                                  // 扫码支付链接
	TransactionID  string     `gorm:"size:64;index" json:"transaction_id"`                        // 网关交易号
	PaymentTime    *time.Time `json:"payment_time"`                                               // 支付完成时间
	CallbackData   JSON       `gorm:"type:json" json:"callback_data,omitempty"`                   // 首次生效的通知/查询数据
	NotifyCount    int        `gorm:"not null;default:0" json:"notify_count"`                     // 有效通知次数
	RefundNo       string     `gorm:"size:32;index" json:"refund_no,omitempty"`                   // 退款单号
	RefundAmount   int64      `gorm:"not null;default:0" json:"refund_amount"`                    // 退款金额（分）
	RefundedAt     *time.Time `json:"refunded_at"`                                                // 退款时间
	ReconcileCount int        `gorm:"not null;default:0" json:"reconcile_count"`                  // 主动查单次数
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`                                    // 创建时间
	UpdatedAt      time.Time  `gorm:"index" json:"updated_at"`                                    // 更新时间
}

// TableName 指定表名
func (PaymentOrder) TableName() string {
	return "payment_orders"
}
