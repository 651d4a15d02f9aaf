package public

import (
	"strings"
	"time"

	handlershared "github.com/wxorder-next/internal/http/handlers/shared"
	"github.com/wxorder-next/internal/http/response"
	"github.com/wxorder-next/internal/models"
	"github.com/wxorder-next/internal/repository"
	"github.com/wxorder-next/internal/service"

	"github.com/gin-gonic/gin"
)

// CreatePaymentOrderRequest 下单请求，金额单位为分
type CreatePaymentOrderRequest struct {
	Channel     string `json:"channel" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Currency    string `json:"currency"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name" binding:"required"`
	Description string `json:"description"`
	OpenID      string `json:"openid"`
	Attach      string `json:"attach"`
}

// RefundPaymentOrderRequest 退款请求，amount 缺省为全额
type RefundPaymentOrderRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// PaymentOrderView 订单响应结构
type PaymentOrderView struct {
	OrderNo       string        `json:"order_no"`
	Channel       string        `json:"channel"`
	TradeType     string        `json:"trade_type"`
	Amount        int64         `json:"amount"`
	AmountYuan    models.Money  `json:"amount_yuan"`
	Currency      string        `json:"currency"`
	ProductID     string        `json:"product_id,omitempty"`
	ProductName   string        `json:"product_name"`
	Description   string        `json:"description,omitempty"`
	Status        string        `json:"status"`
	CodeURL       string        `json:"code_url,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
	PaymentTime   *time.Time    `json:"payment_time,omitempty"`
	RefundNo      string        `json:"refund_no,omitempty"`
	RefundAmount  *models.Money `json:"refund_amount,omitempty"`
	RefundedAt    *time.Time    `json:"refunded_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func newPaymentOrderView(order *models.PaymentOrder) PaymentOrderView {
	view := PaymentOrderView{
		OrderNo:       order.OrderNo,
		Channel:       order.Channel,
		TradeType:     order.TradeType,
		Amount:        order.Amount,
		AmountYuan:    models.NewMoneyFromFen(order.Amount),
		Currency:      order.Currency,
		ProductID:     order.ProductID,
		ProductName:   order.ProductName,
		Description:   order.Description,
		Status:        order.Status,
		CodeURL:       order.CodeURL,
		TransactionID: order.TransactionID,
		PaymentTime:   order.PaymentTime,
		RefundNo:      order.RefundNo,
		RefundedAt:    order.RefundedAt,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
	if order.RefundAmount > 0 {
		refund := models.NewMoneyFromFen(order.RefundAmount)
		view.RefundAmount = &refund
	}
	return view
}

// CreatePaymentOrder 创建支付订单并返回客户端拉起支付所需数据
func (h *Handler) CreatePaymentOrder(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}

	var req CreatePaymentOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handlershared.RespondError(c, response.CodeBadRequest, string(service.KindInvalidInput), "请求参数错误", nil)
		return
	}

	result, err := h.PaymentOrderService.CreateOrder(c.Request.Context(), service.CreateOrderInput{
		UserID:      uid,
		Channel:     req.Channel,
		Amount:      req.Amount,
		Currency:    req.Currency,
		ProductID:   req.ProductID,
		ProductName: req.ProductName,
		Description: req.Description,
		ClientIP:    c.ClientIP(),
		OpenID:      req.OpenID,
		Attach:      req.Attach,
	})
	if err != nil {
		if respondDispatchError(c, err) {
			return
		}
		respondServiceError(c, err)
		return
	}

	response.Success(c, gin.H{
		"order":   newPaymentOrderView(result.Order),
		"payment": result.Payload,
	})
}

// GetPaymentOrder 查询订单；待支付订单会向网关确认最新状态
func (h *Handler) GetPaymentOrder(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	orderNo := strings.TrimSpace(c.Param("order_no"))
	if orderNo == "" {
		handlershared.RespondError(c, response.CodeBadRequest, string(service.KindInvalidInput), "订单号不能为空", nil)
		return
	}

	order, err := h.PaymentOrderService.QueryOrder(c.Request.Context(), orderNo, uid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, newPaymentOrderView(order))
}

// GetPaymentOrderByTransaction 按网关交易号查询订单，不触发查单
func (h *Handler) GetPaymentOrderByTransaction(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	order, err := h.PaymentOrderService.GetOrderByTransactionID(c.Request.Context(), c.Param("transaction_id"), uid)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, newPaymentOrderView(order))
}

// ListPaymentOrders 当前用户订单列表
func (h *Handler) ListPaymentOrders(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}

	page, pageSize := handlershared.ParsePagination(c)

	filter := repository.PaymentOrderListFilter{
		Page:     page,
		PageSize: pageSize,
		UserID:   uid,
		Status:   strings.TrimSpace(c.Query("status")),
		Channel:  strings.ToLower(strings.TrimSpace(c.Query("channel"))),
		Keyword:  strings.TrimSpace(c.Query("keyword")),
	}
	if filter.CreatedFrom, ok = parseDateQuery(c, "created_from"); !ok {
		return
	}
	if filter.CreatedTo, ok = parseDateQuery(c, "created_to"); !ok {
		return
	}

	orders, total, err := h.PaymentOrderService.ListByUser(c.Request.Context(), filter)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	views := make([]PaymentOrderView, 0, len(orders))
	for i := range orders {
		views = append(views, newPaymentOrderView(&orders[i]))
	}
	response.SuccessWithPage(c, views, response.BuildPagination(page, pageSize, total))
}

// RefundPaymentOrder 申请退款
func (h *Handler) RefundPaymentOrder(c *gin.Context) {
	uid, ok := getUserID(c)
	if !ok {
		return
	}
	var req RefundPaymentOrderRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			handlershared.RespondError(c, response.CodeBadRequest, string(service.KindInvalidInput), "请求参数错误", nil)
			return
		}
	}

	order, err := h.PaymentOrderService.Refund(c.Request.Context(), service.RefundInput{
		OrderNo: c.Param("order_no"),
		UserID:  uid,
		Amount:  req.Amount,
		Reason:  req.Reason,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, newPaymentOrderView(order))
}

// parseDateQuery 解析 yyyy-MM-dd 或 RFC3339 时间参数，空值返回 nil
func parseDateQuery(c *gin.Context, key string) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if parsed, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return &parsed, true
		}
	}
	handlershared.RespondError(c, response.CodeBadRequest, string(service.KindInvalidInput), "时间参数格式错误", nil)
	return nil, false
}
