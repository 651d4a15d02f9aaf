package public

import (
	"io"
	"net/http"

	"github.com/wxorder-next/internal/constants"
	"github.com/wxorder-next/internal/payment/wxpay"

	"github.com/gin-gonic/gin"
)

// notifyBodyLimit 通知报文大小上限
const notifyBodyLimit = 64 << 10

const xmlContentType = "text/xml; charset=utf-8"

// WxpayNotify 支付结果通知入口。
// 始终返回 HTTP 200，处理结果由 XML 回包中的 return_code 表达。
func (h *Handler) WxpayNotify(c *gin.Context) {
	log := requestLog(c)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, notifyBodyLimit+1))
	if err != nil {
		log.Warnw("wxpay_notify_body_read_failed", "error", err)
		c.Data(http.StatusOK, xmlContentType, wxpay.EncodeAck(constants.GatewayCodeFail, "read body failed"))
		return
	}
	if len(body) > notifyBodyLimit {
		log.Warnw("wxpay_notify_body_too_large", "body_size", len(body))
		c.Data(http.StatusOK, xmlContentType, wxpay.EncodeAck(constants.GatewayCodeFail, "body too large"))
		return
	}

	result := h.NotifyService.Handle(c.Request.Context(), body)
	log.Infow("wxpay_notify_handled",
		"order_no", result.OrderNo,
		"client_ip", c.ClientIP(),
		"return_code", result.Code,
		"kind", result.Kind,
		"applied", result.Applied,
		"duplicate", result.Duplicate,
	)
	c.Data(http.StatusOK, xmlContentType, result.Ack())
}
