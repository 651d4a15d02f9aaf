package public

import (
	"errors"

	handlershared "github.com/wxorder-next/internal/http/handlers/shared"
	"github.com/wxorder-next/internal/http/response"
	"github.com/wxorder-next/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误类别到接口状态码的映射关系。
type mappedHandlerError struct {
	kind service.ErrorKind
	code int
	// logCause 为 true 时记录原始错误
	logCause bool
}

var paymentOrderErrorRules = []mappedHandlerError{
	{kind: service.KindInvalidInput, code: response.CodeBadRequest},
	{kind: service.KindOrderNotFound, code: response.CodeNotFound},
	{kind: service.KindOrderNotPayable, code: response.CodeConflict},
	{kind: service.KindConfiguration, code: response.CodeServiceUnavailable, logCause: true},
	{kind: service.KindGatewayProtocol, code: response.CodeBadGateway, logCause: true},
	{kind: service.KindSignatureVerification, code: response.CodeBadGateway, logCause: true},
	{kind: service.KindNetwork, code: response.CodeBadGateway, logCause: true},
}

func resolveMappedError(err error, rules []mappedHandlerError) (int, service.ErrorKind, bool) {
	kind := service.KindOf(err)
	for _, rule := range rules {
		if rule.kind == kind {
			return rule.code, kind, rule.logCause
		}
	}
	return response.CodeInternal, service.KindInternal, true
}

func respondServiceError(c *gin.Context, err error) {
	code, kind, logCause := resolveMappedError(err, paymentOrderErrorRules)
	var cause error
	if logCause {
		cause = err
	}
	handlershared.RespondError(c, code, string(kind), service.DisplayMessage(err), cause)
}

// respondDispatchError 网关下单失败但订单已落库，回传订单号供客户端查单
func respondDispatchError(c *gin.Context, err error) bool {
	var dispatchErr *service.DispatchError
	if !errors.As(err, &dispatchErr) {
		return false
	}
	code, kind, _ := resolveMappedError(err, paymentOrderErrorRules)
	requestLog(c).Warnw("payment_order_dispatch_failed",
		"order_no", dispatchErr.OrderNo,
		"kind", kind,
		"error", err,
	)
	response.ErrorWithData(c, code, service.DisplayMessage(err), gin.H{
		"kind":     string(kind),
		"order_no": dispatchErr.OrderNo,
	})
	return true
}
