package shared

import (
	"github.com/wxorder-next/internal/http/response"
	"github.com/wxorder-next/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLog 携带 request_id 与 user_id 的日志实例
func RequestLog(c *gin.Context) *zap.SugaredLogger {
	if c == nil {
		return logger.S()
	}
	kv := make([]interface{}, 0, 4)
	if id := c.GetString(response.RequestIDKey); id != "" {
		kv = append(kv, "request_id", id)
	}
	if uid := c.GetString(ContextUserIDKey); uid != "" {
		kv = append(kv, "user_id", uid)
	}
	return logger.SW(kv...)
}

// RespondError 返回带错误类别的响应；err 非空时记录原因
func RespondError(c *gin.Context, code int, kind, msg string, err error) {
	appErr := response.WrapError(code, kind, msg, err)
	if err != nil {
		RequestLog(c).Errorw("handler_error",
			"code", appErr.Code,
			"kind", appErr.Kind,
			"message", appErr.Message,
			"error", err,
		)
	}
	response.ErrorWithKind(c, appErr)
}
