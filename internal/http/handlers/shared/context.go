package shared

import (
	"strings"

	"github.com/wxorder-next/internal/http/response"

	"github.com/gin-gonic/gin"
)

// ContextUserIDKey 身份中间件写入的用户标识键
const ContextUserIDKey = "user_id"

// GetContextString 从上下文读取非空字符串，缺失时返回 401。
func GetContextString(c *gin.Context, key string) (string, bool) {
	value, exists := c.Get(key)
	if !exists {
		response.Unauthorized(c, "未登录或身份无效")
		return "", false
	}
	id, ok := value.(string)
	if !ok {
		RespondError(c, response.CodeInternal, "", "身份信息类型错误", nil)
		return "", false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		response.Unauthorized(c, "未登录或身份无效")
		return "", false
	}
	return id, true
}

// GetUserID 读取当前用户标识
func GetUserID(c *gin.Context) (string, bool) {
	return GetContextString(c, ContextUserIDKey)
}
