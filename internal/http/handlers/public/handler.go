package public

import "github.com/wxorder-next/internal/provider"

// Handler 用户侧与网关回调接口处理器入口
// 说明：身份由上游网关注入，这里只读取上下文中的 user_id。
type Handler struct {
	*provider.Container
}

// New 创建处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
