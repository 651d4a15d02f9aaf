package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/wxorder-next/internal/config"
	"github.com/wxorder-next/internal/logger"
)

// HTTPService 对外 API 与网关通知入口
type HTTPService struct {
	server *http.Server
}

// NewHTTPService 创建 HTTP 服务，超时未配置时使用默认值
func NewHTTPService(cfg config.ServerConfig, handler http.Handler) *HTTPService {
	return &HTTPService{
		server: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: secondsOr(cfg.ReadHeaderTimeoutSeconds, 10*time.Second),
			WriteTimeout:      secondsOr(cfg.WriteTimeoutSeconds, 30*time.Second),
		},
	}
}

func (s *HTTPService) Name() string { return "http" }

// Start 阻塞监听，Shutdown 触发的关闭不视为错误
func (s *HTTPService) Start(ctx context.Context) error {
	if s == nil || s.server == nil {
		return errors.New("http server not initialized")
	}
	logger.Infow("http_listen", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop 优雅关闭，等待进行中的请求完成
func (s *HTTPService) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func secondsOr(value int, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return time.Duration(value) * time.Second
}
