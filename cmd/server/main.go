package main

import (
	"flag"
	"fmt"
	"os"
	"syscall"

	"github.com/wxorder-next/internal/app"
	"github.com/wxorder-next/internal/config"
	"github.com/wxorder-next/internal/logger"
	"github.com/wxorder-next/internal/models"

	"github.com/gin-gonic/gin"
)

const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiCyan  = "\033[36m"
)

// merchantKeyLength 商户 API 密钥固定长度
const merchantKeyLength = 32

func main() {
	// 解析命令行参数
	var mode string
	flag.StringVar(&mode, "mode", app.ModeAll, "启动模式: all (默认), api, worker")
	flag.Parse()
	if err := app.ValidateMode(mode); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	printStartupBanner(mode)

	// 加载配置
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()

	for name, channel := range map[string]config.ChannelCredentialConfig{
		"web":     cfg.Channels.Web,
		"miniapp": cfg.Channels.Miniapp,
		"mobile":  cfg.Channels.Mobile,
	} {
		if channel.MchID == "" {
			continue
		}
		if len(channel.MchKey) != merchantKeyLength {
			if cfg.Server.Mode == "release" {
				stdLog.Fatalf("渠道 %s 的商户密钥长度应为 %d 位", name, merchantKeyLength)
			}
			stdLog.Printf("警告: 渠道 %s 的商户密钥长度不是 %d 位", name, merchantKeyLength)
		}
	}

	// 初始化数据库
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("数据库初始化失败: %v", err)
	}

	// 自动迁移数据库表
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("数据库迁移失败: %v", err)
	}

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := app.Run(app.Options{
		Config:  cfg,
		Logger:  logger.S(),
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		Mode:    mode,
	}); err != nil {
		stdLog.Fatalf("服务运行失败: %v", err)
	}
}

func printStartupBanner(mode string) {
	fmt.Println(ansiCyan + ansiBold + "wxorder-next payment order service" + ansiReset)
	fmt.Println(ansiCyan + "mode: " + mode + ansiReset)
}
