package main

import (
	"log"

	"signal-sentry/pkg/config"
	"signal-sentry/pkg/logger"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("加载配置失败:", err)
	}

	// 初始化日志
	logger.Init(cfg.Log)

	// 创建并启动应用
	app := NewApp(cfg)
	app.Start()

	// 等待中断信号后优雅关闭
	app.WaitForShutdown()
	app.Stop()
}
