package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/qiminjie89/motionlink/internal/gateway"
	"github.com/qiminjie89/motionlink/pkg/config"
	"github.com/qiminjie89/motionlink/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// 解析命令行参数，为空时只用默认值和环境变量
	configPath := flag.String("config", "", "config file path")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		panic("load config failed: " + err.Error())
	}

	// 初始化日志
	if err := logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}); err != nil {
		panic("init logger failed: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting relayserver",
		zap.String("config", *configPath),
		zap.String("env", cfg.Server.Env),
		zap.Int("port", cfg.Server.Port),
	)

	// 创建并启动服务
	server, err := gateway.NewServer(cfg)
	if err != nil {
		logger.Error("create server failed", zap.Error(err))
		os.Exit(1)
	}
	if err := server.Start(); err != nil {
		logger.Error("start server failed", zap.Error(err))
		os.Exit(1)
	}

	// 等待退出信号或致命错误
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-server.Fatal():
		logger.Error("fatal error, shutting down", zap.Error(err))
		exitCode = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Warn("graceful shutdown incomplete", zap.Error(err))
	}

	logger.Info("relayserver stopped")
	if exitCode != 0 {
		logger.Sync()
		os.Exit(exitCode)
	}
}
