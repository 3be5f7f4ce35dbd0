package roomserver

import (
	"context"
	"time"

	"github.com/qiminjie89/motionlink/pkg/logger"
	"go.uber.org/zap"
)

// Sweeper 定期清理过期房间，只看房间年龄，不看连接活跃度
type Sweeper struct {
	registry *Registry
	maxAge   time.Duration
	interval time.Duration
}

// NewSweeper 创建清理器
func NewSweeper(registry *Registry, maxAge, interval time.Duration) *Sweeper {
	return &Sweeper{
		registry: registry,
		maxAge:   maxAge,
		interval: interval,
	}
}

// Run 运行清理循环，直到 ctx 取消
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("room sweeper started",
		zap.Duration("max_age", s.maxAge),
		zap.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce 执行一次清理
func (s *Sweeper) SweepOnce() int {
	n := s.registry.SweepExpired(s.maxAge)
	if n > 0 {
		logger.Info("expired rooms swept", zap.Int("count", n))
	}
	return n
}
