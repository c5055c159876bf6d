package job

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// runner 定时任务的公共循环：按 interval 触发 tick，直到 ctx 取消或 Stop
type runner struct {
	name     string
	interval time.Duration
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newRunner(name string, interval time.Duration, logger *zap.Logger) *runner {
	return &runner{
		name:     name,
		interval: interval,
		logger:   logger.With(zap.String("job", name)),
		stopCh:   make(chan struct{}),
	}
}

func (r *runner) loop(ctx context.Context, tick func(ctx context.Context)) {
	r.logger.Info("任务启动", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("收到停止信号，任务退出")
			return
		case <-r.stopCh:
			r.logger.Info("任务停止")
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// Stop 停止任务，可重复调用
func (r *runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func secondsOr(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}

func batchSizeOr(v int) int {
	if v <= 0 {
		return 100
	}
	return v
}
