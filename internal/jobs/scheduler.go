package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Every 按固定间隔执行 fn，直到 ctx 取消
//
// 首次执行发生在一个间隔之后。fn 的 panic 会被恢复并记录，不影响后续调度。
func Every(ctx context.Context, name string, interval time.Duration, logger *zap.Logger, fn func(context.Context)) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		logger.Warn("job disabled", zap.String("job", name))
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("starting scheduled job", zap.String("job", name), zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduled job stopped", zap.String("job", name))
			return
		case <-ticker.C:
			runJob(ctx, name, logger, fn)
		}
	}
}

func runJob(ctx context.Context, name string, logger *zap.Logger, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scheduled job panicked", zap.String("job", name), zap.Any("panic", r))
		}
	}()
	fn(ctx)
}
