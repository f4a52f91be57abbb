package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"barid/backend/internal/domain"
)

// LogNotifier 只把通知写入日志，用于未配置任何通道的环境
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier 创建日志通知器
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Send(_ context.Context, text string) error {
	n.logger.Info("notification", zap.String("text", text))
	return nil
}

// Multi 依次发送到多个通知器，所有错误合并后返回
type Multi []domain.Notifier

func (m Multi) Send(ctx context.Context, text string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
