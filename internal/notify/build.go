package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"barid/backend/internal/config"
	"barid/backend/internal/domain"
	"barid/backend/internal/secrets"
)

// Build 根据配置组装通知器
//
// Telegram 始终参与（未配置时为禁用状态）；SES 在发件人与收件人都配置时加入。
// 返回值:
//   - domain.Notifier: 单个通知器或 Multi
//   - error: 解析 SSM 参数或创建 SES 客户端失败
func Build(ctx context.Context, cfg config.NotifyConfig, store secrets.Getter, logger *zap.Logger) (domain.Notifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	token, err := secrets.Resolve(ctx, store, cfg.TelegramToken, cfg.TelegramTokenParam)
	if err != nil {
		return nil, fmt.Errorf("resolve telegram token: %w", err)
	}

	notifiers := Multi{NewTelegram(token, cfg.TelegramChatID, logger)}

	if cfg.SESSender != "" && len(cfg.SESRecipients) > 0 {
		ses, err := NewSES(ctx, cfg.SESRegion, cfg.SESSender, cfg.SESRecipients)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, ses)
		logger.Info("SES notifier enabled", zap.Int("recipients", len(cfg.SESRecipients)))
	}

	if len(notifiers) == 1 {
		return notifiers[0], nil
	}
	return notifiers, nil
}
