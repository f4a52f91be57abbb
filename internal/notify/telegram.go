package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram 通过 Bot API 发送 Markdown 文本
//
// token 或 chatID 为空时通知器处于禁用状态，Send 只记录日志并返回 nil。
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewTelegram 创建 Telegram 通知器
//
// 参数:
//   - token: Bot token
//   - chatID: 目标会话，数字 ID 或 @channel 名称
//   - logger: 日志记录器
func NewTelegram(token, chatID string, logger *zap.Logger) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.Named("telegram"),
	}
}

// Enabled 报告凭据是否齐全
func (t *Telegram) Enabled() bool {
	return t.token != "" && t.chatID != ""
}

type telegramMessage struct {
	ChatID    any    `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	if !t.Enabled() {
		t.logger.Info("telegram notifier disabled")
		return nil
	}

	var chat any = t.chatID
	if id, err := strconv.ParseInt(t.chatID, 10, 64); err == nil {
		chat = id
	}
	body, err := json.Marshal(telegramMessage{ChatID: chat, Text: text, ParseMode: "Markdown"})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
