package smtp

import (
	"time"

	gosmtp "github.com/emersion/go-smtp"

	"barid/backend/internal/config"
)

// NewServer 按配置创建只接收邮件的 SMTP 服务器
func NewServer(cfg config.SMTPConfig, backend *Backend) *gosmtp.Server {
	srv := gosmtp.NewServer(backend)
	srv.Addr = cfg.BindAddr
	srv.Domain = cfg.Domain
	srv.ReadTimeout = 60 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = 50
	return srv
}
