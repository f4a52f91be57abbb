package smtp

import (
	"context"
	"net"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"barid/backend/internal/domain"
	"barid/backend/internal/ingest"
	"barid/backend/internal/monitoring"
	"barid/backend/internal/ratelimit"
)

// Ingester 把原始邮件写入存储
type Ingester interface {
	Ingest(ctx context.Context, raw []byte, sender, recipient string) (*ingest.Result, error)
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往目录中域名的邮件，不提供中继。
type Backend struct {
	ingester  Ingester
	directory domain.Directory
	limiter   *ratelimit.Limiter
	maxBytes  int64
	metrics   *monitoring.Metrics
	logger    *zap.Logger
}

// Options SMTP 后端参数
type Options struct {
	MaxMessageBytes int64
	Limiter         *ratelimit.Limiter // 按远端 IP 限制新会话，nil 表示不限
	Metrics         *monitoring.Metrics
	Logger          *zap.Logger
}

// NewBackend 创建 SMTP Backend
func NewBackend(ingester Ingester, directory domain.Directory, opts Options) *Backend {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		ingester:  ingester,
		directory: directory,
		limiter:   opts.Limiter,
		maxBytes:  opts.MaxMessageBytes,
		metrics:   opts.Metrics,
		logger:    logger.Named("smtp"),
	}
}

// NewSession 为新连接创建会话，超过速率的远端地址返回 421
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	remote := ""
	if c != nil && c.Conn() != nil {
		remote = remoteIP(c.Conn().RemoteAddr())
	}
	return b.newSession(remote)
}

func (b *Backend) newSession(remote string) (*session, error) {
	if !b.limiter.Allow(remote) {
		b.metrics.RecordRateLimitBlock("smtp")
		b.logger.Warn("smtp session rate limited", zap.String("remote", remote))
		return nil, errRateLimited
	}
	return &session{
		backend: b,
		remote:  remote,
		logger:  b.logger.With(zap.String("remote", remote)),
	}, nil
}

func remoteIP(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
