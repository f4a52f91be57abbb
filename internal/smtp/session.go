package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"barid/backend/internal/domain"
	"barid/backend/internal/ingest"
)

var (
	errRateLimited = &gosmtp.SMTPError{
		Code:         421,
		EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
		Message:      "too many connections, try again later",
	}
	errInvalidRecipient = &gosmtp.SMTPError{
		Code:         501,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
		Message:      "invalid recipient address",
	}
	errRelayDenied = &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
		Message:      "relay access denied - domain not managed by this server",
	}
	errNoRecipients = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
		Message:      "no valid recipients",
	}
	errTooLarge = &gosmtp.SMTPError{
		Code:         552,
		EnhancedCode: gosmtp.EnhancedCode{5, 3, 4},
		Message:      "message exceeds maximum size",
	}
	errRejected = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
		Message:      "message rejected: malformed content",
	}
	errTemporary = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "temporary failure storing message, try again later",
	}
)

type session struct {
	backend    *Backend
	remote     string
	from       string
	recipients []string
	logger     *zap.Logger
}

// Mail 处理 MAIL 命令
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = domain.NormalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令，只接受目录中域名的地址
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := domain.NormalizeAddress(to)
	if !domain.ValidateEmail(addr) {
		return errInvalidRecipient
	}
	if s.backend.directory != nil && !s.backend.directory.IsSupportedDomain(domain.DomainOf(addr)) {
		s.logger.Info("recipient domain not supported", zap.String("to", addr))
		return errRelayDenied
	}
	for _, r := range s.recipients {
		if r == addr {
			return nil
		}
	}
	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 读取邮件内容并为每个收件人入库一次
//
// 所有收件人都会尝试；返回第一个失败对应的 SMTP 错误。
func (s *session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return errNoRecipients
	}

	raw, err := s.read(r)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var firstErr error
	for _, rcpt := range s.recipients {
		res, err := s.backend.ingester.Ingest(ctx, raw, s.from, rcpt)
		if err != nil {
			s.logger.Error("failed to ingest message",
				zap.String("from", s.from),
				zap.String("to", rcpt),
				zap.Int("size", len(raw)),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = toSMTPError(err)
			}
			continue
		}
		s.logger.Info("message accepted",
			zap.String("message_id", res.Message.ID),
			zap.String("from", s.from),
			zap.String("to", rcpt),
			zap.Int("attachments", len(res.Attachments)),
		)
	}
	return firstErr
}

func (s *session) read(r io.Reader) ([]byte, error) {
	limit := s.backend.maxBytes
	if limit <= 0 {
		return io.ReadAll(r)
	}
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		var smtpErr *gosmtp.SMTPError
		if errors.As(err, &smtpErr) {
			return nil, smtpErr
		}
		return nil, fmt.Errorf("read message: %w", err)
	}
	if int64(len(raw)) > limit {
		return nil, errTooLarge
	}
	return raw, nil
}

// toSMTPError 把入库错误映射为上游 MTA 可理解的回复：
// 存储失败为 4xx 可重试，内容错误为 5xx 退信
func toSMTPError(err error) error {
	switch {
	case errors.Is(err, ingest.ErrParse), errors.Is(err, ingest.ErrSchema):
		return errRejected
	default:
		return errTemporary
	}
}

// Reset 重置信封状态
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束
func (s *session) Logout() error {
	return nil
}
