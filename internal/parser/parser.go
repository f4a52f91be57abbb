package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/jhillyerd/enmime"
	"go.uber.org/zap"

	"barid/backend/internal/domain"
)

const defaultContentType = "application/octet-stream"

// Parsed 解析后的邮件内容
//
// HTML 与 Text 为 nil 表示原始邮件中不存在对应部分。
type Parsed struct {
	From        string
	To          string
	Subject     *string
	HTML        *string
	Text        *string
	Attachments []domain.AttachmentCandidate
}

// Parser 基于 enmime 的 MIME 解析器
type Parser struct {
	logger *zap.Logger
}

// New 创建 MIME 解析器
func New(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger.Named("parser")}
}

// Parse 解析原始 RFC 822 邮件
func (p *Parser) Parse(raw []byte) (*Parsed, error) {
	return p.ParseReader(bytes.NewReader(raw))
}

// ParseReader 从 reader 读取并解析邮件
//
// enmime 在只有 HTML 时会自动生成纯文本，这里只保留真实存在的 text/plain 部分。
func (p *Parser) ParseReader(r io.Reader) (*Parsed, error) {
	env, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, fmt.Errorf("read mime envelope: %w", err)
	}
	if len(env.Errors) > 0 {
		p.logger.Debug("mime envelope has recoverable errors", zap.Int("count", len(env.Errors)))
	}

	out := &Parsed{
		From:    firstAddress(env, "From"),
		To:      firstAddress(env, "To"),
		Subject: domain.StringPtr(strings.TrimSpace(env.GetHeader("Subject"))),
		HTML:    domain.StringPtr(env.HTML),
	}
	if env.HTML == "" || hasPlainTextPart(env.Root) {
		out.Text = domain.StringPtr(env.Text)
	}

	parts := make([]*enmime.Part, 0, len(env.Attachments)+len(env.Inlines))
	parts = append(parts, env.Attachments...)
	parts = append(parts, env.Inlines...)
	for _, part := range parts {
		ctype := part.ContentType
		if ctype == "" {
			ctype = defaultContentType
		}
		out.Attachments = append(out.Attachments, domain.AttachmentCandidate{
			Filename:    part.FileName,
			ContentType: ctype,
			Content:     part.Content,
		})
	}

	return out, nil
}

// hasPlainTextPart 判断邮件是否包含非附件的 text/plain 部分
func hasPlainTextPart(root *enmime.Part) bool {
	if root == nil {
		return false
	}
	match := root.BreadthMatchFirst(func(part *enmime.Part) bool {
		return strings.EqualFold(part.ContentType, "text/plain") && part.Disposition != "attachment"
	})
	return match != nil
}

// firstAddress 返回头部中第一个地址，无法解析时退回原始头部值
func firstAddress(env *enmime.Envelope, header string) string {
	list, err := env.AddressList(header)
	if err == nil && len(list) > 0 && list[0] != nil {
		return domain.NormalizeAddress(list[0].Address)
	}
	return domain.NormalizeAddress(env.GetHeader(header))
}
