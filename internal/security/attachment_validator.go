package security

import (
	"mime"
	"strings"

	"go.uber.org/zap"

	"barid/backend/internal/config"
	"barid/backend/internal/domain"
)

const (
	// DefaultMaxAttachmentSize 单个附件默认上限 (50 MiB)
	DefaultMaxAttachmentSize int64 = 50 * 1024 * 1024
	// DefaultMaxAttachmentCount 单封邮件默认附件数上限
	DefaultMaxAttachmentCount = 10
)

// DefaultAllowedTypes 默认允许的附件 MIME 类型
var DefaultAllowedTypes = []string{
	// 图片
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/svg+xml",
	// 文档
	"application/pdf",
	"text/plain",
	"text/csv",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	// 压缩包
	"application/zip",
	"application/x-rar-compressed",
	"application/x-7z-compressed",
	// 数据库文件
	"application/x-sqlite3",
	"application/vnd.sqlite3",
	// 其他
	"application/json",
	"application/xml",
	"text/xml",
	"application/octet-stream",
}

// RejectReason 附件被拒绝的原因
type RejectReason string

const (
	RejectMissingFilename RejectReason = "missing filename"
	RejectCountExceeded   RejectReason = "attachment count limit reached"
	RejectTypeNotAllowed  RejectReason = "content type not allowed"
	RejectTooLarge        RejectReason = "attachment too large"
	RejectTotalExceeded   RejectReason = "total attachment size limit reached"
)

// Rejection 一条被拒绝的附件记录
type Rejection struct {
	Index       int
	Filename    string
	ContentType string
	Size        int64
	Reason      RejectReason
}

// Report 附件校验结果，Accepted 保持原始顺序
type Report struct {
	Accepted []domain.AcceptedAttachment
	Rejected []Rejection
}

// AttachmentValidator 附件校验器
//
// 规则按顺序执行：文件名、数量上限、类型白名单、单文件大小、总大小。
// 数量或总大小触顶后，剩余附件全部丢弃。
type AttachmentValidator struct {
	// 允许的 MIME 类型
	allowedMimeTypes map[string]bool

	// 单个附件最大字节数
	maxFileSize int64

	// 单封邮件最大附件数
	maxCount int

	logger *zap.Logger
}

// NewAttachmentValidator 创建附件校验器
func NewAttachmentValidator(cfg config.AttachmentConfig, logger *zap.Logger) *AttachmentValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	types := cfg.AllowedTypes
	if len(types) == 0 {
		types = DefaultAllowedTypes
	}
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[strings.ToLower(strings.TrimSpace(t))] = true
	}

	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxAttachmentSize
	}
	maxCount := cfg.MaxCount
	if maxCount <= 0 {
		maxCount = DefaultMaxAttachmentCount
	}

	return &AttachmentValidator{
		allowedMimeTypes: allowed,
		maxFileSize:      maxSize,
		maxCount:         maxCount,
		logger:           logger.Named("attachments"),
	}
}

// MaxTotalSize 返回单封邮件附件总大小上限
func (v *AttachmentValidator) MaxTotalSize() int64 {
	return v.maxFileSize * int64(v.maxCount)
}

// Validate 返回通过校验的附件，被拒绝的附件记录日志后丢弃
func (v *AttachmentValidator) Validate(candidates []domain.AttachmentCandidate, messageID string) []domain.AcceptedAttachment {
	report := v.Evaluate(candidates)
	for _, r := range report.Rejected {
		v.logger.Warn("attachment rejected",
			zap.String("message_id", messageID),
			zap.Int("index", r.Index),
			zap.String("filename", r.Filename),
			zap.String("content_type", r.ContentType),
			zap.Int64("size", r.Size),
			zap.String("reason", string(r.Reason)),
		)
	}
	return report.Accepted
}

// Evaluate 执行全部校验规则，不产生日志
func (v *AttachmentValidator) Evaluate(candidates []domain.AttachmentCandidate) Report {
	report := Report{Accepted: make([]domain.AcceptedAttachment, 0, len(candidates))}
	var total int64

	for i, c := range candidates {
		size := int64(len(c.Content))
		reject := func(reason RejectReason) {
			report.Rejected = append(report.Rejected, Rejection{
				Index:       i,
				Filename:    c.Filename,
				ContentType: c.ContentType,
				Size:        size,
				Reason:      reason,
			})
		}

		if strings.TrimSpace(c.Filename) == "" {
			reject(RejectMissingFilename)
			continue
		}

		if len(report.Accepted) >= v.maxCount {
			v.rejectRest(&report, candidates, i, RejectCountExceeded)
			break
		}

		mediaType, ok := v.checkMimeType(c.ContentType)
		if !ok {
			reject(RejectTypeNotAllowed)
			continue
		}

		if size > v.maxFileSize {
			reject(RejectTooLarge)
			continue
		}

		if total+size > v.MaxTotalSize() {
			v.rejectRest(&report, candidates, i, RejectTotalExceeded)
			break
		}

		total += size
		report.Accepted = append(report.Accepted, domain.AcceptedAttachment{
			Filename:    c.Filename,
			ContentType: mediaType,
			Content:     c.Content,
			Size:        size,
		})
	}

	return report
}

// rejectRest 从 from 开始拒绝剩余全部候选附件
func (v *AttachmentValidator) rejectRest(report *Report, candidates []domain.AttachmentCandidate, from int, reason RejectReason) {
	for j := from; j < len(candidates); j++ {
		c := candidates[j]
		report.Rejected = append(report.Rejected, Rejection{
			Index:       j,
			Filename:    c.Filename,
			ContentType: c.ContentType,
			Size:        int64(len(c.Content)),
			Reason:      reason,
		})
	}
}

// checkMimeType 解析 MIME 类型并检查白名单，返回去掉参数的小写类型
func (v *AttachmentValidator) checkMimeType(mimeType string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return "", false
	}
	mediaType = strings.ToLower(mediaType)
	return mediaType, v.allowedMimeTypes[mediaType]
}
