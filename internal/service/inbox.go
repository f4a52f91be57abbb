package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"barid/backend/internal/domain"
	"barid/backend/internal/monitoring"
)

// InboxService 封装按收件地址查询和删除邮件、附件的业务逻辑
type InboxService struct {
	records   domain.RecordStore
	objects   domain.ObjectStore
	directory domain.Directory
	purger    *Purger
	metrics   *monitoring.Metrics
	logger    *zap.Logger
}

// NewInboxService 创建收件箱服务
//
// 参数:
//   - records: 邮件与附件记录存储
//   - objects: 附件对象存储
//   - directory: 受支持域名目录，nil 表示不校验域名
//   - metrics: 监控指标，可为 nil
//   - logger: 日志记录器
func NewInboxService(records domain.RecordStore, objects domain.ObjectStore, directory domain.Directory, metrics *monitoring.Metrics, logger *zap.Logger) *InboxService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboxService{
		records:   records,
		objects:   objects,
		directory: directory,
		purger:    NewPurger(records, objects, logger),
		metrics:   metrics,
		logger:    logger.Named("inbox"),
	}
}

// Purger 返回共享的级联删除器
func (s *InboxService) Purger() *Purger {
	return s.purger
}

// CheckAddress 校验收件地址的域名是否受支持
func (s *InboxService) CheckAddress(address string) (string, error) {
	addr := domain.NormalizeAddress(address)
	if s.directory == nil {
		return addr, nil
	}
	if !s.directory.IsSupportedDomain(domain.DomainOf(addr)) {
		return addr, domain.ErrDomainNotSupported
	}
	return addr, nil
}

// ListMessages 按接收时间倒序列出某地址的邮件摘要
func (s *InboxService) ListMessages(ctx context.Context, address string, limit, offset int) ([]domain.MessageSummary, error) {
	addr, err := s.CheckAddress(address)
	if err != nil {
		return nil, err
	}
	msgs, err := s.records.ListMessagesByRecipient(ctx, addr, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]domain.MessageSummary, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].Summary())
	}
	return out, nil
}

// CountMessages 统计某地址的邮件数量
func (s *InboxService) CountMessages(ctx context.Context, address string) (int, error) {
	addr, err := s.CheckAddress(address)
	if err != nil {
		return 0, err
	}
	return s.records.CountMessagesByRecipient(ctx, addr)
}

// GetMessage 获取完整邮件
func (s *InboxService) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	return s.records.GetMessage(ctx, id)
}

// DeleteMessage 删除单封邮件及其附件
func (s *InboxService) DeleteMessage(ctx context.Context, id string) error {
	if _, err := s.records.GetMessage(ctx, id); err != nil {
		return err
	}
	res, err := s.purger.Purge(ctx, []string{id})
	if err != nil {
		return err
	}
	s.metrics.RecordMessagesDeleted(res.Messages)
	return nil
}

// DeleteByRecipient 删除某地址下的全部邮件，返回删除的邮件数
func (s *InboxService) DeleteByRecipient(ctx context.Context, address string) (int64, error) {
	addr, err := s.CheckAddress(address)
	if err != nil {
		return 0, err
	}
	ids, err := s.records.ListMessageIDsByRecipient(ctx, addr)
	if err != nil {
		return 0, err
	}
	res, err := s.purger.Purge(ctx, ids)
	if err != nil {
		return res.Messages, err
	}
	s.metrics.RecordMessagesDeleted(res.Messages)
	s.logger.Info("mailbox purged",
		zap.String("address", addr),
		zap.Int64("messages", res.Messages),
		zap.Int64("attachments", res.Attachments),
	)
	return res.Messages, nil
}

// ListAttachments 列出某封邮件的附件，邮件不存在时返回 ErrMessageNotFound
func (s *InboxService) ListAttachments(ctx context.Context, messageID string) ([]domain.Attachment, error) {
	if _, err := s.records.GetMessage(ctx, messageID); err != nil {
		return nil, err
	}
	return s.records.ListAttachmentsByMessage(ctx, messageID)
}

// ListRecipientAttachments 按创建时间倒序分页列出某地址收到的附件
func (s *InboxService) ListRecipientAttachments(ctx context.Context, address string, limit, offset int) ([]domain.Attachment, error) {
	addr, err := s.CheckAddress(address)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.records.ListAttachmentsByRecipient(ctx, addr, limit+offset)
	if err != nil {
		return nil, err
	}
	if offset >= len(rows) {
		return []domain.Attachment{}, nil
	}
	return rows[offset:], nil
}

// GetAttachment 获取附件元数据和内容
func (s *InboxService) GetAttachment(ctx context.Context, id string) (*domain.Attachment, *domain.Object, error) {
	att, err := s.records.GetAttachment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	obj, err := s.objects.Get(ctx, att.StorageKey)
	if err != nil {
		return att, nil, fmt.Errorf("load attachment %s: %w", id, err)
	}
	return att, obj, nil
}

// DeleteAttachment 删除单个附件并重新计算所属邮件的附件数
//
// 对象删除失败不阻止记录删除。
func (s *InboxService) DeleteAttachment(ctx context.Context, id string) error {
	att, err := s.records.GetAttachment(ctx, id)
	if err != nil {
		return err
	}

	if err := s.objects.Delete(ctx, att.StorageKey); err != nil && !errors.Is(err, domain.ErrObjectNotFound) {
		s.logger.Warn("failed to delete attachment blob",
			zap.String("attachment_id", id),
			zap.String("storage_key", att.StorageKey),
			zap.Error(err),
		)
	}

	if err := s.records.DeleteAttachment(ctx, id); err != nil {
		return err
	}

	remaining, err := s.records.CountAttachmentsByMessage(ctx, att.EmailID)
	if err != nil {
		return fmt.Errorf("count remaining attachments: %w", err)
	}
	if err := s.records.UpdateMessageAttachmentInfo(ctx, att.EmailID, remaining > 0, remaining); err != nil && !errors.Is(err, domain.ErrMessageNotFound) {
		return fmt.Errorf("update attachment info: %w", err)
	}
	return nil
}

// ListDomains 返回受支持的域名
func (s *InboxService) ListDomains() []string {
	if s.directory == nil {
		return nil
	}
	return s.directory.ListDomains()
}
