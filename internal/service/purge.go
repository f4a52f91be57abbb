package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"barid/backend/internal/domain"
)

// PurgeResult 一次级联删除的统计
type PurgeResult struct {
	Messages    int64 `json:"messages"`
	Attachments int64 `json:"attachments"`
	Blobs       int   `json:"blobs"`
}

// Add 累加另一批次的统计
func (r *PurgeResult) Add(o PurgeResult) {
	r.Messages += o.Messages
	r.Attachments += o.Attachments
	r.Blobs += o.Blobs
}

// Purger 按邮件ID级联删除附件对象、附件记录和邮件记录
//
// 对象删除是尽力而为的，失败只记录日志；记录删除失败会返回错误。
type Purger struct {
	records domain.RecordStore
	objects domain.ObjectStore
	logger  *zap.Logger
}

// NewPurger 创建级联删除器
func NewPurger(records domain.RecordStore, objects domain.ObjectStore, logger *zap.Logger) *Purger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Purger{records: records, objects: objects, logger: logger.Named("purge")}
}

// Purge 删除给定邮件及其全部附件
func (p *Purger) Purge(ctx context.Context, messageIDs []string) (PurgeResult, error) {
	var res PurgeResult
	if len(messageIDs) == 0 {
		return res, nil
	}

	atts, err := p.records.ListAttachmentsByMessages(ctx, messageIDs)
	if err != nil {
		return res, fmt.Errorf("list attachments: %w", err)
	}

	// 除记录中的键外，再按前缀枚举，清理元数据写入失败遗留的对象
	keys := make(map[string]struct{}, len(atts))
	for _, a := range atts {
		keys[a.StorageKey] = struct{}{}
	}
	if p.objects != nil {
		for _, id := range messageIDs {
			listed, err := p.objects.ListByPrefix(ctx, domain.AttachmentPrefix(id))
			if err != nil {
				p.logger.Warn("failed to list attachment blobs", zap.String("message_id", id), zap.Error(err))
				continue
			}
			for _, k := range listed {
				keys[k] = struct{}{}
			}
		}
		for k := range keys {
			if err := p.objects.Delete(ctx, k); err != nil && !errors.Is(err, domain.ErrObjectNotFound) {
				p.logger.Warn("failed to delete attachment blob", zap.String("storage_key", k), zap.Error(err))
				continue
			}
			res.Blobs++
		}
	}

	res.Attachments, err = p.records.DeleteAttachmentsByMessages(ctx, messageIDs)
	if err != nil {
		return res, fmt.Errorf("delete attachments: %w", err)
	}
	res.Messages, err = p.records.DeleteMessagesByIDs(ctx, messageIDs)
	if err != nil {
		return res, fmt.Errorf("delete messages: %w", err)
	}
	return res, nil
}
