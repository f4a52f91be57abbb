package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"barid/backend/internal/domain"
)

// ========== Attachment Repository ==========

const attachmentColumns = `id, email_id, filename, content_type, size, storage_key, created_at`

// InsertAttachment 写入附件元数据
func (s *Store) InsertAttachment(ctx context.Context, att *domain.Attachment) error {
	query := s.rebind(`
		INSERT INTO attachments (` + attachmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		att.ID,
		att.EmailID,
		att.Filename,
		att.ContentType,
		att.Size,
		att.StorageKey,
		att.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

// GetAttachment 根据ID获取附件元数据
func (s *Store) GetAttachment(ctx context.Context, id string) (*domain.Attachment, error) {
	query := s.rebind(`SELECT ` + attachmentColumns + ` FROM attachments WHERE id = ?`)
	att, err := scanAttachment(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAttachmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return att, nil
}

// ListAttachmentsByMessage 列出邮件的附件
func (s *Store) ListAttachmentsByMessage(ctx context.Context, messageID string) ([]domain.Attachment, error) {
	query := s.rebind(`
		SELECT ` + attachmentColumns + `
		FROM attachments
		WHERE email_id = ?
		ORDER BY created_at ASC, id ASC
	`)
	return s.queryAttachments(ctx, query, messageID)
}

// ListAttachmentsByMessages 列出多封邮件的全部附件
func (s *Store) ListAttachmentsByMessages(ctx context.Context, messageIDs []string) ([]domain.Attachment, error) {
	if len(messageIDs) == 0 {
		return []domain.Attachment{}, nil
	}
	marks, args := inList(messageIDs)
	query := s.rebind(`SELECT ` + attachmentColumns + ` FROM attachments WHERE email_id IN (` + marks + `)`)
	return s.queryAttachments(ctx, query, args...)
}

// ListAttachmentsByRecipient 按创建时间倒序列出收件人的附件
func (s *Store) ListAttachmentsByRecipient(ctx context.Context, recipient string, limit int) ([]domain.Attachment, error) {
	query := s.rebind(`
		SELECT a.id, a.email_id, a.filename, a.content_type, a.size, a.storage_key, a.created_at
		FROM attachments a
		INNER JOIN emails e ON e.id = a.email_id
		WHERE e.to_address = ?
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT ?
	`)
	return s.queryAttachments(ctx, query, recipient, limit)
}

// CountAttachmentsByMessage 统计邮件的附件数量
func (s *Store) CountAttachmentsByMessage(ctx context.Context, messageID string) (int, error) {
	var count int
	query := s.rebind(`SELECT COUNT(*) FROM attachments WHERE email_id = ?`)
	if err := s.db.QueryRowContext(ctx, query, messageID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count attachments: %w", err)
	}
	return count, nil
}

// DeleteAttachment 删除单个附件元数据
func (s *Store) DeleteAttachment(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM attachments WHERE id = ?`)
	affected, err := s.execCount(ctx, "delete attachment", query, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrAttachmentNotFound
	}
	return nil
}

// DeleteAttachmentsByMessages 删除多封邮件的全部附件元数据
func (s *Store) DeleteAttachmentsByMessages(ctx context.Context, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	marks, args := inList(messageIDs)
	query := s.rebind(`DELETE FROM attachments WHERE email_id IN (` + marks + `)`)
	return s.execCount(ctx, "delete attachments", query, args...)
}

func (s *Store) queryAttachments(ctx context.Context, query string, args ...interface{}) ([]domain.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	attachments := make([]domain.Attachment, 0)
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		attachments = append(attachments, *att)
	}
	return attachments, rows.Err()
}

func scanAttachment(row rowScanner) (*domain.Attachment, error) {
	var att domain.Attachment
	err := row.Scan(
		&att.ID,
		&att.EmailID,
		&att.Filename,
		&att.ContentType,
		&att.Size,
		&att.StorageKey,
		&att.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &att, nil
}
