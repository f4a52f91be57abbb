package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"barid/backend/internal/domain"
)

// ========== Message Repository ==========

const messageColumns = `id, from_address, to_address, subject, received_at, html_content, text_content, has_attachments, attachment_count`

// InsertMessage 写入邮件记录
func (s *Store) InsertMessage(ctx context.Context, msg *domain.Message) error {
	query := s.rebind(`
		INSERT INTO emails (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.FromAddress,
		msg.ToAddress,
		nullString(msg.Subject),
		msg.ReceivedAt,
		nullString(msg.HTMLContent),
		nullString(msg.TextContent),
		msg.HasAttachments,
		msg.AttachmentCount,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage 根据ID获取邮件
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	query := s.rebind(`SELECT ` + messageColumns + ` FROM emails WHERE id = ?`)
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// ListMessagesByRecipient 按接收时间倒序列出收件人的邮件
func (s *Store) ListMessagesByRecipient(ctx context.Context, recipient string, limit, offset int) ([]domain.Message, error) {
	query := s.rebind(`
		SELECT ` + messageColumns + `
		FROM emails
		WHERE to_address = ?
		ORDER BY received_at DESC, id DESC
		LIMIT ? OFFSET ?
	`)
	rows, err := s.db.QueryContext(ctx, query, recipient, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// CountMessagesByRecipient 统计收件人的邮件数量
func (s *Store) CountMessagesByRecipient(ctx context.Context, recipient string) (int, error) {
	var count int
	query := s.rebind(`SELECT COUNT(*) FROM emails WHERE to_address = ?`)
	if err := s.db.QueryRowContext(ctx, query, recipient).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// ListMessageIDsByRecipient 列出收件人全部邮件ID
func (s *Store) ListMessageIDsByRecipient(ctx context.Context, recipient string) ([]string, error) {
	query := s.rebind(`SELECT id FROM emails WHERE to_address = ?`)
	return s.queryIDs(ctx, query, recipient)
}

// ListMessageIDsOlderThan 列出接收时间早于 cutoff 的邮件ID，最早的在前
func (s *Store) ListMessageIDsOlderThan(ctx context.Context, cutoff int64, limit int) ([]string, error) {
	query := s.rebind(`SELECT id FROM emails WHERE received_at < ? ORDER BY received_at ASC LIMIT ?`)
	return s.queryIDs(ctx, query, cutoff, limit)
}

// UpdateMessageAttachmentInfo 更新邮件的附件标记和数量
func (s *Store) UpdateMessageAttachmentInfo(ctx context.Context, id string, hasAttachments bool, count int) error {
	query := s.rebind(`UPDATE emails SET has_attachments = ?, attachment_count = ? WHERE id = ?`)
	result, err := s.db.ExecContext(ctx, query, hasAttachments, count, id)
	if err != nil {
		return fmt.Errorf("update attachment info: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

// DeleteMessagesByIDs 批量删除邮件记录
func (s *Store) DeleteMessagesByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	marks, args := inList(ids)
	query := s.rebind(`DELETE FROM emails WHERE id IN (` + marks + `)`)
	return s.execCount(ctx, "delete messages", query, args...)
}

// DeleteMessagesOlderThan 删除接收时间早于 cutoff 的全部邮件记录
func (s *Store) DeleteMessagesOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	query := s.rebind(`DELETE FROM emails WHERE received_at < ?`)
	return s.execCount(ctx, "delete expired messages", query, cutoff)
}

// queryIDs 执行只返回 id 列的查询
func (s *Store) queryIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// execCount 执行写语句并返回受影响行数
func (s *Store) execCount(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return result.RowsAffected()
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var (
		msg                 domain.Message
		subject, html, text sql.NullString
	)
	err := row.Scan(
		&msg.ID,
		&msg.FromAddress,
		&msg.ToAddress,
		&subject,
		&msg.ReceivedAt,
		&html,
		&text,
		&msg.HasAttachments,
		&msg.AttachmentCount,
	)
	if err != nil {
		return nil, err
	}
	msg.Subject = stringPtr(subject)
	msg.HTMLContent = stringPtr(html)
	msg.TextContent = stringPtr(text)
	return &msg, nil
}
