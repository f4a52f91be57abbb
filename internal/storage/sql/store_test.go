package sql

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sqlmock "gopkg.in/DATA-DOG/go-sqlmock.v1"

	"barid/backend/internal/domain"
)

func newMockStore(t *testing.T, driver string) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db, driver), mock
}

func TestRebind(t *testing.T) {
	pg := NewWithDB(nil, "pgx")
	assert.Equal(t, "SELECT * FROM emails WHERE id = $1 AND to_address = $2", pg.rebind("SELECT * FROM emails WHERE id = ? AND to_address = ?"))

	my := NewWithDB(nil, "mysql")
	assert.Equal(t, "DELETE FROM emails WHERE id = ?", my.rebind("DELETE FROM emails WHERE id = ?"))
}

func TestInsertMessage(t *testing.T) {
	s, mock := newMockStore(t, "mysql")
	ctx := context.Background()

	msg := &domain.Message{
		ID:          "msg-1",
		FromAddress: "alice@example.com",
		ToAddress:   "bob@barid.site",
		Subject:     domain.StringPtr("hello"),
		ReceivedAt:  1700000000,
		TextContent: domain.StringPtr("body"),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO emails")).
		WithArgs("msg-1", "alice@example.com", "bob@barid.site", "hello", int64(1700000000), nil, "body", false, int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.InsertMessage(ctx, msg))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMessageFailure(t *testing.T) {
	s, mock := newMockStore(t, "mysql")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO emails")).WillReturnError(errors.New("disk full"))

	err := s.InsertMessage(context.Background(), &domain.Message{ID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestGetMessage(t *testing.T) {
	t.Run("可选字段映射为nil", func(t *testing.T) {
		s, mock := newMockStore(t, "postgres")
		rows := sqlmock.NewRows([]string{"id", "from_address", "to_address", "subject", "received_at", "html_content", "text_content", "has_attachments", "attachment_count"}).
			AddRow("msg-1", "a@x.com", "b@barid.site", nil, int64(10), "<p>x</p>", nil, true, int64(2))
		mock.ExpectQuery(regexp.QuoteMeta("FROM emails WHERE id = $1")).WithArgs("msg-1").WillReturnRows(rows)

		msg, err := s.GetMessage(context.Background(), "msg-1")
		require.NoError(t, err)
		assert.Nil(t, msg.Subject)
		assert.Nil(t, msg.TextContent)
		require.NotNil(t, msg.HTMLContent)
		assert.Equal(t, "<p>x</p>", *msg.HTMLContent)
		assert.True(t, msg.HasAttachments)
		assert.Equal(t, 2, msg.AttachmentCount)
	})

	t.Run("不存在返回哨兵错误", func(t *testing.T) {
		s, mock := newMockStore(t, "mysql")
		mock.ExpectQuery(regexp.QuoteMeta("FROM emails WHERE id = ?")).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := s.GetMessage(context.Background(), "missing")
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	})
}

func TestListMessageIDsOlderThan(t *testing.T) {
	s, mock := newMockStore(t, "mysql")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM emails WHERE received_at < ? ORDER BY received_at ASC LIMIT ?")).
		WithArgs(int64(500), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))

	ids, err := s.ListMessageIDsOlderThan(context.Background(), 500, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMessageAttachmentInfo(t *testing.T) {
	s, mock := newMockStore(t, "mysql")
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE emails SET has_attachments = ?, attachment_count = ? WHERE id = ?")).
		WithArgs(true, int64(3), "msg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.UpdateMessageAttachmentInfo(ctx, "msg-1", true, 3))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE emails")).
		WithArgs(false, int64(0), "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.UpdateMessageAttachmentInfo(ctx, "gone", false, 0), domain.ErrMessageNotFound)
}

func TestDeleteByIDs(t *testing.T) {
	s, mock := newMockStore(t, "pgx")
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM attachments WHERE email_id IN ($1, $2)")).
		WithArgs("m1", "m2").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM emails WHERE id IN ($1, $2)")).
		WithArgs("m1", "m2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.DeleteAttachmentsByMessages(ctx, []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = s.DeleteMessagesByIDs(ctx, []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteMessagesByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMessagesOlderThan(t *testing.T) {
	s, mock := newMockStore(t, "mysql")
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM emails WHERE received_at < ?")).
		WithArgs(int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := s.DeleteMessagesOlderThan(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestAttachments(t *testing.T) {
	cols := []string{"id", "email_id", "filename", "content_type", "size", "storage_key", "created_at"}

	t.Run("写入附件", func(t *testing.T) {
		s, mock := newMockStore(t, "mysql")
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO attachments")).
			WithArgs("att_1", "msg-1", "a.pdf", "application/pdf", int64(5), "attachments/msg-1/att_1/a.pdf", int64(9)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := s.InsertAttachment(context.Background(), &domain.Attachment{
			ID: "att_1", EmailID: "msg-1", Filename: "a.pdf", ContentType: "application/pdf",
			Size: 5, StorageKey: "attachments/msg-1/att_1/a.pdf", CreatedAt: 9,
		})
		require.NoError(t, err)
	})

	t.Run("按收件人列出附件", func(t *testing.T) {
		s, mock := newMockStore(t, "mysql")
		mock.ExpectQuery(regexp.QuoteMeta("INNER JOIN emails e ON e.id = a.email_id")).
			WithArgs("bob@barid.site", int64(50)).
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow("att_2", "msg-2", "b.png", "image/png", int64(3), "k2", int64(20)).
				AddRow("att_1", "msg-1", "a.pdf", "application/pdf", int64(5), "k1", int64(10)))

		list, err := s.ListAttachmentsByRecipient(context.Background(), "bob@barid.site", 50)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "att_2", list[0].ID)
		assert.Equal(t, int64(3), list[0].Size)
	})

	t.Run("删除不存在的附件", func(t *testing.T) {
		s, mock := newMockStore(t, "mysql")
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM attachments WHERE id = ?")).
			WithArgs("att_x").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, s.DeleteAttachment(context.Background(), "att_x"), domain.ErrAttachmentNotFound)
	})

	t.Run("统计附件数量", func(t *testing.T) {
		s, mock := newMockStore(t, "mysql")
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM attachments WHERE email_id = ?")).
			WithArgs("msg-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

		n, err := s.CountAttachmentsByMessage(context.Background(), "msg-1")
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("空ID列表不访问数据库", func(t *testing.T) {
		s, mock := newMockStore(t, "mysql")
		list, err := s.ListAttachmentsByMessages(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, list)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
