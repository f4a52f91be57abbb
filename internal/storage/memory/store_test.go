package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barid/backend/internal/domain"
)

func seedMessage(t *testing.T, s *Store, id, to string, receivedAt int64) {
	t.Helper()
	require.NoError(t, s.InsertMessage(context.Background(), &domain.Message{
		ID:          id,
		FromAddress: "sender@example.com",
		ToAddress:   to,
		ReceivedAt:  receivedAt,
	}))
}

func TestMemoryStore_MessageOperations(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	seedMessage(t, store, "m1", "bob@barid.site", 100)
	seedMessage(t, store, "m2", "bob@barid.site", 300)
	seedMessage(t, store, "m3", "bob@barid.site", 200)
	seedMessage(t, store, "m4", "eve@barid.site", 50)

	t.Run("重复ID写入失败", func(t *testing.T) {
		err := store.InsertMessage(ctx, &domain.Message{ID: "m1"})
		assert.ErrorIs(t, err, ErrDuplicateID)
	})

	t.Run("按接收时间倒序分页", func(t *testing.T) {
		list, err := store.ListMessagesByRecipient(ctx, "bob@barid.site", 2, 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "m2", list[0].ID)
		assert.Equal(t, "m3", list[1].ID)

		list, err = store.ListMessagesByRecipient(ctx, "bob@barid.site", 2, 2)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "m1", list[0].ID)

		list, err = store.ListMessagesByRecipient(ctx, "bob@barid.site", 2, 10)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("统计数量", func(t *testing.T) {
		n, err := store.CountMessagesByRecipient(ctx, "bob@barid.site")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("返回副本", func(t *testing.T) {
		msg, err := store.GetMessage(ctx, "m1")
		require.NoError(t, err)
		msg.ToAddress = "changed"

		again, err := store.GetMessage(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "bob@barid.site", again.ToAddress)
	})

	t.Run("过期ID按时间升序并限制数量", func(t *testing.T) {
		ids, err := store.ListMessageIDsOlderThan(ctx, 250, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"m4", "m1"}, ids)
	})

	t.Run("更新附件信息", func(t *testing.T) {
		require.NoError(t, store.UpdateMessageAttachmentInfo(ctx, "m1", true, 2))
		msg, _ := store.GetMessage(ctx, "m1")
		assert.True(t, msg.HasAttachments)
		assert.Equal(t, 2, msg.AttachmentCount)

		assert.ErrorIs(t, store.UpdateMessageAttachmentInfo(ctx, "nope", true, 1), domain.ErrMessageNotFound)
	})

	t.Run("删除早于截止时间的邮件", func(t *testing.T) {
		n, err := store.DeleteMessagesOlderThan(ctx, 150)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = store.DeleteMessagesOlderThan(ctx, 150)
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = store.GetMessage(ctx, "m1")
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	})
}

func TestMemoryStore_AttachmentOperations(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	seedMessage(t, store, "m1", "bob@barid.site", 100)
	seedMessage(t, store, "m2", "bob@barid.site", 200)

	for i, owner := range []string{"m1", "m1", "m2"} {
		require.NoError(t, store.InsertAttachment(ctx, &domain.Attachment{
			ID:         fmt.Sprintf("att_%d", i),
			EmailID:    owner,
			Filename:   "f.txt",
			StorageKey: domain.AttachmentKey(owner, fmt.Sprintf("att_%d", i), "f.txt"),
			CreatedAt:  int64(10 + i),
		}))
	}

	list, err := store.ListAttachmentsByMessage(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "att_0", list[0].ID)

	recent, err := store.ListAttachmentsByRecipient(ctx, "bob@barid.site", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "att_2", recent[0].ID)

	n, err := store.CountAttachmentsByMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.DeleteAttachment(ctx, "att_0"))
	assert.ErrorIs(t, store.DeleteAttachment(ctx, "att_0"), domain.ErrAttachmentNotFound)

	deleted, err := store.DeleteAttachmentsByMessages(ctx, []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	all, err := store.ListAttachmentsByMessages(ctx, []string{"m1", "m2"})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCounterStore(t *testing.T) {
	ctx := context.Background()
	c := NewCounterStore()

	_, err := c.Get(ctx, "sender_count:a")
	assert.ErrorIs(t, err, domain.ErrCounterNotFound)

	require.NoError(t, c.Put(ctx, "sender_count:a", 4))
	v, err := c.Incr(ctx, "sender_count:a")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Put(ctx, fmt.Sprintf("sender_count:k%d", i), int64(i)))
	}
	require.NoError(t, c.Put(ctx, "other:x", 1))

	var keys []string
	cursor := ""
	pages := 0
	for {
		p, err := c.ListByPrefix(ctx, "sender_count:", cursor, 2)
		require.NoError(t, err)
		keys = append(keys, p.Keys...)
		pages++
		if p.Complete {
			assert.Empty(t, p.NextCursor)
			break
		}
		cursor = p.NextCursor
	}
	assert.Len(t, keys, 6)
	assert.Equal(t, 3, pages)
	assert.NotContains(t, keys, "other:x")

	_, err = c.ListByPrefix(ctx, "sender_count:", "bogus", 2)
	assert.Error(t, err)
}

func TestCounterStoreConcurrentIncr(t *testing.T) {
	ctx := context.Background()
	c := NewCounterStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Incr(ctx, "k")
		}()
	}
	wg.Wait()

	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(50), v)
}

func TestObjectStore(t *testing.T) {
	ctx := context.Background()
	o := NewObjectStore()

	data := []byte("hello")
	require.NoError(t, o.Put(ctx, "attachments/m1/a/f.txt", data, "text/plain", "f.txt"))
	data[0] = 'J'

	obj, err := o.Get(ctx, "attachments/m1/a/f.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), obj.Data)
	assert.Equal(t, int64(5), obj.Size)

	require.NoError(t, o.Put(ctx, "attachments/m2/b/g.txt", nil, "text/plain", "g.txt"))
	keys, err := o.ListByPrefix(ctx, "attachments/m1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"attachments/m1/a/f.txt"}, keys)

	require.NoError(t, o.Delete(ctx, "attachments/m1/a/f.txt"))
	require.NoError(t, o.Delete(ctx, "attachments/m1/a/f.txt"))
	_, err = o.Get(ctx, "attachments/m1/a/f.txt")
	assert.ErrorIs(t, err, domain.ErrObjectNotFound)
	assert.Equal(t, 1, o.Len())
}
