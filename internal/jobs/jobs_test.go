package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barid/backend/internal/config"
	"barid/backend/internal/domain"
	"barid/backend/internal/idgen"
	"barid/backend/internal/monitoring"
	"barid/backend/internal/service"
	"barid/backend/internal/storage/memory"
)

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (n *recordingNotifier) Send(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return n.err
}

// failingRecords 在指定操作上返回错误
type failingRecords struct {
	*memory.Store
	listErr error
}

func (f *failingRecords) ListMessageIDsOlderThan(ctx context.Context, cutoff int64, limit int) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Store.ListMessageIDsOlderThan(ctx, cutoff, limit)
}

func seedMessage(t *testing.T, records *memory.Store, objects *memory.ObjectStore, id string, receivedAt int64, withAttachment bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, records.InsertMessage(ctx, &domain.Message{
		ID:             id,
		FromAddress:    "a@example.com",
		ToAddress:      "bob@barid.site",
		ReceivedAt:     receivedAt,
		HasAttachments: withAttachment,
	}))
	if !withAttachment {
		return
	}
	key := domain.AttachmentKey(id, "att_"+id, "f.txt")
	require.NoError(t, records.InsertAttachment(ctx, &domain.Attachment{
		ID: "att_" + id, EmailID: id, Filename: "f.txt", ContentType: "text/plain",
		Size: 1, StorageKey: key, CreatedAt: receivedAt,
	}))
	require.NoError(t, objects.Put(ctx, key, []byte("x"), "text/plain", "f.txt"))
}

func TestSweepDeletesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	records := memory.NewStore()
	objects := memory.NewObjectStore()
	for i := 0; i < 7; i++ {
		seedMessage(t, records, objects, fmt.Sprintf("old-%d", i), int64(100+i), i%2 == 0)
	}
	seedMessage(t, records, objects, "edge", 1000, true)
	seedMessage(t, records, objects, "new", 2000, true)

	sweeper := NewSweeper(records, service.NewPurger(records, objects, nil), nil,
		config.RetentionConfig{BatchSize: 3}, nil, nil)

	res, err := sweeper.Sweep(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Messages)
	assert.Equal(t, int64(4), res.Attachments)
	assert.Equal(t, 4, res.Blobs)

	// received_at == cutoff 的邮件保留
	_, err = records.GetMessage(ctx, "edge")
	assert.NoError(t, err)
	_, err = records.GetMessage(ctx, "new")
	assert.NoError(t, err)
	assert.Equal(t, 2, objects.Len())

	t.Run("相同截止时间重复执行不再删除", func(t *testing.T) {
		again, err := sweeper.Sweep(ctx, 1000)
		require.NoError(t, err)
		assert.Zero(t, again.Messages)
		assert.Zero(t, again.Attachments)
	})
}

// racingRecords 在第一次枚举后由另一个清理者抢先删除这批邮件
type racingRecords struct {
	*memory.Store
	rival *service.Purger
	raced atomic.Bool
}

func (r *racingRecords) ListMessageIDsOlderThan(ctx context.Context, cutoff int64, limit int) ([]string, error) {
	ids, err := r.Store.ListMessageIDsOlderThan(ctx, cutoff, limit)
	if err != nil || len(ids) == 0 || !r.raced.CompareAndSwap(false, true) {
		return ids, err
	}
	if _, err := r.rival.Purge(ctx, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *racingRecords) DeleteMessagesOlderThan(context.Context, int64) (int64, error) {
	return 0, errors.New("sweep must delete through the purger")
}

// stuckRecords 的邮件删除永远不生效
type stuckRecords struct {
	*memory.Store
}

func (s *stuckRecords) DeleteMessagesByIDs(context.Context, []string) (int64, error) {
	return 0, nil
}

func TestSweepCascadesEveryExpiredMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("批次被其他清理者删除后继续清理剩余邮件", func(t *testing.T) {
		store := memory.NewStore()
		objects := memory.NewObjectStore()
		for i := 0; i < 8; i++ {
			seedMessage(t, store, objects, fmt.Sprintf("old-%d", i), int64(100+i), true)
		}
		seedMessage(t, store, objects, "new", 2000, true)

		records := &racingRecords{Store: store, rival: service.NewPurger(store, objects, nil)}
		sweeper := NewSweeper(records, service.NewPurger(records, objects, nil), nil,
			config.RetentionConfig{BatchSize: 3}, nil, nil)

		res, err := sweeper.Sweep(ctx, 1000)
		require.NoError(t, err)
		assert.True(t, records.raced.Load())
		// 第一批由其他清理者删除，其余 5 封由本次清理级联删除
		assert.Equal(t, int64(5), res.Messages)
		assert.Equal(t, int64(5), res.Attachments)

		left, err := store.ListMessageIDsOlderThan(ctx, 1000, 0)
		require.NoError(t, err)
		assert.Empty(t, left)
		for i := 0; i < 8; i++ {
			id := fmt.Sprintf("old-%d", i)
			atts, err := store.ListAttachmentsByMessage(ctx, id)
			require.NoError(t, err)
			assert.Empty(t, atts, id)
			keys, err := objects.ListByPrefix(ctx, domain.AttachmentPrefix(id))
			require.NoError(t, err)
			assert.Empty(t, keys, id)
		}
		assert.Equal(t, 1, objects.Len())
	})

	t.Run("删除没有进展时返回错误而不是死循环", func(t *testing.T) {
		store := memory.NewStore()
		objects := memory.NewObjectStore()
		seedMessage(t, store, objects, "old-0", 100, false)
		seedMessage(t, store, objects, "old-1", 101, false)

		records := &stuckRecords{Store: store}
		sweeper := NewSweeper(records, service.NewPurger(records, objects, nil), nil,
			config.RetentionConfig{BatchSize: 10}, nil, nil)

		done := make(chan error, 1)
		go func() {
			_, err := sweeper.Sweep(ctx, 1000)
			done <- err
		}()
		select {
		case err := <-done:
			require.Error(t, err)
			assert.Contains(t, err.Error(), "2 pending")
		case <-time.After(time.Second):
			t.Fatal("sweep did not terminate")
		}
	})
}

func TestSweeperRun(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(100_000, 0)

	t.Run("成功后发送通知并记录指标", func(t *testing.T) {
		records := memory.NewStore()
		objects := memory.NewObjectStore()
		seedMessage(t, records, objects, "old", now.Add(-5*time.Hour).Unix(), true)
		seedMessage(t, records, objects, "fresh", now.Add(-time.Hour).Unix(), false)

		notifier := &recordingNotifier{}
		metrics := monitoring.NewMetrics(prometheus.NewRegistry())
		sweeper := NewSweeper(records, service.NewPurger(records, objects, nil), notifier,
			config.RetentionConfig{Window: 4 * time.Hour, NotifySuccess: true}, metrics, nil).
			WithClock(idgen.FixedClock{T: now})

		res, err := sweeper.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, now.Add(-4*time.Hour).Unix(), res.Cutoff)
		assert.Equal(t, int64(1), res.Messages)
		assert.Equal(t, []string{"Email cleanup completed successfully."}, notifier.texts)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SweepDeleted))
	})

	t.Run("未开启成功通知时不发送", func(t *testing.T) {
		records := memory.NewStore()
		notifier := &recordingNotifier{}
		sweeper := NewSweeper(records, service.NewPurger(records, nil, nil), notifier,
			config.RetentionConfig{Window: time.Hour}, nil, nil)

		_, err := sweeper.Run(ctx)
		require.NoError(t, err)
		assert.Empty(t, notifier.texts)
	})

	t.Run("失败时通知错误原因", func(t *testing.T) {
		records := &failingRecords{Store: memory.NewStore(), listErr: errors.New("database is locked")}
		notifier := &recordingNotifier{}
		sweeper := NewSweeper(records, service.NewPurger(records, nil, nil), notifier,
			config.RetentionConfig{Window: time.Hour, NotifySuccess: true}, nil, nil)

		_, err := sweeper.Run(ctx)
		require.Error(t, err)
		require.Len(t, notifier.texts, 1)
		assert.Contains(t, notifier.texts[0], "Email cleanup failed: ")
		assert.Contains(t, notifier.texts[0], "database is locked")
	})

	t.Run("通知失败不影响结果", func(t *testing.T) {
		records := memory.NewStore()
		notifier := &recordingNotifier{err: errors.New("telegram down")}
		sweeper := NewSweeper(records, service.NewPurger(records, nil, nil), notifier,
			config.RetentionConfig{Window: time.Hour, NotifySuccess: true}, nil, nil)

		_, err := sweeper.Run(ctx)
		assert.NoError(t, err)
	})
}

// flakyCounters 对指定键返回读取错误
type flakyCounters struct {
	*memory.CounterStore
	failKey string
	listErr error
}

func (f *flakyCounters) Get(ctx context.Context, key string) (int64, error) {
	if key == f.failKey {
		return 0, errors.New("timeout")
	}
	return f.CounterStore.Get(ctx, key)
}

func (f *flakyCounters) ListByPrefix(ctx context.Context, prefix, cursor string, limit int) (domain.CounterPage, error) {
	if f.listErr != nil {
		return domain.CounterPage{}, f.listErr
	}
	return f.CounterStore.ListByPrefix(ctx, prefix, cursor, limit)
}

// countingCounters 记录分页调用次数
type countingCounters struct {
	*memory.CounterStore
	pages atomic.Int32
}

func (c *countingCounters) ListByPrefix(ctx context.Context, prefix, cursor string, limit int) (domain.CounterPage, error) {
	c.pages.Add(1)
	return c.CounterStore.ListByPrefix(ctx, prefix, cursor, limit)
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	counters := memory.NewCounterStore()
	for sender, n := range map[string]int64{
		"a@x.com": 5,
		"b@x.com": 9,
		"c@x.com": 5,
		"d@x.com": 0,
		"e@x.com": 1,
	} {
		require.NoError(t, counters.Put(ctx, domain.SenderCounterPrefix+sender, n))
	}
	require.NoError(t, counters.Put(ctx, "other:z@x.com", 100))

	notifier := &recordingNotifier{}
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	reporter := NewReporter(counters, notifier, "", config.ReportConfig{}, metrics, nil)

	top := reporter.Report(ctx, 3)
	assert.Equal(t, []domain.SenderCount{
		{Sender: "b@x.com", Count: 9},
		{Sender: "a@x.com", Count: 5},
		{Sender: "c@x.com", Count: 5},
	}, top)
	require.Len(t, notifier.texts, 1)
	assert.Equal(t, "*Top 3 Senders*\n\n*b@x.com*: 9\n*a@x.com*: 5\n*c@x.com*: 5", notifier.texts[0])
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ReportRuns.WithLabelValues(monitoring.ResultOK)))

	t.Run("不包含零值计数", func(t *testing.T) {
		all := reporter.Report(ctx, 10)
		for _, c := range all {
			assert.Positive(t, c.Count)
		}
		assert.Len(t, all, 4)
	})
}

func TestReportPagingAndCeiling(t *testing.T) {
	ctx := context.Background()
	counters := &countingCounters{CounterStore: memory.NewCounterStore()}
	for i := 0; i < 25; i++ {
		require.NoError(t, counters.Put(ctx, fmt.Sprintf("sender_count:s%02d@x.com", i), int64(i+1)))
	}

	reporter := NewReporter(counters, &recordingNotifier{}, "sender_count:",
		config.ReportConfig{PageSize: 4, MaxKeys: 10, BatchSize: 3}, nil, nil)
	top := reporter.Report(ctx, 20)

	// 只扫描前 10 个键（按键名排序的 s00..s09）
	require.Len(t, top, 10)
	assert.Equal(t, "s09@x.com", top[0].Sender)
	assert.Equal(t, int64(10), top[0].Count)
	assert.Equal(t, int32(3), counters.pages.Load())
}

func TestReportNeverFails(t *testing.T) {
	ctx := context.Background()

	t.Run("无数据时不发送", func(t *testing.T) {
		notifier := &recordingNotifier{}
		top := NewReporter(memory.NewCounterStore(), notifier, "", config.ReportConfig{}, nil, nil).Report(ctx, 10)
		assert.Nil(t, top)
		assert.Empty(t, notifier.texts)
	})

	t.Run("枚举失败只记录日志", func(t *testing.T) {
		counters := &flakyCounters{CounterStore: memory.NewCounterStore(), listErr: errors.New("scan failed")}
		metrics := monitoring.NewMetrics(prometheus.NewRegistry())
		notifier := &recordingNotifier{}
		top := NewReporter(counters, notifier, "", config.ReportConfig{}, metrics, nil).Report(ctx, 10)
		assert.Nil(t, top)
		assert.Empty(t, notifier.texts)
		assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ReportRuns.WithLabelValues(monitoring.ResultError)))
	})

	t.Run("单个键读取失败被跳过", func(t *testing.T) {
		counters := &flakyCounters{CounterStore: memory.NewCounterStore(), failKey: "sender_count:bad@x.com"}
		require.NoError(t, counters.Put(ctx, "sender_count:bad@x.com", 50))
		require.NoError(t, counters.Put(ctx, "sender_count:good@x.com", 2))

		top := NewReporter(counters, nil, "", config.ReportConfig{}, nil, nil).Report(ctx, 10)
		assert.Equal(t, []domain.SenderCount{{Sender: "good@x.com", Count: 2}}, top)
	})

	t.Run("通知失败仍返回排行", func(t *testing.T) {
		counters := memory.NewCounterStore()
		require.NoError(t, counters.Put(ctx, "sender_count:a@x.com", 1))
		notifier := &recordingNotifier{err: errors.New("boom")}
		top := NewReporter(counters, notifier, "", config.ReportConfig{}, nil, nil).Report(ctx, 10)
		assert.Len(t, top, 1)
	})
}

func TestEvery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	done := make(chan struct{})

	go func() {
		defer close(done)
		Every(ctx, "test", 5*time.Millisecond, nil, func(context.Context) {
			if runs.Add(1) == 1 {
				panic("first run")
			}
		})
	}()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}

	t.Run("间隔为零时立即返回", func(t *testing.T) {
		Every(context.Background(), "disabled", 0, nil, func(context.Context) { t.Fatal("should not run") })
	})
}
