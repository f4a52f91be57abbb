package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"barid/backend/internal/config"
	"barid/backend/internal/domain"
	"barid/backend/internal/monitoring"
)

const (
	defaultTopN      = 10
	defaultMaxKeys   = 1000
	defaultPageSize  = 100
	defaultBatchSize = 50
)

// Reporter 统计发件人计数并推送排行
type Reporter struct {
	counters domain.CounterStore
	notifier domain.Notifier
	prefix   string
	cfg      config.ReportConfig
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewReporter 创建发件人排行任务，prefix 为空时使用 domain.SenderCounterPrefix
func NewReporter(counters domain.CounterStore, notifier domain.Notifier, prefix string, cfg config.ReportConfig, metrics *monitoring.Metrics, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = domain.SenderCounterPrefix
	}
	if cfg.TopN <= 0 {
		cfg.TopN = defaultTopN
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = defaultMaxKeys
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Reporter{
		counters: counters,
		notifier: notifier,
		prefix:   prefix,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.Named("reporter"),
	}
}

// Run 使用配置的 TopN 执行一次报告
func (r *Reporter) Run(ctx context.Context) []domain.SenderCount {
	return r.Report(ctx, r.cfg.TopN)
}

// Report 汇总前 topN 个发件人并通过通知渠道发送
//
// 任何失败只记录日志，不向调用方返回错误。返回实际发送的排行，
// 没有数据时返回 nil 且不发送通知。
func (r *Reporter) Report(ctx context.Context, topN int) []domain.SenderCount {
	if topN <= 0 {
		topN = r.cfg.TopN
	}

	top, err := r.collect(ctx, topN)
	if err != nil {
		r.metrics.RecordReport(monitoring.ResultError)
		r.logger.Error("failed to collect sender counts", zap.Error(err))
		return nil
	}
	if len(top) == 0 {
		r.metrics.RecordReport(monitoring.ResultOK)
		r.logger.Info("no sender counts to report")
		return nil
	}

	if r.notifier != nil {
		if err := r.notifier.Send(ctx, FormatTopSenders(topN, top)); err != nil {
			r.metrics.RecordReport(monitoring.ResultError)
			r.logger.Warn("failed to send top senders report", zap.Error(err))
			return top
		}
	}
	r.metrics.RecordReport(monitoring.ResultOK)
	r.logger.Info("top senders report sent", zap.Int("senders", len(top)))
	return top
}

func (r *Reporter) collect(ctx context.Context, topN int) ([]domain.SenderCount, error) {
	keys, err := r.listKeys(ctx)
	if err != nil {
		return nil, err
	}

	counts := make([]domain.SenderCount, 0, len(keys))
	for start := 0; start < len(keys); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(keys))
		counts = append(counts, r.fetchBatch(ctx, keys[start:end])...)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Sender < counts[j].Sender
	})
	if len(counts) > topN {
		counts = counts[:topN]
	}
	return counts, nil
}

// listKeys 分页枚举计数键，最多 MaxKeys 个
func (r *Reporter) listKeys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor string
	)
	for len(keys) < r.cfg.MaxKeys {
		page, err := r.counters.ListByPrefix(ctx, r.prefix, cursor, r.cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("list counter keys: %w", err)
		}
		keys = append(keys, page.Keys...)
		if page.Complete || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if len(keys) > r.cfg.MaxKeys {
		r.logger.Warn("sender key scan truncated", zap.Int("max_keys", r.cfg.MaxKeys))
		keys = keys[:r.cfg.MaxKeys]
	}
	return keys, nil
}

// fetchBatch 并发读取一批计数值，读取失败、缺失或为零的计数被丢弃
func (r *Reporter) fetchBatch(ctx context.Context, keys []string) []domain.SenderCount {
	values := make([]int64, len(keys))
	var g errgroup.Group
	g.SetLimit(r.cfg.BatchSize)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			v, err := r.counters.Get(ctx, key)
			switch {
			case errors.Is(err, domain.ErrCounterNotFound):
			case err != nil:
				r.logger.Warn("failed to read sender counter", zap.String("key", key), zap.Error(err))
			default:
				values[i] = v
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.SenderCount, 0, len(keys))
	for i, key := range keys {
		if values[i] <= 0 {
			continue
		}
		out = append(out, domain.SenderCount{
			Sender: strings.TrimPrefix(key, r.prefix),
			Count:  values[i],
		})
	}
	return out
}

// FormatTopSenders 生成 Markdown 格式的排行文本
func FormatTopSenders(topN int, counts []domain.SenderCount) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Top %d Senders*\n\n", topN)
	for i, c := range counts {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "*%s*: %d", c.Sender, c.Count)
	}
	return b.String()
}
