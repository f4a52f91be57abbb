package jobs

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"barid/backend/internal/config"
	"barid/backend/internal/domain"
	"barid/backend/internal/idgen"
	"barid/backend/internal/monitoring"
	"barid/backend/internal/service"
)

const defaultSweepBatch = 500

// SweepResult 一次过期清理的统计
type SweepResult struct {
	Cutoff int64 `json:"cutoff"`
	service.PurgeResult
}

// Sweeper 删除接收时间早于截止时间的邮件，连同附件记录和附件对象
type Sweeper struct {
	records  domain.RecordStore
	purger   *service.Purger
	notifier domain.Notifier
	clock    idgen.Clock
	cfg      config.RetentionConfig
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewSweeper 创建过期清理任务
//
// 参数:
//   - records: 邮件记录存储
//   - purger: 级联删除器
//   - notifier: 结果通知，可为 nil
//   - cfg: 保留时长与批大小
func NewSweeper(records domain.RecordStore, purger *service.Purger, notifier domain.Notifier, cfg config.RetentionConfig, metrics *monitoring.Metrics, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSweepBatch
	}
	return &Sweeper{
		records:  records,
		purger:   purger,
		notifier: notifier,
		clock:    idgen.SystemClock{},
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.Named("sweeper"),
	}
}

// WithClock 替换时钟，用于测试
func (s *Sweeper) WithClock(c idgen.Clock) *Sweeper {
	s.clock = c
	return s
}

// Sweep 删除 received_at 严格小于 cutoff 的全部邮件
//
// 分批枚举过期邮件并交给 purger 级联删除，直到枚举结果为空。
// 所有删除都经过 purger，附件记录和附件对象不会遗留。
// 重复执行同一 cutoff 不会再删除任何行。
func (s *Sweeper) Sweep(ctx context.Context, cutoff int64) (SweepResult, error) {
	res := SweepResult{Cutoff: cutoff}

	var stalled []string
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ids, err := s.records.ListMessageIDsOlderThan(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			return res, fmt.Errorf("list expired messages: %w", err)
		}
		if len(ids) == 0 {
			return res, nil
		}
		// 上一批删除 0 行后又枚举到同一批，说明存储没有进展
		if stalled != nil && slices.Equal(stalled, ids) {
			return res, fmt.Errorf("expired messages not deleted: %d pending", len(ids))
		}

		batch, err := s.purger.Purge(ctx, ids)
		res.Add(batch)
		if err != nil {
			return res, err
		}
		stalled = nil
		if batch.Messages == 0 {
			// 其他清理者可能已删除这批邮件，继续枚举剩余的过期邮件
			stalled = ids
		}
	}
}

// Run 以 now - window 为截止时间执行一次清理并发送结果通知
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	cutoff := s.clock.Now().Add(-s.cfg.Window).Unix()
	start := time.Now()

	res, err := s.Sweep(ctx, cutoff)
	if err != nil {
		s.logger.Error("email cleanup failed",
			zap.Int64("cutoff", cutoff),
			zap.Int64("deleted", res.Messages),
			zap.Error(err),
		)
		s.notify(ctx, fmt.Sprintf("Email cleanup failed: %v", err))
		return res, err
	}

	s.metrics.RecordSweep(res.Messages)
	s.logger.Info("Email cleanup completed successfully.",
		zap.Int64("cutoff", cutoff),
		zap.Int64("messages", res.Messages),
		zap.Int64("attachments", res.Attachments),
		zap.Int("blobs", res.Blobs),
		zap.Duration("took", time.Since(start)),
	)
	if s.cfg.NotifySuccess {
		s.notify(ctx, "Email cleanup completed successfully.")
	}
	return res, nil
}

func (s *Sweeper) notify(ctx context.Context, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, text); err != nil {
		s.logger.Warn("failed to send cleanup notification", zap.Error(err))
	}
}
