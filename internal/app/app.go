// Package app 按配置组装存储、流水线与后台任务，供服务端和命令行共用。
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"barid/backend/internal/config"
	"barid/backend/internal/content"
	"barid/backend/internal/directory"
	"barid/backend/internal/domain"
	"barid/backend/internal/ingest"
	"barid/backend/internal/jobs"
	"barid/backend/internal/monitoring"
	"barid/backend/internal/notify"
	"barid/backend/internal/parser"
	"barid/backend/internal/pool"
	"barid/backend/internal/secrets"
	"barid/backend/internal/security"
	"barid/backend/internal/service"
	"barid/backend/internal/storage/dynamodb"
	"barid/backend/internal/storage/filesystem"
	"barid/backend/internal/storage/memory"
	"barid/backend/internal/storage/redis"
	"barid/backend/internal/storage/s3"
	sqlstore "barid/backend/internal/storage/sql"
)

// App 组装完成的运行时组件
type App struct {
	Config    *config.Config
	Records   domain.RecordStore
	Objects   domain.ObjectStore
	Counters  domain.CounterStore
	Directory *directory.Directory
	Notifier  domain.Notifier
	Metrics   *monitoring.Metrics
	Inbox     *service.InboxService
	Pipeline  *ingest.Pipeline
	Tasks     *pool.TaskGroup
	Sweeper   *jobs.Sweeper
	Reporter  *jobs.Reporter

	logger  *zap.Logger
	closers []io.Closer
}

// Open 按配置打开存储、域名目录与通知渠道，并创建查询服务和后台任务
//
// 参数:
//   - cfg: 系统配置
//   - registry: 指标注册表，nil 时使用新的独立注册表
//   - logger: 日志记录器
func Open(ctx context.Context, cfg *config.Config, registry *prometheus.Registry, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	a := &App{Config: cfg, logger: logger, Metrics: monitoring.NewMetrics(registry)}

	var err error
	if a.Records, err = a.openRecords(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if a.Objects, err = a.openObjects(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if a.Counters, err = a.openCounters(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if a.Directory, err = directory.New(cfg.Domains, logger); err != nil {
		a.Close()
		return nil, fmt.Errorf("load domain directory: %w", err)
	}
	if a.Notifier, err = a.buildNotifier(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Inbox = service.NewInboxService(a.Records, a.Objects, a.Directory, a.Metrics, logger)
	a.Sweeper = jobs.NewSweeper(a.Records, a.Inbox.Purger(), a.Notifier, cfg.Retention, a.Metrics, logger)
	a.Reporter = jobs.NewReporter(a.Counters, a.Notifier, cfg.Counter.Prefix, cfg.Report, a.Metrics, logger)
	return a, nil
}

// BuildPipeline 创建后台任务组和入库流水线
//
// listeners 在每封邮件入库后被调用（例如 WebSocket Hub）。
func (a *App) BuildPipeline(listeners ...domain.MailListener) (*ingest.Pipeline, error) {
	cfg := a.Config
	a.Tasks = pool.NewTaskGroup(pool.Options{Workers: 4, QueueSize: 256, TaskTimeout: 30 * time.Second}, a.logger)

	p, err := ingest.New(ingest.Deps{
		Parser:     parser.New(a.logger),
		Normalizer: content.NewNormalizer(cfg.Content, a.logger),
		Validator:  security.NewAttachmentValidator(cfg.Attachments, a.logger),
		Records:    a.Records,
		Objects:    a.Objects,
		Counters:   a.Counters,
		Tasks:      a.Tasks,
		Listeners:  listeners,
		Metrics:    a.Metrics,
		Logger:     a.logger,
	}, ingest.Options{
		Concurrency:   cfg.Attachments.Concurrency,
		Granularity:   domain.ParseGranularity(cfg.Counter.Granularity),
		CounterPrefix: cfg.Counter.Prefix,
	})
	if err != nil {
		return nil, err
	}
	a.Pipeline = p
	return p, nil
}

func (a *App) openRecords(ctx context.Context) (domain.RecordStore, error) {
	cfg := a.Config.Database
	if cfg.Type == "" || cfg.DSN == "" {
		a.logger.Info("using memory record store (development mode)")
		return memory.NewStore(), nil
	}
	store, err := sqlstore.NewStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	a.closers = append(a.closers, store)
	a.logger.Info("using database record store", zap.String("type", cfg.Type))
	return store, nil
}

func (a *App) openObjects(ctx context.Context) (domain.ObjectStore, error) {
	cfg := a.Config.Blob
	switch cfg.Backend {
	case "s3":
		store, err := s3.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open object store: %w", err)
		}
		a.logger.Info("using s3 object store", zap.String("bucket", cfg.Bucket), zap.String("endpoint", cfg.Endpoint))
		return store, nil
	case "memory":
		return memory.NewObjectStore(), nil
	default:
		store, err := filesystem.NewStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open object store: %w", err)
		}
		a.logger.Info("using filesystem object store", zap.String("path", cfg.Path))
		return store, nil
	}
}

func (a *App) openCounters(ctx context.Context) (domain.CounterStore, error) {
	cfg := a.Config.Counter
	switch cfg.Backend {
	case "redis":
		store, err := redis.New(ctx, a.Config.Redis, a.logger)
		if err != nil {
			return nil, fmt.Errorf("open counter store: %w", err)
		}
		a.closers = append(a.closers, store)
		return store, nil
	case "dynamodb":
		store, err := dynamodb.NewFromRegion(ctx, cfg.Region, cfg.Table)
		if err != nil {
			return nil, fmt.Errorf("open counter store: %w", err)
		}
		a.logger.Info("using dynamodb counter store", zap.String("table", cfg.Table))
		return store, nil
	default:
		return memory.NewCounterStore(), nil
	}
}

func (a *App) buildNotifier(ctx context.Context) (domain.Notifier, error) {
	cfg := a.Config.Notify
	var getter secrets.Getter
	if cfg.TelegramToken == "" && cfg.TelegramTokenParam != "" {
		store, err := secrets.NewFromRegion(ctx, cfg.SESRegion)
		if err != nil {
			return nil, err
		}
		getter = store
	}
	return notify.Build(ctx, cfg, getter, a.logger)
}

// Shutdown 等待后台任务完成后关闭存储连接
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	if a.Tasks != nil {
		err = a.Tasks.Shutdown(ctx)
	}
	a.Close()
	return err
}

// Close 关闭已打开的存储连接
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("failed to close store", zap.Error(err))
		}
	}
	a.closers = nil
}
