package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"barid/backend/internal/app"
	"barid/backend/internal/config"
	"barid/backend/internal/health"
	"barid/backend/internal/jobs"
	"barid/backend/internal/logger"
	"barid/backend/internal/ratelimit"
	"barid/backend/internal/smtp"
	httptransport "barid/backend/internal/transport/http"
	"barid/backend/internal/websocket"
)

// version 构建时通过 -ldflags 覆盖
var version = "dev"

// main 启动同时包含 HTTP API 与 SMTP 的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting barid server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 初始化存储层与服务
	a, err := app.Open(ctx, cfg, registry, log)
	if err != nil {
		return err
	}

	// 创建 WebSocket Hub，作为新邮件监听者接入流水线
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, a.Directory, log)
	pipeline, err := a.BuildPipeline(wsHub)
	if err != nil {
		a.Close()
		return err
	}

	healthChecker := health.NewHealthChecker(a.Records, a.Counters, log)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:   cfg,
		Inbox:    a.Inbox,
		Ingester: pipeline,
		Hub:      wsHub,
		Health:   healthChecker,
		Metrics:  a.Metrics,
		Logger:   log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 创建 SMTP 服务器
	smtpBackend := smtp.NewBackend(pipeline, a.Directory, smtp.Options{
		MaxMessageBytes: cfg.SMTP.MaxMessageBytes,
		Limiter:         ratelimit.New(cfg.SMTP.RatePerSecond, cfg.SMTP.Burst),
		Metrics:         a.Metrics,
		Logger:          log,
	})
	smtpServer := smtp.NewServer(cfg.SMTP, smtpBackend)

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// SMTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
		)
		if err := smtpServer.ListenAndServe(); err != nil && groupCtx.Err() == nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket Hub goroutine
	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 域名文件热加载
	group.Go(func() error {
		if err := a.Directory.Watch(groupCtx); err != nil {
			log.Warn("domain file watcher stopped", zap.Error(err))
		}
		return nil
	})

	// 定时清理过期邮件
	group.Go(func() error {
		jobs.Every(groupCtx, "email-cleanup", cfg.Retention.Interval, log, func(ctx context.Context) {
			_, _ = a.Sweeper.Run(ctx)
		})
		return nil
	})

	// 定时发送发件人排行
	group.Go(func() error {
		jobs.Every(groupCtx, "sender-report", cfg.Report.Interval, log, func(ctx context.Context) {
			a.Reporter.Run(ctx)
		})
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// 关闭 HTTP 服务器
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		// 关闭 SMTP 服务器
		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP server close warning", zap.Error(err))
		}

		// 等待计数与推送任务完成
		if err := a.Shutdown(shutdownCtx); err != nil {
			log.Warn("background tasks did not finish", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
