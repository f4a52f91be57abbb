package httptransport

import (
	"context"
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"barid/backend/internal/config"
	"barid/backend/internal/health"
	"barid/backend/internal/ingest"
	"barid/backend/internal/middleware"
	"barid/backend/internal/monitoring"
	"barid/backend/internal/ratelimit"
	"barid/backend/internal/service"
	"barid/backend/internal/websocket"
)

// Ingester 将原始邮件写入存储，*ingest.Pipeline 实现了该接口
type Ingester interface {
	Ingest(ctx context.Context, raw []byte, sender, recipient string) (*ingest.Result, error)
}

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	inbox    *service.InboxService
	ingester Ingester
	secret   string
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config   *config.Config
	Inbox    *service.InboxService
	Ingester Ingester               // 入站 Webhook 使用，nil 时不注册该路由
	Hub      *websocket.Hub         // nil 时不注册 /ws
	Health   *health.HealthChecker  // nil 时 /health 只返回存活
	Metrics  *monitoring.Metrics    // 可为 nil
	Logger   *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}

	router := gin.New()

	router.Use(middleware.RecoveryHandler(logger, deps.Metrics))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.HTTPMetrics(deps.Metrics))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Signature"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "ETag"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"*"}
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := &Handler{
		inbox:    deps.Inbox,
		ingester: deps.Ingester,
		secret:   cfg.Webhook.Secret,
		metrics:  deps.Metrics,
		logger:   logger.Named("http"),
	}

	// 健康检查与指标
	router.GET("/health", handler.healthCheck(deps.Health))
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// WebSocket 新邮件推送
	if deps.Hub != nil {
		router.GET("/ws", deps.Hub.Handler())
	}

	api := router.Group("")
	api.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	{
		// ========== Email Routes ==========
		api.GET("/emails/count/:address", handler.countMessages)
		api.GET("/emails/:address", handler.listMessages)
		api.DELETE("/emails/:address", handler.deleteMessages)
		api.GET("/emails/:address/attachments", handler.listRecipientAttachments)

		// ========== Inbox Routes ==========
		api.GET("/inbox/:id", handler.getMessage)
		api.DELETE("/inbox/:id", handler.deleteMessage)
		api.GET("/inbox/:id/attachments", handler.listMessageAttachments)

		// ========== Attachment Routes ==========
		api.GET("/attachments/:id", handler.downloadAttachment)
		api.DELETE("/attachments/:id", handler.deleteAttachment)

		// ========== Domain Routes ==========
		api.GET("/domains", handler.listDomains)
	}

	// ========== Webhook Routes ==========
	if deps.Ingester != nil {
		maxBytes := cfg.SMTP.MaxMessageBytes
		if maxBytes <= 0 {
			maxBytes = 25 * 1024 * 1024
		}
		webhook := router.Group("/webhook")
		webhook.Use(middleware.BodySizeLimit(maxBytes))
		if cfg.Webhook.RatePerSecond > 0 {
			limiter := ratelimit.New(cfg.Webhook.RatePerSecond, cfg.Webhook.Burst)
			webhook.Use(middleware.RateLimit(limiter, "webhook", deps.Metrics))
		}
		webhook.POST("/inbound", handler.inbound)
	}

	return router
}

// healthCheck 返回各依赖状态，任一失败时返回 503
func (h *Handler) healthCheck(checker *health.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil {
			c.JSON(http.StatusOK, Response{Code: CodeSuccess, Msg: "成功", Data: gin.H{"status": "ok"}})
			return
		}
		checks, healthy := checker.CheckHealth()
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, Response{
				Code: CodeServiceUnavailable,
				Msg:  "服务依赖不可用",
				Data: gin.H{"status": "unhealthy", "checks": checks},
			})
			return
		}
		Success(c, gin.H{"status": "ok", "checks": checks})
	}
}
