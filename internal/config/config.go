package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// SMTPConfig 定义 SMTP 邮件接收服务器的配置
type SMTPConfig struct {
	BindAddr        string  // SMTP 服务监听地址，格式 "host:port"，默认 ":25"
	Domain          string  // SMTP 服务器域名，用于 HELO/EHLO 响应
	MaxMessageBytes int64   // 单封邮件最大字节数
	RatePerSecond   float64 // 单个远端 IP 每秒允许的新会话数
	Burst           int     // 令牌桶突发容量
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到控制台
	MaxSize     int    // 单个日志文件最大 MB
	MaxBackups  int    // 保留的旧日志文件数
	MaxAge      int    // 旧日志保留天数
	Compress    bool   // 是否压缩旧日志
}

// DatabaseConfig 定义记录存储的数据库连接配置
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql"、"postgres"、"pgx"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
	AutoMigrate     bool          // 启动时是否自动建表
}

// RedisConfig 定义 Redis 服务配置
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// CounterConfig 定义发件人计数存储配置
type CounterConfig struct {
	Backend     string // memory、redis 或 dynamodb
	Table       string // DynamoDB 表名
	Region      string // DynamoDB 区域
	Granularity string // address 或 domain
	Prefix      string // 计数键前缀
}

// BlobConfig 定义附件对象存储配置
type BlobConfig struct {
	Backend         string // filesystem 或 s3
	Path            string // 文件系统根目录
	Bucket          string // S3 存储桶
	Region          string // S3 区域
	Endpoint        string // 自定义 S3 兼容端点（R2、MinIO）
	AccessKeyID     string
	SecretAccessKey string
}

// AttachmentConfig 定义附件校验限制
type AttachmentConfig struct {
	MaxSize      int64    // 单个附件最大字节数
	MaxCount     int      // 单封邮件最多附件数
	AllowedTypes []string // 允许的 MIME 类型，留空使用内置列表
	Concurrency  int      // 单封邮件附件并发写入数
}

// ContentConfig 定义正文规范化参数
type ContentConfig struct {
	WordWrap          int // HTML 转纯文本的折行宽度
	MaxConversionSize int // 转换前 HTML 的最大字节数
}

// RetentionConfig 定义过期清理任务配置
type RetentionConfig struct {
	Window        time.Duration // 邮件保留时长
	Interval      time.Duration // 清理任务执行间隔
	BatchSize     int           // 每批删除的邮件数
	NotifySuccess bool          // 清理成功后是否发送通知
}

// ReportConfig 定义发件人排行报告配置
type ReportConfig struct {
	Interval  time.Duration // 报告任务执行间隔
	TopN      int           // 报告中列出的发件人数量
	MaxKeys   int           // 最多扫描的计数键数量
	PageSize  int           // 每页枚举的键数量
	BatchSize int           // 每批并发读取的键数量
}

// NotifyConfig 定义通知渠道配置
type NotifyConfig struct {
	TelegramToken      string   // Telegram Bot Token
	TelegramTokenParam string   // 保存 Token 的 SSM 参数名
	TelegramChatID     string   // Telegram 会话 ID
	SESRegion          string   // SES 区域
	SESSender          string   // SES 发件地址
	SESRecipients      []string // SES 收件地址列表
}

// DomainsConfig 定义受支持域名目录配置
type DomainsConfig struct {
	File string   // YAML 域名文件路径，留空只使用内联列表
	List []string // 内联域名列表
}

// WebhookConfig 定义入站 Webhook 配置
type WebhookConfig struct {
	Secret        string  // HMAC 签名密钥，留空不校验签名
	RatePerSecond float64 // 每个来源 IP 每秒允许的请求数
	Burst         int
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server      ServerConfig
	SMTP        SMTPConfig
	CORS        CORSConfig
	Log         LogConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Counter     CounterConfig
	Blob        BlobConfig
	Attachments AttachmentConfig
	Content     ContentConfig
	Retention   RetentionConfig
	Report      ReportConfig
	Notify      NotifyConfig
	Domains     DomainsConfig
	Webhook     WebhookConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: TEMPMAIL_，例如 TEMPMAIL_RETENTION_WINDOW=2h
//
// 返回值:
//   - *Config: 加载成功的配置对象
//   - error: 配置验证失败时返回错误
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("tempmail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return fromViper(v)
}

// setDefaults 注册全部配置项的默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("smtp.bind_addr", ":25")
	v.SetDefault("smtp.domain", "barid.site")
	v.SetDefault("smtp.max_message_bytes", 60*1024*1024)
	v.SetDefault("smtp.rate_per_second", 5)
	v.SetDefault("smtp.burst", 20)
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.type", "") // 默认为空，使用内存存储
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("counter.backend", "memory")
	v.SetDefault("counter.table", "sender_counts")
	v.SetDefault("counter.region", "us-east-1")
	v.SetDefault("counter.granularity", "address")
	v.SetDefault("counter.prefix", "sender_count:")
	v.SetDefault("blob.backend", "filesystem")
	v.SetDefault("blob.path", "./data/attachments")
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.region", "auto")
	v.SetDefault("blob.endpoint", "")
	v.SetDefault("blob.access_key_id", "")
	v.SetDefault("blob.secret_access_key", "")
	v.SetDefault("attachments.max_size", 50*1024*1024)
	v.SetDefault("attachments.max_count", 10)
	v.SetDefault("attachments.allowed_types", "")
	v.SetDefault("attachments.concurrency", 4)
	v.SetDefault("content.wordwrap", 130)
	v.SetDefault("content.max_conversion_size", 900*1024)
	v.SetDefault("retention.window", "4h")
	v.SetDefault("retention.interval", "4h")
	v.SetDefault("retention.batch_size", 500)
	v.SetDefault("retention.notify_success", true)
	v.SetDefault("report.interval", "5h")
	v.SetDefault("report.top_n", 10)
	v.SetDefault("report.max_keys", 1000)
	v.SetDefault("report.page_size", 100)
	v.SetDefault("report.batch_size", 50)
	v.SetDefault("notify.telegram_token", "")
	v.SetDefault("notify.telegram_token_param", "")
	v.SetDefault("notify.telegram_chat_id", "")
	v.SetDefault("notify.ses_region", "")
	v.SetDefault("notify.ses_sender", "")
	v.SetDefault("notify.ses_recipients", "")
	v.SetDefault("domains.file", "")
	v.SetDefault("domains.list", "")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.rate_per_second", 10)
	v.SetDefault("webhook.burst", 50)
}

// fromViper 把 viper 中的值转换为强类型配置并做校验
func fromViper(v *viper.Viper) (*Config, error) {
	connMaxLifetime, err := time.ParseDuration(v.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	window, err := time.ParseDuration(v.GetString("retention.window"))
	if err != nil {
		return nil, fmt.Errorf("invalid retention.window: %w", err)
	}
	if window <= 0 {
		return nil, fmt.Errorf("retention.window must be positive")
	}

	sweepInterval, err := time.ParseDuration(v.GetString("retention.interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid retention.interval: %w", err)
	}

	reportInterval, err := time.ParseDuration(v.GetString("report.interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid report.interval: %w", err)
	}

	maxCount := v.GetInt("attachments.max_count")
	if maxCount <= 0 {
		return nil, fmt.Errorf("attachments.max_count must be positive")
	}
	maxSize := v.GetInt64("attachments.max_size")
	if maxSize <= 0 {
		return nil, fmt.Errorf("attachments.max_size must be positive")
	}

	dbType := strings.ToLower(v.GetString("database.type"))
	switch dbType {
	case "", "mysql", "postgres", "pgx":
	default:
		return nil, fmt.Errorf("unsupported database.type: %s (supported: mysql, postgres, pgx)", dbType)
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		SMTP: SMTPConfig{
			BindAddr:        v.GetString("smtp.bind_addr"),
			Domain:          v.GetString("smtp.domain"),
			MaxMessageBytes: v.GetInt64("smtp.max_message_bytes"),
			RatePerSecond:   v.GetFloat64("smtp.rate_per_second"),
			Burst:           v.GetInt("smtp.burst"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
			MaxSize:     v.GetInt("log.max_size"),
			MaxBackups:  v.GetInt("log.max_backups"),
			MaxAge:      v.GetInt("log.max_age"),
			Compress:    v.GetBool("log.compress"),
		},
		Database: DatabaseConfig{
			Type:            dbType,
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Counter: CounterConfig{
			Backend:     strings.ToLower(v.GetString("counter.backend")),
			Table:       v.GetString("counter.table"),
			Region:      v.GetString("counter.region"),
			Granularity: strings.ToLower(v.GetString("counter.granularity")),
			Prefix:      v.GetString("counter.prefix"),
		},
		Blob: BlobConfig{
			Backend:         strings.ToLower(v.GetString("blob.backend")),
			Path:            v.GetString("blob.path"),
			Bucket:          v.GetString("blob.bucket"),
			Region:          v.GetString("blob.region"),
			Endpoint:        v.GetString("blob.endpoint"),
			AccessKeyID:     v.GetString("blob.access_key_id"),
			SecretAccessKey: v.GetString("blob.secret_access_key"),
		},
		Attachments: AttachmentConfig{
			MaxSize:      maxSize,
			MaxCount:     maxCount,
			AllowedTypes: parseLowerList(v.GetString("attachments.allowed_types")),
			Concurrency:  v.GetInt("attachments.concurrency"),
		},
		Content: ContentConfig{
			WordWrap:          v.GetInt("content.wordwrap"),
			MaxConversionSize: v.GetInt("content.max_conversion_size"),
		},
		Retention: RetentionConfig{
			Window:        window,
			Interval:      sweepInterval,
			BatchSize:     v.GetInt("retention.batch_size"),
			NotifySuccess: v.GetBool("retention.notify_success"),
		},
		Report: ReportConfig{
			Interval:  reportInterval,
			TopN:      v.GetInt("report.top_n"),
			MaxKeys:   v.GetInt("report.max_keys"),
			PageSize:  v.GetInt("report.page_size"),
			BatchSize: v.GetInt("report.batch_size"),
		},
		Notify: NotifyConfig{
			TelegramToken:      v.GetString("notify.telegram_token"),
			TelegramTokenParam: v.GetString("notify.telegram_token_param"),
			TelegramChatID:     v.GetString("notify.telegram_chat_id"),
			SESRegion:          v.GetString("notify.ses_region"),
			SESSender:          v.GetString("notify.ses_sender"),
			SESRecipients:      parseList(v.GetString("notify.ses_recipients")),
		},
		Domains: DomainsConfig{
			File: v.GetString("domains.file"),
			List: parseLowerList(v.GetString("domains.list")),
		},
		Webhook: WebhookConfig{
			Secret:        v.GetString("webhook.secret"),
			RatePerSecond: v.GetFloat64("webhook.rate_per_second"),
			Burst:         v.GetInt("webhook.burst"),
		},
	}

	if cfg.Database.Type != "" && cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required when database.type is %q", cfg.Database.Type)
	}
	if cfg.Blob.Backend == "s3" && cfg.Blob.Bucket == "" {
		return nil, fmt.Errorf("blob.bucket is required for the s3 backend")
	}

	return cfg, nil
}

// parseLowerList 将逗号分隔的字符串解析为小写字符串数组
func parseLowerList(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 如果文件不存在则静默跳过；已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
