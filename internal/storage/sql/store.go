package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver (pgx)
	_ "github.com/lib/pq"              // PostgreSQL driver (lib/pq)
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"barid/backend/internal/config"
	"barid/backend/internal/domain"
)

// Store SQL 记录存储实现（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db         *sql.DB
	driverName string // "mysql"、"postgres" 或 "pgx"
}

var _ domain.RecordStore = (*Store)(nil)

// NewStore 按配置打开数据库连接，并在需要时自动建表
func NewStore(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	switch cfg.Type {
	case "mysql", "postgres", "pgx":
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres, pgx)", cfg.Type)
	}

	db, err := sql.Open(cfg.Type, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewWithDB(db, cfg.Type)
	if cfg.AutoMigrate {
		if err := store.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return store, nil
}

// NewWithDB 使用已有连接创建存储，主要用于测试
func NewWithDB(db *sql.DB, driverName string) *Store {
	return &Store{db: db, driverName: driverName}
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.PingContext(ctx)
}

// Migrate 使用 GORM AutoMigrate 创建 emails 与 attachments 表及索引
func (s *Store) Migrate() error {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var dialector gorm.Dialector
	if s.driverName == "mysql" {
		dialector = mysql.New(mysql.Config{Conn: s.db})
	} else {
		dialector = postgres.New(postgres.Config{Conn: s.db})
	}

	gormDB, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize GORM: %w", err)
	}
	return gormDB.AutoMigrate(&domain.Message{}, &domain.Attachment{})
}

// isPostgres 判断是否使用 $n 占位符
func (s *Store) isPostgres() bool {
	return s.driverName == "postgres" || s.driverName == "pgx"
}

// placeholder 根据数据库类型返回第 n 个占位符
func (s *Store) placeholder(n int) string {
	if s.isPostgres() {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// rebind 把查询中的 ? 依次替换为当前数据库的占位符
func (s *Store) rebind(query string) string {
	if !s.isPostgres() {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(s.placeholder(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// inList 生成 IN 子句所需的 "?, ?, ?" 占位符和参数
func inList(ids []string) (string, []interface{}) {
	marks := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return strings.Join(marks, ", "), args
}

// rowScanner 兼容 *sql.Row 与 *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nullString 把可选字符串转换为数据库参数
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// stringPtr 把 sql.NullString 转换为可选字符串
func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
