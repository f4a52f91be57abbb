package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"barid/backend/internal/config"
	"barid/backend/internal/domain"
)

// redisAPI 计数存储使用到的 Redis 命令子集
type redisAPI interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	Incr(ctx context.Context, key string) *goredis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *goredis.ScanCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

// CounterStore 基于 Redis 的发件人计数存储
type CounterStore struct {
	rdb redisAPI
	log *zap.Logger
}

var (
	_ domain.CounterStore = (*CounterStore)(nil)
	_ domain.Incrementer  = (*CounterStore)(nil)
)

// New 创建新的 Redis 计数存储并测试连接
func New(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (*CounterStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// 测试连接
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("connected to Redis",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
	)
	return NewWithClient(rdb, log), nil
}

// NewWithClient 使用已有客户端创建计数存储
func NewWithClient(rdb redisAPI, log *zap.Logger) *CounterStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &CounterStore{rdb: rdb, log: log.Named("redis")}
}

// Close 关闭 Redis 连接
func (c *CounterStore) Close() error {
	err := c.rdb.Close()
	if err != nil {
		c.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	c.log.Info("Redis connection closed")
	return nil
}

// Ping 测试 Redis 连接
func (c *CounterStore) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Get 读取计数，键不存在时返回 domain.ErrCounterNotFound
func (c *CounterStore) Get(ctx context.Context, key string) (int64, error) {
	v, err := c.rdb.Get(ctx, key).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, domain.ErrCounterNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return v, nil
}

// Put 覆盖写入计数（不过期）
func (c *CounterStore) Put(ctx context.Context, key string, value int64) error {
	if err := c.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Incr 原子自增计数器
func (c *CounterStore) Incr(ctx context.Context, key string) (int64, error) {
	v, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: incr %s: %w", key, err)
	}
	return v, nil
}

// ListByPrefix 使用 SCAN MATCH prefix* 分页枚举键
//
// 游标为 Redis 返回的十进制游标；SCAN 可能返回重复键，调用方需自行去重。
func (c *CounterStore) ListByPrefix(ctx context.Context, prefix, cursor string, limit int) (domain.CounterPage, error) {
	var start uint64
	if cursor != "" {
		n, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return domain.CounterPage{}, fmt.Errorf("redis: invalid cursor %q", cursor)
		}
		start = n
	}
	if limit <= 0 {
		limit = 100
	}

	keys, next, err := c.rdb.Scan(ctx, start, escapeGlob(prefix)+"*", int64(limit)).Result()
	if err != nil {
		return domain.CounterPage{}, fmt.Errorf("redis: scan: %w", err)
	}
	if next == 0 {
		return domain.CounterPage{Keys: keys, Complete: true}, nil
	}
	return domain.CounterPage{Keys: keys, NextCursor: strconv.FormatUint(next, 10)}, nil
}

// escapeGlob 转义 MATCH 模式中的特殊字符
func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
