package idgen

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clock 提供当前时间
type Clock interface {
	Now() time.Time
}

// SystemClock 使用系统时间
type SystemClock struct{}

// Now 返回当前 UTC 时间
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock 始终返回同一时间，用于测试
type FixedClock struct {
	T time.Time
}

// Now 返回固定时间
func (c FixedClock) Now() time.Time { return c.T }

// Generator 生成邮件和附件标识
//
// 标识基于 UUID，并发调用无需加锁。
type Generator struct{}

// NewGenerator 创建标识生成器
func NewGenerator() *Generator {
	return &Generator{}
}

// MessageID 返回按时间排序的 UUIDv7 字符串
func (g *Generator) MessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// AttachmentID 返回 "att_" 前缀的十六进制标识
func (g *Generator) AttachmentID() string {
	return "att_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
