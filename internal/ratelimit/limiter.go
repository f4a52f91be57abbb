package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultIdle = 3 * time.Minute

// Limiter 按键（通常是远端 IP）限流的令牌桶集合
//
// 长时间未出现的键会被回收。rate 小于等于 0 时不限流。
type Limiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// New 创建限流器
//
// 参数:
//   - perSecond: 每个键每秒补充的令牌数
//   - burst: 令牌桶容量，小于 1 时取 1
func New(perSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     defaultIdle,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Allow 判断 key 此刻是否允许通过
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.idle {
		l.sweep(now)
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.seen = now
	return v.lim.AllowN(now, 1)
}

// Len 当前跟踪的键数量
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// sweep 调用方需持有锁
func (l *Limiter) sweep(now time.Time) {
	for k, v := range l.visitors {
		if now.Sub(v.seen) > l.idle {
			delete(l.visitors, k)
		}
	}
	l.lastSweep = now
}
