package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"barid/backend/internal/domain"
)

// CounterStore 内存计数存储，游标为已返回键数量的十进制字符串
type CounterStore struct {
	mu     sync.RWMutex
	values map[string]int64
}

var (
	_ domain.CounterStore = (*CounterStore)(nil)
	_ domain.Incrementer  = (*CounterStore)(nil)
)

// NewCounterStore 创建内存计数存储
func NewCounterStore() *CounterStore {
	return &CounterStore{values: make(map[string]int64)}
}

func (c *CounterStore) Get(_ context.Context, key string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.values[key]
	if !ok {
		return 0, domain.ErrCounterNotFound
	}
	return v, nil
}

func (c *CounterStore) Put(_ context.Context, key string, value int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

// Incr 原子自增并返回新值
func (c *CounterStore) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key]++
	return c.values[key], nil
}

// ListByPrefix 按键名排序分页枚举
func (c *CounterStore) ListByPrefix(_ context.Context, prefix, cursor string, limit int) (domain.CounterPage, error) {
	c.mu.RLock()
	keys := make([]string, 0)
	for k := range c.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	c.mu.RUnlock()
	sort.Strings(keys)

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return domain.CounterPage{}, fmt.Errorf("memory: invalid cursor %q", cursor)
		}
		start = n
	}
	if start > len(keys) {
		start = len(keys)
	}
	end := len(keys)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	pageKeys := keys[start:end]
	if end >= len(keys) {
		return domain.CounterPage{Keys: pageKeys, Complete: true}, nil
	}
	return domain.CounterPage{Keys: pageKeys, NextCursor: strconv.Itoa(end)}, nil
}
