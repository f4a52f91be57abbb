package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"barid/backend/internal/domain"
)

// ObjectStore 内存对象存储
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string]domain.Object
}

var _ domain.ObjectStore = (*ObjectStore)(nil)

// NewObjectStore 创建内存对象存储
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string]domain.Object)}
}

func (o *ObjectStore) Put(_ context.Context, key string, data []byte, contentType, filename string) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = domain.Object{
		Key:         key,
		Data:        buf,
		ContentType: contentType,
		Filename:    filename,
		Size:        int64(len(buf)),
	}
	return nil
}

func (o *ObjectStore) Get(_ context.Context, key string) (*domain.Object, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	obj, ok := o.objects[key]
	if !ok {
		return nil, domain.ErrObjectNotFound
	}
	return &obj, nil
}

// Delete 删除不存在的键不视为错误
func (o *ObjectStore) Delete(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	return nil
}

func (o *ObjectStore) ListByPrefix(_ context.Context, prefix string) ([]string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	keys := make([]string, 0)
	for k := range o.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len 返回对象数量
func (o *ObjectStore) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.objects)
}
