package redis

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barid/backend/internal/domain"
)

// fakeRedis 内存实现的 redisAPI，SCAN 每次返回一个键
type fakeRedis struct {
	values    map[string]string
	order     []string
	scanErr   error
	lastMatch string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string)}
}

func (f *fakeRedis) Get(_ context.Context, key string) *goredis.StringCmd {
	v, ok := f.values[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *goredis.StatusCmd {
	if _, ok := f.values[key]; !ok {
		f.order = append(f.order, key)
	}
	switch v := value.(type) {
	case int64:
		f.values[key] = strconv.FormatInt(v, 10)
	default:
		return goredis.NewStatusResult("", errors.New("unexpected type"))
	}
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Incr(_ context.Context, key string) *goredis.IntCmd {
	n, _ := strconv.ParseInt(f.values[key], 10, 64)
	n++
	if _, ok := f.values[key]; !ok {
		f.order = append(f.order, key)
	}
	f.values[key] = strconv.FormatInt(n, 10)
	return goredis.NewIntResult(n, nil)
}

func (f *fakeRedis) Scan(_ context.Context, cursor uint64, match string, _ int64) *goredis.ScanCmd {
	f.lastMatch = match
	if f.scanErr != nil {
		return goredis.NewScanCmdResult(nil, 0, f.scanErr)
	}
	if int(cursor) >= len(f.order) {
		return goredis.NewScanCmdResult(nil, 0, nil)
	}
	next := cursor + 1
	if int(next) >= len(f.order) {
		next = 0
	}
	return goredis.NewScanCmdResult([]string{f.order[cursor]}, next, nil)
}

func (f *fakeRedis) Ping(context.Context) *goredis.StatusCmd {
	return goredis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestCounterStoreGetPutIncr(t *testing.T) {
	ctx := context.Background()
	store := NewWithClient(newFakeRedis(), nil)

	_, err := store.Get(ctx, "sender_count:a@x.com")
	assert.ErrorIs(t, err, domain.ErrCounterNotFound)

	require.NoError(t, store.Put(ctx, "sender_count:a@x.com", 41))
	v, err := store.Incr(ctx, "sender_count:a@x.com")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = store.Get(ctx, "sender_count:a@x.com")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	assert.NoError(t, store.Ping(ctx))
}

func TestCounterStoreListByPrefix(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	store := NewWithClient(fake, nil)

	for _, k := range []string{"sender_count:a", "sender_count:b", "sender_count:c"} {
		_, err := store.Incr(ctx, k)
		require.NoError(t, err)
	}

	var keys []string
	cursor := ""
	for i := 0; i < 10; i++ {
		page, err := store.ListByPrefix(ctx, "sender_count:", cursor, 100)
		require.NoError(t, err)
		keys = append(keys, page.Keys...)
		if page.Complete {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, []string{"sender_count:a", "sender_count:b", "sender_count:c"}, keys)
	assert.Equal(t, "sender_count:*", fake.lastMatch)

	_, err := store.ListByPrefix(ctx, "sender_count:", "not-a-number", 10)
	assert.Error(t, err)

	fake.scanErr = errors.New("connection reset")
	_, err = store.ListByPrefix(ctx, "sender_count:", "", 10)
	assert.Error(t, err)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `sender_count:`, escapeGlob("sender_count:"))
	assert.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
}
