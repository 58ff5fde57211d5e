package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mpharvester/internal/harvest"
	"mpharvester/internal/storage/memory"
)

type fakeRedis struct {
	data   map[string]string
	getErr error
	setErr error
	sets   int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *goredis.StringCmd {
	cmd := goredis.NewStringCmd(ctx)
	if f.getErr != nil {
		cmd.SetErr(f.getErr)
		return cmd
	}
	val, ok := f.data[key]
	if !ok {
		cmd.SetErr(goredis.Nil)
		return cmd
	}
	cmd.SetVal(val)
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, _ time.Duration) *goredis.StatusCmd {
	cmd := goredis.NewStatusCmd(ctx)
	if f.setErr != nil {
		cmd.SetErr(f.setErr)
		return cmd
	}
	f.data[key] = fmt.Sprint(value)
	f.sets++
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) Close() error { return nil }

// countingStore counts inner-store hits so tests can tell cache hits apart
// from fallbacks.
type countingStore struct {
	inner       *memory.ArticleStore
	existsCalls int
}

func (s *countingStore) Save(ctx context.Context, record harvest.ArticleRecord) (harvest.SaveOutcome, error) {
	return s.inner.Save(ctx, record)
}

func (s *countingStore) Exists(ctx context.Context, url string) (bool, error) {
	s.existsCalls++
	return s.inner.Exists(ctx, url)
}

func (s *countingStore) Close() error { return s.inner.Close() }

func newTestCache(t *testing.T, client redisClient, inner harvest.ArticleStore) *ArticleCache {
	t.Helper()
	cache, err := NewArticleCacheWithClient(client, Config{}, inner, zap.NewNop())
	require.NoError(t, err)
	return cache
}

func TestArticleCacheMarksSavedURLs(t *testing.T) {
	client := newFakeRedis()
	cache := newTestCache(t, client, memory.NewArticleStore())

	outcome, err := cache.Save(context.Background(), harvest.ArticleRecord{
		URL:     "https://mp.weixin.qq.com/s/AbC123?chksm=xyz",
		Title:   "cached",
		Content: "body",
	})
	require.NoError(t, err)
	assert.Equal(t, harvest.SaveStored, outcome)

	// The marker keys on the canonical URL, not the share-link variant.
	assert.Contains(t, client.data, "harvester:seen:https://mp.weixin.qq.com/s/AbC123")
}

func TestArticleCacheHitSkipsInnerStore(t *testing.T) {
	client := newFakeRedis()
	inner := &countingStore{inner: memory.NewArticleStore()}
	cache := newTestCache(t, client, inner)
	ctx := context.Background()

	_, err := cache.Save(ctx, harvest.ArticleRecord{
		URL:     "https://mp.weixin.qq.com/s/Hit1",
		Title:   "hit",
		Content: "body",
	})
	require.NoError(t, err)

	exists, err := cache.Exists(ctx, "https://mp.weixin.qq.com/s/Hit1?scene=21")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Zero(t, inner.existsCalls)
}

func TestArticleCacheMissBackfillsMarker(t *testing.T) {
	client := newFakeRedis()
	inner := &countingStore{inner: memory.NewArticleStore()}
	// Seed the inner store directly so the cache has no marker yet.
	_, err := inner.Save(context.Background(), harvest.ArticleRecord{
		URL:     "https://mp.weixin.qq.com/s/Cold1",
		Title:   "cold",
		Content: "body",
	})
	require.NoError(t, err)

	cache := newTestCache(t, client, inner)

	exists, err := cache.Exists(context.Background(), "https://mp.weixin.qq.com/s/Cold1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, inner.existsCalls)
	assert.Contains(t, client.data, "harvester:seen:https://mp.weixin.qq.com/s/Cold1")

	// Second check lands on the backfilled marker.
	exists, err = cache.Exists(context.Background(), "https://mp.weixin.qq.com/s/Cold1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, inner.existsCalls)
}

func TestArticleCacheDegradesWhenRedisDown(t *testing.T) {
	client := newFakeRedis()
	client.getErr = errors.New("connection refused")
	client.setErr = errors.New("connection refused")
	inner := &countingStore{inner: memory.NewArticleStore()}
	cache := newTestCache(t, client, inner)
	ctx := context.Background()

	outcome, err := cache.Save(ctx, harvest.ArticleRecord{
		URL:     "https://mp.weixin.qq.com/s/Down1",
		Title:   "degraded",
		Content: "body",
	})
	require.NoError(t, err)
	assert.Equal(t, harvest.SaveStored, outcome)

	exists, err := cache.Exists(ctx, "https://mp.weixin.qq.com/s/Down1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, inner.existsCalls)
}
