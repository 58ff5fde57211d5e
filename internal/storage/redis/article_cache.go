// Package redis layers a Redis-backed seen-URL cache over another article
// store so Exists checks stay cheap across harvester restarts and replicas.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mpharvester/internal/harvest"
)

const defaultPrefix = "harvester:seen:"

// Config controls the Redis connection and key layout.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces seen-URL keys. Defaults to "harvester:seen:".
	Prefix string
	// TTL expires seen markers. Zero keeps them until evicted.
	TTL time.Duration
}

type redisClient interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Close() error
}

// ArticleCache wraps an ArticleStore with a Redis seen-URL set. The cache is
// advisory: a Redis failure degrades to the inner store, never to data loss.
type ArticleCache struct {
	inner  harvest.ArticleStore
	client redisClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewArticleCache connects to Redis and wraps inner with the seen-URL cache.
func NewArticleCache(cfg Config, inner harvest.ArticleStore, logger *zap.Logger) (*ArticleCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewArticleCacheWithClient(client, cfg, inner, logger)
}

// NewArticleCacheWithClient wraps an existing client (primarily for testing).
func NewArticleCacheWithClient(client redisClient, cfg Config, inner harvest.ArticleStore, logger *zap.Logger) (*ArticleCache, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner article store is required")
	}
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &ArticleCache{
		inner:  inner,
		client: client,
		prefix: prefix,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

// Save delegates to the inner store and marks the canonical URL as seen.
func (c *ArticleCache) Save(ctx context.Context, record harvest.ArticleRecord) (harvest.SaveOutcome, error) {
	outcome, err := c.inner.Save(ctx, record)
	if err != nil {
		return outcome, err
	}
	c.mark(ctx, record.URL)
	return outcome, nil
}

// Exists answers from the cache when it can and falls back to the inner
// store on a miss, backfilling the marker for the next check.
func (c *ArticleCache) Exists(ctx context.Context, url string) (bool, error) {
	key := c.key(url)
	_, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, goredis.Nil):
	default:
		c.logger.Warn("seen cache unavailable, falling back to store",
			zap.String("key", key), zap.Error(err))
	}

	exists, err := c.inner.Exists(ctx, url)
	if err != nil {
		return false, err
	}
	if exists {
		c.mark(ctx, url)
	}
	return exists, nil
}

// Close releases the Redis client and the inner store.
func (c *ArticleCache) Close() error {
	return errors.Join(c.client.Close(), c.inner.Close())
}

func (c *ArticleCache) key(url string) string {
	return c.prefix + harvest.CanonicalKey(url)
}

func (c *ArticleCache) mark(ctx context.Context, url string) {
	key := c.key(url)
	if err := c.client.Set(ctx, key, "1", c.ttl).Err(); err != nil {
		c.logger.Warn("mark seen url", zap.String("key", key), zap.Error(err))
	}
}
