package search

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Divas-Gupta30/workflow-builder/internal/logging"
)

// ErrCacheMiss is returned by a Cache when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores serialized search results.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache adapts a go-redis client to Cache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to addr, which may be a redis:// URL or host:port.
func NewRedisCache(ctx context.Context, addr string) (*RedisCache, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis not available: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Close releases the client.
func (c *RedisCache) Close() error { return c.client.Close() }

// Cache results reported to the observer.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// CachedSearcher serves repeated queries from a cache. Cache failures fall
// through to the wrapped searcher.
type CachedSearcher struct {
	next    Searcher
	cache   Cache
	ttl     time.Duration
	observe func(result string)
	logger  *slog.Logger
}

// NewCachedSearcher wraps next. observe may be nil.
func NewCachedSearcher(next Searcher, cache Cache, ttl time.Duration, observe func(string), logger *slog.Logger) *CachedSearcher {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if observe == nil {
		observe = func(string) {}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &CachedSearcher{next: next, cache: cache, ttl: ttl, observe: observe, logger: logger}
}

func (c *CachedSearcher) Configured() bool { return c.next.Configured() }

func (c *CachedSearcher) Search(ctx context.Context, query string, max int) ([]string, error) {
	key := cacheKey(query, max)
	if raw, err := c.cache.Get(ctx, key); err == nil {
		var snippets []string
		if err := json.Unmarshal(raw, &snippets); err == nil {
			c.observe(CacheHit)
			return snippets, nil
		}
		c.observe(CacheError)
	} else if errors.Is(err, ErrCacheMiss) {
		c.observe(CacheMiss)
	} else {
		c.observe(CacheError)
		c.logger.WarnContext(ctx, "search cache read failed", "error", err)
	}

	snippets, err := c.next.Search(ctx, query, max)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(snippets); err == nil {
		if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
			c.logger.WarnContext(ctx, "failed to cache search results", "error", err)
		}
	}
	return snippets, nil
}

func cacheKey(query string, max int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%d|%s", max, strings.ToLower(strings.TrimSpace(query)))))
	return "websearch:" + hex.EncodeToString(sum[:])
}
