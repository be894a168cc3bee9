package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how long a resolved credential is trusted without
// asking the upstream resolver again.
const DefaultCacheTTL = 5 * time.Minute

const defaultCacheSize = 4096

type cacheEntry struct {
	id      *Identity
	err     error
	expires time.Time
}

// CachedResolver remembers resolved and rejected credentials for a TTL.
// Transient upstream failures are not cached.
type CachedResolver struct {
	next Resolver
	ttl  time.Duration
	max  int
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCachedResolver wraps next. A non-positive ttl uses DefaultCacheTTL.
func NewCachedResolver(next Resolver, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedResolver{
		next:    next,
		ttl:     ttl,
		max:     defaultCacheSize,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachedResolver) Resolve(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, nil
	}
	key := credentialKey(credential)
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && now.Before(e.expires) {
		return e.id, e.err
	}

	id, err := c.next.Resolve(ctx, credential)
	if err != nil && !errors.Is(err, ErrInvalidCredential) {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		c.evict(now)
	}
	c.entries[key] = cacheEntry{id: id, err: err, expires: now.Add(c.ttl)}
	return id, err
}

// evict drops expired entries, and everything when that is not enough.
func (c *CachedResolver) evict(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) >= c.max {
		clear(c.entries)
	}
}

// raw bearer tokens are not kept in memory
func credentialKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
