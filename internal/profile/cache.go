package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss signals a cache miss.
var ErrMiss = errors.New("profile: cache miss")

// Cache is a string key-value store with expiry.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements Cache.
func (m *MemoryCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", ErrMiss
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.entries, key)
		return "", ErrMiss
	}
	return e.value, nil
}

// Set implements Cache.
func (m *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// RedisCache stores profiles in Redis so every Junction node shares them.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the Redis server at url (redis://host:port/db).
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("profile: parse redis url: %w", err)
	}
	c := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("profile: redis ping: %w", err)
	}
	return &RedisCache{client: c}, nil
}

// Get implements Cache.
func (r *RedisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

// Set implements Cache.
func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Close releases the Redis connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Cached wraps a Resolver with a Cache. Cached profiles are served without
// calling the directory, so a directory outage only affects ids that were
// never resolved or have expired.
type Cached struct {
	next  Resolver
	cache Cache
	ttl   time.Duration
}

// NewCached creates a caching resolver.
func NewCached(next Resolver, cache Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl}
}

func cacheKey(id string) string { return "junction:profile:" + id }

// ResolveProfiles implements Resolver. A directory failure is reported per
// id instead of failing the batch when some ids were served from cache.
func (c *Cached) ResolveProfiles(ctx context.Context, ids []string) (Result, error) {
	var (
		res    Result
		misses []string
	)
	for _, id := range ids {
		raw, err := c.cache.Get(ctx, cacheKey(id))
		if err != nil {
			if !errors.Is(err, ErrMiss) {
				log.Printf("profile: cache get %s: %v", id, err)
			}
			misses = append(misses, id)
			continue
		}
		var p Profile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			misses = append(misses, id)
			continue
		}
		res.Profiles = append(res.Profiles, p)
	}
	if len(misses) == 0 {
		return res, nil
	}

	fresh, err := c.next.ResolveProfiles(ctx, misses)
	if err != nil {
		if len(res.Profiles) == 0 {
			return Result{}, err
		}
		res.Errors = append(res.Errors, misses...)
		res.Partial = true
		return res, nil
	}
	for _, p := range fresh.Profiles {
		if raw, err := json.Marshal(p); err == nil {
			if err := c.cache.Set(ctx, cacheKey(p.ID), string(raw), c.ttl); err != nil {
				log.Printf("profile: cache set %s: %v", p.ID, err)
			}
		}
		res.Profiles = append(res.Profiles, p)
	}
	res.Errors = append(res.Errors, fresh.Errors...)
	res.Partial = len(res.Errors) > 0
	return res, nil
}
