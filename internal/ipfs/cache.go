package ipfs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache stores fetched documents by CID. Documents are immutable, so the TTL
// only bounds memory.
type Cache interface {
	Get(ctx context.Context, cid string) ([]byte, bool, error)
	Set(ctx context.Context, cid string, doc []byte, ttl time.Duration) error
}

type memoryEntry struct {
	doc     []byte
	expires time.Time
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, cid string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[cid]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.mu.Lock()
		delete(m.entries, cid)
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.doc, true, nil
}

func (m *MemoryCache) Set(_ context.Context, cid string, doc []byte, ttl time.Duration) error {
	e := memoryEntry{doc: append([]byte(nil), doc...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[cid] = e
	m.mu.Unlock()
	return nil
}

// RedisCache keeps documents in Redis under "paralink:ipfs:<cid>".
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache parses a redis:// URL.
func NewRedisCache(url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func redisKey(cid string) string { return "paralink:ipfs:" + cid }

func (r *RedisCache) Get(ctx context.Context, cid string) ([]byte, bool, error) {
	doc, err := r.client.Get(ctx, redisKey(cid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (r *RedisCache) Set(ctx context.Context, cid string, doc []byte, ttl time.Duration) error {
	return r.client.Set(ctx, redisKey(cid), doc, ttl).Err()
}

// Ping checks connectivity.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
