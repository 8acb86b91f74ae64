package token

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
)

// TokenCache is the single-slot store behind the access-token manager. A
// token is always set whole or cleared whole; there is no partial state.
// Get returns an empty string when no token is cached.
type TokenCache interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string) error
	Delete(ctx context.Context) error
}

// RedisCache stores the token in Redis so that multiple processes share one
// credential. No TTL is set: token expiry is only ever learned reactively
// through a 401, at which point the manager deletes the entry.
type RedisCache struct {
	client *redis.Client
	key    string
}

// NewRedisCache creates a Redis-backed token cache under the given key.
func NewRedisCache(client *redis.Client, key string) *RedisCache {
	return &RedisCache{client: client, key: key}
}

func (c *RedisCache) Get(ctx context.Context) (string, error) {
	val, err := c.client.Get(ctx, c.key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, token string) error {
	return c.client.Set(ctx, c.key, token, 0).Err()
}

func (c *RedisCache) Delete(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}

// MemoryCache is the in-process fallback used when no Redis is configured,
// and by tests.
type MemoryCache struct {
	mu    sync.Mutex
	token string
}

// NewMemoryCache creates an empty in-memory token cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

func (c *MemoryCache) Set(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	return nil
}
