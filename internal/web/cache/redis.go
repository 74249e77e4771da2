package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// clearBatch is how many keys Clear unlinks per round trip
const clearBatch = 100

// RedisCache stores models in Redis so several servers converting the same
// scenes share one cache. Only keys under the configured prefix are touched.
type RedisCache struct {
	client redis.UniversalClient
	config CacheConfig
}

// RedisConfig holds the connection settings of the redis backend
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// CacheConfig holds common cache configuration
	CacheConfig CacheConfig
}

// DefaultRedisConfig returns a default Redis configuration
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		CacheConfig: DefaultCacheConfig(),
	}
}

func (c RedisConfig) options() *redis.Options {
	return &redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	}
}

// NewRedisCacheWithConfig connects to Redis and fails when the server does
// not answer a PING within five seconds
func NewRedisCacheWithConfig(config RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(config.options())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return NewRedisCacheWithClient(client, config.CacheConfig), nil
}

// NewRedisCacheWithClient wraps an existing client. Close closes it.
func NewRedisCacheWithClient(client redis.UniversalClient, config CacheConfig) *RedisCache {
	return &RedisCache{client: client, config: config}
}

func (r *RedisCache) key(k string) string {
	return r.config.Prefix + k
}

// Get returns the model stored under key
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	model, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss{Key: key}
	}
	return model, err
}

// Set stores value. A zero ttl uses DefaultTTL, a negative one keeps the
// key without expiry.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	switch {
	case ttl == 0:
		ttl = r.config.DefaultTTL
	case ttl < 0:
		ttl = 0
	}
	return r.client.Set(ctx, r.key(key), value, ttl).Err()
}

// Delete unlinks key
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Unlink(ctx, r.key(key)).Err()
}

// Clear unlinks every key under the prefix. Keys are collected before any
// is removed; deleting mid-scan can move the cursor past live keys.
func (r *RedisCache) Clear(ctx context.Context) error {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.key("*"), clearBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	for start := 0; start < len(keys); start += clearBatch {
		end := min(start+clearBatch, len(keys))
		if err := r.client.Unlink(ctx, keys[start:end]...).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether key is stored
func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	return n > 0, err
}

// Close closes the client
func (r *RedisCache) Close() error {
	return r.client.Close()
}
