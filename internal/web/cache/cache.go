// Package cache stores converted models keyed by the content of the scene
// they were built from.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backend names accepted by New
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Cache defines the interface for all cache backends
type Cache interface {
	// Get retrieves a value from the cache
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with a TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache
	Delete(ctx context.Context, key string) error

	// Clear removes all values from the cache
	Clear(ctx context.Context) error

	// Exists checks if a key exists in the cache
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases the backend
	Close() error
}

// CacheConfig holds common configuration for cache backends
type CacheConfig struct {
	// DefaultTTL is the default time-to-live for cached items
	DefaultTTL time.Duration
	// Prefix is prepended to all cache keys
	Prefix string
	// MaxEntries and MaxBytes bound the memory backend
	MaxEntries int
	MaxBytes   int64
}

// DefaultCacheConfig returns a default cache configuration
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		DefaultTTL: 10 * time.Minute,
		Prefix:     "usdbridge:",
		MaxEntries: DefaultMaxEntries,
		MaxBytes:   DefaultMaxBytes,
	}
}

// Options selects and configures a backend
type Options struct {
	Backend string
	TTL     time.Duration
	// MaxBytes bounds the memory backend; zero keeps the default
	MaxBytes int64
	Redis    RedisConfig
}

// New creates the backend named by opts. The "none" backend returns a nil
// Cache and no error; Fetch treats a nil Cache as always missing.
func New(opts Options) (Cache, error) {
	config := DefaultCacheConfig()
	if opts.TTL > 0 {
		config.DefaultTTL = opts.TTL
	}
	if opts.MaxBytes > 0 {
		config.MaxBytes = opts.MaxBytes
	}

	switch opts.Backend {
	case BackendMemory, "":
		return NewMemoryCacheWithConfig(config), nil
	case BackendRedis:
		redisConfig := opts.Redis
		if redisConfig.Addr == "" {
			redisConfig.Addr = DefaultRedisConfig().Addr
		}
		redisConfig.CacheConfig = config
		c, err := NewRedisCacheWithConfig(redisConfig)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis at %s: %w", redisConfig.Addr, err)
		}
		return c, nil
	case BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

// Fetch returns the cached value for key, or computes it with fill and
// stores it. hit reports whether the value came from the cache. A failing
// cache read is treated as a miss; a failing fill is returned unchanged and
// nothing is stored.
func Fetch(ctx context.Context, c Cache, key string, ttl time.Duration, fill func() ([]byte, error)) (value []byte, hit bool, err error) {
	if c != nil {
		if value, err := c.Get(ctx, key); err == nil {
			return value, true, nil
		}
	}

	value, err = fill()
	if err != nil {
		return nil, false, err
	}

	if c != nil {
		if err := c.Set(ctx, key, value, ttl); err != nil {
			return value, false, fmt.Errorf("storing %s: %w", key, err)
		}
	}
	return value, false, nil
}

// ErrCacheMiss is returned when a key is not found in the cache
type ErrCacheMiss struct {
	Key string
}

func (e ErrCacheMiss) Error() string {
	return "cache miss: " + e.Key
}

// IsCacheMiss checks if an error is a cache miss
func IsCacheMiss(err error) bool {
	var miss ErrCacheMiss
	return errors.As(err, &miss)
}
