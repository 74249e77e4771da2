package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// Limits of the memory backend when CacheConfig leaves them unset
const (
	DefaultMaxEntries       = 128
	DefaultMaxBytes   int64 = 256 << 20
)

// ErrTooLarge is returned by MemoryCache.Set for a model that could never fit
var ErrTooLarge = errors.New("value exceeds cache size limit")

// Stats describes the contents and effectiveness of a cache
type Stats struct {
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// StatsReporter is implemented by backends that track Stats
type StatsReporter interface {
	Stats() Stats
}

// MemoryCache keeps converted models in process memory. It is the default
// backend for a single `usdbridge serve` process. Models are evicted least
// recently used first once either MaxEntries or MaxBytes is exceeded.
type MemoryCache struct {
	mu       sync.Mutex
	entries  *lru.Cache
	bytes    int64
	maxBytes int64

	hits   atomic.Uint64
	misses atomic.Uint64

	config CacheConfig
	stop   chan struct{}
	once   sync.Once
}

type entry struct {
	model   []byte
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// NewMemoryCache creates a memory cache with DefaultCacheConfig
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithConfig(DefaultCacheConfig())
}

// NewMemoryCacheWithConfig creates a memory cache. Expired models are swept
// once a minute until Close.
func NewMemoryCacheWithConfig(config CacheConfig) *MemoryCache {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultMaxEntries
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultMaxBytes
	}

	m := &MemoryCache{
		maxBytes: config.MaxBytes,
		config:   config,
		stop:     make(chan struct{}),
	}
	// Only fails for a non-positive size.
	m.entries, _ = lru.NewWithEvict(config.MaxEntries, m.evicted)

	go m.sweep(time.Minute)
	return m
}

// evicted runs under m.mu for every entry the LRU drops
func (m *MemoryCache) evicted(_, value interface{}) {
	m.bytes -= int64(len(value.(entry).model))
}

// Get returns a copy of the model stored under key
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	e, ok := m.lookup(m.config.Prefix+key, time.Now())
	m.mu.Unlock()

	if !ok {
		m.misses.Add(1)
		return nil, ErrCacheMiss{Key: key}
	}
	m.hits.Add(1)
	return append([]byte(nil), e.model...), nil
}

// lookup returns the live entry for k, dropping it if expired. Callers hold m.mu.
func (m *MemoryCache) lookup(k string, now time.Time) (entry, bool) {
	v, ok := m.entries.Get(k)
	if !ok {
		return entry{}, false
	}
	e := v.(entry)
	if e.expired(now) {
		m.entries.Remove(k)
		return entry{}, false
	}
	return e, true
}

// Set stores a copy of value. A zero ttl uses DefaultTTL, a negative one
// never expires.
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	size := int64(len(value))
	if size > m.maxBytes {
		return fmt.Errorf("%s is %d bytes: %w", key, size, ErrTooLarge)
	}

	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}
	e := entry{model: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}

	k := m.config.Prefix + key

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries.Remove(k)
	m.entries.Add(k, e)
	m.bytes += size
	for m.bytes > m.maxBytes {
		if _, _, ok := m.entries.RemoveOldest(); !ok {
			break
		}
	}
	return nil
}

// Delete removes key
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.entries.Remove(m.config.Prefix + key)
	m.mu.Unlock()
	return nil
}

// Clear drops every model
func (m *MemoryCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.entries.Purge()
	m.mu.Unlock()
	return nil
}

// Exists reports whether a live model is stored under key. It does not count
// as a use for eviction or as a hit.
func (m *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	k := m.config.Prefix + key

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.entries.Peek(k)
	if !ok {
		return false, nil
	}
	if v.(entry).expired(time.Now()) {
		m.entries.Remove(k)
		return false, nil
	}
	return true, nil
}

// Len returns the number of stored models, expired ones included until the
// next sweep
func (m *MemoryCache) Len() int {
	return m.entries.Len()
}

// Stats reports the current size and the hit rate since creation
func (m *MemoryCache) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Entries: m.entries.Len(),
		Bytes:   m.bytes,
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
	}
}

// Close stops the sweeper. The cache stays usable.
func (m *MemoryCache) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryCache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for _, k := range m.entries.Keys() {
				if v, ok := m.entries.Peek(k); ok && v.(entry).expired(now) {
					m.entries.Remove(k)
				}
			}
			m.mu.Unlock()
		}
	}
}
