// Package cache provides an in-memory key/value store with per-entry expiry.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pario-ai/polycraft/pkg/models"
)

// NoExpiry stores an entry that never expires.
const NoExpiry time.Duration = 0

type entry[V any] struct {
	value  V
	expiry time.Time // zero means never
}

// TTL is a mutex-guarded map with optional per-entry expiry.
// Expired entries are removed lazily by the read that finds them;
// nothing sweeps in the background and there is no capacity bound.
type TTL[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	now     func() time.Time
	hits    atomic.Int64
	misses  atomic.Int64
}

// Option configures a TTL cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates an empty cache.
func New[V any](opts ...Option) *TTL[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTL[V]{
		entries: make(map[string]entry[V]),
		now:     o.now,
	}
}

// Get returns the value for key. An expired entry is deleted before
// reporting absent.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	if !e.expiry.IsZero() && c.now().After(e.expiry) {
		delete(c.entries, key)
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key, replacing any existing entry.
// A ttl <= 0 stores the entry without expiry.
func (c *TTL[V]) Set(key string, value V, ttl time.Duration) {
	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiry = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// Delete removes key. It is a no-op when the key is absent.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired entries
// that have not been read since they expired.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes every entry.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

// Stats returns cache performance metrics.
func (c *TTL[V]) Stats() (models.CacheStats, error) {
	return models.CacheStats{
		Backend: "memory",
		Entries: int64(c.Len()),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Close drops all entries. The cache must not be used afterwards.
func (c *TTL[V]) Close() error {
	c.Clear()
	return nil
}
