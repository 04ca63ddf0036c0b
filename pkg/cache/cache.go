// Package cache provides a bounded TTL + LRU cache with single-flight
// deduplication of concurrent fetches.
//
// A Cache is an explicitly constructed value: New initializes it, Clear
// drops every entry, and Close disposes of it. There is no package-level
// instance.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"
)

// Defaults used when options are not given.
const (
	DefaultMaxEntries = 100
	DefaultTTL        = 5 * time.Minute
)

// ErrClosed is returned by GetOrFetch after Close.
var ErrClosed = errors.New("cache: closed")

// Entry is a cached value with its lifetime. An entry is valid iff
// now < ExpiresAt.
type Entry[V any] struct {
	Key             string
	Value           V
	CreatedAt       time.Time
	ExpiresAt       time.Time
	ApproxSizeBytes int
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Entries       int
	MaxEntries    int
	Hits          int64
	Misses        int64
	Evictions     int64
	Expirations   int64
	Invalidations int64
	Fetches       int64
	SharedFetches int64
	ApproxBytes   int64
}

// flight tracks one in-progress fetch. A flight whose key is invalidated
// while it runs is marked stale and its result is not stored.
type flight struct {
	stale bool
}

// Cache is a TTL + LRU cache safe for concurrent use. Entries are only
// reachable through its methods.
type Cache[V any] struct {
	name       string
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time
	sizer      func(V) int
	logger     *slog.Logger

	mu       sync.Mutex
	lru      *simplelru.LRU[string, *Entry[V]]
	inflight map[string]*flight
	closed   bool
	stats    Stats

	group singleflight.Group
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithMaxEntries bounds the number of entries.
func WithMaxEntries[V any](n int) Option[V] {
	return func(c *Cache[V]) { c.maxEntries = n }
}

// WithDefaultTTL sets the TTL used when Set is given a non-positive TTL.
func WithDefaultTTL[V any](d time.Duration) Option[V] {
	return func(c *Cache[V]) { c.defaultTTL = d }
}

// WithClock replaces time.Now. Used by tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// WithSizer estimates the size of a value for Stats.ApproxBytes.
func WithSizer[V any](fn func(V) int) Option[V] {
	return func(c *Cache[V]) { c.sizer = fn }
}

// WithLogger sets the logger for eviction and invalidation events.
func WithLogger[V any](l *slog.Logger) Option[V] {
	return func(c *Cache[V]) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a cache. name identifies it in logs and metrics.
// A non-positive max entry count or TTL is a programmer error and panics.
func New[V any](name string, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		name:       name,
		maxEntries: DefaultMaxEntries,
		defaultTTL: DefaultTTL,
		now:        time.Now,
		sizer:      func(V) int { return 0 },
		logger:     slog.New(slog.DiscardHandler),
		inflight:   make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultTTL <= 0 {
		panic(fmt.Sprintf("cache %s: default TTL must be positive, got %s", name, c.defaultTTL))
	}

	lru, err := simplelru.NewLRU[string, *Entry[V]](c.maxEntries, nil)
	if err != nil {
		panic(fmt.Sprintf("cache %s: %v", name, err))
	}
	c.lru = lru
	c.stats.MaxEntries = c.maxEntries
	return c
}

// Name returns the cache name.
func (c *Cache[V]) Name() string {
	return c.name
}

// Get returns the value for key if present and unexpired.
// A hit refreshes the key's recency.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookupLocked(key)
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	return e.Value, true
}

// Entry returns a copy of the entry for key if present and unexpired,
// without touching recency or counters.
func (c *Cache[V]) Entry(key string) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(key)
	if !ok || c.closed || !c.now().Before(e.ExpiresAt) {
		return Entry[V]{}, false
	}
	return *e, true
}

// lookupLocked returns a valid entry and refreshes its recency.
// Expired entries are removed. Caller must hold c.mu.
func (c *Cache[V]) lookupLocked(key string) (*Entry[V], bool) {
	if c.closed {
		return nil, false
	}
	e, ok := c.lru.Peek(key)
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.ExpiresAt) {
		c.lru.Remove(key)
		c.stats.Expirations++
		return nil, false
	}
	c.lru.Get(key)
	return e, true
}

// Set stores value under key for ttl. A non-positive ttl uses the
// cache's default TTL. At capacity, the least-recently-used entry is
// evicted before a new key is inserted.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
}

func (c *Cache[V]) setLocked(key string, value V, ttl time.Duration) {
	if c.closed {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	now := c.now()
	e := &Entry[V]{
		Key:             key,
		Value:           value,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
		ApproxSizeBytes: c.sizer(value),
	}

	if !c.lru.Contains(key) && c.lru.Len() >= c.maxEntries {
		if evicted, _, ok := c.lru.RemoveOldest(); ok {
			c.stats.Evictions++
			c.logger.Debug("cache eviction", "cache", c.name, "key", evicted)
		}
	}
	c.lru.Add(key, e)
}

// Invalidate removes key and marks any in-flight fetch for it stale.
// It reports whether an entry was removed.
func (c *Cache[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.staleFlightLocked(key)
	if c.lru.Remove(key) {
		c.stats.Invalidations++
		return true
	}
	return false
}

// InvalidateFunc removes every key for which match returns true and marks
// matching in-flight fetches stale. It returns the number of entries removed.
func (c *Cache[V]) InvalidateFunc(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.inflight {
		if match(key) {
			c.staleFlightLocked(key)
		}
	}

	removed := 0
	for _, key := range c.lru.Keys() {
		if match(key) && c.lru.Remove(key) {
			removed++
		}
	}
	c.stats.Invalidations += int64(removed)
	if removed > 0 {
		c.logger.Debug("cache invalidation", "cache", c.name, "removed", removed)
	}
	return removed
}

// InvalidatePrefix removes every key starting with prefix.
func (c *Cache[V]) InvalidatePrefix(prefix string) int {
	return c.InvalidateFunc(func(key string) bool {
		return len(key) >= len(prefix) && key[:len(prefix)] == prefix
	})
}

// staleFlightLocked marks the in-flight fetch for key stale and detaches
// it from the single-flight group so new callers start a fresh fetch.
func (c *Cache[V]) staleFlightLocked(key string) {
	if f, ok := c.inflight[key]; ok {
		f.stale = true
		delete(c.inflight, key)
		c.group.Forget(key)
	}
}

// GetOrFetch returns the cached value for key, or runs fetch once for all
// concurrent callers of the same key and caches a successful result for ttl.
//
// fetch runs detached from the cancellation of any single caller so one
// caller giving up does not fail the others; each caller still returns
// early when its own ctx is done. Errors are not cached.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) (V, error)) (V, error) {
	var zero V

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, ErrClosed
	}
	if e, ok := c.lookupLocked(key); ok {
		c.stats.Hits++
		c.mu.Unlock()
		return e.Value, nil
	}
	c.stats.Misses++
	c.mu.Unlock()

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		f, cached, ok := c.beginFlight(key)
		if ok {
			return cached, nil
		}
		v, err := fetch(fetchCtx)
		c.endFlight(key, f, v, err, ttl)
		return v, err
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.mu.Lock()
			c.stats.SharedFetches++
			c.mu.Unlock()
		}
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// beginFlight registers a fetch for key. If a valid entry appeared since
// the caller's miss, it is returned instead and no fetch is needed.
func (c *Cache[V]) beginFlight(key string) (*flight, V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.lookupLocked(key); ok {
		return nil, e.Value, true
	}
	f := &flight{}
	c.inflight[key] = f
	c.stats.Fetches++
	var zero V
	return f, zero, false
}

// endFlight stores a successful result unless the flight went stale.
func (c *Cache[V]) endFlight(key string, f *flight, v V, err error, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight[key] == f {
		delete(c.inflight, key)
	}
	if err != nil || f.stale {
		return
	}
	c.setLocked(key, v, ttl)
}

// Len returns the number of stored entries, including expired ones not yet
// removed.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys returns stored keys from least to most recently used.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Stats returns the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = c.lru.Len()
	for _, e := range c.lru.Values() {
		s.ApproxBytes += int64(e.ApproxSizeBytes)
	}
	return s
}

// Clear removes every entry and marks all in-flight fetches stale.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.inflight {
		c.staleFlightLocked(key)
	}
	c.stats.Invalidations += int64(c.lru.Len())
	c.lru.Purge()
}

// Close clears the cache and disposes of it. Afterwards Get misses, Set is
// ignored and GetOrFetch returns ErrClosed.
func (c *Cache[V]) Close() {
	c.Clear()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
