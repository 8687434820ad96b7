// Package cache provides the short-lived, per-viewer caches used by the
// data-access services.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/quill/pkg/observability"
)

// KeyAll is the key list queries are cached under
const KeyAll = "all"

// DefaultTTL is how long entries live unless configured otherwise
const DefaultTTL = 60 * time.Second

const defaultMaxEntries = 1024

// TTLCache is an expiring LRU keyed by entity id (or KeyAll)
type TTLCache[V any] struct {
	name    string
	cache   *lru.LRU[string, V]
	metrics *observability.Metrics
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a TTL cache. name labels hit/miss metrics; metrics may be nil.
func New[V any](name string, maxEntries int, ttl time.Duration, metrics *observability.Metrics) *TTLCache[V] {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTLCache[V]{
		name:    name,
		cache:   lru.NewLRU[string, V](maxEntries, nil, ttl),
		metrics: metrics,
	}
}

// Get returns the cached value if present and unexpired
func (c *TTLCache[V]) Get(key string) (V, bool) {
	v, ok := c.cache.Get(key)
	if ok {
		c.hits.Add(1)
		c.metrics.RecordCacheHit(c.name)
	} else {
		c.misses.Add(1)
		c.metrics.RecordCacheMiss(c.name)
	}
	return v, ok
}

// Set stores a value, resetting its expiry
func (c *TTLCache[V]) Set(key string, v V) {
	c.cache.Add(key, v)
}

// Delete removes the given keys
func (c *TTLCache[V]) Delete(keys ...string) {
	for _, k := range keys {
		c.cache.Remove(k)
	}
}

// Purge removes everything
func (c *TTLCache[V]) Purge() {
	c.cache.Purge()
}

// Len returns the number of live entries
func (c *TTLCache[V]) Len() int {
	return c.cache.Len()
}

// Stats is a snapshot of cache activity
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	ItemCount int64   `json:"item_count"`
	HitRate   float64 `json:"hit_rate"`
}

// Stats returns hit/miss counters for this cache
func (c *TTLCache[V]) Stats() Stats {
	s := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		ItemCount: int64(c.cache.Len()),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Registry owns one TTLCache per viewer so that rows filtered for one
// viewer are never served to another. Idle viewers age out with the TTL.
type Registry[V any] struct {
	name       string
	ttl        time.Duration
	maxEntries int
	metrics    *observability.Metrics

	mu      sync.Mutex
	viewers *lru.LRU[string, *TTLCache[V]]
}

// NewRegistry creates a registry holding up to maxViewers caches
func NewRegistry[V any](name string, maxViewers int, ttl time.Duration, metrics *observability.Metrics) *Registry[V] {
	if maxViewers <= 0 {
		maxViewers = defaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry[V]{
		name:       name,
		ttl:        ttl,
		maxEntries: defaultMaxEntries,
		metrics:    metrics,
		viewers:    lru.NewLRU[string, *TTLCache[V]](maxViewers, nil, ttl),
	}
}

// For returns the cache for viewerKey, creating it on first use
func (r *Registry[V]) For(viewerKey string) *TTLCache[V] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.viewers.Get(viewerKey); ok {
		return c
	}
	c := New[V](r.name, r.maxEntries, r.ttl, r.metrics)
	r.viewers.Add(viewerKey, c)
	return c
}

// Invalidate removes keys from every viewer's cache
func (r *Registry[V]) Invalidate(keys ...string) {
	r.mu.Lock()
	caches := r.viewers.Values()
	r.mu.Unlock()

	for _, c := range caches {
		c.Delete(keys...)
	}
}

// Drop discards a viewer's cache entirely
func (r *Registry[V]) Drop(viewerKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewers.Remove(viewerKey)
}

// Purge discards every viewer's cache
func (r *Registry[V]) Purge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewers.Purge()
}

// Viewers returns the number of viewers with a live cache
func (r *Registry[V]) Viewers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewers.Len()
}
