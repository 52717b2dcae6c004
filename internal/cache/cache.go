// Package cache implements the two-tier response cache consulted by every
// source client before a network call: a process-local LRU in front of a
// persistent tier shared across processes. Namespaces map 1:1 to source
// names so a whole source can be invalidated at once.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Persistent is the L2 tier contract. Implementations: SQLite (embedded) and
// Redis (shared). All methods may fail; Cache degrades such failures to
// misses because the cache is an optimization, never a correctness dependency.
type Persistent interface {
	Get(ctx context.Context, namespace, key string) (value []byte, expiresAt time.Time, ok bool, err error)
	Set(ctx context.Context, namespace, key string, value []byte, expiresAt time.Time) error
	Clear(ctx context.Context, namespace string) error
	ClearAll(ctx context.Context) error
	// DeleteExpired reclaims expired rows. Expiry is otherwise lazy, enforced
	// at read time.
	DeleteExpired(ctx context.Context) (int, error)
	Close() error
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	L1Hits       int64   `json:"l1_hits"`
	L2Hits       int64   `json:"l2_hits"`
	HitRate      float64 `json:"hit_rate"`
	TotalEntries int     `json:"total_entries"`
	SizeBytes    int64   `json:"size_bytes"`
}

// Cache is the two-tier cache. Reads check L1, then L2 (promoting hits into
// L1); writes go to both tiers. Clear runs against L2 before L1 so a write
// racing a clear survives in at least one tier.
type Cache struct {
	mu sync.Mutex
	l1 *lru
	l2 Persistent

	nowFunc func() time.Time

	hits   int64
	misses int64
	l1Hits int64
	l2Hits int64
}

// New creates a two-tier cache. l2 may be nil, leaving L1-only behavior.
func New(l1Capacity int, l2 Persistent) *Cache {
	return &Cache{
		l1:      newLRU(l1Capacity),
		l2:      l2,
		nowFunc: time.Now,
	}
}

// Get returns the cached value for (namespace, key), or ok=false on a miss.
// A read past the entry's TTL is a miss. L2 errors degrade to misses.
func (c *Cache) Get(ctx context.Context, namespace, key string) ([]byte, bool) {
	now := c.nowFunc()

	c.mu.Lock()
	if val, ok := c.l1.get(namespace, key, now); ok {
		c.hits++
		c.l1Hits++
		c.mu.Unlock()
		return val, true
	}
	c.mu.Unlock()

	if c.l2 != nil {
		val, expiresAt, ok, err := c.l2.Get(ctx, namespace, key)
		if err != nil {
			zap.L().Warn("cache: persistent tier read failed, treating as miss",
				zap.String("namespace", namespace),
				zap.Error(err),
			)
		} else if ok && (expiresAt.IsZero() || now.Before(expiresAt)) {
			c.mu.Lock()
			c.l1.set(namespace, key, val, expiresAt)
			c.hits++
			c.l2Hits++
			c.mu.Unlock()
			return val, true
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return nil, false
}

// Set writes the value into both tiers with the given TTL. A non-positive
// TTL stores an already-expired entry, which the next Get treats as a miss.
func (c *Cache) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) {
	expiresAt := c.nowFunc().Add(ttl)

	c.mu.Lock()
	c.l1.set(namespace, key, value, expiresAt)
	c.mu.Unlock()

	if c.l2 != nil {
		if err := c.l2.Set(ctx, namespace, key, value, expiresAt); err != nil {
			zap.L().Warn("cache: persistent tier write failed",
				zap.String("namespace", namespace),
				zap.Error(err),
			)
		}
	}
}

// Clear invalidates every entry in the namespace across both tiers.
func (c *Cache) Clear(ctx context.Context, namespace string) {
	if c.l2 != nil {
		if err := c.l2.Clear(ctx, namespace); err != nil {
			zap.L().Warn("cache: persistent tier clear failed",
				zap.String("namespace", namespace),
				zap.Error(err),
			)
		}
	}

	c.mu.Lock()
	c.l1.clearNamespace(namespace)
	c.mu.Unlock()
}

// ClearAll invalidates every entry across both tiers.
func (c *Cache) ClearAll(ctx context.Context) {
	if c.l2 != nil {
		if err := c.l2.ClearAll(ctx); err != nil {
			zap.L().Warn("cache: persistent tier clear-all failed", zap.Error(err))
		}
	}

	c.mu.Lock()
	c.l1.clearAll()
	c.mu.Unlock()
}

// Sweep reclaims expired entries from the persistent tier. Optional; expiry
// is enforced lazily at read time regardless.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	if c.l2 == nil {
		return 0, nil
	}
	return c.l2.DeleteExpired(ctx)
}

// Stats returns a snapshot of hit counters and L1 occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:         c.hits,
		Misses:       c.misses,
		L1Hits:       c.l1Hits,
		L2Hits:       c.l2Hits,
		TotalEntries: c.l1.len(),
		SizeBytes:    c.l1.sizeBytes,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Close releases the persistent tier.
func (c *Cache) Close() error {
	if c.l2 == nil {
		return nil
	}
	return c.l2.Close()
}
