package engine

import (
	"container/list"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/cobenefit-atlas/internal/query"
)

// ResultCache is a concurrent-safe LRU cache of materialized query results
// keyed by SQL text, with TTL expiration. The fact table is immutable for the
// life of the engine, so entries only age out.
type ResultCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
}

type cacheEntry struct {
	key       string
	rows      []query.Row
	createdAt time.Time
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewResultCache creates a cache holding up to maxEntries results for ttl.
// A non-positive maxEntries disables caching.
func NewResultCache(maxEntries int, ttl time.Duration) *ResultCache {
	return &ResultCache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns a copy of the cached rows for sql.
func (c *ResultCache) Get(sql string) ([]query.Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[sql]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if c.ttl > 0 && c.now().Sub(entry.createdAt) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, sql)
		c.misses.Add(1)
		return nil, false
	}

	c.order.MoveToFront(el)
	c.hits.Add(1)
	return cloneRows(entry.rows), true
}

// Put stores rows for sql, evicting the least recently used entry at capacity.
func (c *ResultCache) Put(sql string, rows []query.Row) {
	if c.maxEntries <= 0 {
		return
	}
	rows = cloneRows(rows)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[sql]; ok {
		el.Value = &cacheEntry{key: sql, rows: rows, createdAt: c.now()}
		c.order.MoveToFront(el)
		return
	}

	for len(c.entries) >= c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	c.entries[sql] = c.order.PushFront(&cacheEntry{key: sql, rows: rows, createdAt: c.now()})
}

// Purge drops every entry.
func (c *ResultCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Stats returns cache performance statistics.
func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

func cloneRows(rows []query.Row) []query.Row {
	if rows == nil {
		return nil
	}
	out := make([]query.Row, len(rows))
	for i, r := range rows {
		out[i] = maps.Clone(r)
	}
	return out
}
