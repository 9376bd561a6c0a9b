package resilience

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/LeeJc02/ShopMate/pkg/schema"
)

const (
	DefaultCacheTTL        = time.Hour
	DefaultCacheMaxEntries = 1000
)

// Normalize folds text so that trivially different phrasings share a cache
// entry: NFKC, lower case, collapsed whitespace.
func Normalize(text string) string {
	text = strings.ToLower(norm.NFKC.String(text))
	return strings.Join(strings.Fields(text), " ")
}

// CacheKey returns the cache key for a message on a route.
func CacheKey(text, route string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])[:16] + "|" + route
}

type cacheEntry struct {
	route     string
	resp      *schema.Response
	createdAt time.Time
	expiresAt time.Time
	hits      atomic.Int64
}

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Size    int     `json:"size"`
}

// Cache holds final graph-mode responses. Reads never take a lock.
type Cache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	entries sync.Map // key -> *cacheEntry
	size    atomic.Int64
	hits    atomic.Uint64
	misses  atomic.Uint64

	evictMu sync.Mutex
}

func NewCache(ttl time.Duration, maxEntries int, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, maxEntries: maxEntries, now: now}
}

// Get returns a copy of the cached response for text on route.
func (c *Cache) Get(text, route string) (*schema.Response, bool) {
	key := CacheKey(text, route)
	v, ok := c.entries.Load(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	e := v.(*cacheEntry)
	if !c.now().Before(e.expiresAt) {
		c.remove(key, e)
		c.misses.Add(1)
		return nil, false
	}
	e.hits.Add(1)
	c.hits.Add(1)
	return e.resp.Clone(), true
}

// Put stores a copy of resp. A later Put for the same key wins.
func (c *Cache) Put(text, route string, resp *schema.Response) {
	if resp == nil {
		return
	}
	if int(c.size.Load()) >= c.maxEntries {
		c.evict()
	}

	now := c.now()
	e := &cacheEntry{
		route:     route,
		resp:      resp.Clone(),
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
	if _, loaded := c.entries.Swap(CacheKey(text, route), e); !loaded {
		c.size.Add(1)
	}
}

func (c *Cache) remove(key string, e *cacheEntry) bool {
	if c.entries.CompareAndDelete(key, e) {
		c.size.Add(-1)
		return true
	}
	return false
}

// evict drops expired entries and, if the cache is still full, the least
// used tenth of it.
func (c *Cache) evict() {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	if int(c.size.Load()) < c.maxEntries {
		return
	}

	type candidate struct {
		key  string
		e    *cacheEntry
		hits int64
	}
	now := c.now()
	var live []candidate
	c.entries.Range(func(k, v any) bool {
		e := v.(*cacheEntry)
		if !now.Before(e.expiresAt) {
			c.remove(k.(string), e)
			return true
		}
		live = append(live, candidate{key: k.(string), e: e, hits: e.hits.Load()})
		return true
	})
	if len(live) < c.maxEntries {
		return
	}

	sort.Slice(live, func(i, j int) bool {
		if live[i].hits != live[j].hits {
			return live[i].hits < live[j].hits
		}
		return live[i].e.createdAt.Before(live[j].e.createdAt)
	})
	n := c.maxEntries / 10
	if n == 0 {
		n = 1
	}
	for _, cand := range live[:n] {
		c.remove(cand.key, cand.e)
	}
}

// InvalidateRoute drops every entry for route and reports how many.
func (c *Cache) InvalidateRoute(route string) int {
	n := 0
	c.entries.Range(func(k, v any) bool {
		if e := v.(*cacheEntry); e.route == route && c.remove(k.(string), e) {
			n++
		}
		return true
	})
	return n
}

// InvalidateKey drops one entry by its CacheKey.
func (c *Cache) InvalidateKey(key string) bool {
	if _, loaded := c.entries.LoadAndDelete(key); loaded {
		c.size.Add(-1)
		return true
	}
	return false
}

// Clear drops every entry and reports how many.
func (c *Cache) Clear() int {
	n := 0
	c.entries.Range(func(k, v any) bool {
		if c.remove(k.(string), v.(*cacheEntry)) {
			n++
		}
		return true
	})
	return n
}

func (c *Cache) Stats() CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	stats := CacheStats{Hits: hits, Misses: misses, Size: int(c.size.Load())}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}
