package geo

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/clicklens/clicklens/internal/model"
)

// DefaultCacheSize is the number of IPs kept when no size is configured.
const DefaultCacheSize = 10000

// Cache stores successful lookups by normalized IP. Implementations must
// be safe for concurrent use.
type Cache interface {
	Get(ip string) (model.Geo, bool)
	Add(ip string, geo model.Geo)
	Len() int
}

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Size   int    `json:"size"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// LRUCache is a fixed-capacity least-recently-used Cache. Entries live for
// the life of the process unless evicted.
type LRUCache struct {
	entries *lru.Cache[string, model.Geo]
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// NewLRUCache creates an LRUCache holding at most size entries.
func NewLRUCache(size int) (*LRUCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, model.Geo](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &LRUCache{entries: entries}, nil
}

// Get returns the cached location for ip.
func (c *LRUCache) Get(ip string) (model.Geo, bool) {
	geo, ok := c.entries.Get(ip)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return geo, ok
}

// Add stores geo for ip, evicting the least recently used entry when full.
func (c *LRUCache) Add(ip string, geo model.Geo) {
	c.entries.Add(ip, geo)
}

// Len returns the number of cached entries.
func (c *LRUCache) Len() int {
	return c.entries.Len()
}

// Stats returns the current size and hit counters.
func (c *LRUCache) Stats() CacheStats {
	return CacheStats{
		Size:   c.entries.Len(),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}
