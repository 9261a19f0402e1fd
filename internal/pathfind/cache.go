package pathfind

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mitchellh/hashstructure/v2"

	"github.com/dosco/nlsqld/internal/sdata"
)

type cacheEntry struct {
	path  []sdata.Relationship
	found bool
}

// Cache memoizes ShortestPath results for the lifetime of a single
// request, keyed by (src, dst, maxHops). Safe for concurrent use.
type Cache struct {
	cache *lru.TwoQueueCache[uint64, cacheEntry]
}

// NewCache builds a request-scoped path cache with room for size entries.
func NewCache(size int) (*Cache, error) {
	c, err := lru.New2Q[uint64, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{cache: c}, nil
}

type cacheKey struct {
	Src, Dst string
	MaxHops  int
}

// ShortestPath is ShortestPath with memoization against this Cache.
func (c *Cache) ShortestPath(g *sdata.Graph, src, dst string, opts Options) ([]sdata.Relationship, bool) {
	key, err := hashstructure.Hash(cacheKey{src, dst, opts.MaxHops}, hashstructure.FormatV2, nil)
	if err != nil {
		return ShortestPath(g, src, dst, opts)
	}

	if e, ok := c.cache.Get(key); ok {
		return e.path, e.found
	}

	path, found := ShortestPath(g, src, dst, opts)
	c.cache.Add(key, cacheEntry{path: path, found: found})
	return path, found
}
