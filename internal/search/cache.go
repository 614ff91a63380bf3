package search

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultScoreCacheSize bounds the rerank score cache.
const DefaultScoreCacheSize = 4096

// ScoreCache memoizes oracle scores per (query, chunk) pair with LRU
// eviction. The cache is advisory: chunk IDs are content addressed, so
// re-indexed content mints new IDs and stale entries simply stop being
// looked up until eviction reclaims them.
type ScoreCache struct {
	cache *lru.Cache[string, float64]
}

// NewScoreCache creates a score cache; size <= 0 uses the default.
func NewScoreCache(size int) (*ScoreCache, error) {
	if size <= 0 {
		size = DefaultScoreCacheSize
	}
	cache, err := lru.New[string, float64](size)
	if err != nil {
		return nil, err
	}
	return &ScoreCache{cache: cache}, nil
}

// Get returns the cached score for the pair, if present.
func (c *ScoreCache) Get(query, chunkID string) (float64, bool) {
	return c.cache.Get(cacheKey(query, chunkID))
}

// Put stores a score for the pair.
func (c *ScoreCache) Put(query, chunkID string, score float64) {
	c.cache.Add(cacheKey(query, chunkID), score)
}

// Len returns the number of cached entries.
func (c *ScoreCache) Len() int {
	return c.cache.Len()
}

// cacheKey hashes the query so arbitrarily long queries produce
// fixed-size keys; the chunk ID is already a hash.
func cacheKey(query, chunkID string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:]) + ":" + chunkID
}
