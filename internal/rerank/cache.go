package rerank

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"slices"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kailas-cloud/hybridsearch/internal/metrics"
)

// CacheStats is a snapshot of the rerank cache counters.
type CacheStats struct {
	Enabled   bool    `json:"enabled"`
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRatio  float64 `json:"hit_ratio"`
}

// cache is a bounded FIFO of rerank results. Only Peek and ContainsOrAdd
// touch the underlying list, so reads never promote an entry and the
// oldest insert is always the one evicted.
type cache struct {
	entries  *lru.Cache[string, Result]
	capacity int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// newCache returns nil for a non-positive capacity; a nil cache stores nothing.
func newCache(capacity int) *cache {
	if capacity <= 0 {
		return nil
	}
	entries, err := lru.New[string, Result](capacity)
	if err != nil {
		return nil
	}
	return &cache{entries: entries, capacity: capacity}
}

func (c *cache) get(key string) (Result, bool) {
	if c == nil {
		return Result{}, false
	}
	r, ok := c.entries.Peek(key)
	if !ok {
		c.misses.Add(1)
		metrics.RerankCacheTotal.WithLabelValues("miss").Inc()
		return Result{}, false
	}
	c.hits.Add(1)
	metrics.RerankCacheTotal.WithLabelValues("hit").Inc()
	r.Candidates = slices.Clone(r.Candidates)
	return r, true
}

// put keeps the first result stored under key.
func (c *cache) put(key string, r Result) {
	if c == nil {
		return
	}
	r.Candidates = slices.Clone(r.Candidates)
	r.FromCache = false
	if _, evicted := c.entries.ContainsOrAdd(key, r); evicted {
		c.evictions.Add(1)
		metrics.RerankCacheTotal.WithLabelValues("eviction").Inc()
	}
}

func (c *cache) clear() {
	if c == nil {
		return
	}
	c.entries.Purge()
}

func (c *cache) stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	hits, misses := c.hits.Load(), c.misses.Load()
	var ratio float64
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}
	return CacheStats{
		Enabled:   true,
		Size:      c.entries.Len(),
		MaxSize:   c.capacity,
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		HitRatio:  ratio,
	}
}

// cacheKey hashes the query, the candidate ids in input order, topK and the
// model id. Every string is length-prefixed so no two inputs collide by
// concatenation.
func cacheKey(query string, ids []string, topK int, model string) string {
	h := sha256.New()
	var n [8]byte
	write := func(s string) {
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}

	write(query)
	binary.BigEndian.PutUint64(n[:], uint64(len(ids)))
	h.Write(n[:])
	for _, id := range ids {
		write(id)
	}
	binary.BigEndian.PutUint64(n[:], uint64(topK))
	h.Write(n[:])
	write(model)

	return hex.EncodeToString(h.Sum(nil))
}
