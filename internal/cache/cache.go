package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"golang.org/x/sync/singleflight"

	"github.com/talmage/graceworks/internal/oracle"
)

// Normalize canonicalizes talk text for hashing: Unicode lowercase and
// collapsed whitespace. Two texts that differ only in case or spacing share
// a cache entry.
func Normalize(text string) string {
	lower := strings.Map(unicode.ToLower, text)
	return strings.Join(strings.Fields(lower), " ")
}

// Key returns the hex SHA-256 of the normalized text.
func Key(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// Cache deduplicates classifications by content hash. Concurrent requests
// for the same hash are coalesced into a single computation.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]oracle.Classification

	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
}

// New creates an empty Cache.
func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		entries: make(map[string]oracle.Classification),
		logger:  logger,
	}
}

// Get returns the cached classification for hash, if present.
func (c *Cache) Get(hash string) (oracle.Classification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result, ok := c.entries[hash]
	return result, ok
}

// Put stores a classification. Re-storing an identical entry is a no-op; a
// conflicting entry for the same hash is logged and the newer value wins.
func (c *Cache) Put(hash string, result oracle.Classification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.entries[hash]; ok && !equal(prev, result) {
		c.logger.Warn("conflicting cache entry replaced",
			"hash", hash,
			"old_score", prev.Score,
			"new_score", result.Score)
	}
	c.entries[hash] = result
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Hits returns the number of lookups served without computing.
func (c *Cache) Hits() int64 {
	return c.hits.Load()
}

// GetOrCompute returns the classification for hash, computing it at most
// once across concurrent callers. hit reports whether the value came from
// the cache or from another caller's in-flight computation. Failed
// computations are not stored.
func (c *Cache) GetOrCompute(hash string, compute func() (oracle.Classification, error)) (result oracle.Classification, hit bool, err error) {
	if cached, ok := c.Get(hash); ok {
		c.hits.Add(1)
		return cached, true, nil
	}

	v, err, shared := c.group.Do(hash, func() (any, error) {
		// Re-check under the flight: a concurrent Put may have landed
		// between the miss and the flight starting.
		if cached, ok := c.Get(hash); ok {
			return cached, nil
		}
		computed, err := compute()
		if err != nil {
			return oracle.Classification{}, err
		}
		c.Put(hash, computed)
		return computed, nil
	})
	if err != nil {
		return oracle.Classification{}, false, err
	}
	if shared {
		c.hits.Add(1)
	}
	return v.(oracle.Classification), shared, nil
}

func equal(a, b oracle.Classification) bool {
	if a.Score != b.Score || a.Explanation != b.Explanation || a.ModelUsed != b.ModelUsed {
		return false
	}
	if len(a.KeyPhrases) != len(b.KeyPhrases) {
		return false
	}
	for i := range a.KeyPhrases {
		if a.KeyPhrases[i] != b.KeyPhrases[i] {
			return false
		}
	}
	return true
}
