package core

import (
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryCache is the in-process cache tier: a bounded key → entry table
// with expiry-aware eviction. All operations serialize on one mutex.
//
// Eviction removes the entry with the earliest absolute expiry time,
// not the least recently used one. This keeps the hot path free of
// access bookkeeping; the persistent tier does true LRU.
type MemoryCache struct {
	mu         sync.Mutex
	policy     Policy
	maxEntries int
	entries    map[string]*memoryEntry
}

type memoryEntry struct {
	data []byte
	meta *Metadata
}

// NewMemoryCache creates a memory cache holding at most maxEntries
// entries. Zero means unbounded.
func NewMemoryCache(policy Policy, maxEntries int) *MemoryCache {
	return &MemoryCache{
		policy:     policy,
		maxEntries: maxEntries,
		entries:    make(map[string]*memoryEntry),
	}
}

// Store caches data for the request if the response policy allows it.
func (c *MemoryCache) Store(data []byte, req *http.Request, res *http.Response) bool {
	if !c.policy.ShouldCache(res) {
		return false
	}
	meta := c.policy.NewMetadata(res, time.Now())
	c.put(Key(req), data, meta)
	return true
}

// StoreWithTTL caches data with an explicit TTL, bypassing the policy.
func (c *MemoryCache) StoreWithTTL(data []byte, req *http.Request, ttl time.Duration) bool {
	now := time.Now()
	exp := now.Add(ttl)
	c.put(Key(req), data, &Metadata{CachedAt: now, ExpiresAt: &exp})
	return true
}

// storeWithMetadata inserts an entry carrying existing metadata, used
// when promoting a persistent-tier hit into memory.
func (c *MemoryCache) storeWithMetadata(key string, data []byte, meta *Metadata) {
	c.put(key, data, meta.clone())
}

func (c *MemoryCache) put(key string, data []byte, meta *Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		c.evictForSpace()
	}
	c.entries[key] = &memoryEntry{data: data, meta: meta}
	log.Trace().Str("key", key).Msg("Memory cache write")
}

// Retrieve looks up the request and classifies the entry's freshness.
// Entries expired past their stale window with no validator are purged.
func (c *MemoryCache) Retrieve(req *http.Request) Lookup {
	key := Key(req)
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Lookup{Outcome: Miss}
	}
	outcome := classify(entry.meta, time.Now())
	if outcome == Miss {
		delete(c.entries, key)
		return Lookup{Outcome: Miss}
	}
	return Lookup{Outcome: outcome, Data: entry.data, Metadata: entry.meta}
}

// RetrieveMetadata returns the entry's metadata, or nil if absent.
func (c *MemoryCache) RetrieveMetadata(req *http.Request) *Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[Key(req)]; ok {
		return entry.meta
	}
	return nil
}

// UpdateAfterRevalidation replaces the entry's metadata from a 304
// response; the cached bytes are reused unchanged.
func (c *MemoryCache) UpdateAfterRevalidation(req *http.Request, res *http.Response) bool {
	key := Key(req)
	meta := c.policy.NewMetadata(res, time.Now())
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	// keep previous validators if the 304 did not repeat them
	if meta.ETag == "" {
		meta.ETag = entry.meta.ETag
	}
	if meta.LastModified == "" {
		meta.LastModified = entry.meta.LastModified
	}
	entry.meta = meta
	return true
}

// Invalidate removes the entry for the request, if any.
func (c *MemoryCache) Invalidate(req *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, Key(req))
}

// InvalidateAll removes every entry.
func (c *MemoryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*memoryEntry)
}

// PruneExpired removes all entries past both expiry and stale window.
func (c *MemoryCache) PruneExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruneExpiredLocked()
}

func (c *MemoryCache) pruneExpiredLocked() int {
	now := time.Now()
	pruned := 0
	for key, entry := range c.entries {
		if expiredBeyondWindow(entry.meta, now) {
			delete(c.entries, key)
			pruned++
		}
	}
	return pruned
}

// Len returns the number of entries currently cached.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictForSpace makes room for one new entry when the cache is full:
// expired entries go first, then entries by earliest expiry.
func (c *MemoryCache) evictForSpace() {
	if c.maxEntries <= 0 || len(c.entries) < c.maxEntries {
		return
	}
	c.pruneExpiredLocked()
	for len(c.entries) >= c.maxEntries {
		key, ok := c.earliestExpiryLocked()
		if !ok {
			return
		}
		log.Debug().Str("key", key).Msg("Evicting memory cache entry")
		delete(c.entries, key)
	}
}

// earliestExpiryLocked scans for the entry expiring soonest.
// Entries with no expiry are considered last.
func (c *MemoryCache) earliestExpiryLocked() (string, bool) {
	var earliestKey string
	var earliest time.Time
	found := false
	for key, entry := range c.entries {
		if entry.meta.ExpiresAt == nil {
			if !found && earliestKey == "" {
				earliestKey = key
			}
			continue
		}
		if !found || entry.meta.ExpiresAt.Before(earliest) {
			earliestKey = key
			earliest = *entry.meta.ExpiresAt
			found = true
		}
	}
	return earliestKey, earliestKey != ""
}
