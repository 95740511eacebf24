package core

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// TieredCache layers the memory tier over a persistent tier.
// Reads check memory first and promote persistent hits; writes
// populate both tiers independently. The tiers are not transactionally
// linked: each re-validates through its own metadata, so divergence
// after a crash is harmless.
type TieredCache struct {
	memory     *MemoryCache
	persistent Provider
}

// NewTieredCache composes a memory tier over a persistent one.
func NewTieredCache(memory *MemoryCache, persistent Provider) *TieredCache {
	return &TieredCache{memory: memory, persistent: persistent}
}

// Store writes to both tiers and reports whether either cached.
func (c *TieredCache) Store(data []byte, req *http.Request, res *http.Response) bool {
	inMemory := c.memory.Store(data, req, res)
	onDisk := c.persistent.Store(data, req, res)
	return inMemory || onDisk
}

// StoreWithTTL writes to both tiers with an explicit TTL.
func (c *TieredCache) StoreWithTTL(data []byte, req *http.Request, ttl time.Duration) bool {
	inMemory := c.memory.StoreWithTTL(data, req, ttl)
	onDisk := c.persistent.StoreWithTTL(data, req, ttl)
	return inMemory || onDisk
}

// Retrieve checks the memory tier first, then the persistent tier.
// An unexpired persistent hit is promoted into memory with its
// metadata intact so the next lookup stays in-process.
func (c *TieredCache) Retrieve(req *http.Request) Lookup {
	if lookup := c.memory.Retrieve(req); lookup.Outcome != Miss {
		return lookup
	}
	lookup := c.persistent.Retrieve(req)
	if lookup.Outcome == Miss || lookup.Metadata == nil {
		return lookup
	}
	if !lookup.Metadata.Expired(time.Now()) {
		key := Key(req)
		c.memory.storeWithMetadata(key, lookup.Data, lookup.Metadata)
		log.Trace().Str("key", key).Msg("Promoted entry to memory tier")
	}
	return lookup
}

// RetrieveMetadata prefers the memory tier's metadata.
func (c *TieredCache) RetrieveMetadata(req *http.Request) *Metadata {
	if meta := c.memory.RetrieveMetadata(req); meta != nil {
		return meta
	}
	return c.persistent.RetrieveMetadata(req)
}

// UpdateAfterRevalidation refreshes metadata in both tiers.
func (c *TieredCache) UpdateAfterRevalidation(req *http.Request, res *http.Response) bool {
	inMemory := c.memory.UpdateAfterRevalidation(req, res)
	onDisk := c.persistent.UpdateAfterRevalidation(req, res)
	return inMemory || onDisk
}

// Invalidate removes the entry from both tiers.
func (c *TieredCache) Invalidate(req *http.Request) {
	c.memory.Invalidate(req)
	c.persistent.Invalidate(req)
}

// InvalidateAll clears both tiers.
func (c *TieredCache) InvalidateAll() {
	c.memory.InvalidateAll()
	c.persistent.InvalidateAll()
}

// InvalidateMatching is pattern-precise on the persistent tier. The
// memory tier has no pattern lookup, so it is cleared entirely rather
// than risk serving a stale entry under a matched key.
func (c *TieredCache) InvalidateMatching(pattern string) int {
	c.memory.InvalidateAll()
	if pi, ok := c.persistent.(PatternInvalidator); ok {
		return pi.InvalidateMatching(pattern)
	}
	return 0
}

// PruneExpired prunes both tiers, returning the persistent count plus
// the memory count.
func (c *TieredCache) PruneExpired() int {
	return c.memory.PruneExpired() + c.persistent.PruneExpired()
}

// PruneOlderThan applies only to the persistent tier, which tracks
// access recency.
func (c *TieredCache) PruneOlderThan(age time.Duration) int {
	if ap, ok := c.persistent.(AgePruner); ok {
		return ap.PruneOlderThan(age)
	}
	return 0
}

// Len returns the persistent tier's entry count; the memory tier holds
// a subset.
func (c *TieredCache) Len() int {
	return c.persistent.Len()
}

// Flush forces any deferred persistent-tier state to disk.
func (c *TieredCache) Flush() error {
	if f, ok := c.persistent.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close releases the persistent tier.
func (c *TieredCache) Close() error {
	if cl, ok := c.persistent.(interface{ Close() error }); ok {
		return cl.Close()
	}
	return nil
}
