package core

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

// DiskOptions configures the persistent cache tier.
type DiskOptions struct {
	// MaxSize is the byte budget for all entry data. Zero means 1 GiB.
	MaxSize int64
	// MaxEntrySize rejects single entries above this size.
	// Zero means 1/16 of MaxSize.
	MaxEntrySize int64
	// CompressionThreshold is the entry size above which compression is
	// attempted. Zero means 4 KiB.
	CompressionThreshold int64
	// WriteDelay is the index write coalescing window.
	// Zero means 100ms.
	WriteDelay time.Duration
}

const (
	defaultMaxSize              = 1 << 30
	defaultCompressionThreshold = 4 << 10
)

// DiskCache is the persistent cache tier: a directory of
// content-addressed data files plus a crash-recoverable index.
// Data writes are synchronous, so a true Store return means the bytes
// are durable; index persistence is deferred through the coalescing
// writer and repaired at open if a crash loses it.
type DiskCache struct {
	mu         sync.Mutex
	dir        string
	entriesDir string
	policy     Policy
	opts       DiskOptions
	index      *diskIndex
	writer     *indexWriter
}

// OpenDiskCache opens (or creates) the persistent cache rooted at dir.
// A corrupt index never prevents opening: recovery falls back to the
// backup index and then to an empty cache.
func OpenDiskCache(dir string, policy Policy, opts DiskOptions) (*DiskCache, error) {
	if opts.MaxSize <= 0 {
		opts.MaxSize = defaultMaxSize
	}
	if opts.MaxEntrySize <= 0 {
		opts.MaxEntrySize = opts.MaxSize / 16
	}
	if opts.CompressionThreshold <= 0 {
		opts.CompressionThreshold = defaultCompressionThreshold
	}

	if parent := filepath.Dir(dir); parent != "" {
		if _, err := os.Stat(parent); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
		}
	}
	c := &DiskCache{
		dir:        dir,
		entriesDir: filepath.Join(dir, entriesDirname),
		policy:     policy,
		opts:       opts,
		writer:     newIndexWriter(dir, opts.WriteDelay),
	}
	if err := c.createDirs(); err != nil {
		return nil, err
	}
	c.index = c.loadIndex()
	c.repairIndex()
	return c, nil
}

func (c *DiskCache) createDirs() error {
	if err := os.MkdirAll(c.entriesDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrDirectoryCreationFailed, err)
	}
	versionPath := filepath.Join(c.dir, versionFilename)
	if _, err := os.Stat(versionPath); os.IsNotExist(err) {
		if err := os.WriteFile(versionPath, []byte(fmt.Sprintf("%d\n", indexVersion)), 0o644); err != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
	}
	return nil
}

// loadIndex decodes the index, falling back to the backup and then to
// a full reset. It always yields a usable (possibly empty) index.
func (c *DiskCache) loadIndex() *diskIndex {
	idx, err := decodeIndexFile(filepath.Join(c.dir, indexFilename))
	if err == nil {
		return idx
	}
	if !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Could not decode cache index, trying backup")
	}
	idx, backupErr := decodeIndexFile(filepath.Join(c.dir, indexBackupFilename))
	if backupErr == nil {
		return idx
	}
	if os.IsNotExist(err) && os.IsNotExist(backupErr) {
		// fresh directory
		return newDiskIndex()
	}
	log.Error().Err(backupErr).Msg("Cache index unrecoverable, resetting cache directory")
	os.RemoveAll(c.dir)
	if err := c.createDirs(); err != nil {
		log.Error().Err(err).Msg("Could not recreate cache directory")
	}
	return newDiskIndex()
}

// repairIndex drops index entries whose backing file is gone and
// removes entry files the index does not know about. Both happen after
// a crash inside the index write-coalescing window.
func (c *DiskCache) repairIndex() {
	changed := false
	byFilename := make(map[string]bool, len(c.index.Entries))
	for key, entry := range c.index.Entries {
		if _, err := os.Stat(filepath.Join(c.entriesDir, entry.Filename)); err != nil {
			log.Warn().Str("key", key).Msg("Dropping index entry with missing data file")
			delete(c.index.Entries, key)
			changed = true
			continue
		}
		byFilename[entry.Filename] = true
	}
	if names, err := os.ReadDir(c.entriesDir); err == nil {
		for _, name := range names {
			if !byFilename[name.Name()] {
				log.Debug().Str("file", name.Name()).Msg("Removing orphaned entry file")
				os.Remove(filepath.Join(c.entriesDir, name.Name()))
			}
		}
	}
	if changed {
		c.writer.Schedule(c.index.snapshot())
	}
}

// Store caches data for the request if the response policy allows it.
// The data file write is synchronous; the index write is deferred.
func (c *DiskCache) Store(data []byte, req *http.Request, res *http.Response) bool {
	if !c.policy.ShouldCache(res) {
		return false
	}
	return c.put(Key(req), data, c.policy.NewMetadata(res, time.Now()))
}

// StoreWithTTL caches data with an explicit TTL, bypassing the policy.
func (c *DiskCache) StoreWithTTL(data []byte, req *http.Request, ttl time.Duration) bool {
	now := time.Now()
	exp := now.Add(ttl)
	return c.put(Key(req), data, &Metadata{CachedAt: now, ExpiresAt: &exp})
}

func (c *DiskCache) put(key string, data []byte, meta *Metadata) bool {
	if int64(len(data)) > c.opts.MaxEntrySize {
		log.Debug().Str("key", key).Int("size", len(data)).Msg("Entry exceeds size cap, not cached")
		return false
	}
	payload, compressed := c.maybeCompress(data)

	c.mu.Lock()
	defer c.mu.Unlock()

	// a re-store overwrites the same file, so the old entry no longer
	// counts against the budget and must not be an eviction candidate
	delete(c.index.Entries, key)

	newSize := int64(len(payload))
	projected := c.index.totalSize() + newSize
	if projected > c.opts.MaxSize {
		c.evictLocked(projected - c.opts.MaxSize)
	}

	filename := entryFilename(key)
	if err := c.writeEntryFile(filename, payload); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Could not write cache entry")
		return false
	}
	c.index.Entries[key] = &diskEntry{
		Filename:     filename,
		Metadata:     meta,
		Size:         newSize,
		Compressed:   compressed,
		LastAccessed: time.Now(),
	}
	c.writer.Schedule(c.index.snapshot())
	log.Trace().Str("key", key).Int64("size", newSize).Bool("compressed", compressed).Msg("Disk cache write")
	return true
}

// maybeCompress gzips data above the threshold, keeping the original
// bytes whenever compression does not actually shrink them.
func (c *DiskCache) maybeCompress(data []byte) ([]byte, bool) {
	if int64(len(data)) < c.opts.CompressionThreshold {
		return data, false
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return data, false
	}
	if err := zw.Close(); err != nil {
		return data, false
	}
	if buf.Len() >= len(data) {
		return data, false
	}
	return buf.Bytes(), true
}

func decompress(payload []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// writeEntryFile writes the payload via temp file + rename and syncs
// it, so a successful store means durable bytes.
func (c *DiskCache) writeEntryFile(filename string, payload []byte) error {
	target := filepath.Join(c.entriesDir, filename)
	tmp, err := os.CreateTemp(c.entriesDir, ".entry-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(payload)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, target)
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// Retrieve looks up the request, classifies freshness and bumps the
// entry's access time. A missing backing file degrades to a miss and
// heals the index.
func (c *DiskCache) Retrieve(req *http.Request) Lookup {
	key := Key(req)
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.index.Entries[key]
	if !ok {
		return Lookup{Outcome: Miss}
	}
	outcome := classify(entry.Metadata, time.Now())
	if outcome == Miss {
		c.removeLocked(key, entry)
		c.writer.Schedule(c.index.snapshot())
		return Lookup{Outcome: Miss}
	}

	payload, err := os.ReadFile(filepath.Join(c.entriesDir, entry.Filename))
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cache entry data file missing, healing index")
		delete(c.index.Entries, key)
		c.writer.Schedule(c.index.snapshot())
		return Lookup{Outcome: Miss}
	}
	data := payload
	if entry.Compressed {
		if data, err = decompress(payload); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Cache entry data corrupt, dropping")
			c.removeLocked(key, entry)
			c.writer.Schedule(c.index.snapshot())
			return Lookup{Outcome: Miss}
		}
	}

	entry.LastAccessed = time.Now()
	c.writer.Schedule(c.index.snapshot())
	return Lookup{Outcome: outcome, Data: data, Metadata: entry.Metadata}
}

// RetrieveMetadata returns the entry's metadata, or nil if absent.
func (c *DiskCache) RetrieveMetadata(req *http.Request) *Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.index.Entries[Key(req)]; ok {
		return entry.Metadata
	}
	return nil
}

// UpdateAfterRevalidation replaces the entry's metadata from a 304
// response; the data file is untouched.
func (c *DiskCache) UpdateAfterRevalidation(req *http.Request, res *http.Response) bool {
	key := Key(req)
	meta := c.policy.NewMetadata(res, time.Now())
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.index.Entries[key]
	if !ok {
		return false
	}
	if meta.ETag == "" {
		meta.ETag = entry.Metadata.ETag
	}
	if meta.LastModified == "" {
		meta.LastModified = entry.Metadata.LastModified
	}
	entry.Metadata = meta
	entry.LastAccessed = time.Now()
	c.writer.Schedule(c.index.snapshot())
	return true
}

// Invalidate removes the entry for the request, if any.
func (c *DiskCache) Invalidate(req *http.Request) {
	key := Key(req)
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.index.Entries[key]; ok {
		c.removeLocked(key, entry)
		c.writer.Schedule(c.index.snapshot())
	}
}

// InvalidateAll removes every entry and its data file.
func (c *DiskCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.index.Entries {
		c.removeLocked(key, entry)
	}
	c.writer.Schedule(c.index.snapshot())
}

// InvalidateMatching removes all entries whose cache key contains the
// pattern as a substring, returning the number removed.
func (c *DiskCache) InvalidateMatching(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, entry := range c.index.Entries {
		if strings.Contains(key, pattern) {
			c.removeLocked(key, entry)
			removed++
		}
	}
	if removed > 0 {
		c.writer.Schedule(c.index.snapshot())
	}
	return removed
}

// PruneExpired removes all entries past both expiry and stale window.
func (c *DiskCache) PruneExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	pruned := 0
	for key, entry := range c.index.Entries {
		if expiredBeyondWindow(entry.Metadata, now) {
			c.removeLocked(key, entry)
			pruned++
		}
	}
	if pruned > 0 {
		c.writer.Schedule(c.index.snapshot())
	}
	return pruned
}

// PruneOlderThan removes entries not accessed within the duration.
func (c *DiskCache) PruneOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age)
	c.mu.Lock()
	defer c.mu.Unlock()
	pruned := 0
	for key, entry := range c.index.Entries {
		if entry.LastAccessed.Before(cutoff) {
			c.removeLocked(key, entry)
			pruned++
		}
	}
	if pruned > 0 {
		c.writer.Schedule(c.index.snapshot())
	}
	return pruned
}

// Len returns the number of entries currently indexed.
func (c *DiskCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index.Entries)
}

// TotalSize returns the summed size of all entry data on disk.
func (c *DiskCache) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.totalSize()
}

// Flush forces the pending index state to disk.
func (c *DiskCache) Flush() error {
	return c.writer.Flush()
}

// Close flushes the index. The cache must not be used afterwards.
func (c *DiskCache) Close() error {
	return c.Flush()
}

// evictLocked frees at least needed bytes: expired entries go first,
// then entries in ascending last-access order (true LRU).
func (c *DiskCache) evictLocked(needed int64) {
	var freed int64
	now := time.Now()
	for key, entry := range c.index.Entries {
		if freed >= needed {
			return
		}
		if expiredBeyondWindow(entry.Metadata, now) {
			freed += entry.Size
			c.removeLocked(key, entry)
		}
	}

	type candidate struct {
		key   string
		entry *diskEntry
	}
	candidates := make([]candidate, 0, len(c.index.Entries))
	for key, entry := range c.index.Entries {
		candidates = append(candidates, candidate{key, entry})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].entry.LastAccessed.Before(candidates[j].entry.LastAccessed)
	})
	for _, cand := range candidates {
		if freed >= needed {
			return
		}
		log.Debug().Str("key", cand.key).Time("lastAccessed", cand.entry.LastAccessed).Msg("Evicting disk cache entry")
		freed += cand.entry.Size
		c.removeLocked(cand.key, cand.entry)
	}
}

// removeLocked drops the index entry and deletes its data file.
func (c *DiskCache) removeLocked(key string, entry *diskEntry) {
	delete(c.index.Entries, key)
	if err := os.Remove(filepath.Join(c.entriesDir, entry.Filename)); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Str("key", key).Msg("Could not remove entry file")
	}
}

func expiredBeyondWindow(m *Metadata, now time.Time) bool {
	return m.Expired(now) && now.Sub(*m.ExpiresAt) > m.StaleWindow()
}
