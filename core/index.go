package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// indexVersion is the current on-disk index schema version.
const indexVersion = 1

const (
	indexFilename       = "index.json"
	indexBackupFilename = "index.backup.json"
	versionFilename     = "version"
	entriesDirname      = "entries"
)

// diskEntry is the index record for one persisted response.
// LastAccessed is the only field mutated in place; it drives the LRU
// eviction order.
type diskEntry struct {
	Filename     string    `json:"filename"`
	Metadata     *Metadata `json:"metadata"`
	Size         int64     `json:"size"`
	Compressed   bool      `json:"is_compressed"`
	LastAccessed time.Time `json:"last_accessed_at"`
}

// diskIndex is the single source of truth for what exists on disk.
// Data files are addressed only through index entries; total size is
// always derived by summation, never stored.
type diskIndex struct {
	Version int                   `json:"version"`
	Entries map[string]*diskEntry `json:"entries"`
}

func newDiskIndex() *diskIndex {
	return &diskIndex{Version: indexVersion, Entries: make(map[string]*diskEntry)}
}

// totalSize sums the sizes of all indexed entries.
func (idx *diskIndex) totalSize() int64 {
	var total int64
	for _, entry := range idx.Entries {
		total += entry.Size
	}
	return total
}

// snapshot returns a copy safe to hand to the index writer while the
// store keeps mutating its own index. Entry records are copied;
// Metadata values are immutable and shared.
func (idx *diskIndex) snapshot() *diskIndex {
	entries := make(map[string]*diskEntry, len(idx.Entries))
	for key, entry := range idx.Entries {
		e := *entry
		entries[key] = &e
	}
	return &diskIndex{Version: idx.Version, Entries: entries}
}

// decodeIndexFile reads and decodes one index file, migrating older
// schema versions forward. Versions newer than the current one are
// treated as corrupt so recovery can fall through to the backup.
func decodeIndexFile(path string) (*diskIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	var idx diskIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupted, err)
	}
	if idx.Version > indexVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrIndexCorrupted, idx.Version)
	}
	if idx.Version < indexVersion {
		migrateIndex(&idx)
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]*diskEntry)
	}
	return &idx, nil
}

// migrateIndex upgrades an index decoded from an older schema version.
// A single version exists today, so this only stamps the current one.
func migrateIndex(idx *diskIndex) {
	idx.Version = indexVersion
}

// writeIndexFile persists the index atomically: write to a temp file,
// fsync, then rename over the target. A crash never leaves a
// half-written index visible.
func writeIndexFile(path string, idx *diskIndex) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return atomicWrite(path, data)
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}
