package core

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rs/zerolog/log"
)

// SQLiteCache is an alternative persistent tier backed by a single
// SQLite file instead of a cache directory. It implements the same
// lookup state machine as DiskCache; the database manages its own
// space, so there is no byte budget.
type SQLiteCache struct {
	db     *sql.DB
	policy Policy
}

// OpenSQLite opens (or creates) a SQLite-backed persistent cache.
func OpenSQLite(path string, policy Policy) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			data BLOB,
			metadata TEXT,
			expires INTEGER,
			last_accessed INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS expires_idx ON cache (expires)`,
		`CREATE INDEX IF NOT EXISTS last_accessed_idx ON cache (last_accessed)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
	}
	return &SQLiteCache{db: db, policy: policy}, nil
}

// Store caches data for the request if the response policy allows it.
func (s *SQLiteCache) Store(data []byte, req *http.Request, res *http.Response) bool {
	if !s.policy.ShouldCache(res) {
		return false
	}
	return s.put(Key(req), data, s.policy.NewMetadata(res, time.Now()))
}

// StoreWithTTL caches data with an explicit TTL, bypassing the policy.
func (s *SQLiteCache) StoreWithTTL(data []byte, req *http.Request, ttl time.Duration) bool {
	now := time.Now()
	exp := now.Add(ttl)
	return s.put(Key(req), data, &Metadata{CachedAt: now, ExpiresAt: &exp})
}

func (s *SQLiteCache) put(key string, data []byte, meta *Metadata) bool {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Could not encode metadata")
		return false
	}
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO cache (key, data, metadata, expires, last_accessed) VALUES (?, ?, ?, ?, ?)",
		key, data, string(metaJSON), expiresUnix(meta), time.Now().UnixNano())
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Could not write to sqlite cache")
		return false
	}
	return true
}

// Retrieve looks up the request, classifies freshness and bumps the
// entry's access time.
func (s *SQLiteCache) Retrieve(req *http.Request) Lookup {
	key := Key(req)
	var data []byte
	var metaJSON string
	err := s.db.QueryRow("SELECT data, metadata FROM cache WHERE key = ?", key).Scan(&data, &metaJSON)
	if err != nil {
		return Lookup{Outcome: Miss}
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Corrupt metadata row, dropping")
		s.db.Exec("DELETE FROM cache WHERE key = ?", key)
		return Lookup{Outcome: Miss}
	}
	outcome := classify(&meta, time.Now())
	if outcome == Miss {
		s.db.Exec("DELETE FROM cache WHERE key = ?", key)
		return Lookup{Outcome: Miss}
	}
	s.db.Exec("UPDATE cache SET last_accessed = ? WHERE key = ?", time.Now().UnixNano(), key)
	return Lookup{Outcome: outcome, Data: data, Metadata: &meta}
}

// RetrieveMetadata returns the entry's metadata, or nil if absent.
func (s *SQLiteCache) RetrieveMetadata(req *http.Request) *Metadata {
	var metaJSON string
	err := s.db.QueryRow("SELECT metadata FROM cache WHERE key = ?", Key(req)).Scan(&metaJSON)
	if err != nil {
		return nil
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil
	}
	return &meta
}

// UpdateAfterRevalidation replaces the entry's metadata from a 304
// response; the stored data is reused.
func (s *SQLiteCache) UpdateAfterRevalidation(req *http.Request, res *http.Response) bool {
	key := Key(req)
	previous := s.RetrieveMetadata(req)
	if previous == nil {
		return false
	}
	meta := s.policy.NewMetadata(res, time.Now())
	if meta.ETag == "" {
		meta.ETag = previous.ETag
	}
	if meta.LastModified == "" {
		meta.LastModified = previous.LastModified
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return false
	}
	result, err := s.db.Exec(
		"UPDATE cache SET metadata = ?, expires = ?, last_accessed = ? WHERE key = ?",
		string(metaJSON), expiresUnix(meta), time.Now().UnixNano(), key)
	if err != nil {
		return false
	}
	updated, _ := result.RowsAffected()
	return updated > 0
}

// Invalidate removes the entry for the request, if any.
func (s *SQLiteCache) Invalidate(req *http.Request) {
	s.db.Exec("DELETE FROM cache WHERE key = ?", Key(req))
}

// InvalidateAll removes every entry.
func (s *SQLiteCache) InvalidateAll() {
	s.db.Exec("DELETE FROM cache")
}

// InvalidateMatching removes entries whose key contains the pattern.
func (s *SQLiteCache) InvalidateMatching(pattern string) int {
	result, err := s.db.Exec("DELETE FROM cache WHERE key LIKE ?", "%"+pattern+"%")
	if err != nil {
		return 0
	}
	removed, _ := result.RowsAffected()
	return int(removed)
}

// PruneExpired removes entries past their expiry. The stale window is
// already folded into the expires column at write time, so a plain
// comparison suffices.
func (s *SQLiteCache) PruneExpired() int {
	result, err := s.db.Exec("DELETE FROM cache WHERE expires IS NOT NULL AND expires < ?", time.Now().Unix())
	if err != nil {
		return 0
	}
	pruned, _ := result.RowsAffected()
	return int(pruned)
}

// PruneOlderThan removes entries not accessed within the duration.
func (s *SQLiteCache) PruneOlderThan(age time.Duration) int {
	result, err := s.db.Exec("DELETE FROM cache WHERE last_accessed < ?", time.Now().Add(-age).UnixNano())
	if err != nil {
		return 0
	}
	pruned, _ := result.RowsAffected()
	return int(pruned)
}

// Len returns the number of entries currently cached.
func (s *SQLiteCache) Len() int {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cache").Scan(&count); err != nil {
		return 0
	}
	return count
}

// Close releases the database handle.
func (s *SQLiteCache) Close() error {
	return s.db.Close()
}

// expiresUnix flattens expiry plus stale window into one indexed
// column used by PruneExpired; nil when the entry never expires.
func expiresUnix(meta *Metadata) interface{} {
	if meta.ExpiresAt == nil {
		return nil
	}
	return meta.ExpiresAt.Add(meta.StaleWindow()).Unix()
}
