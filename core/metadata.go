package core

import (
	"net/http"
	"time"

	"github.com/tiercache/tiercache/rfc9111"
)

// Metadata describes a cached response: its validators, when it was
// cached, when it expires, and the cache directives it carried.
// A Metadata value is never mutated after creation; revalidation
// replaces the whole value while the cached bytes are reused.
type Metadata struct {
	ETag         string                 `json:"etag,omitempty"`
	LastModified string                 `json:"last_modified,omitempty"`
	CachedAt     time.Time              `json:"cached_at"`
	ExpiresAt    *time.Time             `json:"expires_at,omitempty"`
	CacheControl *rfc9111.CacheControl  `json:"cache_control,omitempty"`
}

// Expired reports whether the entry is past its expiry at the given
// instant. An entry with no expiry never expires; absence of freshness
// headers means the entry lives until invalidated.
func (m *Metadata) Expired(now time.Time) bool {
	if m.ExpiresAt == nil {
		return false
	}
	return now.After(*m.ExpiresAt)
}

// RequiresRevalidation reports whether the response directives demand
// validation with the origin before reuse (no-cache or must-revalidate).
func (m *Metadata) RequiresRevalidation() bool {
	if m.CacheControl == nil {
		return false
	}
	return m.CacheControl.NoCache || m.CacheControl.MustRevalidate
}

// HasValidator reports whether a conditional request can be built for
// the entry.
func (m *Metadata) HasValidator() bool {
	return m.ETag != "" || m.LastModified != ""
}

// StaleWindow returns the stale-while-revalidate window, or zero when
// the directive is absent.
func (m *Metadata) StaleWindow() time.Duration {
	if m.CacheControl == nil || m.CacheControl.StaleWhileRevalidate == nil {
		return 0
	}
	return *m.CacheControl.StaleWhileRevalidate
}

// RemainingTTL returns the time left until expiry, clamped to zero.
// ok is false when the entry has no expiry.
func (m *Metadata) RemainingTTL(now time.Time) (time.Duration, bool) {
	if m.ExpiresAt == nil {
		return 0, false
	}
	ttl := m.ExpiresAt.Sub(now)
	if ttl < 0 {
		ttl = 0
	}
	return ttl, true
}

// ConditionalHeaders returns the headers for a conditional request
// against this entry's validators: If-None-Match for an ETag,
// If-Modified-Since for a Last-Modified date.
func (m *Metadata) ConditionalHeaders() http.Header {
	header := make(http.Header)
	if m.ETag != "" {
		header.Set("If-None-Match", m.ETag)
	}
	if m.LastModified != "" {
		header.Set("If-Modified-Since", m.LastModified)
	}
	return header
}

// clone returns a copy of the metadata for handing across tiers.
// The embedded CacheControl is immutable and safe to share.
func (m *Metadata) clone() *Metadata {
	c := *m
	if m.ExpiresAt != nil {
		exp := *m.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}
