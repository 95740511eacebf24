package core

import (
	"net/http"
	"time"

	"github.com/tiercache/tiercache/rfc9111"
)

// Policy decides whether a response may be cached and for how long.
type Policy struct {
	// DefaultTTL is applied when a response carries no freshness
	// information. Zero means no implicit caching.
	DefaultTTL time.Duration
}

// ShouldCache reports whether the response may be stored at all.
// no-store always wins; otherwise the status code must be cacheable by
// default.
func (p Policy) ShouldCache(res *http.Response) bool {
	cc := rfc9111.ParseCacheControl(res.Header.Values("Cache-Control"))
	if cc != nil && cc.NoStore {
		return false
	}
	return rfc9111.CacheableByDefault(res.StatusCode)
}

// TTL computes the freshness lifetime of the response: max-age first,
// then Expires (clamped to zero if already past), then the configured
// default. ok is false when nothing applies.
func (p Policy) TTL(res *http.Response) (time.Duration, bool) {
	cc := rfc9111.ParseCacheControl(res.Header.Values("Cache-Control"))
	if cc != nil && cc.MaxAge != nil {
		return *cc.MaxAge, true
	}
	if expires, ok := rfc9111.ParseHTTPDate(res.Header.Get("Expires")); ok {
		ttl := time.Until(expires)
		if ttl < 0 {
			ttl = 0
		}
		return ttl, true
	}
	if p.DefaultTTL > 0 {
		return p.DefaultTTL, true
	}
	return 0, false
}

// ShouldRevalidate reports whether the entry must be validated with the
// origin before reuse.
func (p Policy) ShouldRevalidate(m *Metadata) bool {
	return m.RequiresRevalidation() || m.Expired(time.Now())
}

// NewMetadata builds the metadata for a response cached at the given
// instant, capturing validators, computed expiry and parsed directives.
func (p Policy) NewMetadata(res *http.Response, now time.Time) *Metadata {
	m := &Metadata{
		ETag:         res.Header.Get("ETag"),
		LastModified: res.Header.Get("Last-Modified"),
		CachedAt:     now,
		CacheControl: rfc9111.ParseCacheControl(res.Header.Values("Cache-Control")),
	}
	if ttl, ok := p.TTL(res); ok {
		exp := now.Add(ttl)
		m.ExpiresAt = &exp
	}
	return m
}
