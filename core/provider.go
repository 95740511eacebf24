// Package core implements the tiered HTTP response cache: cacheability
// policy, an in-process memory tier, a directory-backed persistent tier
// with a crash-recoverable index, and the composition of the two.
package core

import (
	"net/http"
	"time"
)

// Outcome classifies the result of a cache lookup.
type Outcome int

const (
	// Miss means no usable entry exists for the request.
	Miss Outcome = iota
	// Fresh means the entry is within its freshness lifetime and can be
	// served as-is.
	Fresh
	// Stale means the entry is expired but within its
	// stale-while-revalidate window; it may be served while a background
	// refresh is issued.
	Stale
	// NeedsRevalidation means the entry must be validated with the origin
	// (conditional request) before reuse. The entry data is still
	// returned so a 304 can reuse it.
	NeedsRevalidation
)

func (o Outcome) String() string {
	switch o {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case NeedsRevalidation:
		return "needs-revalidation"
	default:
		return "miss"
	}
}

// Lookup is the result of retrieving a request from a cache tier.
// Data and Metadata are set for every outcome except Miss.
type Lookup struct {
	Outcome  Outcome
	Data     []byte
	Metadata *Metadata
}

// Provider is the operation set shared by all cache tiers.
// Implementations serialize access to their own state internally;
// callers never need external locking, and operations against distinct
// instances proceed in parallel.
type Provider interface {
	// Store caches data for the request if the response policy allows it,
	// and reports whether caching occurred.
	Store(data []byte, req *http.Request, res *http.Response) bool
	// StoreWithTTL caches data with an explicit TTL, bypassing the
	// response policy.
	StoreWithTTL(data []byte, req *http.Request, ttl time.Duration) bool
	// Retrieve looks up the request and classifies the entry's freshness.
	Retrieve(req *http.Request) Lookup
	// RetrieveMetadata returns the entry's metadata without touching the
	// data, or nil if no entry exists. Useful for building conditional
	// request headers.
	RetrieveMetadata(req *http.Request) *Metadata
	// UpdateAfterRevalidation refreshes the entry's metadata from a 304
	// response, keeping the cached bytes. It reports whether an entry was
	// updated.
	UpdateAfterRevalidation(req *http.Request, res *http.Response) bool
	// Invalidate removes the entry for the request, if any.
	Invalidate(req *http.Request)
	// InvalidateAll removes every entry.
	InvalidateAll()
	// PruneExpired removes entries past both their expiry and their stale
	// window, returning the number removed.
	PruneExpired() int
	// Len returns the number of entries currently cached.
	Len() int
}

// classify runs the staleness state machine shared by all tiers.
// A Miss result means the entry is unusable and should be purged by the
// caller: expired past its stale window with no validator to offer.
func classify(m *Metadata, now time.Time) Outcome {
	if !m.Expired(now) {
		if m.RequiresRevalidation() {
			return NeedsRevalidation
		}
		return Fresh
	}
	if now.Sub(*m.ExpiresAt) <= m.StaleWindow() {
		return Stale
	}
	if m.HasValidator() {
		return NeedsRevalidation
	}
	return Miss
}

// PatternInvalidator is implemented by tiers that can invalidate by
// cache-key substring match.
type PatternInvalidator interface {
	InvalidateMatching(pattern string) int
}

// AgePruner is implemented by tiers that track access recency and can
// drop entries not touched within a duration.
type AgePruner interface {
	PruneOlderThan(age time.Duration) int
}
