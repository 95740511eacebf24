// Package inflight collapses concurrently issued identical requests
// into a single underlying fetch, fanning the raw result out to every
// waiter.
package inflight

import (
	"hash/fnv"
	"net/http"
)

// Mode controls whether deduplication applies to a logical operation.
type Mode int

const (
	// ModeAutomatic deduplicates idempotent reads only (GET and HEAD).
	ModeAutomatic Mode = iota
	// ModeAlways deduplicates regardless of method.
	ModeAlways
	// ModeNever disables deduplication.
	ModeNever
)

// RequestKey identifies logically-identical requests for
// deduplication. It is derived from the method, the full URL and a
// hash of the body — headers (including auth) deliberately do not
// participate, so two requests differing only in credentials collapse
// together. Operations serving per-user bodies behind shared URLs
// should use ModeNever.
type RequestKey struct {
	Method   string
	URL      string
	BodyHash uint64
	HasBody  bool
}

// KeyFor derives the dedup key for a request under the given mode.
// ok is false when dedup does not apply (disabled, or a non-idempotent
// method under ModeAutomatic).
func KeyFor(r *http.Request, mode Mode, body []byte) (RequestKey, bool) {
	switch mode {
	case ModeNever:
		return RequestKey{}, false
	case ModeAutomatic:
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			return RequestKey{}, false
		}
	}
	key := RequestKey{
		Method: r.Method,
		URL:    r.URL.String(),
	}
	if len(body) > 0 {
		key.BodyHash = hashBody(body)
		key.HasBody = true
	}
	return key, true
}

func hashBody(body []byte) uint64 {
	h := fnv.New64a()
	h.Write(body)
	return h.Sum64()
}
