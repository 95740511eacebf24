package core

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"strings"
)

// keyHeaders are the request headers that participate in cache key
// derivation. Responses negotiated on these headers must not be served
// across differing values.
var keyHeaders = []string{"Accept", "Accept-Language", "Accept-Encoding"}

// Key derives the cache key for a request from its method, full URL
// (including the query string) and the content-negotiation headers.
// Two requests are cache-equivalent iff their keys are equal.
func Key(r *http.Request) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteString(":")
	b.WriteString(r.URL.String())
	for _, name := range keyHeaders {
		if value := r.Header.Get(name); value != "" {
			b.WriteString("\n")
			b.WriteString(strings.ToLower(name))
			b.WriteString(": ")
			b.WriteString(value)
		}
	}
	return b.String()
}

// entryFilename returns the content-addressed file name for a cache
// key. The name is deterministic so re-stores overwrite the same file.
func entryFilename(key string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
}
