// Package rfc9111 implements the subset of HTTP caching semantics
// (RFC 9111, plus the stale-* extension directives of RFC 5861 and
// immutable of RFC 8246) needed by the cache core.
// Everything in this package is a pure function of its inputs.
package rfc9111

import (
	"strconv"
	"strings"
	"time"
)

// CacheControl holds the parsed directives of one Cache-Control header.
// Duration-valued directives are nil when absent or malformed.
// A CacheControl is never mutated after parsing.
type CacheControl struct {
	MaxAge               *time.Duration `json:"max_age,omitempty"`
	SMaxAge              *time.Duration `json:"s_maxage,omitempty"`
	NoCache              bool           `json:"no_cache,omitempty"`
	NoStore              bool           `json:"no_store,omitempty"`
	Private              bool           `json:"private,omitempty"`
	Public               bool           `json:"public,omitempty"`
	MustRevalidate       bool           `json:"must_revalidate,omitempty"`
	StaleWhileRevalidate *time.Duration `json:"stale_while_revalidate,omitempty"`
	StaleIfError         *time.Duration `json:"stale_if_error,omitempty"`
	Immutable            bool           `json:"immutable,omitempty"`
}

// ParseCacheControl parses Cache-Control header values into a CacheControl.
// It returns nil if the header is absent or contains no directives, so
// callers can tell "no header" apart from "header with no known directives"
// only by the former; unknown directives are ignored per §5.2.3.
// Directive names are compared case-insensitively, and when a directive
// repeats across values the last occurrence wins.
func ParseCacheControl(values []string) *CacheControl {
	parsed := false
	cc := &CacheControl{}
	for _, value := range values {
		for _, directive := range strings.Split(value, ",") {
			directive = strings.TrimSpace(directive)
			if directive == "" {
				continue
			}
			parsed = true
			name, arg := splitDirective(directive)
			switch name {
			case "max-age":
				cc.MaxAge = deltaSeconds(arg)
			case "s-maxage":
				cc.SMaxAge = deltaSeconds(arg)
			case "no-cache":
				cc.NoCache = true
			case "no-store":
				cc.NoStore = true
			case "private":
				cc.Private = true
			case "public":
				cc.Public = true
			case "must-revalidate":
				cc.MustRevalidate = true
			case "stale-while-revalidate":
				cc.StaleWhileRevalidate = deltaSeconds(arg)
			case "stale-if-error":
				cc.StaleIfError = deltaSeconds(arg)
			case "immutable":
				cc.Immutable = true
			}
		}
	}
	if !parsed {
		return nil
	}
	return cc
}

func splitDirective(directive string) (name, arg string) {
	parts := strings.SplitN(directive, "=", 2)
	name = strings.ToLower(parts[0])
	if len(parts) > 1 {
		// arguments may use token or quoted-string syntax
		arg = strings.Trim(parts[1], "\"")
	}
	return
}

// deltaSeconds parses a delta-seconds directive argument.
// Malformed or negative values yield nil, never an error;
// caches treat invalid freshness information as absent.
func deltaSeconds(arg string) *time.Duration {
	seconds, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || seconds < 0 {
		return nil
	}
	d := time.Duration(seconds) * time.Second
	return &d
}
