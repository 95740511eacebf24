package rfc9111

// cacheableByDefault lists the status codes defined as heuristically
// cacheable (RFC 9110 §15.1): a cache may store such a response even
// without explicit freshness information.
var cacheableByDefault = map[int]bool{
	200: true,
	203: true,
	204: true,
	206: true,
	300: true,
	301: true,
	308: true,
	404: true,
	405: true,
	410: true,
	414: true,
	501: true,
}

// CacheableByDefault reports whether the status code is cacheable in the
// absence of explicit directives.
func CacheableByDefault(statusCode int) bool {
	return cacheableByDefault[statusCode]
}
