// Package resolve matches records from external sources to canonical
// accounts using a fixed-priority cascade of strategies.
package resolve

import "strings"

// NormalizeDomain standardizes a domain for matching by stripping the
// scheme, a leading "www.", any path, and lower-casing. Returns "" for
// inputs that cannot be a domain.
func NormalizeDomain(raw string) string {
	d := strings.TrimSpace(strings.ToLower(raw))
	if d == "" {
		return ""
	}
	for _, scheme := range []string{"https://", "http://"} {
		d = strings.TrimPrefix(d, scheme)
	}
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimSuffix(d, ".")
	if !strings.Contains(d, ".") {
		return ""
	}
	return d
}

// nameKey is the exact-name match key: lower-cased, trimmed.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
