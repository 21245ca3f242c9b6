package task

import (
	"path"
	"strings"
)

// NormalizeResource canonicalizes a lock resource path: trims whitespace,
// converts backslashes to forward slashes, collapses dot segments, and
// strips a trailing slash except for the root. An empty or
// whitespace-only input normalizes to "".
func NormalizeResource(resource string) string {
	r := strings.TrimSpace(resource)
	if r == "" {
		return ""
	}
	r = strings.ReplaceAll(r, "\\", "/")
	r = path.Clean(r)
	if r != "/" {
		r = strings.TrimSuffix(r, "/")
	}
	return r
}

// ResourcesOverlap reports whether two normalized resources collide:
// equal paths, or one being a path prefix of the other at a "/" boundary.
// "src/api" overlaps "src/api/handlers.go" but not "src/api2".
func ResourcesOverlap(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	return strings.HasPrefix(b, a+"/") || strings.HasPrefix(a, b+"/")
}
