package httpmetrics

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// knownRoots are the first path segments the API serves. Anything else is
// reported as "/other" so scanners cannot blow up label cardinality.
var knownRoots = map[string]struct{}{
	"auth":    {},
	"api":     {},
	"health":  {},
	"metrics": {},
}

// NormalizePath maps a request path to a route label: numeric and UUID
// segments become {id} and unknown roots collapse to /other.
func NormalizePath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "/"
	}

	parts := strings.Split(trimmed, "/")
	if _, ok := knownRoots[parts[0]]; !ok {
		return "/other"
	}

	for i, part := range parts {
		if isIdentifier(part) {
			parts[i] = "{id}"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func isIdentifier(segment string) bool {
	if _, err := strconv.ParseInt(segment, 10, 64); err == nil {
		return true
	}
	if len(segment) == 36 {
		if _, err := uuid.Parse(segment); err == nil {
			return true
		}
	}
	return false
}
