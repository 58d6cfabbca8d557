package http

import (
	"net/http"
	"strconv"
)

// PathInt64 parses a positive integer path value such as {id}.
func PathInt64(r *http.Request, name string) (int64, bool) {
	raw := r.PathValue(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
