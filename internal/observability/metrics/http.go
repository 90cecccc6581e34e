// Package metrics provides Prometheus instrumentation for lostpaws.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Middleware returns HTTP middleware for request metrics.
func Middleware(next http.Handler) http.Handler {
	if !enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			duration := time.Since(start).Seconds()

			// Normalize path to avoid high cardinality from case ids and accounts
			path := normalizePath(r.URL.Path)

			httpRequestsTotal.WithLabelValues(
				r.Method,
				path,
				strconv.Itoa(rw.status),
			).Inc()

			httpDuration.WithLabelValues(
				r.Method,
				path,
			).Observe(duration)
		}()

		next.ServeHTTP(rw, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures status code.
func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// normalizePath converts dynamic path segments to placeholders to avoid
// high cardinality metrics. For example:
//
//	/api/v1/cases/42/finders/alice -> /api/v1/cases/{id}/finders/{account}
//	/api/v1/accounts/alice/deposit -> /api/v1/accounts/{account}/deposit
func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/api/v1/") {
		return path
	}

	parts := strings.Split(strings.Trim(path[len("/api/v1/"):], "/"), "/")
	normalized := []string{"/api/v1"}
	for i, part := range parts {
		switch {
		case part == "":
			continue
		case isNumeric(part):
			normalized = append(normalized, "{id}")
		case i > 0 && isAccountSegment(parts[i-1]) && !isKeyword(part):
			normalized = append(normalized, "{account}")
		default:
			normalized = append(normalized, part)
		}
	}
	return strings.Join(normalized, "/")
}

// isAccountSegment reports whether the segment after name is an account identifier.
func isAccountSegment(name string) bool {
	return name == "accounts" || name == "finders"
}

// isKeyword reports whether a segment is a fixed route word rather than an account.
func isKeyword(s string) bool {
	switch s {
	case "count", "deposit":
		return true
	}
	return false
}

// isNumeric returns true if string contains only digits
func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
