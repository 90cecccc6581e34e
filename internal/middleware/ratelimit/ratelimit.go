// Package ratelimit provides per-caller rate limiting middleware using token buckets.
package ratelimit

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pendergraft/lostpaws/internal/auth"
	"github.com/pendergraft/lostpaws/internal/middleware/logging"
)

// Config holds the configuration for rate limiting
type Config struct {
	Enabled bool
	// RequestsPerMin applies to every request from one caller
	RequestsPerMin int
	// WriteRequestsPerMin additionally applies to mutating requests; zero disables it
	WriteRequestsPerMin int
	BurstSize           int
	// CleanupMinutes is how long an idle caller's buckets are kept
	CleanupMinutes int
}

// bucket pairs a caller's limiters with its last access time
type bucket struct {
	all      *rate.Limiter
	write    *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages per-caller rate limiters. Callers are identified by
// account when one is known and by client IP otherwise.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      rate.Limit
	writeRate rate.Limit
	burst     int
	idle      time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// New creates a new RateLimiter and starts its cleanup loop
func New(cfg Config) *RateLimiter {
	idle := time.Duration(cfg.CleanupMinutes) * time.Minute
	if idle <= 0 {
		idle = 10 * time.Minute
	}

	rl := &RateLimiter{
		buckets:   make(map[string]*bucket),
		rate:      perMinute(cfg.RequestsPerMin),
		writeRate: perMinute(cfg.WriteRequestsPerMin),
		burst:     cfg.BurstSize,
		idle:      idle,
		stopCh:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// sweep drops buckets idle since before now-idle
func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.idle)
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) bucketFor(key string) *bucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{all: rate.NewLimiter(rl.rate, rl.burst)}
		if rl.writeRate > 0 {
			b.write = rate.NewLimiter(rl.writeRate, rl.burst)
		}
		rl.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b
}

// Allow reports whether a request from key may proceed
func (rl *RateLimiter) Allow(key string, write bool) bool {
	b := rl.bucketFor(key)
	if !b.all.Allow() {
		return false
	}
	if write && b.write != nil && !b.write.Allow() {
		return false
	}
	return true
}

// exempt paths are never rate limited
var exempt = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// CallerKey identifies the caller of r for rate limiting
func CallerKey(r *http.Request) string {
	if account := auth.AccountFromContext(r.Context()); account != "" {
		return "account:" + account
	}
	return "ip:" + logging.ClientIP(r)
}

// Middleware returns an HTTP middleware that rate limits requests per caller
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			write := r.Method != http.MethodGet && r.Method != http.MethodHead
			if !rl.Allow(CallerKey(r), write) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"code":    "RATE_LIMIT_EXCEEDED",
						"message": "Too many requests. Please try again later.",
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Middleware returns a rate limiting middleware with the given configuration,
// or a no-op when rate limiting is disabled
func Middleware(cfg Config) (func(http.Handler) http.Handler, func()) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }, func() {}
	}
	rl := New(cfg)
	return rl.Middleware(), rl.Stop
}
