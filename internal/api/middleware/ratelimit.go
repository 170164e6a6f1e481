package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a fixed-window per-client request throttle. Each route
// group gets its own limiter with its own window and cap. State is
// in-process; a horizontally scaled deployment rate-limits per instance.
type RateLimiter struct {
	window     time.Duration
	max        int
	trustProxy bool

	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

// NewRateLimiter creates a limiter allowing max requests per client per
// window.
func NewRateLimiter(windowLen time.Duration, max int, trustProxy bool) *RateLimiter {
	return &RateLimiter{
		window:     windowLen,
		max:        max,
		trustProxy: trustProxy,
		windows:    make(map[string]*window),
		now:        time.Now,
	}
}

// Allow records a request from the source and reports whether it fits the
// current window.
func (rl *RateLimiter) Allow(source string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w := rl.windows[source]
	if w == nil || now.Sub(w.start) >= rl.window {
		// Reuse the pass over the map to drop stale windows.
		for k, old := range rl.windows {
			if now.Sub(old.start) >= rl.window {
				delete(rl.windows, k)
			}
		}
		rl.windows[source] = &window{start: now, count: 1}
		return true
	}
	if w.count >= rl.max {
		return false
	}
	w.count++
	return true
}

// Handler is the middleware form of the limiter, keyed by client IP.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r, rl.trustProxy)) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rl.window.Seconds())))
			tooManyRequests(w, "Too many requests, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}
