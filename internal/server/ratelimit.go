// ratelimit.go - Sliding-window limiter by client IP.
//
// Guards the login endpoint against password guessing. Idle visitors
// expire out of the cache one window after their last request.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const maxVisitors = 10000

type rateLimiter struct {
	visitors *expirable.LRU[string, *visitor]
	mu       sync.Mutex
	rate     int           // requests allowed per window
	window   time.Duration // time window for rate limiting
	now      func() time.Time

	// trustProxy keys visitors on forwarded headers rather than RemoteAddr.
	trustProxy bool
}

// visitor tracks request timestamps for a single IP address
type visitor struct {
	mu       sync.Mutex
	requests []time.Time
}

// newRateLimiter allows rate requests per window per IP.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		visitors: expirable.NewLRU[string, *visitor](maxVisitors, nil, window),
		rate:     rate,
		window:   window,
		now:      time.Now,
	}
}

// middleware rejects requests over the limit with 429.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(rl.key(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "Too many attempts. Please try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// key is the visitor identity for r. Forwarded headers are client supplied,
// so they only count when a proxy in front is trusted to set them.
func (rl *rateLimiter) key(r *http.Request) string {
	if rl.trustProxy {
		return clientIP(r)
	}
	return remoteIP(r)
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors.Get(ip)
	if !ok {
		v = &visitor{requests: make([]time.Time, 0, rl.rate)}
	}
	// Re-adding pushes expiry one window past the latest request.
	rl.visitors.Add(ip, v)
	rl.mu.Unlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)
	kept := v.requests[:0]
	for _, t := range v.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	v.requests = kept

	if len(v.requests) >= rl.rate {
		return false
	}
	v.requests = append(v.requests, now)
	return true
}
