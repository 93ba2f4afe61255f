package api

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterStaleThreshold  = 10 * time.Minute
)

// rateLimiter implements per-IP rate limiting using golang.org/x/time/rate.
// Cleanup of stale entries happens inline during allow() calls.
type rateLimiter struct {
	mu          sync.Mutex
	visitors    map[string]*visitor
	limit       rate.Limit
	burst       int
	lastCleanup time.Time
}

// visitor holds a rate limiter and last-seen time for a single IP.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter creates a rate limiter.
// r: tokens refilled per second. burst: maximum tokens (and initial allowance).
func newRateLimiter(r float64, burst int) *rateLimiter {
	return &rateLimiter{
		visitors:    make(map[string]*visitor),
		limit:       rate.Limit(r),
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

// allow checks if a request from the given IP is allowed.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	if now.Sub(rl.lastCleanup) > rateLimiterCleanupInterval {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > rateLimiterStaleThreshold {
				delete(rl.visitors, k)
			}
		}
		rl.lastCleanup = now
	}

	v, exists := rl.visitors[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.limit, rl.burst)
		rl.visitors[ip] = &visitor{limiter: limiter, lastSeen: now}
		limiter.Allow()
		return true
	}

	v.lastSeen = now
	return v.limiter.Allow()
}

// rateLimitMiddleware limits requests per client IP with a token bucket:
// each IP gets burst initial tokens, refilling at the configured rate.
func rateLimitMiddleware(rl *rateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !rl.allow(ip) {
				logger.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client IP from RemoteAddr, stripping the port.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
