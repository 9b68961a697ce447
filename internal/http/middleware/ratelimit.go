package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc maps a request to its token bucket.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys buckets by caller identity (context userID or the
// X-User-ID header) and falls back to the client IP for anonymous callers.
// Prefixes keep the two namespaces apart.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if id := callerID(c); id != "anonymous" {
			return "user:" + id
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local, per-key token bucket limiter. Publishing
// reaches the registry and the model server on every call, so it guards the
// API against runaway clients rather than acting as authorization.
//
// Idle buckets are evicted opportunistically after ttl.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc

	// exempt routes (by registered path) are never limited, e.g. probes.
	exempt map[string]struct{}

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	cleanupN uint64
}

// NewRateLimiter builds a limiter; burst <= 0 is coerced to 1.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		exempt:   map[string]struct{}{},
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
	}
}

// Exempt excludes the given route paths (as registered with Gin) from limiting.
func (rl *RateLimiter) Exempt(paths ...string) *RateLimiter {
	for _, p := range paths {
		rl.exempt[p] = struct{}{}
	}
	return rl
}

// getVisitor returns the limiter for key. Every 5000 lookups it first sweeps
// idle buckets, so a stale bucket is dropped even when it is the one asked for.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cleanupN++
	if rl.cleanupN >= 5000 {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator found a stored result for
// this request, in which case the replay costs no tokens.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limits. Rejections get 429, Retry-After: 1 and
// {"request_id","code":"rate_limited","message"}.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := rl.exempt[c.FullPath()]; ok || IsRateBypass(c) {
			c.Next()
			return
		}
		if rl.getVisitor(rl.keyFn(c)).Allow() {
			c.Next()
			return
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		rateLimited.WithLabelValues(route).Inc()
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
