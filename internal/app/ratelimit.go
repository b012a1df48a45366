package app

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"labcrm/internal/config"
	"labcrm/internal/metrics"

	"github.com/gin-gonic/gin"
)

// tokenBucket refills ratePerSec tokens per second up to burst.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	ratePerSec float64
	burst      float64
}

func newBucket(rpm, burst int, now time.Time) *tokenBucket {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = rpm
	}
	return &tokenBucket{
		tokens:     float64(burst),
		lastRefill: now,
		ratePerSec: float64(rpm) / 60.0,
		burst:      float64(burst),
	}
}

func (b *tokenBucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens += elapsed * b.ratePerSec
		if b.tokens > b.burst {
			b.tokens = b.burst
		}
		b.lastRefill = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// rateLimiter keeps one bucket per (route prefix, client IP).
type rateLimiter struct {
	cfg     config.RateLimitConfig
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

func (l *rateLimiter) bucket(key string) *tokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(l.cfg.RequestsPerMinute, l.cfg.Burst, l.now())
		l.buckets[key] = b
	}
	return b
}

func (l *rateLimiter) match(route string) string {
	for _, prefix := range l.cfg.Paths {
		if prefix != "" && strings.HasPrefix(route, prefix) {
			return prefix
		}
	}
	return ""
}

// rateLimit throttles the configured routes (matched against the gin route pattern) per client IP.
// Routes outside cfg.Paths are never limited.
func rateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	return rateLimitWithClock(cfg, time.Now)
}

func rateLimitWithClock(cfg config.RateLimitConfig, now func() time.Time) gin.HandlerFunc {
	if !cfg.Enabled || len(cfg.Paths) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	l := &rateLimiter{cfg: cfg, now: now, buckets: make(map[string]*tokenBucket)}
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		prefix := l.match(route)
		if prefix == "" {
			c.Next()
			return
		}
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.bucket(prefix + "|" + ip).allow(l.now()) {
			metrics.IncRateLimitDrop(prefix)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too Many Requests",
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
