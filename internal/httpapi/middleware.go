package httpapi

import (
	"math"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"route-eta/internal/clock"
	"route-eta/internal/metrics"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

var validRequestID = regexp.MustCompile(`^[a-zA-Z0-9-._:]+$`)

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestID propagates a sane client supplied X-Request-ID or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 || !validRequestID.MatchString(id) {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// accessLog logs one line per request and records HTTP metrics.
func accessLog(m *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if m != nil {
			m.ObserveHTTP(c.Request.Method, route, status, latency)
		}

		ev := log.Debug()
		if status >= http.StatusInternalServerError {
			ev = log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("query", c.Request.URL.RawQuery).
			Int("status", status).
			Dur("latency", latency).
			Str("client", c.ClientIP()).
			Str("request_id", c.GetString(requestIDKey)).
			Msg("http request")
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// rateLimiter keeps one token bucket per client address. Buckets idle for
// longer than idleTTL are dropped on the next sweep.
type rateLimiter struct {
	limit   rate.Limit
	burst   int
	clock   clock.Clock
	idleTTL time.Duration

	mu        sync.RWMutex
	clients   map[string]*limiterEntry
	lastSweep time.Time
}

func newRateLimiter(perSecond float64, clk clock.Clock) *rateLimiter {
	return &rateLimiter{
		limit:     rate.Limit(perSecond),
		burst:     max(1, int(math.Ceil(perSecond))),
		clock:     clk,
		idleTTL:   10 * time.Minute,
		clients:   make(map[string]*limiterEntry),
		lastSweep: clk.Now(),
	}
}

func (rl *rateLimiter) get(key string) *rate.Limiter {
	now := rl.clock.Now()

	rl.mu.RLock()
	e, ok := rl.clients[key]
	rl.mu.RUnlock()
	if ok {
		e.lastSeen.Store(now.UnixNano())
		return e.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if now.Sub(rl.lastSweep) >= rl.idleTTL {
		rl.sweep(now)
	}
	if e, ok := rl.clients[key]; ok {
		e.lastSeen.Store(now.UnixNano())
		return e.limiter
	}
	e = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
	e.lastSeen.Store(now.UnixNano())
	rl.clients[key] = e
	return e.limiter
}

// sweep must be called with mu held.
func (rl *rateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-rl.idleTTL).UnixNano()
	for k, e := range rl.clients {
		if e.lastSeen.Load() < cutoff {
			delete(rl.clients, k)
		}
	}
	rl.lastSweep = now
}

func (rl *rateLimiter) size() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.clients)
}

func (rl *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.get(c.ClientIP()).AllowN(rl.clock.Now(), 1) {
			c.Header("Retry-After", "1")
			c.Header("X-RateLimit-Limit", strconv.Itoa(rl.burst))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, retry later",
			})
			return
		}
		c.Next()
	}
}
