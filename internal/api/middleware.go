package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/config"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware stamps every request with an id for log correlation,
// honoring a caller-provided one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// LoggingMiddleware logs all HTTP requests
func LoggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		log.Infow("HTTP request",
			"method", method,
			"path", path,
			"status", statusCode,
			"duration_ms", duration.Milliseconds(),
			"ip", c.ClientIP(),
			"request_id", c.GetString("request_id"),
		)
	}
}

// CORSMiddleware enables CORS for local dashboard frontends
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Allow localhost (any port) and 127.0.0.1
		if strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "http://127.0.0.1") ||
			strings.HasPrefix(origin, "https://localhost") ||
			strings.HasPrefix(origin, "https://127.0.0.1") {

			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-API-Key, X-Request-ID")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Max-Age", "86400")
		}

		// Handle preflight requests
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

const (
	rateLimitSweepInterval = 5 * time.Minute
	rateLimitIdleEviction  = 10 * time.Minute
)

type rateClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter keeps one token bucket per client IP. Idle entries are swept
// inline on the request path, so the registry needs no background goroutine
// and dies with the router that owns it.
type ipRateLimiter struct {
	mu        sync.Mutex
	cfg       config.RateLimitConfig
	clients   map[string]*rateClient
	nextSweep time.Time
	now       func() time.Time
}

func newIPRateLimiter(cfg config.RateLimitConfig) *ipRateLimiter {
	return &ipRateLimiter{
		cfg:     cfg,
		clients: make(map[string]*rateClient),
		now:     time.Now,
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.After(l.nextSweep) {
		for k, cl := range l.clients {
			if now.Sub(cl.lastSeen) > rateLimitIdleEviction {
				delete(l.clients, k)
			}
		}
		l.nextSweep = now.Add(rateLimitSweepInterval)
	}

	cl, ok := l.clients[ip]
	if !ok {
		cl = &rateClient{
			limiter: rate.NewLimiter(
				rate.Limit(l.cfg.RequestsPerSecond),
				l.cfg.BurstSize,
			),
		}
		l.clients[ip] = cl
	}
	cl.lastSeen = now
	return cl.limiter.Allow()
}

// RateLimitMiddleware implements token bucket rate limiting per IP
func RateLimitMiddleware(cfg config.RateLimitConfig) gin.HandlerFunc {
	limiter := newIPRateLimiter(cfg)

	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
