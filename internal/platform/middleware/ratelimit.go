package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Limiter decides whether the request identified by key may proceed. When it
// may not, retryAfter says how long the caller should wait.
type Limiter interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

// RateLimitConfig configures the in-process limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// tokenBucket refills continuously at refillRate tokens per second.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) take(now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = math.Min(b.maxTokens, b.tokens+now.Sub(b.lastRefill).Seconds()*b.refillRate)
	b.lastRefill = now
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.refillRate <= 0 {
		return false, time.Second
	}
	return false, time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
}

// MemoryLimiter keeps one token bucket per key in process memory. It is used
// when no Redis is configured.
type MemoryLimiter struct {
	cfg     RateLimitConfig
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	now     func() time.Time
}

func NewMemoryLimiter(cfg RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{cfg: cfg, buckets: make(map[string]*tokenBucket), now: time.Now}
}

func (l *MemoryLimiter) bucket(key string) *tokenBucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	b = newTokenBucket(l.cfg.RequestsPerSecond, l.cfg.BurstSize)
	l.buckets[key] = b
	return b
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	ok, wait := l.bucket(key).take(l.now())
	return ok, wait, nil
}

// rateLimitKey scopes the caller's address by clinic.
func rateLimitKey(c echo.Context) string {
	key := c.RealIP()
	if clinic, ok := c.Get("jwt_tenant_id").(string); ok && clinic != "" {
		return clinic + ":" + key
	}
	if clinic := c.Request().Header.Get("X-Clinic-ID"); clinic != "" {
		return clinic + ":" + key
	}
	return key
}

// RateLimit rejects requests the limiter refuses with 429. Limiter errors let
// the request through and are logged.
func RateLimit(limiter Limiter, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, wait, err := limiter.Allow(c.Request().Context(), rateLimitKey(c))
			if err != nil {
				logger.Warn().Err(err).Msg("rate limiter unavailable")
				return next(c)
			}
			if !ok {
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
