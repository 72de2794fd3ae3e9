package middleware

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"mailmirror/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds token-bucket settings. Limits are per account when
// the request is authenticated, otherwise per client IP.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// EndpointLimits apply an extra, stricter bucket to matching path prefixes.
	EndpointLimits map[string]EndpointLimit
	// IdleTTL drops buckets unused for this long.
	IdleTTL time.Duration
}

// EndpointLimit is a token bucket for one path prefix.
type EndpointLimit struct {
	Limit  int
	Window time.Duration
}

// DefaultRateLimitConfig returns default configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		Burst:             50,
		EndpointLimits: map[string]EndpointLimit{
			"/api/v1/emails/sync":  {Limit: 5, Window: time.Minute},
			"/api/v1/oauth/verify": {Limit: 10, Window: time.Minute},
		},
		IdleTTL: 10 * time.Minute,
	}
}

// PublicRateLimitConfig is applied per client IP ahead of authentication.
func PublicRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		Burst:             100,
		EndpointLimits: map[string]EndpointLimit{
			"/api/v1/oauth/callback": {Limit: 10, Window: time.Minute},
		},
		IdleTTL: 10 * time.Minute,
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per caller and per sensitive endpoint.
type RateLimiter struct {
	cfg     RateLimitConfig
	buckets map[string]*bucket
	mu      sync.Mutex
	now     func() time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(math.Ceil(cfg.RequestsPerSecond))
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Handler returns the rate limiting middleware
func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Skip rate limiting for CORS preflight requests
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		caller := "ip:" + c.IP()
		if accountID, ok := c.Locals(LocalAccountID).(string); ok && accountID != "" {
			caller = "account:" + accountID
		}

		path := c.Path()
		for prefix, el := range rl.cfg.EndpointLimits {
			if !strings.HasPrefix(path, prefix) {
				continue
			}
			every := rate.Every(el.Window / time.Duration(max(el.Limit, 1)))
			if wait, ok := rl.allow(prefix+"|"+caller, every, el.Limit); !ok {
				return rl.reject(c, el.Limit, wait)
			}
		}

		if wait, ok := rl.allow(caller, rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst); !ok {
			return rl.reject(c, rl.cfg.Burst, wait)
		}
		return c.Next()
	}
}

// allow takes a token from the named bucket, creating it on first use. When
// the bucket is empty it reports how long until the next token.
func (rl *RateLimiter) allow(key string, limit rate.Limit, burst int) (time.Duration, bool) {
	now := rl.now()

	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(limit, burst)}
		rl.buckets[key] = b
		if len(rl.buckets)%1024 == 0 {
			rl.evictLocked(now)
		}
	}
	b.lastSeen = now
	rl.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return time.Second, false
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return delay, false
	}
	return 0, true
}

func (rl *RateLimiter) evictLocked(now time.Time) {
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.cfg.IdleTTL {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) reject(c *fiber.Ctx, limit int, wait time.Duration) error {
	retryAfter := int(math.Ceil(wait.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Set("X-RateLimit-Remaining", "0")
	c.Set("Retry-After", strconv.Itoa(retryAfter))
	return apperr.RateLimited(retryAfter)
}
