package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL evicts limiters for clients not seen for this long.
	IdleTTL time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 20,
		BurstSize:         40,
		IdleTTL:           10 * time.Minute,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore keeps one token bucket per client key.
type limiterStore struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	cfg       RateLimitConfig
	now       func() time.Time
	lastSweep time.Time
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	return &limiterStore{
		visitors: make(map[string]*visitor),
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cfg.IdleTTL > 0 && now.Sub(s.lastSweep) > s.cfg.IdleTTL {
		for k, v := range s.visitors {
			if now.Sub(v.lastSeen) > s.cfg.IdleTTL {
				delete(s.visitors, k)
			}
		}
		s.lastSweep = now
	}

	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)}
		s.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

// retryAfterSeconds is how long until the limiter will admit one request.
func retryAfterSeconds(l *rate.Limiter) int {
	r := l.Reserve()
	if !r.OK() {
		return 1
	}
	delay := r.Delay()
	r.Cancel()
	return int(math.Max(1, math.Ceil(delay.Seconds())))
}

// RateLimit limits requests per client IP and answers 429 with Retry-After.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newLimiterStore(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			limiter := store.get(c.RealIP())
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)

			if !limiter.Allow() {
				h.Set("Retry-After", strconv.Itoa(retryAfterSeconds(limiter)))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
