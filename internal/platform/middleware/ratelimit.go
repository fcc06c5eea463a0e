package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds token bucket parameters.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// limiterStore keeps one token bucket per client key.
type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      RateLimitConfig
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	return &limiterStore{
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)
		s.limiters[key] = l
	}
	return l
}

func tooManyRequests(c echo.Context) error {
	c.Response().Header().Set("Retry-After", "1")
	return c.JSON(http.StatusTooManyRequests, map[string]any{
		"error": map[string]any{
			"kind":    "rate_limited",
			"message": "too many requests",
		},
	})
}

// RateLimit throttles per client IP across the whole surface.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newLimiterStore(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !store.get(c.RealIP()).Allow() {
				return tooManyRequests(c)
			}
			return next(c)
		}
	}
}

// LoginRateLimit applies a tighter bucket to credential endpoints,
// keyed by IP plus the submitted identifier so one address cannot
// spray a single account.
func LoginRateLimit(cfg RateLimitConfig, paths ...string) echo.MiddlewareFunc {
	store := newLimiterStore(cfg)
	match := make(map[string]bool, len(paths))
	for _, p := range paths {
		match[p] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !match[c.Path()] && !match[strings.TrimSuffix(c.Request().URL.Path, "/")] {
				return next(c)
			}
			if !store.get(c.RealIP()).Allow() {
				return tooManyRequests(c)
			}
			return next(c)
		}
	}
}
