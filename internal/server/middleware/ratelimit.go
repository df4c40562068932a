package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimiter tracks request timestamps per caller+endpoint in a sliding
// window. State is in-memory and per process; stale entries are pruned on
// the way through, so the map stays bounded by active callers.
type RateLimiter struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	requests  map[string][]time.Time
	lastPrune time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		window:   window,
		requests: make(map[string][]time.Time),
	}
}

// Allow records a request for the key and reports whether it fits the
// window. When it does not, the returned duration says how long until the
// oldest counted request ages out.
func (rl *RateLimiter) Allow(key string, now time.Time) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.window)

	if now.Sub(rl.lastPrune) > rl.window {
		for k, stamps := range rl.requests {
			kept := trimExpired(stamps, cutoff)
			if len(kept) == 0 {
				delete(rl.requests, k)
				continue
			}
			rl.requests[k] = kept
		}
		rl.lastPrune = now
	}

	stamps := trimExpired(rl.requests[key], cutoff)
	if len(stamps) >= rl.limit {
		rl.requests[key] = stamps
		return false, stamps[0].Sub(cutoff)
	}

	rl.requests[key] = append(stamps, now)
	return true, 0
}

func trimExpired(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	return stamps[idx:]
}

// Middleware enforces the limit per caller and route. Authenticated callers
// are keyed by user id, anonymous ones (the auth endpoints) by client IP;
// the master API key identity is exempt.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller := "ip:" + c.RealIP()
			if cc, ok := c.(*AppContext); ok && cc.User != nil {
				if cc.User.Master {
					return next(c)
				}
				caller = fmt.Sprintf("user:%d", cc.User.UserID)
			}

			key := caller + " " + c.Request().Method + " " + c.Path()
			allowed, retryAfter := rl.Allow(key, time.Now())
			if !allowed {
				seconds := int(retryAfter.Seconds()) + 1
				c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "Rate limit exceeded"})
			}

			return next(c)
		}
	}
}
