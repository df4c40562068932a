package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestRateLimiterAllow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Minute)
	base := time.Now()

	if allowed, _ := rl.Allow("k", base); !allowed {
		t.Fatal("first request must pass")
	}
	if allowed, _ := rl.Allow("k", base.Add(time.Second)); !allowed {
		t.Fatal("second request must pass")
	}

	allowed, retryAfter := rl.Allow("k", base.Add(2*time.Second))
	if allowed {
		t.Fatal("third request within the window must be rejected")
	}
	if retryAfter != 58*time.Second {
		t.Fatalf("unexpected retry-after: got %v want %v", retryAfter, 58*time.Second)
	}

	if allowed, _ := rl.Allow("k", base.Add(time.Minute+2*time.Second)); !allowed {
		t.Fatal("request after the window must pass")
	}
}

func TestRateLimiterIsolatesKeys(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Minute)
	now := time.Now()

	if allowed, _ := rl.Allow("a", now); !allowed {
		t.Fatal("first key must pass")
	}
	if allowed, _ := rl.Allow("b", now); !allowed {
		t.Fatal("second key must not share the first key's budget")
	}
	if allowed, _ := rl.Allow("a", now.Add(time.Second)); allowed {
		t.Fatal("first key must be exhausted")
	}
}

func TestRateLimitMiddleware_LimitsPerUser(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	handler := rl.Middleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	app := &App{}

	cc, rec := newTestContext(t, app, "")
	cc.User = &AppUser{UserID: 7}
	if err := handler(cc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}

	cc, rec = newTestContext(t, app, "")
	cc.User = &AppUser{UserID: 7}
	if err := handler(cc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header")
	}
}

func TestRateLimitMiddleware_MasterExempt(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	handler := rl.Middleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	app := &App{}

	for i := 0; i < 3; i++ {
		cc, rec := newTestContext(t, app, "")
		cc.User = &AppUser{UserID: 1, Master: true}
		if err := handler(cc); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: unexpected status: got %d want %d", i, rec.Code, http.StatusOK)
		}
	}
}
