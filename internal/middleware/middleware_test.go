package middleware

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/iamgideonidoko/pulse/internal/config"
)

type countingLimiter struct {
	limit int
	seen  map[string]int
	err   error
}

func (l *countingLimiter) CheckRateLimit(_ context.Context, id string, limit int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.seen[id]++
	return l.seen[id] <= limit, nil
}

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"203.0.113.42", "203.0.113.0"},
		{"2001:db8:85a3:1234:5678:8a2e:370:7334", "2001:db8:85a3::"},
		{"::ffff:198.51.100.7", "198.51.100.0"},
		{"not-an-ip", "not-an-ip"},
	}
	for _, tt := range tests {
		if got := AnonymizeIP(tt.in); got != tt.want {
			t.Errorf("AnonymizeIP(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLimitByIP(t *testing.T) {
	limiter := &countingLimiter{seen: map[string]int{}}
	rl := NewRateLimiter(limiter, &config.RateLimitConfig{Requests: 2, Window: time.Minute})

	app := fiber.New()
	app.Use(rl.LimitByIP())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	want := []int{200, 200, 429}
	for i, status := range want {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if resp.StatusCode != status {
			t.Errorf("request %d: status %d, want %d", i, resp.StatusCode, status)
		}
	}
}

func TestLimitByIP_FailsOpen(t *testing.T) {
	limiter := &countingLimiter{err: errors.New("redis down")}
	rl := NewRateLimiter(limiter, &config.RateLimitConfig{Requests: 1, Window: time.Minute})

	app := fiber.New()
	app.Use(rl.LimitByIP())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Expected limiter errors to fail open, got %d", resp.StatusCode)
	}
}

func TestCORS(t *testing.T) {
	app := fiber.New()
	app.Use(CORS([]string{"https://shop.example"}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest("OPTIONS", "/", nil)
	req.Header.Set("Origin", "https://shop.example")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	if resp.StatusCode != 204 {
		t.Errorf("Expected 204 preflight, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://shop.example" {
		t.Errorf("Unexpected allow origin %q", got)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, _ = app.Test(req)
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Unlisted origin should not be allowed, got %q", got)
	}
}

func TestRecover(t *testing.T) {
	app := fiber.New()
	app.Use(Recover())
	app.Use(Logger(true))
	app.Get("/boom", func(c *fiber.Ctx) error { panic("kaboom") })

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 500 {
		t.Errorf("Expected 500 after panic, got %d", resp.StatusCode)
	}
}
