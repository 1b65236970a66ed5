package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/iamgideonidoko/pulse/internal/config"
	"github.com/iamgideonidoko/pulse/internal/metrics"
	"github.com/iamgideonidoko/pulse/pkg/logger"
)

// Limiter counts requests per identifier within a window.
type Limiter interface {
	CheckRateLimit(ctx context.Context, identifier string, limit int, window time.Duration) (bool, error)
}

type RateLimiter struct {
	limiter Limiter
	config  *config.RateLimitConfig
}

func NewRateLimiter(limiter Limiter, config *config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		limiter: limiter,
		config:  config,
	}
}

// LimitByIP rate limits requests by IP address. Limiter errors fail open.
func (rl *RateLimiter) LimitByIP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		identifier := fmt.Sprintf("ip:%s", c.IP())

		allowed, err := rl.limiter.CheckRateLimit(
			c.Context(),
			identifier,
			rl.config.Requests,
			rl.config.Window,
		)

		if err != nil {
			logger.Warn("Rate limiter unavailable", map[string]any{"error": err.Error()})
			return c.Next()
		}

		if !allowed {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success":     false,
				"error":       "Rate limit exceeded",
				"retry_after": rl.config.Window.Seconds(),
			})
		}

		return c.Next()
	}
}

func CORS(origins []string) fiber.Handler {
	allowedOrigins := make(map[string]bool)
	for _, origin := range origins {
		allowedOrigins[origin] = true
	}

	return func(c *fiber.Ctx) error {
		origin := c.Get("Origin")

		if origin != "" && (allowedOrigins["*"] || allowedOrigins[origin]) {
			c.Set("Access-Control-Allow-Origin", origin)
			c.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Set("Access-Control-Max-Age", "3600")
			c.Set("Vary", "Origin")
		}

		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(http.StatusNoContent)
		}

		return c.Next()
	}
}

// Logger logs each request and records its latency under the matched route.
func Logger(anonymize bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		route := c.Route().Path
		metrics.ObserveRequest(c.Method(), route, status, duration)

		ip := c.IP()
		if anonymize {
			ip = AnonymizeIP(ip)
		}
		fields := map[string]any{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      status,
			"duration_ms": duration.Milliseconds(),
			"ip":          ip,
		}
		if status >= fiber.StatusInternalServerError {
			logger.Error("Request failed", fields)
		} else {
			logger.Debug("Request handled", fields)
		}

		return err
	}
}

func Recover() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Recovered from panic", map[string]any{
					"panic": fmt.Sprint(r),
					"path":  c.Path(),
				})
				err = c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"success": false,
					"error":   "Internal server error",
				})
			}
		}()
		return c.Next()
	}
}

// AnonymizeIP zeroes the last octet of IPv4 addresses and the last 80 bits
// of IPv6 addresses. Unparseable input is returned unchanged.
func AnonymizeIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	bits := 48
	if addr.Is4() || addr.Is4In6() {
		addr = addr.Unmap()
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return ip
	}
	return prefix.Addr().String()
}
