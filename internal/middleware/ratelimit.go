package middleware

import (
	"time"

	"github.com/gloriousnetworker/nysc-backend/internal/config"
	"github.com/gloriousnetworker/nysc-backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimit throttles credential endpoints per client IP. A non-positive
// Max disables it.
func RateLimit(cfg config.RateLimitConfig) fiber.Handler {
	if cfg.Max <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}

	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}

	return limiter.New(limiter.Config{
		Max:        cfg.Max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.Error(c, fiber.StatusTooManyRequests, "Too many requests. Please try again later")
		},
	})
}
