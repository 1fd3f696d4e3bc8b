package middleware

import (
	"math"
	"strconv"

	"github.com/labstack/echo/v4"

	"chatsync/internal/infrastructure/ratelimit"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
	"chatsync/pkg/response"
)

// RateLimit throttles requests per caller and route. Authenticated callers are
// keyed by user id, everyone else by IP.
func RateLimit(limiter *ratelimit.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key, _ := c.Get("uid").(string)
			if key == "" {
				key = c.RealIP()
			}

			allowed, wait := limiter.Allow(key, c.Request().Method+" "+c.Path())
			if !allowed {
				logger.Warn("RATE LIMIT: blocked %s on %s (retry in %v)", key, c.Path(), wait)
				c.Response().Header().Set("Retry-After", formatSeconds(wait.Seconds()))
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded"))
			}
			return next(c)
		}
	}
}

func formatSeconds(s float64) string {
	n := int(math.Ceil(s))
	if n < 1 {
		n = 1
	}
	return strconv.Itoa(n)
}
