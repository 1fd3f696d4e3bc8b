package router

import (
	"github.com/labstack/echo/v4"

	"chatsync/internal/adapter/api/handler"
	"chatsync/internal/adapter/api/middleware"
	"chatsync/internal/infrastructure/ratelimit"
)

func SetupAuthRouter(e *echo.Echo, authHandler *handler.AuthHandler, limiter *ratelimit.RateLimiter) {
	group := e.Group("/api/auth")
	if limiter != nil {
		group.Use(middleware.RateLimit(limiter))
	}
	group.POST("/refresh", authHandler.RefreshToken)
}
