package router

import (
	"github.com/labstack/echo/v4"

	"chatsync/internal/adapter/api/handler"
	"chatsync/internal/adapter/api/middleware"
	"chatsync/internal/infrastructure/ratelimit"
)

// SetupChatRouter sets up the relay's REST routes (the socket is routed separately).
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	group := e.Group("/api")
	group.Use(authMiddleware.Authenticate)
	if limiter != nil {
		group.Use(middleware.RateLimit(limiter))
	}

	group.GET("/messages/:id", chatHandler.GetMessages) // GET /api/messages/:id - conversation history
	group.POST("/messages", chatHandler.SendMessage)    // POST /api/messages - send while the socket is down
	group.POST("/matches", chatHandler.CreateMatch)
	group.GET("/presence", chatHandler.OnlineUsers)
}
