package router

import (
	"github.com/labstack/echo/v4"

	"chatsync/internal/adapter/api/handler"
)

// SetupSessionRouter sets up the local inspect API of a running session.
func SetupSessionRouter(e *echo.Echo, sessionHandler *handler.SessionHandler) {
	e.GET("/session", sessionHandler.GetSession)
	e.GET("/presence/:userId", sessionHandler.GetPresence)

	conversations := e.Group("/conversations")
	conversations.GET("", sessionHandler.ListConversations)
	conversations.POST("/close", sessionHandler.CloseConversation)
	conversations.GET("/:id", sessionHandler.GetConversation)
	conversations.POST("/:id/open", sessionHandler.OpenConversation)
	conversations.POST("/:id/messages", sessionHandler.SendMessage)
	conversations.POST("/:id/messages/:clientId/retry", sessionHandler.RetryMessage)
	conversations.POST("/:id/recall", sessionHandler.RecallMessage)
	conversations.POST("/:id/typing", sessionHandler.Keystroke)
}
