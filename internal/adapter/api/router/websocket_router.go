package router

import (
	"github.com/labstack/echo/v4"

	"chatsync/internal/adapter/api/handler"
)

// SetupWebSocketRouter routes the socket. Authentication happens in the handler
// because browsers cannot set headers on the handshake.
func SetupWebSocketRouter(e *echo.Echo, path string, wsHandler *handler.WebSocketHandler) {
	if path == "" {
		path = "/ws"
	}
	e.GET(path, wsHandler.HandleWebSocket)
}
