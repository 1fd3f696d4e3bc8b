package handler

import (
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"chatsync/internal/adapter/api/middleware"
	ws "chatsync/internal/infrastructure/websocket"
	"chatsync/pkg/errors"
	"chatsync/pkg/logger"
	"chatsync/pkg/response"
)

type WebSocketHandler struct {
	wsManager      *ws.Manager
	authMiddleware *middleware.AuthMiddleware
	sendBuffer     int
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewWebSocketHandler(wsManager *ws.Manager, authMiddleware *middleware.AuthMiddleware) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager:      wsManager,
		authMiddleware: authMiddleware,
		sendBuffer:     256,
	}
}

// HandleWebSocket authenticates the handshake with the token query parameter
// and attaches the socket to the relay.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return response.Error(c, errors.Unauthorized("Token is required", nil))
	}

	userID, err := h.authMiddleware.GetUIDFromToken(token)
	if err != nil {
		logger.Warn("WebSocket: rejected handshake: %v", err)
		return response.Error(c, err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket: upgrade failed for %s: %v", userID, err)
		return nil
	}

	client := ws.NewClient(userID, conn, h.sendBuffer)
	h.wsManager.Register(client)

	go client.WritePump(h.wsManager)
	go client.ReadPump(h.wsManager)

	return nil
}
