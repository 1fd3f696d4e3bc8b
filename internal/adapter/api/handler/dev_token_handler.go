package handler

import (
	"github.com/labstack/echo/v4"

	"chatsync/internal/infrastructure/auth"
	"chatsync/pkg/logger"
	"chatsync/pkg/response"
)

// DevTokenHandler issues tokens for any user id. It is only routed in development.
type DevTokenHandler struct {
	issuer *auth.Issuer
}

func NewDevTokenHandler(issuer *auth.Issuer) *DevTokenHandler {
	return &DevTokenHandler{
		issuer: issuer,
	}
}

type devTokenRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
}

func (h *DevTokenHandler) GenerateUserToken(c echo.Context) error {
	var req devTokenRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}

	access, refresh, err := h.issuer.IssuePair(req.UserID)
	if err != nil {
		return response.Error(c, err)
	}

	logger.Info("DEV: issued tokens for %s", req.UserID)
	return response.Created(c, tokenResponse{AccessToken: access, RefreshToken: refresh})
}
