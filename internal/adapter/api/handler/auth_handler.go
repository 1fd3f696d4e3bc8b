package handler

import (
	"github.com/labstack/echo/v4"

	"chatsync/internal/infrastructure/auth"
	"chatsync/pkg/response"
)

type AuthHandler struct {
	issuer *auth.Issuer
}

func NewAuthHandler(issuer *auth.Issuer) *AuthHandler {
	return &AuthHandler{
		issuer: issuer,
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshToken trades a refresh token for a new pair.
func (h *AuthHandler) RefreshToken(c echo.Context) error {
	var req refreshRequest
	if err := bind(c, &req); err != nil {
		return response.Error(c, err)
	}

	access, refresh, err := h.issuer.Refresh(req.RefreshToken)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, tokenResponse{AccessToken: access, RefreshToken: refresh})
}
