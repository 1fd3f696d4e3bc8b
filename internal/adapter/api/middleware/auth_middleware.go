package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"chatsync/internal/infrastructure/auth"
	"chatsync/pkg/errors"
	"chatsync/pkg/response"
)

type AuthMiddleware struct {
	issuer *auth.Issuer
}

func NewAuthMiddleware(issuer *auth.Issuer) *AuthMiddleware {
	return &AuthMiddleware{
		issuer: issuer,
	}
}

// Authenticate requires a bearer access token and stores its subject as "uid".
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return response.Error(c, errors.Unauthorized("Authorization header is required", nil))
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return response.Error(c, errors.Unauthorized("Invalid authorization format", nil))
		}

		uid, err := m.GetUIDFromToken(parts[1])
		if err != nil {
			return response.Error(c, err)
		}

		c.Set("uid", uid)
		return next(c)
	}
}

func (m *AuthMiddleware) GetUIDFromToken(token string) (string, error) {
	return m.issuer.Verify(token, auth.TokenTypeAccess)
}
