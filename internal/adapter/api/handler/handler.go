package handler

import (
	"github.com/labstack/echo/v4"

	"chatsync/pkg/errors"
)

// bind decodes and validates the request body into req.
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return errors.BadRequest("Invalid request body", err)
	}
	return c.Validate(req)
}

func currentUser(c echo.Context) (string, error) {
	uid, ok := c.Get("uid").(string)
	if !ok || uid == "" {
		return "", errors.Unauthorized("Authentication required", nil)
	}
	return uid, nil
}
