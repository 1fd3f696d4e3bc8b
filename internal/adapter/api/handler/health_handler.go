package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// StatusFunc adds component details to the health answer.
type StatusFunc func() map[string]interface{}

type HealthHandler struct {
	started time.Time
	status  StatusFunc
}

func NewHealthHandler(status StatusFunc) *HealthHandler {
	return &HealthHandler{
		started: time.Now(),
		status:  status,
	}
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	body := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.status != nil {
		for k, v := range h.status() {
			body[k] = v
		}
	}
	return c.JSON(http.StatusOK, body)
}
