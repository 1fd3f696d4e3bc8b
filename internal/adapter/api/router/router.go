package router

import (
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatsync/internal/adapter/api"
	"chatsync/internal/adapter/api/handler"
	"chatsync/pkg/response"
)

// New returns an echo instance with the shared middleware, validator and
// error handler.
func New() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		response.Error(c, err)
	}
	return e
}

// SetupMetricsRouter serves the collectors of registry in the Prometheus format.
func SetupMetricsRouter(e *echo.Echo, registry *prometheus.Registry) {
	if registry == nil {
		return
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
}

func SetupHealthRouter(e *echo.Echo, healthHandler *handler.HealthHandler) {
	e.GET("/health", healthHandler.CheckHealth)
}
