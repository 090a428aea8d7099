// Package http provides the viewer HTTP server.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/xiaot623/gogo/tracelens/internal/hub"
	"github.com/xiaot623/gogo/tracelens/internal/logger"
	"github.com/xiaot623/gogo/tracelens/internal/service"
	v1 "github.com/xiaot623/gogo/tracelens/internal/transport/http/v1"
)

// NewServer creates the echo server exposing the viewer API, the viewer
// websocket and metrics.
func NewServer(svc *service.Service, ws *hub.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(requestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	v1.NewHandler(svc).RegisterRoutes(e)
	if ws != nil {
		e.GET("/v1/ws", ws.HandleWebSocket)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

// requestLogger writes one logrus line per request.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.Logger.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency,
			})
			if v.Error != nil {
				entry.WithError(v.Error).Error("request failed")
				return nil
			}
			entry.Debug("request")
			return nil
		},
	})
}
