// Package v1 provides the viewer API handlers.
package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/tracelens/internal/domain"
	"github.com/xiaot623/gogo/tracelens/internal/service"
)

// Handler handles viewer API requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the viewer routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/executions", h.RegisterExecution)
	e.GET("/v1/executions/:execution_id/trace", h.GetTrace)
	e.GET("/v1/executions/:execution_id/otlp", h.ExportOTLP)
	e.POST("/v1/executions/:execution_id/refresh", h.RefreshExecution)
	e.POST("/v1/executions/:execution_id/load_more", h.LoadMore)
	e.POST("/v1/executions/:execution_id/activate", h.Activate)

	e.POST("/v1/refresh", h.Refresh)
	e.POST("/v1/updates", h.PushUpdate)

	e.GET("/healthz", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, ErrorResponse{Error: msg})
}

// serviceError maps service errors that are not fetch failures.
func serviceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrUnknownExecution):
		return errorJSON(c, http.StatusNotFound, "execution not found")
	case errors.Is(err, service.ErrClosed):
		return errorJSON(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrInvalidUpdate):
		return errorJSON(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errorJSON(c, http.StatusServiceUnavailable, "request cancelled")
	default:
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
}
