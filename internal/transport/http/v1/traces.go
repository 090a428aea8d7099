package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/tracelens/internal/adapter/traceapi"
	"github.com/xiaot623/gogo/tracelens/internal/domain"
	"github.com/xiaot623/gogo/tracelens/internal/export"
	"github.com/xiaot623/gogo/tracelens/internal/service"
	"github.com/xiaot623/gogo/tracelens/internal/viewer"
)

// FetchResponse is returned by refresh and load_more.
type FetchResponse struct {
	Started bool         `json:"started"`
	Trace   viewer.Model `json:"trace"`
	Error   string       `json:"error,omitempty"`
}

// RegisterExecution records caller-known execution fields.
func (h *Handler) RegisterExecution(c echo.Context) error {
	var req domain.ExecutionSummary
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.ExecutionID == "" {
		return errorJSON(c, http.StatusBadRequest, "execution_id is required")
	}

	if _, err := h.service.RegisterExecution(req); err != nil {
		return serviceError(c, err)
	}
	return h.project(c, req.ExecutionID)
}

// GetTrace returns the current projection of an execution.
func (h *Handler) GetTrace(c echo.Context) error {
	return h.project(c, c.Param("execution_id"))
}

// ExportOTLP returns the cached spans as OTLP JSON.
func (h *Handler) ExportOTLP(c echo.Context) error {
	entry, err := h.service.Entry(c.Param("execution_id"))
	if err != nil {
		return serviceError(c, err)
	}
	data, err := export.MarshalJSON(entry)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
}

// RefreshExecution reloads the first page of an execution.
func (h *Handler) RefreshExecution(c echo.Context) error {
	return h.fetch(c, domain.FetchModeRefresh)
}

// LoadMore fetches the next page of an execution.
func (h *Handler) LoadMore(c echo.Context) error {
	return h.fetch(c, domain.FetchModeLoadMore)
}

// Activate pins the execution being viewed.
func (h *Handler) Activate(c echo.Context) error {
	executionID := c.Param("execution_id")
	h.service.SetActive(executionID)
	return h.project(c, executionID)
}

// RefreshResponse is returned by the workflow-wide refresh.
type RefreshResponse struct {
	Refreshed []string `json:"refreshed"`
	Error     string   `json:"error,omitempty"`
}

// Refresh refreshes the active execution and newly listed executions.
func (h *Handler) Refresh(c echo.Context) error {
	targets, err := h.service.RefreshAll(c.Request().Context())
	if targets == nil {
		targets = []string{}
	}
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, RefreshResponse{Refreshed: targets})
	case errors.Is(err, service.ErrClosed):
		return serviceError(c, err)
	default:
		return c.JSON(http.StatusBadGateway, RefreshResponse{Refreshed: targets, Error: traceapi.Message(err)})
	}
}

// PushUpdate applies a pushed live update.
func (h *Handler) PushUpdate(c echo.Context) error {
	var update domain.LiveUpdate
	if err := c.Bind(&update); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	entry, err := h.service.ApplyLiveUpdate(c.Request().Context(), update)
	if err != nil {
		return serviceError(c, err)
	}
	return h.project(c, entry.ExecutionID)
}

func (h *Handler) fetch(c echo.Context, mode domain.FetchMode) error {
	executionID := c.Param("execution_id")
	res, err := h.service.FetchTracePage(c.Request().Context(), executionID, mode)
	if err != nil && (res.Entry.ExecutionID == "" || errors.Is(err, service.ErrClosed)) {
		return serviceError(c, err)
	}

	model, perr := h.service.Project(executionID)
	if perr != nil {
		return serviceError(c, perr)
	}
	resp := FetchResponse{Started: res.Started, Trace: model}
	if err != nil {
		resp.Error = traceapi.Message(err)
		return c.JSON(http.StatusBadGateway, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) project(c echo.Context, executionID string) error {
	model, err := h.service.Project(executionID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(http.StatusOK, model)
}
