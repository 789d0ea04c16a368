// Package api contains the HTTP handlers for the story workflow service.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"storyapp/backend/internal/eventbus"
	"storyapp/backend/internal/logging"
	"storyapp/backend/internal/services"
	"storyapp/backend/pkg/models"
)

// Handler holds the dependencies for the workflow REST API.
type Handler struct {
	service *services.WorkflowService
	bus     *eventbus.Bus
	logger  *logging.Logger
}

// NewHandler creates a new Handler.
func NewHandler(service *services.WorkflowService, bus *eventbus.Bus, logger *logging.Logger) *Handler {
	return &Handler{service: service, bus: bus, logger: logger}
}

// RegisterHandlers mounts the workflow routes on the given group.
func RegisterHandlers(g *echo.Group, h *Handler) {
	g.GET("/workflows", h.List)
	g.POST("/workflows", h.Create)
	g.GET("/workflows/:id", h.Get)
	g.POST("/workflows/:id/retry", h.Retry)
	g.POST("/workflows/:id/terminate", h.Terminate)
	g.POST("/workflows/:id/rollback", h.Rollback)
	g.GET("/workflows/:id/events", h.Events)
	g.GET("/workflows/:id/stage-activity", h.StageActivity)
	g.GET("/workflows/:id/stream", h.Stream)
}

// HealthStatus is the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// Health returns basic health status (always 200 OK).
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "storyapp-backend",
		Version:   "1.0.0",
	})
}

// CreateWorkflowRequest is the POST /workflows body.
type CreateWorkflowRequest struct {
	Topic  string `json:"topic"`
	Locale string `json:"locale,omitempty"`
}

// TerminateWorkflowRequest is the POST /workflows/:id/terminate body.
type TerminateWorkflowRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RollbackWorkflowRequest is the POST /workflows/:id/rollback body.
type RollbackWorkflowRequest struct {
	RevisionID string `json:"revisionId"`
	Note       string `json:"note,omitempty"`
}

// Create starts a new workflow run.
func (h *Handler) Create(c echo.Context) error {
	var req CreateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"success": false,
			"error":   "INVALID_REQUEST",
			"message": err.Error(),
		})
	}
	h.logger.Info("create workflow request (topic=%q)", req.Topic)

	record, err := h.service.Create(c.Request().Context(), req.Topic, req.Locale)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": record})
}

// List returns a page of workflows.
func (h *Handler) List(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	var status models.StageStatus
	if raw := c.QueryParam("status"); raw != "" {
		switch models.StageStatus(raw) {
		case models.StagePending, models.StageRunning, models.StageCompleted, models.StageFailed:
			status = models.StageStatus(raw)
		default:
			return c.JSON(http.StatusBadRequest, echo.Map{
				"success": false,
				"error":   "INVALID_STATUS_FILTER",
				"message": "status 参数无效",
			})
		}
	}

	result, err := h.service.List(c.Request().Context(), page, limit, status)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": result})
}

// Get returns one workflow record.
func (h *Handler) Get(c echo.Context) error {
	record, err := h.service.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": record})
}

// Retry reruns a workflow's pipeline from scratch.
func (h *Handler) Retry(c echo.Context) error {
	record, err := h.service.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": record})
}

// Terminate stops a workflow and fails its remaining stages.
func (h *Handler) Terminate(c echo.Context) error {
	var req TerminateWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"success": false,
			"error":   "INVALID_REQUEST",
			"message": err.Error(),
		})
	}
	h.logger.Warn("terminate workflow %s (reason=%q)", c.Param("id"), req.Reason)

	record, err := h.service.Terminate(c.Request().Context(), c.Param("id"), req.Reason)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": record})
}

// Rollback restores a workflow to a historical revision.
func (h *Handler) Rollback(c echo.Context) error {
	var req RollbackWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"success": false,
			"error":   "INVALID_REQUEST",
			"message": err.Error(),
		})
	}
	if req.RevisionID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"success": false,
			"error":   "INVALID_REQUEST",
			"message": "revisionId_required",
		})
	}

	record, err := h.service.Rollback(c.Request().Context(), c.Param("id"), req.RevisionID, req.Note)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": record})
}

// Events returns the retained event history for a workflow.
func (h *Handler) Events(c echo.Context) error {
	events := h.service.EventHistory(c.Param("id"))
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": events})
}

// StageActivity returns the live stage telemetry for a workflow.
func (h *Handler) StageActivity(c echo.Context) error {
	summary := h.service.StageActivity(c.Param("id"))
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": summary})
}

// writeError maps service errors onto the response envelope.
func (h *Handler) writeError(c echo.Context, err error) error {
	var vErr *services.ValidationError
	var cfgErr *services.ConfigError

	switch {
	case errors.As(err, &vErr):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"success":  false,
			"error":    "INVALID_REQUEST",
			"messages": vErr.Messages,
		})
	case errors.Is(err, services.ErrRevisionNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{
			"success": false,
			"error":   "REVISION_NOT_FOUND",
			"message": err.Error(),
		})
	case errors.Is(err, services.ErrWorkflowNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{
			"success": false,
			"error":   "WORKFLOW_NOT_FOUND",
			"message": err.Error(),
		})
	case errors.As(err, &cfgErr):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{
			"success": false,
			"error":   "AI_SERVICE_UNAVAILABLE",
			"message": err.Error(),
		})
	default:
		h.logger.Error("request failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"success": false,
			"error":   "INTERNAL_ERROR",
			"message": err.Error(),
		})
	}
}
