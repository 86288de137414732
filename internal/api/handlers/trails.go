package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"faultgate/internal/api/middleware"
	"faultgate/internal/platform"
	"faultgate/internal/trails"

	"github.com/gin-gonic/gin"
)

// Credentials is the part of the credential store the proxy endpoints need
type Credentials interface {
	IsValid() bool
	AcquireInitial(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// TrailsClient performs the read-only network queries
type TrailsClient interface {
	TrailList(ctx context.Context, networkID string) (json.RawMessage, error)
	CurrentRoute(ctx context.Context, trailID string) (json.RawMessage, error)
}

// TrailsHandler proxies trail queries to the platform
type TrailsHandler struct {
	credentials Credentials
	client      TrailsClient
	logger      *slog.Logger
}

// NewTrailsHandler creates a new trails handler
func NewTrailsHandler(credentials Credentials, client TrailsClient, logger *slog.Logger) *TrailsHandler {
	return &TrailsHandler{
		credentials: credentials,
		client:      client,
		logger:      logger,
	}
}

// GetTrailList handles GET /v1/trail_list?network_id=
func (h *TrailsHandler) GetTrailList(c *gin.Context) {
	networkID := c.Query("network_id")
	if networkID == "" {
		middleware.AbortWithError(c, http.StatusBadRequest, middleware.CodeInvalidRequest, "network_id is required")
		return
	}

	h.proxy(c, "trail_list", func(ctx context.Context) (json.RawMessage, error) {
		return h.client.TrailList(ctx, networkID)
	})
}

// GetCurrentRoute handles GET /v1/trails/:trail_id/current_route
func (h *TrailsHandler) GetCurrentRoute(c *gin.Context) {
	trailID := c.Param("trail_id")

	h.proxy(c, "current_route", func(ctx context.Context) (json.RawMessage, error) {
		return h.client.CurrentRoute(ctx, trailID)
	})
}

func (h *TrailsHandler) proxy(c *gin.Context, query string, call func(ctx context.Context) (json.RawMessage, error)) {
	ctx := c.Request.Context()

	if err := h.ensureCredential(ctx); err != nil {
		h.logger.Error("Credential unavailable",
			"component", "api",
			"query", query,
			"error", err,
		)
		middleware.AbortWithError(c, http.StatusServiceUnavailable, middleware.CodeAuthUnavailable, "Platform credential unavailable")
		return
	}

	body, err := call(ctx)
	if err != nil {
		status, code, message := mapTrailsError(err)
		h.logger.Warn("Trail query failed",
			"component", "api",
			"query", query,
			"status", status,
			"error", err,
		)
		middleware.AbortWithError(c, status, code, message)
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// ensureCredential refreshes an expired credential, falling back to a full
// acquisition when there is nothing to refresh or the refresh is rejected.
func (h *TrailsHandler) ensureCredential(ctx context.Context) error {
	if h.credentials.IsValid() {
		return nil
	}

	err := h.credentials.Refresh(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, platform.ErrAuth) || errors.Is(err, platform.ErrState) {
		return h.credentials.AcquireInitial(ctx)
	}
	return err
}

func mapTrailsError(err error) (int, string, string) {
	switch {
	case errors.Is(err, trails.ErrUnauthorized):
		return http.StatusServiceUnavailable, middleware.CodeAuthRejected, "Platform rejected the credential"
	case errors.Is(err, trails.ErrNotFound):
		return http.StatusNotFound, middleware.CodeNotFound, "Resource not found"
	case errors.Is(err, trails.ErrTimeout):
		return http.StatusGatewayTimeout, middleware.CodeUpstreamTimeout, "Platform did not respond in time"
	default:
		return http.StatusBadGateway, middleware.CodeBadGateway, "Platform request failed"
	}
}
