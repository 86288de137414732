package handlers

import (
	"net/http"

	"faultgate/internal/lifecycle"

	"github.com/gin-gonic/gin"
)

// StatusProvider exposes the derived lifecycle snapshot
type StatusProvider interface {
	Status() lifecycle.Status
}

// StatusHandler handles alarm pipeline status requests
type StatusHandler struct {
	lifecycle StatusProvider
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(provider StatusProvider) *StatusHandler {
	return &StatusHandler{lifecycle: provider}
}

// GetAlarmStatus handles GET /v1/alarms/status
func (h *StatusHandler) GetAlarmStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.lifecycle.Status())
}
