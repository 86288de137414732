package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServiceName is reported by the root and health endpoints
const ServiceName = "faultgate"

// TokenChecker reports whether the platform credential is currently usable
type TokenChecker interface {
	IsValid() bool
}

// HealthHandler handles health check requests
type HealthHandler struct {
	tokens  TokenChecker
	version string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(tokens TokenChecker, version string) *HealthHandler {
	return &HealthHandler{
		tokens:  tokens,
		version: version,
	}
}

// GetRoot handles GET /
func (h *HealthHandler) GetRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": ServiceName,
		"version": h.version,
		"status":  "running",
	})
}

// GetHealth handles GET /health
func (h *HealthHandler) GetHealth(c *gin.Context) {
	tokenValid := false
	if h.tokens != nil {
		tokenValid = h.tokens.IsValid()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"service":     ServiceName,
		"token_valid": tokenValid,
	})
}
