package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"faultgate/internal/api/middleware"
	"faultgate/internal/storage"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// MessagesHandler handles stored message requests
type MessagesHandler struct {
	sink   storage.Sink
	lister storage.Lister
	logger *slog.Logger
}

// NewMessagesHandler creates a new messages handler. lister may be nil when
// the configured sink cannot be queried.
func NewMessagesHandler(sink storage.Sink, lister storage.Lister, logger *slog.Logger) *MessagesHandler {
	return &MessagesHandler{
		sink:   sink,
		lister: lister,
		logger: logger,
	}
}

// GetStats handles GET /v1/messages/stats
func (h *MessagesHandler) GetStats(c *gin.Context) {
	count := h.sink.Count()
	size := h.sink.SizeBytes()

	h.logger.Debug("Sink stats requested",
		"component", "api",
		"sink", storage.NameOf(h.sink),
		"count", count,
		"size_bytes", size,
	)

	c.JSON(http.StatusOK, gin.H{
		"count":      count,
		"size_bytes": size,
	})
}

// ListMessages handles GET /v1/messages?severity=&limit=
func (h *MessagesHandler) ListMessages(c *gin.Context) {
	if h.lister == nil {
		middleware.AbortWithError(c, http.StatusNotImplemented, middleware.CodeNotSupported, "Configured sink cannot be queried")
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			middleware.AbortWithError(c, http.StatusBadRequest, middleware.CodeInvalidRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	severity := c.Query("severity")

	messages, err := h.lister.List(c.Request.Context(), severity, limit)
	if err != nil {
		h.logger.Error("Failed to list messages",
			"component", "api",
			"severity", severity,
			"error", err,
		)
		middleware.AbortWithError(c, http.StatusInternalServerError, middleware.CodeSinkError, "Failed to read stored messages")
		return
	}
	if messages == nil {
		messages = []storage.StoredMessage{}
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
	})
}
