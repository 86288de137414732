package api

import (
	"log/slog"
	"net/http"

	"faultgate/internal/api/handlers"
	"faultgate/internal/api/middleware"
	"faultgate/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds dependencies for the API router
type RouterConfig struct {
	Credentials handlers.Credentials
	Lifecycle   handlers.StatusProvider
	Sink        storage.Sink
	Messages    storage.Lister // Optional: GET /v1/messages answers 501 without it
	Trails      handlers.TrailsClient
	Gatherer    prometheus.Gatherer // Optional: /metrics is not registered without it
	APIKey      string
	Version     string
	Logger      *slog.Logger
}

// NewRouter creates and configures the Gin router
func NewRouter(config RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(config.Logger))
	router.Use(middleware.Logging(config.Logger))
	router.Use(middleware.NoiseFilter(config.Logger))

	router.NoRoute(func(c *gin.Context) {
		middleware.AbortWithError(c, http.StatusNotFound, middleware.CodeNotFound, "Route not found")
	})

	// Service info and health check (no auth)
	healthHandler := handlers.NewHealthHandler(config.Credentials, config.Version)
	router.GET("/", healthHandler.GetRoot)
	router.GET("/health", healthHandler.GetHealth)

	if config.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(config.Gatherer, promhttp.HandlerOpts{})))
	}

	// API v1 routes (with authentication)
	v1 := router.Group("/v1")
	v1.Use(middleware.APIKeyAuth(config.APIKey))
	{
		statusHandler := handlers.NewStatusHandler(config.Lifecycle)
		v1.GET("/alarms/status", statusHandler.GetAlarmStatus)

		messagesHandler := handlers.NewMessagesHandler(config.Sink, config.Messages, config.Logger)
		v1.GET("/messages", messagesHandler.ListMessages)
		v1.GET("/messages/stats", messagesHandler.GetStats)

		trailsHandler := handlers.NewTrailsHandler(
			config.Credentials,
			config.Trails,
			config.Logger,
		)
		v1.GET("/trail_list", trailsHandler.GetTrailList)
		v1.GET("/trails/:trail_id/current_route", trailsHandler.GetCurrentRoute)
	}

	return router
}
