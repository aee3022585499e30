package routes

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"delivery-tracker/internal/config"
	"delivery-tracker/internal/delivery/http/handler"
	"delivery-tracker/internal/logger"
	"delivery-tracker/internal/middleware"
	"delivery-tracker/internal/tracking"
)

// HealthChecker reports whether a backing dependency is usable.
type HealthChecker interface {
	Health() error
}

// Deps are the runtime components exposed through the control API.
type Deps struct {
	Store *tracking.Store
	Stats handler.StatsProvider
	// Cache is probed by /health when the backend supports it.
	Cache HealthChecker
}

func SetupRoutes(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware("/health"))
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.CORSMiddleware(&cfg.CORS))
	router.Use(middleware.RequestSizeLimitMiddleware(middleware.DefaultMaxRequestSize))
	router.Use(middleware.RateLimitMiddleware(ctx, cfg.RateLimit.GeneralRPS, cfg.RateLimit.GeneralBurst))

	router.GET("/health", func(c *gin.Context) {
		state, connErr := deps.Store.ConnectionState()
		body := gin.H{
			"status":           "healthy",
			"connection_state": state,
			"offline":          deps.Store.IsOffline(),
		}
		if connErr != "" {
			body["connection_error"] = connErr
		}

		if deps.Cache != nil {
			if err := deps.Cache.Health(); err != nil {
				body["status"] = "unhealthy"
				body["message"] = "Cache backend unavailable"
				c.JSON(http.StatusServiceUnavailable, body)
				return
			}
		}

		c.JSON(http.StatusOK, body)
	})

	trackingHandler := handler.NewTrackingHandler(deps.Store, deps.Stats)

	v1 := router.Group("/api/v1")
	{
		trackingHandler.RegisterRoutes(v1)
	}

	logger.Info("All routes initialized")
	return router
}
