package middleware

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"delivery-tracker/internal/config"
)

// CORSMiddleware builds the gin-contrib/cors handler for the control API. A
// "*" origin allows every origin, which gin-contrib/cors only accepts through
// AllowAllOrigins.
func CORSMiddleware(cfg *config.CORSConfig) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods:     cfg.AllowedMethods,
		AllowHeaders:     cfg.AllowedHeaders,
		ExposeHeaders:    cfg.ExposedHeaders,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           time.Duration(cfg.MaxAge) * time.Second,
	}

	if slices.Contains(cfg.AllowedOrigins, "*") && !cfg.AllowCredentials {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = slices.DeleteFunc(slices.Clone(cfg.AllowedOrigins), func(o string) bool {
			return o == "*"
		})
	}

	return cors.New(corsConfig)
}
