package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"delivery-tracker/internal/logger"
)

// LoggingMiddleware logs one line per control API request. Probes listed in
// quiet are logged at debug level so health checks do not flood the log.
func LoggingMiddleware(quiet ...string) gin.HandlerFunc {
	quietPaths := make(map[string]struct{}, len(quiet))
	for _, p := range quiet {
		quietPaths[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		statusCode := c.Writer.Status()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("route", c.FullPath()),
			zap.String("ip", c.ClientIP()),
			zap.Int("status_code", statusCode),
			zap.Int("response_size", c.Writer.Size()),
			zap.Duration("latency", time.Since(start)),
		}
		if query := c.Request.URL.RawQuery; query != "" {
			fields = append(fields, zap.String("query", query))
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			fields = append(fields, zap.String("error", errs))
		}

		log := logger.WithRequestID(GetRequestID(c))

		switch {
		case statusCode >= 500:
			log.Error("Request failed", fields...)
		case statusCode >= 400:
			log.Warn("Request rejected", fields...)
		default:
			if _, ok := quietPaths[path]; ok {
				log.Debug("Request served", fields...)
				return
			}
			log.Info("Request served", fields...)
		}
	}
}
