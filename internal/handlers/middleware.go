package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yishak-cs/cartrecs/internal/logger"
)

// RequestLogger logs one line per request through log.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	log = log.With("component", "HTTP")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		kv := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if len(c.Errors) > 0 {
			kv = append(kv, "errors", c.Errors.String())
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Error("HTTP request", kv...)
		case c.Writer.Status() >= 400:
			log.Warn("HTTP request", kv...)
		default:
			log.Debug("HTTP request", kv...)
		}
	}
}
