package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opscope/opscope/internal/pkg/metrics"
)

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		metrics.RequestDuration.WithLabelValues(c.FullPath()).Observe(duration)
	}
}
