package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sfu-fas/coursys-sub000/internal/service"
)

// Metrics captures request counts and latency. Unmatched routes are folded
// into one label so scanners cannot blow up the series count.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
