package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/solarops/activity/pkg/metrics"
)

// Metrics observes request latency per route template. Unrouted paths share one label so
// scanners cannot inflate cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.APILatency.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
