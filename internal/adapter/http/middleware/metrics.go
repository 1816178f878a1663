package middleware

import (
	"strconv"
	"time"

	"cpay-gateway/internal/obs"

	"github.com/gin-gonic/gin"
)

// Metrics records request count, latency and in-flight gauge per route
// template. Unmatched paths are grouped under "unmatched".
func Metrics(m *obs.HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		m.InFlight.Inc()
		start := time.Now()

		c.Next()

		m.InFlight.Dec()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.ReqTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		m.ReqDur.WithLabelValues(c.Request.Method, route).Observe(obs.DurationMillis(time.Since(start)))
	}
}
