package middleware

import (
	"time"

	"arenalink/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequestLoggerMiddleware writes one access log entry per request. Health and
// metrics scrapes are skipped.
func RequestLoggerMiddleware(cl *logger.ContextLogger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, path := range skip {
		skipped[path] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if _, ok := skipped[c.Request.URL.Path]; ok {
			return
		}
		cl.LogRequest(c.Request.Context(), c.Request.Method, routeOf(c), c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
