package http

import (
	"net/http"

	"arenalink/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	checker     *monitoring.HealthChecker
	connections func() int
}

// NewHealthHandler serves liveness and readiness. connections reports the
// number of open WebSocket connections and may be nil.
func NewHealthHandler(checker *monitoring.HealthChecker, connections func() int) *HealthHandler {
	return &HealthHandler{checker: checker, connections: connections}
}

func (h *HealthHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

// Health answers as long as the process serves requests; it reports the last
// background check results without running them.
func (h *HealthHandler) Health(c *gin.Context) {
	status := h.checker.LastStatus()
	body := gin.H{
		"status":    "ok",
		"timestamp": status.Timestamp,
		"uptime":    status.Uptime,
		"checks":    status.Checks,
	}
	if h.connections != nil {
		body["connections"] = h.connections()
	}
	c.JSON(http.StatusOK, body)
}

func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.checker.GetReadinessStatus(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
