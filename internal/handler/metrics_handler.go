package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/readaloud-api/internal/service"
)

type healthService interface {
	Health() service.HealthReport
	Ready(ctx context.Context) (service.HealthReport, bool)
	Detailed(ctx context.Context) service.HealthReport
}

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics *service.MetricsService
	health  healthService
}

// NewMetricsHandler constructs a metrics handler.
func NewMetricsHandler(metrics *service.MetricsService, health healthService) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, health: health}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health godoc
// @Summary Liveness summary
// @Tags Health
// @Produce json
// @Success 200 {object} service.HealthReport
// @Router /health [get]
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.health.Health())
}

// Live responds while the process can serve requests.
func (h *MetricsHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready godoc
// @Summary Readiness probe
// @Description 503 when the database or cache does not answer.
// @Tags Health
// @Produce json
// @Success 200 {object} service.HealthReport
// @Failure 503 {object} service.HealthReport
// @Router /health/ready [get]
func (h *MetricsHandler) Ready(c *gin.Context) {
	report, ok := h.health.Ready(c.Request.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// Detailed godoc
// @Summary Dependency checks, queue depth and process metrics
// @Tags Health
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.HealthReport
// @Router /health/detailed [get]
func (h *MetricsHandler) Detailed(c *gin.Context) {
	c.JSON(http.StatusOK, h.health.Detailed(c.Request.Context()))
}
