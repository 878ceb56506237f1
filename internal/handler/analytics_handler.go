package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	"github.com/noah-isme/readaloud-api/pkg/response"
)

type flagService interface {
	ListFlags(ctx context.Context, principal *models.JWTClaims, query dto.FlagListQuery) ([]models.StudentFlag, *models.Pagination, error)
	ResolveFlag(ctx context.Context, principal *models.JWTClaims, id string, req dto.ResolveFlagRequest) (*models.StudentFlag, error)
	StudentAnalytics(ctx context.Context, principal *models.JWTClaims) ([]models.StudentMetrics, error)
	TriggerScan(ctx context.Context, principal *models.JWTClaims) (*dto.ScanResponse, error)
}

type dashboardService interface {
	Summary(ctx context.Context, principal *models.JWTClaims) (*models.DashboardSummary, bool, error)
}

// AnalyticsHandler exposes flags, per-student metrics and the dashboard.
type AnalyticsHandler struct {
	flags     flagService
	dashboard dashboardService
}

// NewAnalyticsHandler constructs the analytics handler.
func NewAnalyticsHandler(flags flagService, dashboard dashboardService) *AnalyticsHandler {
	return &AnalyticsHandler{flags: flags, dashboard: dashboard}
}

// Flags godoc
// @Summary List student flags
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Param include_resolved query bool false "Include resolved flags"
// @Param type query string false "Flag type"
// @Param severity query string false "Severity"
// @Param student_id query string false "Student ID"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /analytics/flags [get]
func (h *AnalyticsHandler) Flags(c *gin.Context) {
	var query dto.FlagListQuery
	if !bindQuery(c, &query) {
		return
	}
	flags, page, err := h.flags.ListFlags(c.Request.Context(), claimsFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, flags, page)
}

// ResolveFlag godoc
// @Summary Resolve a flag
// @Tags Analytics
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Flag ID"
// @Param payload body dto.ResolveFlagRequest false "Resolution notes"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /analytics/flags/{id}/resolve [post]
func (h *AnalyticsHandler) ResolveFlag(c *gin.Context) {
	var req dto.ResolveFlagRequest
	if !bindOptionalJSON(c, &req, "invalid resolve payload") {
		return
	}
	flag, err := h.flags.ResolveFlag(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, flag, nil)
}

// Students godoc
// @Summary Per-student reading metrics
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /analytics/students [get]
func (h *AnalyticsHandler) Students(c *gin.Context) {
	metrics, err := h.flags.StudentAnalytics(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, metrics, nil)
}

// Dashboard godoc
// @Summary Dashboard summary
// @Description Cached per principal. meta.cache_hit reports whether the cached copy was served.
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /analytics/dashboard [get]
func (h *AnalyticsHandler) Dashboard(c *gin.Context) {
	summary, hit, err := h.dashboard.Summary(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	cachedJSON(c, summary, hit)
}

// Scan godoc
// @Summary Run the flag engine over every active student
// @Tags Analytics
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /analytics/scan [post]
func (h *AnalyticsHandler) Scan(c *gin.Context) {
	result, err := h.flags.TriggerScan(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
