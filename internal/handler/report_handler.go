package handler

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	"github.com/noah-isme/readaloud-api/pkg/response"
)

type reportService interface {
	AvailableReports(principal *models.JWTClaims) ([]models.ReportDefinition, error)
	Generate(ctx context.Context, principal *models.JWTClaims, req models.ReportRequest) (*models.ReportFile, error)
}

// ReportHandler exposes report downloads.
type ReportHandler struct {
	reports reportService
}

// NewReportHandler constructs handler.
func NewReportHandler(reports reportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Available godoc
// @Summary Reports available to the caller
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /reports [get]
func (h *ReportHandler) Available(c *gin.Context) {
	defs, err := h.reports.AvailableReports(claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, defs, nil)
}

// Download godoc
// @Summary Generate and download a report
// @Tags Reports
// @Produce text/csv
// @Produce application/json
// @Produce application/pdf
// @Security BearerAuth
// @Param type path string true "teacher_summary, class_performance, gradebook, student_progress or school_wide"
// @Param format query string false "csv (default), json or pdf"
// @Param class_id query string false "Class ID"
// @Param student_id query string false "Student ID"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reports/{type} [get]
func (h *ReportHandler) Download(c *gin.Context) {
	var query dto.ReportQuery
	if !bindQuery(c, &query) {
		return
	}
	file, err := h.reports.Generate(c.Request.Context(), claimsFromContext(c), models.ReportRequest{
		Type:      models.ReportType(c.Param("type")),
		Format:    models.ReportFormat(strings.ToLower(query.Format)),
		ClassID:   query.ClassID,
		StudentID: query.StudentID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, int64(len(file.Content)), bytes.NewReader(file.Content))
}
