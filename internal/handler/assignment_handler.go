package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	"github.com/noah-isme/readaloud-api/pkg/response"
)

type assignmentService interface {
	CreateAssignment(ctx context.Context, principal *models.JWTClaims, req dto.CreateAssignmentRequest) (*dto.AssignmentCreatedResponse, error)
	ListAssignments(ctx context.Context, principal *models.JWTClaims, query dto.AssignmentListQuery) ([]models.Assignment, *models.Pagination, error)
	GetAssignment(ctx context.Context, principal *models.JWTClaims, assignmentID string) (*models.Assignment, error)
	GetProgressOverview(ctx context.Context, principal *models.JWTClaims, assignmentID string) (*models.ProgressOverview, error)
	JoinByCode(ctx context.Context, principal *models.JWTClaims, req dto.JoinAssignmentRequest) (*models.StudentAssignment, error)
	Deactivate(ctx context.Context, principal *models.JWTClaims, assignmentID string) error
}

// AssignmentHandler exposes assignment issuing and progress endpoints.
type AssignmentHandler struct {
	service assignmentService
}

// NewAssignmentHandler constructs the handler.
func NewAssignmentHandler(svc assignmentService) *AssignmentHandler {
	return &AssignmentHandler{service: svc}
}

// Create godoc
// @Summary Issue a story to a class
// @Tags Assignments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateAssignmentRequest true "Assignment"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /assignments [post]
func (h *AssignmentHandler) Create(c *gin.Context) {
	var req dto.CreateAssignmentRequest
	if !bindJSON(c, &req, "invalid assignment payload") {
		return
	}
	created, err := h.service.CreateAssignment(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// List godoc
// @Summary List assignments visible to the caller
// @Tags Assignments
// @Produce json
// @Security BearerAuth
// @Param class_id query string false "Class ID"
// @Param active_only query bool false "Only active assignments"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /assignments [get]
func (h *AssignmentHandler) List(c *gin.Context) {
	var query dto.AssignmentListQuery
	if !bindQuery(c, &query) {
		return
	}
	items, page, err := h.service.ListAssignments(c.Request.Context(), claimsFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, page)
}

// Get godoc
// @Summary Get an assignment
// @Tags Assignments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /assignments/{id} [get]
func (h *AssignmentHandler) Get(c *gin.Context) {
	assignment, err := h.service.GetAssignment(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Progress godoc
// @Summary Roster progress for an assignment
// @Tags Assignments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/progress [get]
func (h *AssignmentHandler) Progress(c *gin.Context) {
	overview, err := h.service.GetProgressOverview(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, overview, nil)
}

// Join godoc
// @Summary Join an assignment by code
// @Tags Assignments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.JoinAssignmentRequest true "Join code"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /assignments/join [post]
func (h *AssignmentHandler) Join(c *gin.Context) {
	var req dto.JoinAssignmentRequest
	if !bindJSON(c, &req, "invalid join payload") {
		return
	}
	progress, err := h.service.JoinByCode(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"assignment_id":      progress.AssignmentID,
		"attempts_used":      progress.AttemptsUsed,
		"attempts_remaining": progress.AttemptsRemaining(),
		"can_attempt":        progress.CanAttempt(),
		"completed":          progress.Completed(),
	}, nil)
}

// Deactivate godoc
// @Summary Close an assignment to new submissions
// @Tags Assignments
// @Security BearerAuth
// @Param id path string true "Assignment ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /assignments/{id}/deactivate [post]
func (h *AssignmentHandler) Deactivate(c *gin.Context) {
	if err := h.service.Deactivate(c.Request.Context(), claimsFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
