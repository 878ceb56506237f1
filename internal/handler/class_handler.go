package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	"github.com/noah-isme/readaloud-api/pkg/response"
)

type classService interface {
	CreateClass(ctx context.Context, principal *models.JWTClaims, req dto.CreateClassRequest) (*models.Class, error)
	ListClasses(ctx context.Context, principal *models.JWTClaims, query dto.ClassListQuery) ([]models.Class, *models.Pagination, error)
	GetClass(ctx context.Context, principal *models.JWTClaims, classID string) (*models.Class, error)
	SearchStudents(ctx context.Context, principal *models.JWTClaims, query dto.StudentSearchQuery) ([]dto.StudentSummary, error)
	AddStudent(ctx context.Context, principal *models.JWTClaims, classID string, req dto.AddStudentRequest) error
	RemoveStudent(ctx context.Context, principal *models.JWTClaims, classID, studentID string) error
	ListMembers(ctx context.Context, principal *models.JWTClaims, classID string) ([]models.ClassMember, error)
}

// ClassHandler manages class rosters.
type ClassHandler struct {
	service classService
}

// NewClassHandler constructs the handler.
func NewClassHandler(svc classService) *ClassHandler {
	return &ClassHandler{service: svc}
}

// Create godoc
// @Summary Create class
// @Tags Classes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateClassRequest true "Class"
// @Success 201 {object} response.Envelope
// @Router /classes [post]
func (h *ClassHandler) Create(c *gin.Context) {
	var req dto.CreateClassRequest
	if !bindJSON(c, &req, "invalid class payload") {
		return
	}
	class, err := h.service.CreateClass(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, class)
}

// List godoc
// @Summary List classes
// @Tags Classes
// @Produce json
// @Security BearerAuth
// @Param search query string false "Name search"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *ClassHandler) List(c *gin.Context) {
	var query dto.ClassListQuery
	if !bindQuery(c, &query) {
		return
	}
	classes, page, err := h.service.ListClasses(c.Request.Context(), claimsFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classes, page)
}

// Get godoc
// @Summary Get a class
// @Tags Classes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classes/{id} [get]
func (h *ClassHandler) Get(c *gin.Context) {
	class, err := h.service.GetClass(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class, nil)
}

// SearchStudents godoc
// @Summary Find students to enroll
// @Tags Classes
// @Produce json
// @Security BearerAuth
// @Param q query string true "Name or email, at least 2 characters"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /classes/students/search [get]
func (h *ClassHandler) SearchStudents(c *gin.Context) {
	var query dto.StudentSearchQuery
	if !bindQuery(c, &query) {
		return
	}
	students, err := h.service.SearchStudents(c.Request.Context(), claimsFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, nil)
}

// AddStudent godoc
// @Summary Enroll a student
// @Tags Classes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Class ID"
// @Param payload body dto.AddStudentRequest true "Student"
// @Success 204
// @Router /classes/{id}/students [post]
func (h *ClassHandler) AddStudent(c *gin.Context) {
	var req dto.AddStudentRequest
	if !bindJSON(c, &req, "invalid student payload") {
		return
	}
	if err := h.service.AddStudent(c.Request.Context(), claimsFromContext(c), c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RemoveStudent godoc
// @Summary Remove a student from the roster
// @Tags Classes
// @Security BearerAuth
// @Param id path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Router /classes/{id}/students/{studentId} [delete]
func (h *ClassHandler) RemoveStudent(c *gin.Context) {
	if err := h.service.RemoveStudent(c.Request.Context(), claimsFromContext(c), c.Param("id"), c.Param("studentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Members godoc
// @Summary List the active roster
// @Tags Classes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/students [get]
func (h *ClassHandler) Members(c *gin.Context) {
	members, err := h.service.ListMembers(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, members, nil)
}
