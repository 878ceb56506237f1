package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	"github.com/noah-isme/readaloud-api/internal/service"
	"github.com/noah-isme/readaloud-api/pkg/response"
)

type catalogService interface {
	ListStories(ctx context.Context, query dto.StoryListQuery) ([]models.Story, *models.Pagination, error)
	GetStory(ctx context.Context, id string) (*models.Story, error)
	CreateStory(ctx context.Context, principal *models.JWTClaims, req dto.CreateStoryRequest) (*models.Story, error)
	FetchAudio(ctx context.Context, storyID, voice string) (*service.AudioStream, error)
}

// StoryHandler serves the story catalog and its narrated audio.
type StoryHandler struct {
	service catalogService
}

// NewStoryHandler constructs the handler.
func NewStoryHandler(svc catalogService) *StoryHandler {
	return &StoryHandler{service: svc}
}

// List godoc
// @Summary List stories
// @Tags Stories
// @Produce json
// @Security BearerAuth
// @Param grade_level query string false "Grade level"
// @Param difficulty query string false "easy, medium or hard"
// @Param search query string false "Title search"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /stories [get]
func (h *StoryHandler) List(c *gin.Context) {
	var query dto.StoryListQuery
	if !bindQuery(c, &query) {
		return
	}
	stories, page, err := h.service.ListStories(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stories, page)
}

// Get godoc
// @Summary Get a story
// @Tags Stories
// @Produce json
// @Security BearerAuth
// @Param id path string true "Story ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /stories/{id} [get]
func (h *StoryHandler) Get(c *gin.Context) {
	story, err := h.service.GetStory(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, story, nil)
}

// Create godoc
// @Summary Publish a story
// @Tags Stories
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateStoryRequest true "Story"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /stories [post]
func (h *StoryHandler) Create(c *gin.Context) {
	var req dto.CreateStoryRequest
	if !bindJSON(c, &req, "invalid story payload") {
		return
	}
	story, err := h.service.CreateStory(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, story)
}

// Audio godoc
// @Summary Stream narrated audio
// @Tags Stories
// @Produce audio/mpeg
// @Security BearerAuth
// @Param id path string true "Story ID"
// @Param voice path string true "female_1, female_2, male_1 or male_2"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /stories/{id}/audio/{voice} [get]
func (h *StoryHandler) Audio(c *gin.Context) {
	stream, err := h.service.FetchAudio(c.Request.Context(), c.Param("id"), c.Param("voice"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer stream.Body.Close()
	response.Stream(c, stream.ContentType, stream.Size, stream.Body)
}
