package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	"github.com/noah-isme/readaloud-api/pkg/response"
)

type audioJobService interface {
	CreateJob(ctx context.Context, principal *models.JWTClaims, req dto.CreateAudioJobRequest) (*dto.AudioJobResponse, error)
	GetJob(ctx context.Context, principal *models.JWTClaims, id string) (*dto.AudioJobResponse, error)
}

// AudioJobHandler exposes bulk narration jobs.
type AudioJobHandler struct {
	jobs audioJobService
}

// NewAudioJobHandler constructs the handler.
func NewAudioJobHandler(jobs audioJobService) *AudioJobHandler {
	return &AudioJobHandler{jobs: jobs}
}

// Create godoc
// @Summary Queue narration for stories
// @Tags Audio
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateAudioJobRequest true "Stories and voices"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /audio/jobs [post]
func (h *AudioJobHandler) Create(c *gin.Context) {
	var req dto.CreateAudioJobRequest
	if !bindJSON(c, &req, "invalid audio job payload") {
		return
	}
	job, err := h.jobs.CreateJob(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, job)
}

// Get godoc
// @Summary Poll a narration job
// @Tags Audio
// @Produce json
// @Security BearerAuth
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /audio/jobs/{id} [get]
func (h *AudioJobHandler) Get(c *gin.Context) {
	job, err := h.jobs.GetJob(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}
