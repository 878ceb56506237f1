package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	"github.com/noah-isme/readaloud-api/internal/service"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
	"github.com/noah-isme/readaloud-api/pkg/response"
)

type recordingService interface {
	MaxFileSize() int64
	Upload(ctx context.Context, principal *models.JWTClaims, upload service.RecordingUpload) (*dto.RecordingResponse, error)
	Get(ctx context.Context, principal *models.JWTClaims, id string) (*dto.RecordingResponse, error)
	List(ctx context.Context, principal *models.JWTClaims, query dto.RecordingListQuery) ([]models.Recording, *models.Pagination, error)
	StreamAudio(ctx context.Context, principal *models.JWTClaims, id string) (*service.AudioStream, error)
	SignedAudioURL(ctx context.Context, principal *models.JWTClaims, id string) (*dto.SignedAudioResponse, error)
	OpenSigned(ctx context.Context, token string) (*service.AudioStream, error)
	Review(ctx context.Context, principal *models.JWTClaims, id string, req dto.ReviewRequest) (*models.Recording, error)
	FlagRecording(ctx context.Context, principal *models.JWTClaims, id string, req dto.FlagRecordingRequest) (*models.Recording, error)
}

const (
	audioFormField    = "audio"
	maxFieldBytes     = 1 << 10
	// room for text fields and part headers around the audio part
	multipartOverhead = 64 << 10
)

// RecordingHandler exposes upload, playback and review endpoints.
type RecordingHandler struct {
	service recordingService
}

// NewRecordingHandler constructs the handler.
func NewRecordingHandler(svc recordingService) *RecordingHandler {
	return &RecordingHandler{service: svc}
}

// Upload godoc
// @Summary Upload a reading recording
// @Description Multipart upload. Text fields (story_id, assignment_id, duration, size) must precede the audio part.
// @Tags Recordings
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param story_id formData string true "Story ID"
// @Param assignment_id formData string false "Assignment ID"
// @Param duration formData number false "Duration in seconds"
// @Param size formData int false "Declared payload size in bytes"
// @Param audio formData file true "Audio payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /recordings [post]
func (h *RecordingHandler) Upload(c *gin.Context) {
	max := h.service.MaxFileSize()
	if c.Request.ContentLength > 0 && max > 0 && c.Request.ContentLength > max+multipartOverhead {
		response.Error(c, appErrors.Clone(appErrors.ErrPayloadTooLarge, "file exceeds "+strconv.FormatInt(max, 10)+" bytes limit"))
		return
	}
	reader, err := c.Request.MultipartReader()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "multipart form required"))
		return
	}

	fields := map[string]string{}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			response.Error(c, appErrors.WithDetails(appErrors.ErrValidation, "audio file is required", map[string]string{audioFormField: "is required"}))
			return
		}
		if err != nil {
			response.Error(c, appErrors.WithDetails(appErrors.ErrValidation, "incomplete upload", map[string]string{audioFormField: "could not be read"}))
			return
		}
		if part.FormName() != audioFormField {
			value, _ := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			fields[part.FormName()] = strings.TrimSpace(string(value))
			_ = part.Close()
			continue
		}

		upload, appErr := uploadFromFields(fields)
		if appErr != nil {
			_ = part.Close()
			response.Error(c, appErr)
			return
		}
		upload.Body = io.LimitReader(part, max+1)
		resp, err := h.service.Upload(c.Request.Context(), claimsFromContext(c), upload)
		_ = part.Close()
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Created(c, resp)
		return
	}
}

func uploadFromFields(fields map[string]string) (service.RecordingUpload, *appErrors.Error) {
	upload := service.RecordingUpload{StoryID: fields["story_id"]}
	details := map[string]string{}
	if upload.StoryID == "" {
		details["story_id"] = "is required"
	}
	if id := fields["assignment_id"]; id != "" {
		upload.AssignmentID = &id
	}
	if raw := fields["duration"]; raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			details["duration"] = "must be a number"
		}
		upload.DurationSeconds = v
	}
	if raw := fields["size"]; raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			details["size"] = "must be a non-negative integer"
		}
		upload.DeclaredSize = v
	}
	if len(details) > 0 {
		return upload, appErrors.WithDetails(appErrors.ErrValidation, "invalid upload fields", details)
	}
	return upload, nil
}

// List godoc
// @Summary List recordings visible to the caller
// @Tags Recordings
// @Produce json
// @Security BearerAuth
// @Param student_id query string false "Student ID"
// @Param assignment_id query string false "Assignment ID"
// @Param status query string false "pending, reviewed or flagged"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /recordings [get]
func (h *RecordingHandler) List(c *gin.Context) {
	var query dto.RecordingListQuery
	if !bindQuery(c, &query) {
		return
	}
	items, page, err := h.service.List(c.Request.Context(), claimsFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, page)
}

// Get godoc
// @Summary Get a recording
// @Tags Recordings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Recording ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /recordings/{id} [get]
func (h *RecordingHandler) Get(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}

// Audio godoc
// @Summary Play a recording
// @Description Streams the audio. With signed=true returns a temporary /media URL instead.
// @Tags Recordings
// @Produce audio/webm
// @Security BearerAuth
// @Param id path string true "Recording ID"
// @Param signed query bool false "Return a signed URL"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /recordings/{id}/audio [get]
func (h *RecordingHandler) Audio(c *gin.Context) {
	principal := claimsFromContext(c)
	if signed, _ := strconv.ParseBool(c.Query("signed")); signed {
		url, err := h.service.SignedAudioURL(c.Request.Context(), principal, c.Param("id"))
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, url, nil)
		return
	}
	stream, err := h.service.StreamAudio(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer stream.Body.Close()
	response.Stream(c, stream.ContentType, stream.Size, stream.Body)
}

// Media godoc
// @Summary Fetch audio through a signed token
// @Tags Recordings
// @Produce audio/webm
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /media/{token} [get]
func (h *RecordingHandler) Media(c *gin.Context) {
	stream, err := h.service.OpenSigned(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer stream.Body.Close()
	response.Stream(c, stream.ContentType, stream.Size, stream.Body)
}

// Review godoc
// @Summary Grade a pending recording
// @Tags Recordings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Recording ID"
// @Param payload body dto.ReviewRequest true "Review"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /recordings/{id}/review [post]
func (h *RecordingHandler) Review(c *gin.Context) {
	var req dto.ReviewRequest
	if !bindJSON(c, &req, "invalid review payload") {
		return
	}
	rec, err := h.service.Review(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}

// Flag godoc
// @Summary Flag a pending recording for follow-up
// @Tags Recordings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Recording ID"
// @Param payload body dto.FlagRecordingRequest false "Note"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /recordings/{id}/flag [post]
func (h *RecordingHandler) Flag(c *gin.Context) {
	var req dto.FlagRecordingRequest
	if !bindOptionalJSON(c, &req, "invalid flag payload") {
		return
	}
	rec, err := h.service.FlagRecording(c.Request.Context(), claimsFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}
