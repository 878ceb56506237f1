package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
	"github.com/noah-isme/readaloud-api/pkg/security"
	"github.com/noah-isme/readaloud-api/pkg/storage"
	"github.com/noah-isme/readaloud-api/pkg/tts"
)

type storyRepository interface {
	List(ctx context.Context, filter models.StoryFilter) ([]models.Story, int, error)
	FindByID(ctx context.Context, id string) (*models.Story, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Story, error)
	Create(ctx context.Context, story *models.Story) error
}

type audioVariantReader interface {
	Find(ctx context.Context, storyID, voice string) (*models.AudioVariant, error)
	VoicesByStory(ctx context.Context, storyIDs []string) (map[string][]string, error)
}

type blobReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
}

// AudioStream is an open audio payload ready to be copied to the client.
type AudioStream struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

const wordsPerMinute = 100

// narrationSeconds estimates how long a narration of words lasts at reading pace.
func narrationSeconds(words int) float64 {
	return float64(words) * 60 / wordsPerMinute
}

// CatalogService serves stories and their pre-rendered voices.
type CatalogService struct {
	stories   storyRepository
	variants  audioVariantReader
	blobs     blobReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCatalogService constructs the catalog.
func NewCatalogService(stories storyRepository, variants audioVariantReader, blobs blobReader, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	return &CatalogService{stories: stories, variants: variants, blobs: blobs, validator: validate, logger: logger}
}

// ListStories returns active stories with the voices generated for each.
func (s *CatalogService) ListStories(ctx context.Context, query dto.StoryListQuery) ([]models.Story, *models.Pagination, error) {
	page, size := models.NormalizePage(query.Page, query.PageSize)
	stories, total, err := s.stories.List(ctx, models.StoryFilter{
		GradeLevel: query.GradeLevel,
		Difficulty: query.Difficulty,
		Search:     strings.TrimSpace(query.Search),
		Page:       page,
		PageSize:   size,
	})
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list stories")
	}

	ids := make([]string, 0, len(stories))
	for _, st := range stories {
		ids = append(ids, st.ID)
	}
	voices, err := s.variants.VoicesByStory(ctx, ids)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to load story voices")
	}
	for i := range stories {
		stories[i].Voices = voices[stories[i].ID]
	}
	return stories, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// GetStory returns an active story with content.
func (s *CatalogService) GetStory(ctx context.Context, id string) (*models.Story, error) {
	story, err := s.stories.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "story not found")
		}
		return nil, appErrors.Internal(err, "failed to load story")
	}
	if !story.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "story not found")
	}
	voices, err := s.variants.VoicesByStory(ctx, []string{story.ID})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load story voices")
	}
	story.Voices = voices[story.ID]
	return story, nil
}

// CreateStory publishes a story. Word count and reading time are derived from the content.
func (s *CatalogService) CreateStory(ctx context.Context, principal *models.JWTClaims, req dto.CreateStoryRequest) (*models.Story, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	req.Title = security.SanitizeText(req.Title)
	req.Content = security.SanitizeText(req.Content)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid story payload")
	}

	words := len(strings.Fields(req.Content))
	minutes := req.EstimatedMinutes
	if minutes <= 0 {
		minutes = int(math.Max(1, math.Ceil(float64(words)/wordsPerMinute)))
	}
	story := &models.Story{
		Title:            req.Title,
		Content:          req.Content,
		GradeLevel:       req.GradeLevel,
		Difficulty:       models.Difficulty(req.Difficulty),
		WordCount:        words,
		EstimatedMinutes: minutes,
		Active:           true,
		CreatedBy:        &principal.UserID,
	}
	if err := s.stories.Create(ctx, story); err != nil {
		return nil, appErrors.Internal(err, "failed to create story")
	}
	return story, nil
}

// ActiveStories returns the active stories among ids and the ids that are missing or inactive.
func (s *CatalogService) ActiveStories(ctx context.Context, ids []string) ([]models.Story, []string, error) {
	found, err := s.stories.FindByIDs(ctx, ids)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to load stories")
	}
	byID := make(map[string]models.Story, len(found))
	for _, st := range found {
		if st.Active {
			byID[st.ID] = st
		}
	}
	var active []models.Story
	var missing []string
	for _, id := range ids {
		if st, ok := byID[id]; ok {
			active = append(active, st)
		} else {
			missing = append(missing, id)
		}
	}
	return active, missing, nil
}

// FetchAudio opens the rendered audio for (story, voice). A voice that was never generated is NotFound.
func (s *CatalogService) FetchAudio(ctx context.Context, storyID, voice string) (*AudioStream, error) {
	if !tts.ValidVoice(voice) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "voice not available")
	}
	variant, err := s.variants.Find(ctx, storyID, voice)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "audio not generated for this voice")
		}
		return nil, appErrors.Internal(err, "failed to load audio variant")
	}
	body, size, err := s.blobs.Open(ctx, variant.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.logger.Error("audio variant blob missing", zap.String("story_id", storyID), zap.String("voice", voice), zap.String("key", variant.StorageKey))
			return nil, appErrors.Clone(appErrors.ErrNotFound, "audio not generated for this voice")
		}
		s.logger.Error("audio variant blob open failed", zap.String("story_id", storyID), zap.String("key", variant.StorageKey), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, appErrors.ErrStorageFailure.Message)
	}
	return &AudioStream{Body: body, Size: size, ContentType: tts.ContentType}, nil
}
