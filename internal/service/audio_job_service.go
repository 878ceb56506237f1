package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
	"github.com/noah-isme/readaloud-api/pkg/jobs"
	"github.com/noah-isme/readaloud-api/pkg/storage"
	"github.com/noah-isme/readaloud-api/pkg/tts"
)

type audioJobStore interface {
	Create(ctx context.Context, job *models.AudioJob, items []models.AudioJobItem) error
	GetByID(ctx context.Context, id string) (*models.AudioJob, error)
	ListItems(ctx context.Context, jobID string) ([]models.AudioJobItem, error)
	Update(ctx context.Context, params models.UpdateAudioJobParams) error
	CompleteItem(ctx context.Context, item models.AudioJobItem) (*models.AudioJob, error)
	ListRecoverable(ctx context.Context, limit int) ([]models.AudioJob, error)
}

type activeStoryResolver interface {
	ActiveStories(ctx context.Context, ids []string) ([]models.Story, []string, error)
}

type audioVariantWriter interface {
	Replace(ctx context.Context, variant *models.AudioVariant) (string, error)
}

// AudioGenerationJob is the queue job type for bulk TTS rendering.
const AudioGenerationJob = "audio-generation"

// AudioJobService validates and tracks bulk audio generation jobs.
type AudioJobService struct {
	repo      audioJobStore
	stories   activeStoryResolver
	queue     jobDispatcher
	audit     auditWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAudioJobService constructs the job front end.
func NewAudioJobService(repo audioJobStore, stories activeStoryResolver, queue jobDispatcher, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *AudioJobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	return &AudioJobService{repo: repo, stories: stories, queue: queue, audit: audit, validator: validate, logger: logger}
}

// CreateJob persists one item per (story, voice) and enqueues the job.
func (s *AudioJobService) CreateJob(ctx context.Context, principal *models.JWTClaims, req dto.CreateAudioJobRequest) (*dto.AudioJobResponse, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid audio job payload")
	}
	storyIDs := dedupe(req.StoryIDs)
	voices := dedupe(req.Voices)
	if len(voices) == 0 {
		voices = tts.Voices()
	}

	stories, missing, err := s.stories.ActiveStories(ctx, storyIDs)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "unknown or inactive stories", map[string]string{"story_ids": strings.Join(missing, ",")})
	}

	items := make([]models.AudioJobItem, 0, len(stories)*len(voices))
	for _, st := range stories {
		for _, voice := range voices {
			items = append(items, models.AudioJobItem{StoryID: st.ID, Voice: voice})
		}
	}
	job := &models.AudioJob{Status: models.AudioJobQueued, CreatedBy: principal.UserID}
	if err := s.repo.Create(ctx, job, items); err != nil {
		return nil, appErrors.Internal(err, "failed to create audio job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: AudioGenerationJob}); err != nil {
		failed := models.AudioJobFailed
		msg := "failed to enqueue job"
		now := time.Now().UTC()
		_ = s.repo.Update(ctx, models.UpdateAudioJobParams{ID: job.ID, Status: &failed, ErrorMessage: &msg, FinishedAt: &now})
		return nil, appErrors.Internal(err, "failed to enqueue audio job")
	}

	if s.audit != nil {
		payload, _ := json.Marshal(map[string]interface{}{"stories": len(stories), "voices": voices, "items": len(items)})
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &principal.UserID,
			Action:     models.AuditActionAudioJobCreate,
			Resource:   "audio_job",
			ResourceID: &job.ID,
			NewValues:  payload,
		}); err != nil {
			s.logger.Warn("failed to record audit log", zap.String("action", models.AuditActionAudioJobCreate), zap.Error(err))
		}
	}
	return jobResponse(job, nil), nil
}

// GetJob returns job progress with per-item results. Teachers only see jobs they created.
func (s *AudioJobService) GetJob(ctx context.Context, principal *models.JWTClaims, id string) (*dto.AudioJobResponse, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "audio job not found")
		}
		return nil, appErrors.Internal(err, "failed to load audio job")
	}
	if principal.Role == models.RoleTeacher && job.CreatedBy != principal.UserID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "audio job not found")
	}
	items, err := s.repo.ListItems(ctx, job.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load audio job items")
	}
	return jobResponse(job, items), nil
}

// RecoverPendingJobs requeues jobs interrupted by a restart.
func (s *AudioJobService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListRecoverable(ctx, 50)
	if err != nil {
		s.logger.Warn("failed to recover audio jobs", zap.Error(err))
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: AudioGenerationJob}); err != nil {
			s.logger.Warn("failed to requeue audio job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		s.logger.Info("audio jobs requeued", zap.Int("count", len(pending)))
	}
}

func jobResponse(job *models.AudioJob, items []models.AudioJobItem) *dto.AudioJobResponse {
	return &dto.AudioJobResponse{
		ID:             job.ID,
		Status:         job.Status,
		Progress:       job.Progress(),
		TotalItems:     job.TotalItems,
		CompletedItems: job.CompletedItems,
		FailedItems:    job.FailedItems,
		ErrorMessage:   job.ErrorMessage,
		Items:          items,
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// AudioJobWorker renders queued job items through the synthesizer.
type AudioJobWorker struct {
	repo     audioJobStore
	stories  storyFinder
	variants audioVariantWriter
	blobs    storage.BlobStore
	tts      tts.Synthesizer
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewAudioJobWorker constructs a worker.
func NewAudioJobWorker(repo audioJobStore, stories storyFinder, variants audioVariantWriter, blobs storage.BlobStore, synth tts.Synthesizer, metrics *MetricsService, logger *zap.Logger) *AudioJobWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AudioJobWorker{repo: repo, stories: stories, variants: variants, blobs: blobs, tts: synth, metrics: metrics, logger: logger}
}

// Handle processes a queue job. Item failures are recorded on the item; only infrastructure errors are returned for retry.
func (w *AudioJobWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			w.logger.Warn("audio job vanished", zap.String("job_id", job.ID))
			return nil
		}
		return err
	}
	if record.Status == models.AudioJobFinished || record.Status == models.AudioJobFailed {
		return nil
	}

	processing := models.AudioJobProcessing
	started := time.Now().UTC()
	if err := w.repo.Update(ctx, models.UpdateAudioJobParams{ID: record.ID, Status: &processing, StartedAt: &started}); err != nil {
		return err
	}
	items, err := w.repo.ListItems(ctx, record.ID)
	if err != nil {
		return err
	}

	log := w.logger.With(zap.String("job_id", record.ID))
	current := record
	for _, item := range items {
		if item.Status != models.AudioItemPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome := w.render(ctx, item)
		if outcome.Status == models.AudioItemFailed {
			log.Warn("audio item failed", zap.String("story_id", item.StoryID), zap.String("voice", item.Voice), zap.Stringp("error", outcome.ErrorMessage))
		}
		w.metrics.RecordAudioItem(outcome.Status)
		updated, err := w.repo.CompleteItem(ctx, outcome)
		if err != nil {
			return err
		}
		current = updated
	}

	final := models.AudioJobFinished
	var msg *string
	if current.TotalItems > 0 && current.FailedItems == current.TotalItems {
		final = models.AudioJobFailed
		m := "every item failed"
		msg = &m
	}
	finished := time.Now().UTC()
	if err := w.repo.Update(ctx, models.UpdateAudioJobParams{ID: record.ID, Status: &final, FinishedAt: &finished, ErrorMessage: msg}); err != nil {
		return err
	}
	log.Info("audio job finished",
		zap.String("status", string(final)),
		zap.Int("completed", current.CompletedItems),
		zap.Int("failed", current.FailedItems),
		zap.Duration("duration", finished.Sub(started)),
	)
	return nil
}

func (w *AudioJobWorker) render(ctx context.Context, item models.AudioJobItem) models.AudioJobItem {
	fail := func(err error) models.AudioJobItem {
		msg := err.Error()
		item.Status = models.AudioItemFailed
		item.ErrorMessage = &msg
		return item
	}

	story, err := w.stories.FindByID(ctx, item.StoryID)
	if err != nil {
		return fail(fmt.Errorf("load story: %w", err))
	}
	audio, err := w.tts.Synthesize(ctx, story.Content, item.Voice)
	if err != nil {
		return fail(fmt.Errorf("synthesize: %w", err))
	}
	key := storage.NewKey("tts", "mp3")
	size, err := w.blobs.Put(ctx, key, bytes.NewReader(audio), tts.ContentType)
	if err != nil {
		return fail(fmt.Errorf("store audio: %w", err))
	}
	words := story.WordCount
	if words <= 0 {
		words = len(strings.Fields(story.Content))
	}
	duration := narrationSeconds(words)
	variant := &models.AudioVariant{StoryID: story.ID, Voice: item.Voice, StorageKey: key, SizeBytes: size, DurationSeconds: &duration}
	previous, err := w.variants.Replace(ctx, variant)
	if err != nil {
		if delErr := w.blobs.Delete(ctx, key); delErr != nil {
			w.logger.Warn("failed to delete unreferenced audio blob", zap.String("key", key), zap.Error(delErr))
		}
		return fail(fmt.Errorf("save variant: %w", err))
	}
	if previous != "" && previous != key {
		if err := w.blobs.Delete(ctx, previous); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			w.logger.Warn("failed to delete replaced audio blob", zap.String("key", previous), zap.Error(err))
		}
	}
	item.Status = models.AudioItemDone
	item.VariantID = &variant.ID
	item.ErrorMessage = nil
	return item
}
