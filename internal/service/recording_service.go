package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	"github.com/noah-isme/readaloud-api/internal/repository"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
	"github.com/noah-isme/readaloud-api/pkg/logger"
	"github.com/noah-isme/readaloud-api/pkg/security"
	"github.com/noah-isme/readaloud-api/pkg/storage"
)

type recordingRepository interface {
	CreateWithAttempt(ctx context.Context, rec *models.Recording, persist func(ctx context.Context) error) (*models.AttemptGrant, error)
	FindByID(ctx context.Context, id string) (*models.Recording, error)
	TeacherHasAccess(ctx context.Context, teacherID, recordingID string) (bool, error)
	List(ctx context.Context, filter models.RecordingFilter) ([]models.Recording, int, error)
	Review(ctx context.Context, id string, input models.ReviewInput) (bool, error)
	Flag(ctx context.Context, id, reviewerID string, note *string) (bool, error)
}

type assignmentProgressReader interface {
	FindByID(ctx context.Context, id string) (*models.Assignment, error)
	FindProgress(ctx context.Context, assignmentID, studentID string) (*models.StudentAssignment, error)
}

type mediaSigner interface {
	Sign(resourceID, key string) (storage.SignedToken, error)
	Verify(token string) (storage.SignedClaims, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// studentEvaluator schedules an out-of-band flag evaluation for one student.
type studentEvaluator interface {
	EnqueueStudent(studentID string)
}

// RecordingUpload is one streamed upload. DeclaredSize of zero means the client sent no size.
type RecordingUpload struct {
	StoryID         string
	AssignmentID    *string
	DurationSeconds float64
	DeclaredSize    int64
	Body            io.Reader
}

// RecordingServiceConfig holds upload limits.
type RecordingServiceConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
	MediaPrefix  string
	MaxDuration  float64
}

var (
	errUploadTooLarge  = errors.New("upload exceeds size limit")
	errUploadTruncated = errors.New("upload shorter than declared size")
	errUploadAborted   = errors.New("upload body could not be read")
	errStorageWrite    = errors.New("storage write failed")
)

const (
	minScore = 1
	maxScore = 5
)

// RecordingService stores student recordings and runs the review workflow.
type RecordingService struct {
	recordings  recordingRepository
	assignments assignmentProgressReader
	stories     storyFinder
	blobs       storage.BlobStore
	signer      mediaSigner
	audit       auditWriter
	evaluator   studentEvaluator
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         RecordingServiceConfig
}

// RecordingServiceParams groups constructor dependencies.
type RecordingServiceParams struct {
	Recordings  recordingRepository
	Assignments assignmentProgressReader
	Stories     storyFinder
	Blobs       storage.BlobStore
	Signer      mediaSigner
	Audit       auditWriter
	Evaluator   studentEvaluator
	Cache       *CacheService
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
	Config      RecordingServiceConfig
}

// NewRecordingService constructs the recording store.
func NewRecordingService(params RecordingServiceParams) *RecordingService {
	cfg := params.Config
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 50 * 1024 * 1024
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{"audio/webm", "audio/ogg", "audio/mpeg", "audio/wav", "audio/x-wav", "audio/mp4", "audio/flac"}
	}
	if cfg.MediaPrefix == "" {
		cfg.MediaPrefix = "/api/v1/media"
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 3600
	}
	log := params.Logger
	if log == nil {
		log = zap.NewNop()
	}
	validate := params.Validator
	if validate == nil {
		validate = NewValidator()
	}
	return &RecordingService{
		recordings:  params.Recordings,
		assignments: params.Assignments,
		stories:     params.Stories,
		blobs:       params.Blobs,
		signer:      params.Signer,
		audit:       params.Audit,
		evaluator:   params.Evaluator,
		cache:       params.Cache,
		metrics:     params.Metrics,
		validator:   validate,
		logger:      log,
		cfg:         cfg,
	}
}

// MaxFileSize reports the configured upload ceiling.
func (s *RecordingService) MaxFileSize() int64 {
	return s.cfg.MaxFileSize
}

// Upload validates and stores a recording. The blob is written while the attempt lock is held and the
// row is committed only after the write succeeded, so an aborted or rejected upload leaves no row behind.
func (s *RecordingService) Upload(ctx context.Context, principal *models.JWTClaims, upload RecordingUpload) (*dto.RecordingResponse, error) {
	if principal == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if principal.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can upload recordings")
	}
	if upload.Body == nil {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "audio file is required", map[string]string{"audio": "is required"})
	}
	if upload.DeclaredSize > s.cfg.MaxFileSize {
		s.metrics.RecordUpload("rejected")
		return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}
	if upload.DurationSeconds < 0 || upload.DurationSeconds > s.cfg.MaxDuration {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid duration", map[string]string{"duration": fmt.Sprintf("must be between 0 and %.0f seconds", s.cfg.MaxDuration)})
	}

	header := make([]byte, security.SniffLength)
	n, err := io.ReadFull(upload.Body, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "incomplete upload", map[string]string{"audio": "could not be read"})
	}
	if n == 0 {
		return nil, appErrors.WithDetails(appErrors.ErrValidation, "audio file is required", map[string]string{"audio": "is empty"})
	}
	header = header[:n]
	mime := security.DetectAudioMIME(header)
	if !security.AllowedMIME(mime, s.cfg.AllowedMIMEs) {
		s.metrics.RecordUpload("rejected")
		return nil, appErrors.Clone(appErrors.ErrUnsupportedMedia, fmt.Sprintf("unsupported media type %s", mime))
	}

	if err := s.checkTarget(ctx, principal.UserID, upload); err != nil {
		return nil, err
	}

	key := storage.NewKey("recordings", security.ExtensionFor(mime))
	rec := &models.Recording{
		StudentID:       principal.UserID,
		StoryID:         upload.StoryID,
		AssignmentID:    upload.AssignmentID,
		StorageKey:      key,
		MimeType:        mime,
		DurationSeconds: upload.DurationSeconds,
	}
	body := &limitedCounter{r: io.MultiReader(bytes.NewReader(header), upload.Body), max: s.cfg.MaxFileSize}
	persisted := false
	persist := func(ctx context.Context) error {
		written, err := s.blobs.Put(ctx, key, body, mime)
		if err != nil {
			if body.err != nil {
				return body.err
			}
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", errUploadAborted, ctx.Err())
			}
			return fmt.Errorf("%w: %v", errStorageWrite, err)
		}
		persisted = true
		if upload.DeclaredSize > 0 && written != upload.DeclaredSize {
			return errUploadTruncated
		}
		rec.SizeBytes = written
		return nil
	}

	log := logger.WithContext(ctx, s.logger).With(zap.String("student_id", principal.UserID), zap.String("story_id", upload.StoryID), zap.String("key", key))
	grant, err := s.recordings.CreateWithAttempt(ctx, rec, persist)
	if err != nil {
		if persisted {
			if delErr := s.blobs.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				log.Error("failed to delete orphaned recording blob", zap.Error(delErr))
			}
		}
		return nil, s.mapUploadError(log, err)
	}

	s.metrics.RecordUpload("accepted")
	payload, _ := json.Marshal(map[string]interface{}{"story_id": rec.StoryID, "assignment_id": rec.AssignmentID, "attempt": rec.AttemptNumber})
	s.writeAudit(ctx, &models.AuditLog{
		UserID:     &principal.UserID,
		Action:     models.AuditActionRecordingCreate,
		Resource:   "recording",
		ResourceID: &rec.ID,
		NewValues:  payload,
	})
	s.afterChange(ctx, principal.UserID)
	log.Info("recording accepted", zap.String("recording_id", rec.ID), zap.Int("attempt", grant.AttemptNumber))

	progress := models.StudentAssignment{AttemptsUsed: grant.AttemptsUsed, MaxAttempts: grant.MaxAttempts}
	used := grant.AttemptsUsed
	resp := &dto.RecordingResponse{Recording: *rec, AttemptsUsed: &used, CanAttempt: true}
	if rec.AssignmentID != nil {
		resp.AttemptsRemaining = progress.AttemptsRemaining()
		resp.CanAttempt = progress.CanAttempt()
	}
	return resp, nil
}

func (s *RecordingService) checkTarget(ctx context.Context, studentID string, upload RecordingUpload) error {
	story, err := s.stories.FindByID(ctx, upload.StoryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "story not found")
		}
		return appErrors.Internal(err, "failed to load story")
	}
	if !story.Active {
		return appErrors.Clone(appErrors.ErrNotFound, "story not found")
	}
	if upload.AssignmentID == nil {
		return nil
	}

	assignment, err := s.assignments.FindByID(ctx, *upload.AssignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return appErrors.Internal(err, "failed to load assignment")
	}
	if !assignment.Active || assignment.StoryID != story.ID {
		return appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
	}
	progress, err := s.assignments.FindProgress(ctx, assignment.ID, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return appErrors.Internal(err, "failed to load progress")
	}
	if !progress.CanAttempt() {
		s.metrics.RecordUpload("limit")
		return appErrors.Clone(appErrors.ErrAttemptLimitExceeded, "")
	}
	return nil
}

func (s *RecordingService) mapUploadError(log *zap.Logger, err error) error {
	switch {
	case errors.Is(err, repository.ErrAttemptLimitReached):
		s.metrics.RecordUpload("limit")
		return appErrors.Clone(appErrors.ErrAttemptLimitExceeded, "")
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
	case errors.Is(err, errUploadTooLarge):
		s.metrics.RecordUpload("rejected")
		return appErrors.Clone(appErrors.ErrPayloadTooLarge, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	case errors.Is(err, errUploadTruncated):
		s.metrics.RecordUpload("rejected")
		return appErrors.WithDetails(appErrors.ErrValidation, "incomplete upload", map[string]string{"audio": "received bytes do not match declared size"})
	case errors.Is(err, errUploadAborted):
		s.metrics.RecordUpload("rejected")
		log.Warn("recording upload aborted", zap.Error(err))
		return appErrors.WithDetails(appErrors.ErrValidation, "incomplete upload", map[string]string{"audio": "could not be read"})
	case errors.Is(err, errStorageWrite):
		s.metrics.RecordUpload("storage_error")
		log.Error("recording storage write failed", zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, appErrors.ErrStorageFailure.Message)
	default:
		log.Error("recording persistence failed", zap.Error(err))
		return appErrors.Internal(err, "failed to save recording")
	}
}

// Get returns a recording within the caller's scope, with the student's attempt standing when it belongs to an assignment.
func (s *RecordingService) Get(ctx context.Context, principal *models.JWTClaims, id string) (*dto.RecordingResponse, error) {
	rec, err := s.loadScoped(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	resp := &dto.RecordingResponse{Recording: *rec, CanAttempt: true}
	if rec.AssignmentID != nil {
		progress, err := s.assignments.FindProgress(ctx, *rec.AssignmentID, rec.StudentID)
		if err == nil {
			used := progress.AttemptsUsed
			resp.AttemptsUsed = &used
			resp.AttemptsRemaining = progress.AttemptsRemaining()
			resp.CanAttempt = progress.CanAttempt()
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Internal(err, "failed to load progress")
		}
	}
	return resp, nil
}

// List returns recordings visible to the caller, newest first.
func (s *RecordingService) List(ctx context.Context, principal *models.JWTClaims, query dto.RecordingListQuery) ([]models.Recording, *models.Pagination, error) {
	if principal == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, validationError(err, "invalid recording filter")
	}
	page, size := models.NormalizePage(query.Page, query.PageSize)
	filter := models.RecordingFilter{
		StudentID:    query.StudentID,
		AssignmentID: query.AssignmentID,
		Status:       models.RecordingStatus(query.Status),
		Page:         page,
		PageSize:     size,
	}
	switch principal.Role {
	case models.RoleStudent:
		filter.StudentID = principal.UserID
	case models.RoleTeacher:
		filter.TeacherID = principal.UserID
	}
	recs, total, err := s.recordings.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list recordings")
	}
	return recs, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// StreamAudio opens the recording payload for playback.
func (s *RecordingService) StreamAudio(ctx context.Context, principal *models.JWTClaims, id string) (*AudioStream, error) {
	rec, err := s.loadScoped(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, rec)
}

// SignedAudioURL issues a short-lived URL that plays the recording without an auth header.
func (s *RecordingService) SignedAudioURL(ctx context.Context, principal *models.JWTClaims, id string) (*dto.SignedAudioResponse, error) {
	rec, err := s.loadScoped(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	token, err := s.signer.Sign(rec.ID, rec.StorageKey)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to sign media url")
	}
	return &dto.SignedAudioResponse{URL: strings.TrimRight(s.cfg.MediaPrefix, "/") + "/" + token.Token, ExpiresAt: token.ExpiresAt}, nil
}

// OpenSigned resolves a signed media token to its audio payload.
func (s *RecordingService) OpenSigned(ctx context.Context, token string) (*AudioStream, error) {
	claims, err := s.signer.Verify(token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "media not found")
	}
	rec, err := s.recordings.FindByID(ctx, claims.ResourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "media not found")
		}
		return nil, appErrors.Internal(err, "failed to load recording")
	}
	if rec.StorageKey != claims.Key {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "media not found")
	}
	return s.open(ctx, rec)
}

// Review grades a pending recording. Attempts are never touched.
func (s *RecordingService) Review(ctx context.Context, principal *models.JWTClaims, id string, req dto.ReviewRequest) (*models.Recording, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	details := map[string]string{}
	if req.FluencyScore < minScore || req.FluencyScore > maxScore {
		details["fluency_score"] = "must be between 1 and 5"
	}
	if req.AccuracyScore < minScore || req.AccuracyScore > maxScore {
		details["accuracy_score"] = "must be between 1 and 5"
	}
	if len(details) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrInvalidScore, "", details)
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid review payload")
	}

	rec, err := s.loadScoped(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.RecordingStatusPending {
		return nil, appErrors.Clone(appErrors.ErrAlreadyReviewed, "")
	}

	input := models.ReviewInput{
		FluencyScore:  req.FluencyScore,
		AccuracyScore: req.AccuracyScore,
		Grade:         models.Grade(req.Grade),
		Feedback:      optionalText(req.Feedback),
		ReviewerID:    principal.UserID,
	}
	changed, err := s.recordings.Review(ctx, rec.ID, input)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to review recording")
	}
	if !changed {
		return nil, s.transitionLost(ctx, rec.ID)
	}

	s.metrics.RecordReview(models.RecordingStatusReviewed)
	payload, _ := json.Marshal(map[string]interface{}{"fluency_score": input.FluencyScore, "accuracy_score": input.AccuracyScore, "grade": input.Grade})
	s.writeAudit(ctx, &models.AuditLog{
		UserID:     &principal.UserID,
		Action:     models.AuditActionRecordingReview,
		Resource:   "recording",
		ResourceID: &rec.ID,
		NewValues:  payload,
	})
	s.afterChange(ctx, rec.StudentID)
	return s.reload(ctx, rec.ID)
}

// FlagRecording marks a pending recording for follow-up without scoring it.
func (s *RecordingService) FlagRecording(ctx context.Context, principal *models.JWTClaims, id string, req dto.FlagRecordingRequest) (*models.Recording, error) {
	if err := requireStaff(principal); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid flag payload")
	}
	rec, err := s.loadScoped(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.RecordingStatusPending {
		return nil, appErrors.Clone(appErrors.ErrAlreadyReviewed, "")
	}
	changed, err := s.recordings.Flag(ctx, rec.ID, principal.UserID, optionalText(req.Note))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to flag recording")
	}
	if !changed {
		return nil, s.transitionLost(ctx, rec.ID)
	}

	s.metrics.RecordReview(models.RecordingStatusFlagged)
	s.writeAudit(ctx, &models.AuditLog{
		UserID:     &principal.UserID,
		Action:     models.AuditActionRecordingFlag,
		Resource:   "recording",
		ResourceID: &rec.ID,
		NewValues:  []byte(`{"status":"flagged"}`),
	})
	s.afterChange(ctx, rec.StudentID)
	return s.reload(ctx, rec.ID)
}

// transitionLost distinguishes a deleted row from a concurrent transition after a conditional update matched nothing.
func (s *RecordingService) transitionLost(ctx context.Context, id string) error {
	if _, err := s.recordings.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "recording not found")
		}
		return appErrors.Internal(err, "failed to load recording")
	}
	return appErrors.Clone(appErrors.ErrAlreadyReviewed, "")
}

func (s *RecordingService) loadScoped(ctx context.Context, principal *models.JWTClaims, id string) (*models.Recording, error) {
	if principal == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	rec, err := s.recordings.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "recording not found")
		}
		return nil, appErrors.Internal(err, "failed to load recording")
	}
	switch principal.Role {
	case models.RoleAdmin:
		return rec, nil
	case models.RoleStudent:
		if rec.StudentID == principal.UserID {
			return rec, nil
		}
	case models.RoleTeacher:
		ok, err := s.recordings.TeacherHasAccess(ctx, principal.UserID, rec.ID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to check recording scope")
		}
		if ok {
			return rec, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "recording not found")
}

func (s *RecordingService) reload(ctx context.Context, id string) (*models.Recording, error) {
	rec, err := s.recordings.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to reload recording")
	}
	return rec, nil
}

func (s *RecordingService) open(ctx context.Context, rec *models.Recording) (*AudioStream, error) {
	body, size, err := s.blobs.Open(ctx, rec.StorageKey)
	if err != nil {
		log := logger.WithContext(ctx, s.logger).With(zap.String("recording_id", rec.ID), zap.String("student_id", rec.StudentID), zap.String("key", rec.StorageKey))
		if errors.Is(err, storage.ErrObjectNotFound) {
			log.Error("recording blob missing")
			return nil, appErrors.Clone(appErrors.ErrNotFound, "recording audio not found")
		}
		log.Error("recording blob open failed", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrStorageFailure.Code, appErrors.ErrStorageFailure.Status, appErrors.ErrStorageFailure.Message)
	}
	return &AudioStream{Body: body, Size: size, ContentType: rec.MimeType}, nil
}

func (s *RecordingService) afterChange(ctx context.Context, studentID string) {
	if s.evaluator != nil {
		s.evaluator.EnqueueStudent(studentID)
	}
	if s.cache.Enabled() {
		go s.cache.InvalidateDashboards(context.WithoutCancel(ctx))
	}
}

func (s *RecordingService) writeAudit(ctx context.Context, entry *models.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}

func optionalText(v string) *string {
	v = security.SanitizeText(v)
	if v == "" {
		return nil
	}
	return &v
}

// limitedCounter fails the read once more than max bytes have flowed through.
// Any failure of the request body is kept in err so it is never taken for a store fault.
type limitedCounter struct {
	r   io.Reader
	max int64
	n   int64
	err error
}

func (l *limitedCounter) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.n > l.max {
		l.err = errUploadTooLarge
		return n, l.err
	}
	if err != nil && !errors.Is(err, io.EOF) {
		l.err = fmt.Errorf("%w: %v", errUploadAborted, err)
		return n, l.err
	}
	return n, err
}
