package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	"github.com/noah-isme/readaloud-api/internal/repository"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
	"github.com/noah-isme/readaloud-api/pkg/jobs"
)

type flagStore interface {
	Upsert(ctx context.Context, e models.FlagEmission) (repository.UpsertResult, error)
	MarkCleared(ctx context.Context, studentID string, firing []models.FlagType) (int64, error)
	FindByID(ctx context.Context, id string) (*models.StudentFlag, error)
	TeacherHasAccess(ctx context.Context, teacherID, flagID string) (bool, error)
	List(ctx context.Context, filter models.FlagFilter) ([]models.StudentFlag, int, error)
	OpenCountByStudent(ctx context.Context, studentIDs []string) (map[string]int, error)
	Resolve(ctx context.Context, id, resolvedBy string, notes *string) (bool, error)
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// FlagEvaluationJob is the queue job type for per-student evaluation.
const FlagEvaluationJob = "flag-evaluation"

// FlagServiceConfig controls scan scheduling and retention.
type FlagServiceConfig struct {
	Rules           FlagRules
	Concurrency     int
	ScanInterval    time.Duration
	Retention       time.Duration
	CleanupInterval time.Duration
}

// FlagService runs the flagging engine and serves flag listings.
type FlagService struct {
	analytics analyticsReader
	flags     flagStore
	audit     auditWriter
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       FlagServiceConfig
	now       func() time.Time

	mu    sync.RWMutex
	queue jobDispatcher
}

// NewFlagService constructs the engine runner.
func NewFlagService(analytics analyticsReader, flags flagStore, audit auditWriter, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg FlagServiceConfig) *FlagService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	if cfg.Rules == (FlagRules{}) {
		cfg.Rules = DefaultFlagRules()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	return &FlagService{
		analytics: analytics,
		flags:     flags,
		audit:     audit,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Rules exposes the thresholds in effect.
func (s *FlagService) Rules() FlagRules {
	return s.cfg.Rules
}

// SetQueue attaches the evaluation queue. The queue handler is the service itself, so it is wired after construction.
func (s *FlagService) SetQueue(queue jobDispatcher) {
	s.mu.Lock()
	s.queue = queue
	s.mu.Unlock()
}

// EnqueueStudent schedules a single-student evaluation. Without a queue the call is a no-op.
func (s *FlagService) EnqueueStudent(studentID string) {
	s.mu.RLock()
	queue := s.queue
	s.mu.RUnlock()
	if queue == nil || studentID == "" {
		return
	}
	// Enqueue blocks on a full buffer, so it must not hold up the request.
	go func() {
		if err := queue.Enqueue(jobs.Job{ID: studentID, Type: FlagEvaluationJob}); err != nil {
			s.logger.Warn("failed to enqueue flag evaluation", zap.String("student_id", studentID), zap.Error(err))
		}
	}()
}

// Handle processes a queued evaluation for the student named by the job id.
func (s *FlagService) Handle(ctx context.Context, job jobs.Job) error {
	res, err := s.ScanStudent(ctx, job.ID)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return errors.New("flag evaluation failed")
	}
	return nil
}

// TriggerScan runs a full scan on behalf of an admin.
func (s *FlagService) TriggerScan(ctx context.Context, principal *models.JWTClaims) (*dto.ScanResponse, error) {
	if principal == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "authentication required")
	}
	if principal.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators can trigger scans")
	}
	return s.ScanAll(ctx)
}

// ScanAll evaluates every active student.
func (s *FlagService) ScanAll(ctx context.Context) (*dto.ScanResponse, error) {
	students, err := s.analytics.ScopeStudents(ctx, "")
	if err != nil {
		return nil, appErrors.Internal(err, "failed to resolve students")
	}
	return s.scan(ctx, students)
}

// ScanStudent evaluates one student.
func (s *FlagService) ScanStudent(ctx context.Context, studentID string) (*dto.ScanResponse, error) {
	return s.scan(ctx, []models.StudentRef{{ID: studentID}})
}

func (s *FlagService) scan(ctx context.Context, students []models.StudentRef) (*dto.ScanResponse, error) {
	started := time.Now()
	// Flags describe the student as a whole, so evaluation reads every class.
	histories, err := s.analytics.Histories(ctx, students, models.HistoryScope{})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load student histories")
	}

	var (
		mu  sync.Mutex
		res = &dto.ScanResponse{Students: len(students)}
	)
	now := s.now().UTC()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, st := range students {
		h, ok := histories[st.ID]
		if !ok {
			continue
		}
		g.Go(func() error {
			out, err := s.evaluate(gctx, h, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				s.logger.Error("flag evaluation failed", zap.String("student_id", h.StudentID), zap.Error(err))
				return nil
			}
			res.Created += out.Created
			res.Updated += out.Updated
			res.Unchanged += out.Unchanged
			res.Cleared += out.Cleared
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, err
	}

	s.metrics.ObserveScan(time.Since(started))
	if res.Created+res.Updated > 0 || res.Cleared > 0 {
		s.cache.InvalidateDashboards(ctx)
	}
	if len(students) > 1 {
		s.logger.Info("flag scan complete",
			zap.Int("students", res.Students),
			zap.Int("created", res.Created),
			zap.Int("updated", res.Updated),
			zap.Int64("cleared", res.Cleared),
			zap.Int("failed", res.Failed),
			zap.Duration("duration", time.Since(started)),
		)
	}
	return res, nil
}

func (s *FlagService) evaluate(ctx context.Context, h *models.StudentHistory, now time.Time) (dto.ScanResponse, error) {
	var out dto.ScanResponse
	emissions := EvaluateStudent(h, s.cfg.Rules, now)
	firing := make([]models.FlagType, 0, len(emissions))
	for _, e := range emissions {
		result, err := s.flags.Upsert(ctx, e)
		if err != nil {
			return out, err
		}
		firing = append(firing, e.Type)
		s.metrics.RecordFlag(e.Type, e.Severity, string(result))
		switch result {
		case repository.FlagCreated:
			out.Created++
		case repository.FlagUpdated:
			out.Updated++
		default:
			out.Unchanged++
		}
	}
	cleared, err := s.flags.MarkCleared(ctx, h.StudentID, firing)
	if err != nil {
		return out, err
	}
	out.Cleared = cleared
	return out, nil
}

// StartScheduler runs full scans and resolved-flag cleanup on tickers until ctx is cancelled.
func (s *FlagService) StartScheduler(ctx context.Context) {
	if s.cfg.ScanInterval > 0 {
		go s.every(ctx, s.cfg.ScanInterval, func(ctx context.Context) {
			if _, err := s.ScanAll(ctx); err != nil {
				s.logger.Warn("scheduled flag scan failed", zap.Error(err))
			}
		})
	}
	if s.cfg.CleanupInterval > 0 {
		go s.every(ctx, s.cfg.CleanupInterval, func(ctx context.Context) {
			if _, err := s.Cleanup(ctx); err != nil {
				s.logger.Warn("flag cleanup failed", zap.Error(err))
			}
		})
	}
}

func (s *FlagService) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Cleanup deletes resolved flags older than the retention window.
func (s *FlagService) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.cfg.Retention)
	deleted, err := s.flags.DeleteResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("resolved flags purged", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
	}
	return deleted, nil
}

// ListFlags returns flags on students in the caller's scope.
func (s *FlagService) ListFlags(ctx context.Context, principal *models.JWTClaims, query dto.FlagListQuery) ([]models.StudentFlag, *models.Pagination, error) {
	teacherID, err := staffScope(principal)
	if err != nil {
		return nil, nil, err
	}
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, validationError(err, "invalid flag filter")
	}
	page, size := models.NormalizePage(query.Page, query.PageSize)
	items, total, err := s.flags.List(ctx, models.FlagFilter{
		TeacherID:       teacherID,
		StudentID:       query.StudentID,
		Type:            models.FlagType(query.Type),
		Severity:        models.Severity(query.Severity),
		IncludeResolved: query.IncludeResolved,
		Page:            page,
		PageSize:        size,
	})
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list flags")
	}
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ResolveFlag closes an open flag. The same window is never flagged again.
func (s *FlagService) ResolveFlag(ctx context.Context, principal *models.JWTClaims, id string, req dto.ResolveFlagRequest) (*models.StudentFlag, error) {
	teacherID, err := staffScope(principal)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid resolve payload")
	}
	flag, err := s.flags.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "flag not found")
		}
		return nil, appErrors.Internal(err, "failed to load flag")
	}
	if teacherID != "" {
		ok, err := s.flags.TeacherHasAccess(ctx, teacherID, flag.ID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to check flag scope")
		}
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "flag not found")
		}
	}
	if flag.Resolved {
		return nil, appErrors.Clone(appErrors.ErrConflict, "flag already resolved")
	}

	changed, err := s.flags.Resolve(ctx, flag.ID, principal.UserID, optionalText(req.Notes))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to resolve flag")
	}
	if !changed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "flag already resolved")
	}

	payload, _ := json.Marshal(map[string]interface{}{"flag_type": flag.FlagType, "student_id": flag.StudentID})
	if s.audit != nil {
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &principal.UserID,
			Action:     models.AuditActionFlagResolve,
			Resource:   "student_flag",
			ResourceID: &flag.ID,
			NewValues:  payload,
		}); err != nil {
			s.logger.Warn("failed to record audit log", zap.String("action", models.AuditActionFlagResolve), zap.Error(err))
		}
	}
	s.cache.InvalidateDashboards(ctx)

	updated, err := s.flags.FindByID(ctx, flag.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to reload flag")
	}
	return updated, nil
}

// StudentAnalytics returns per-student metrics for every student in the caller's scope.
func (s *FlagService) StudentAnalytics(ctx context.Context, principal *models.JWTClaims) ([]models.StudentMetrics, error) {
	students, histories, err := scopedHistories(ctx, s.analytics, principal, "")
	if err != nil {
		return nil, err
	}
	open, err := s.flags.OpenCountByStudent(ctx, studentIDs(students))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to count open flags")
	}
	_, metrics := SummarizeGroup(histories, open, s.cfg.Rules, s.now().UTC())
	return metrics, nil
}
