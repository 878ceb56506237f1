package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/readaloud-api/internal/models"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
)

type dashboardFlagReader interface {
	Stats(ctx context.Context, teacherID string) ([]models.FlagStat, error)
	List(ctx context.Context, filter models.FlagFilter) ([]models.StudentFlag, int, error)
	OpenCountByStudent(ctx context.Context, studentIDs []string) (map[string]int, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL    time.Duration
	RecentFlags int
	Rules       FlagRules
}

// DashboardService composes the cached analytics overview.
type DashboardService struct {
	analytics analyticsReader
	flags     dashboardFlagReader
	cache     *CacheService
	logger    *zap.Logger
	cfg       DashboardServiceConfig
	now       func() time.Time
}

// NewDashboardService constructs the dashboard.
func NewDashboardService(analytics analyticsReader, flags dashboardFlagReader, cache *CacheService, logger *zap.Logger, cfg DashboardServiceConfig) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.RecentFlags <= 0 {
		cfg.RecentFlags = 5
	}
	if cfg.Rules == (FlagRules{}) {
		cfg.Rules = DefaultFlagRules()
	}
	return &DashboardService{analytics: analytics, flags: flags, cache: cache, logger: logger, cfg: cfg, now: time.Now}
}

// DashboardCacheKey is the cache entry of one principal's summary.
func DashboardCacheKey(principal *models.JWTClaims) string {
	return fmt.Sprintf("%s%s:%s", dashboardKeyPrefix, strings.ToLower(string(principal.Role)), principal.UserID)
}

// Summary returns the principal's dashboard and whether it came from cache.
func (s *DashboardService) Summary(ctx context.Context, principal *models.JWTClaims) (*models.DashboardSummary, bool, error) {
	teacherID, err := staffScope(principal)
	if err != nil {
		return nil, false, err
	}
	key := DashboardCacheKey(principal)
	var cached models.DashboardSummary
	if s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}

	students, histories, err := scopedHistories(ctx, s.analytics, principal, "")
	if err != nil {
		return nil, false, err
	}
	open, err := s.flags.OpenCountByStudent(ctx, studentIDs(students))
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to count open flags")
	}
	group, _ := SummarizeGroup(histories, open, s.cfg.Rules, s.now().UTC())

	stats, err := s.flags.Stats(ctx, teacherID)
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to load flag statistics")
	}
	recent, _, err := s.flags.List(ctx, models.FlagFilter{TeacherID: teacherID, Page: 1, PageSize: s.cfg.RecentFlags})
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to load recent flags")
	}

	summary := &models.DashboardSummary{
		FlagsBySeverity:          make(map[models.Severity]int, len(models.Severities())),
		FlagDistribution:         make(map[models.FlagType]int, len(models.FlagTypes())),
		StudentsNeedingAttention: group.StudentsNeedingAttention,
		AverageCompletionRate:    group.CompletionRate,
		StudentsByTrend:          group.TrendHistogram,
		TotalStudents:            group.TotalStudents,
		RecentFlags:              recent,
		GeneratedAt:              s.now().UTC(),
	}
	for _, sev := range models.Severities() {
		summary.FlagsBySeverity[sev] = 0
	}
	for _, t := range models.FlagTypes() {
		summary.FlagDistribution[t] = 0
	}
	for _, stat := range stats {
		summary.TotalFlags += stat.Count
		summary.FlagsBySeverity[stat.Severity] += stat.Count
		summary.FlagDistribution[stat.FlagType] += stat.Count
	}
	if summary.RecentFlags == nil {
		summary.RecentFlags = []models.StudentFlag{}
	}

	s.cache.Set(ctx, key, summary, s.cfg.CacheTTL)
	return summary, false, nil
}
