package service

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/readaloud-api/internal/models"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	raw, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(m.entries, key)
		}
	}
	return nil
}

type stubDashboardFlags struct {
	stats  []models.FlagStat
	recent []models.StudentFlag
	calls  int
}

func (s *stubDashboardFlags) Stats(ctx context.Context, teacherID string) ([]models.FlagStat, error) {
	s.calls++
	return s.stats, nil
}

func (s *stubDashboardFlags) List(ctx context.Context, filter models.FlagFilter) ([]models.StudentFlag, int, error) {
	return s.recent, len(s.recent), nil
}

func (s *stubDashboardFlags) OpenCountByStudent(ctx context.Context, studentIDs []string) (map[string]int, error) {
	return map[string]int{}, nil
}

func newDashboardFixture(cache *CacheService) (*DashboardService, *stubDashboardFlags) {
	analytics := &stubAnalytics{
		students:  []models.StudentRef{{ID: "s1"}, {ID: "s2"}},
		teacherOf: map[string]string{"s1": "t1", "s2": "t2"},
		histories: map[string]*models.StudentHistory{
			"s1": {StudentID: "s1", Assignments: []models.IssuedAssignment{issued("a1", 4, true), issued("a2", 3, false)}},
		},
	}
	flags := &stubDashboardFlags{stats: []models.FlagStat{
		{FlagType: models.FlagSubmissionGap, Severity: models.SeverityHigh, Count: 2},
		{FlagType: models.FlagLowSubmissionRate, Severity: models.SeverityHigh, Count: 1},
	}}
	svc := NewDashboardService(analytics, flags, cache, nil, DashboardServiceConfig{})
	svc.now = func() time.Time { return engineNow }
	return svc, flags
}

func TestDashboardServiceSummary(t *testing.T) {
	svc, _ := newDashboardFixture(nil)

	summary, hit, err := svc.Summary(context.Background(), &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 3, summary.TotalFlags)
	assert.Equal(t, 3, summary.FlagsBySeverity[models.SeverityHigh])
	assert.Equal(t, 0, summary.FlagsBySeverity[models.SeverityUrgent])
	assert.Len(t, summary.FlagsBySeverity, 4)
	assert.Equal(t, 0, summary.FlagDistribution[models.FlagDecliningScores])
	assert.Equal(t, 2, summary.TotalStudents)
	assert.Equal(t, 50.0, summary.AverageCompletionRate)
	assert.Equal(t, 2, summary.StudentsByTrend[models.TrendInsufficientData])
	assert.NotNil(t, summary.RecentFlags)
}

func TestDashboardServiceScopesHistoriesToTeacherClasses(t *testing.T) {
	svc, _ := newDashboardFixture(nil)
	analytics := svc.analytics.(*stubAnalytics)
	ctx := context.Background()

	_, _, err := svc.Summary(ctx, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})
	require.NoError(t, err)
	_, _, err = svc.Summary(ctx, &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin})
	require.NoError(t, err)

	assert.Equal(t, []models.HistoryScope{{TeacherID: "t1"}, {}}, analytics.scopes)
}

func TestDashboardServiceCachesPerPrincipal(t *testing.T) {
	store := newMemoryCache()
	cache := NewCacheService(store, nil, time.Minute, nil, true)
	svc, flags := newDashboardFixture(cache)
	ctx := context.Background()
	teacher := &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}

	first, hit, err := svc.Summary(ctx, teacher)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, first.TotalStudents)
	assert.Contains(t, store.entries, "dash:teacher:t1")

	second, hit, err := svc.Summary(ctx, teacher)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first.TotalFlags, second.TotalFlags)
	assert.Equal(t, 1, flags.calls)

	cache.InvalidateDashboards(ctx)
	_, hit, err = svc.Summary(ctx, teacher)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, flags.calls)
}

func TestDashboardServiceRejectsStudents(t *testing.T) {
	svc, _ := newDashboardFixture(nil)
	_, _, err := svc.Summary(context.Background(), &models.JWTClaims{UserID: "s1", Role: models.RoleStudent})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
