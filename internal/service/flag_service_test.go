package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	"github.com/noah-isme/readaloud-api/internal/repository"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
	"github.com/noah-isme/readaloud-api/pkg/jobs"
)

type stubAnalytics struct {
	mu        sync.Mutex
	students  []models.StudentRef
	histories map[string]*models.StudentHistory
	teacherOf map[string]string
	scopes    []models.HistoryScope
}

func (a *stubAnalytics) ScopeStudents(ctx context.Context, teacherID string) ([]models.StudentRef, error) {
	if teacherID == "" {
		return a.students, nil
	}
	var out []models.StudentRef
	for _, st := range a.students {
		if a.teacherOf[st.ID] == teacherID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (a *stubAnalytics) TeacherHasStudent(ctx context.Context, teacherID, studentID string) (bool, error) {
	return a.teacherOf[studentID] == teacherID, nil
}

func (a *stubAnalytics) Histories(ctx context.Context, students []models.StudentRef, scope models.HistoryScope) (map[string]*models.StudentHistory, error) {
	a.mu.Lock()
	a.scopes = append(a.scopes, scope)
	a.mu.Unlock()
	out := make(map[string]*models.StudentHistory, len(students))
	for _, st := range students {
		if h, ok := a.histories[st.ID]; ok {
			out[st.ID] = h
			continue
		}
		out[st.ID] = &models.StudentHistory{StudentID: st.ID, FullName: st.FullName}
	}
	return out, nil
}

// memFlagStore keeps at most one open flag per (student, type) and skips windows already resolved.
type memFlagStore struct {
	mu        sync.Mutex
	flags     []*models.StudentFlag
	teacherOf map[string]string
	seq       int
}

func (m *memFlagStore) open(studentID string, flagType models.FlagType) *models.StudentFlag {
	for _, f := range m.flags {
		if f.StudentID == studentID && f.FlagType == flagType && !f.Resolved {
			return f
		}
	}
	return nil
}

func (m *memFlagStore) Upsert(ctx context.Context, e models.FlagEmission) (repository.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.flags {
		if f.StudentID == e.StudentID && f.FlagType == e.Type && f.WindowKey == e.WindowKey && f.Resolved {
			return repository.FlagUnchanged, nil
		}
	}
	if f := m.open(e.StudentID, e.Type); f != nil {
		if f.Severity == e.Severity && f.Description == e.Description && f.WindowKey == e.WindowKey && f.ClearedAt == nil {
			return repository.FlagUnchanged, nil
		}
		f.Severity, f.Description, f.WindowKey, f.ClearedAt = e.Severity, e.Description, e.WindowKey, nil
		return repository.FlagUpdated, nil
	}
	m.seq++
	m.flags = append(m.flags, &models.StudentFlag{
		ID: fmt.Sprintf("flag-%d", m.seq), StudentID: e.StudentID, FlagType: e.Type, Severity: e.Severity,
		Description: e.Description, WindowKey: e.WindowKey, AutoGenerated: true,
	})
	return repository.FlagCreated, nil
}

func (m *memFlagStore) MarkCleared(ctx context.Context, studentID string, firing []models.FlagType) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cleared int64
	now := time.Now()
	for _, f := range m.flags {
		if f.StudentID != studentID || f.Resolved || f.ClearedAt != nil {
			continue
		}
		still := false
		for _, t := range firing {
			if t == f.FlagType {
				still = true
			}
		}
		if !still {
			f.ClearedAt = &now
			cleared++
		}
	}
	return cleared, nil
}

func (m *memFlagStore) FindByID(ctx context.Context, id string) (*models.StudentFlag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.flags {
		if f.ID == id {
			copied := *f
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memFlagStore) TeacherHasAccess(ctx context.Context, teacherID, flagID string) (bool, error) {
	f, err := m.FindByID(ctx, flagID)
	if err != nil {
		return false, nil
	}
	return m.teacherOf[f.StudentID] == teacherID, nil
}

func (m *memFlagStore) List(ctx context.Context, filter models.FlagFilter) ([]models.StudentFlag, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StudentFlag
	for _, f := range m.flags {
		if f.Resolved && !filter.IncludeResolved {
			continue
		}
		if filter.TeacherID != "" && m.teacherOf[f.StudentID] != filter.TeacherID {
			continue
		}
		out = append(out, *f)
	}
	return out, len(out), nil
}

func (m *memFlagStore) OpenCountByStudent(ctx context.Context, studentIDs []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for _, f := range m.flags {
		if !f.Resolved {
			out[f.StudentID]++
		}
	}
	return out, nil
}

func (m *memFlagStore) Resolve(ctx context.Context, id, resolvedBy string, notes *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.flags {
		if f.ID == id && !f.Resolved {
			f.Resolved = true
			f.ResolvedBy = &resolvedBy
			f.ResolutionNotes = notes
			return true, nil
		}
	}
	return false, nil
}

func (m *memFlagStore) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.flags[:0]
	var deleted int64
	for i, f := range m.flags {
		if f.Resolved && m.hasNewer(i) {
			deleted++
			continue
		}
		kept = append(kept, f)
	}
	m.flags = kept
	return deleted, nil
}

// hasNewer reports whether a later row exists for the same student and type.
func (m *memFlagStore) hasNewer(i int) bool {
	for _, later := range m.flags[i+1:] {
		if later.StudentID == m.flags[i].StudentID && later.FlagType == m.flags[i].FlagType {
			return true
		}
	}
	return false
}

func (m *memFlagStore) openFlags() []models.StudentFlag {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StudentFlag
	for _, f := range m.flags {
		if !f.Resolved {
			out = append(out, *f)
		}
	}
	return out
}

type flagFixture struct {
	svc       *FlagService
	analytics *stubAnalytics
	store     *memFlagStore
}

func newFlagFixture() *flagFixture {
	teacherOf := map[string]string{"s1": "t1", "s2": "t2"}
	analytics := &stubAnalytics{
		students:  []models.StudentRef{{ID: "s1", FullName: "Ana"}, {ID: "s2", FullName: "Ben"}},
		histories: map[string]*models.StudentHistory{},
		teacherOf: teacherOf,
	}
	store := &memFlagStore{teacherOf: teacherOf}
	svc := NewFlagService(analytics, store, &recordingAudit{}, nil, nil, nil, nil, FlagServiceConfig{})
	svc.now = func() time.Time { return engineNow }
	return &flagFixture{svc: svc, analytics: analytics, store: store}
}

func gapHistory(studentID string, days int) *models.StudentHistory {
	return &models.StudentHistory{
		StudentID:   studentID,
		Assignments: []models.IssuedAssignment{issued("a1", 40, true)},
		Recordings:  []models.RecordingSample{{ID: "r-" + studentID, CreatedAt: daysAgo(days)}},
	}
}

func TestFlagServiceScanDedupesRepeatedRuns(t *testing.T) {
	f := newFlagFixture()
	f.analytics.histories["s1"] = gapHistory("s1", 14)

	first, err := f.svc.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)
	assert.Equal(t, 2, first.Students)

	second, err := f.svc.ScanAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Unchanged)

	open := f.store.openFlags()
	require.Len(t, open, 1)
	assert.Equal(t, models.FlagSubmissionGap, open[0].FlagType)
	assert.Equal(t, models.SeverityHigh, open[0].Severity)
}

func TestFlagServiceEscalatesInPlace(t *testing.T) {
	f := newFlagFixture()
	f.analytics.histories["s1"] = gapHistory("s1", 14)
	_, err := f.svc.ScanAll(context.Background())
	require.NoError(t, err)

	f.analytics.histories["s1"] = gapHistory("s1", 21)
	res, err := f.svc.ScanStudent(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	open := f.store.openFlags()
	require.Len(t, open, 1)
	assert.Equal(t, models.SeverityUrgent, open[0].Severity)
}

func TestFlagServiceAntiFlap(t *testing.T) {
	f := newFlagFixture()
	ctx := context.Background()
	f.analytics.histories["s1"] = gapHistory("s1", 14)
	_, err := f.svc.ScanStudent(ctx, "s1")
	require.NoError(t, err)

	f.analytics.histories["s1"] = gapHistory("s1", 1)
	res, err := f.svc.ScanStudent(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Cleared)
	require.Len(t, f.store.openFlags(), 1, "cleared flags stay open until a teacher resolves them")

	f.analytics.histories["s1"] = gapHistory("s1", 14)
	res, err = f.svc.ScanStudent(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Updated)
	open := f.store.openFlags()
	require.Len(t, open, 1)
	assert.Nil(t, open[0].ClearedAt)
}

func TestFlagServiceResolvedWindowIsNotReflagged(t *testing.T) {
	f := newFlagFixture()
	ctx := context.Background()
	f.analytics.histories["s1"] = gapHistory("s1", 14)
	_, err := f.svc.ScanStudent(ctx, "s1")
	require.NoError(t, err)
	flagID := f.store.openFlags()[0].ID

	resolved, err := f.svc.ResolveFlag(ctx, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}, flagID, dto.ResolveFlagRequest{Notes: "called parents"})
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)

	res, err := f.svc.ScanStudent(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Empty(t, f.store.openFlags())

	f.analytics.histories["s1"].Recordings[0].ID = "r-newer"
	res, err = f.svc.ScanStudent(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created, "a new window raises a new flag")
}

func TestFlagServiceResolveScopeAndConflict(t *testing.T) {
	f := newFlagFixture()
	ctx := context.Background()
	f.analytics.histories["s1"] = gapHistory("s1", 14)
	_, err := f.svc.ScanStudent(ctx, "s1")
	require.NoError(t, err)
	flagID := f.store.openFlags()[0].ID

	_, err = f.svc.ResolveFlag(ctx, &models.JWTClaims{UserID: "t2", Role: models.RoleTeacher}, flagID, dto.ResolveFlagRequest{})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = f.svc.ResolveFlag(ctx, &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}, flagID, dto.ResolveFlagRequest{})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	admin := &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin}
	_, err = f.svc.ResolveFlag(ctx, admin, flagID, dto.ResolveFlagRequest{})
	require.NoError(t, err)
	_, err = f.svc.ResolveFlag(ctx, admin, flagID, dto.ResolveFlagRequest{})
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestFlagServiceTriggerScanRequiresAdmin(t *testing.T) {
	f := newFlagFixture()
	_, err := f.svc.TriggerScan(context.Background(), &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestFlagServiceStudentAnalyticsScoped(t *testing.T) {
	f := newFlagFixture()
	metrics, err := f.svc.StudentAnalytics(context.Background(), &models.JWTClaims{UserID: "t2", Role: models.RoleTeacher})
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, "s2", metrics[0].StudentID)
	assert.Equal(t, models.TrendInsufficientData, metrics[0].Trend)
}

func TestFlagServiceHandleRunsQueuedEvaluation(t *testing.T) {
	f := newFlagFixture()
	f.analytics.histories["s2"] = gapHistory("s2", 30)

	require.NoError(t, f.svc.Handle(context.Background(), jobs.Job{ID: "s2", Type: FlagEvaluationJob}))
	open := f.store.openFlags()
	require.Len(t, open, 1)
	assert.Equal(t, "s2", open[0].StudentID)
}

type capturingDispatcher struct {
	jobs chan jobs.Job
}

func (d *capturingDispatcher) Enqueue(job jobs.Job) error {
	d.jobs <- job
	return nil
}

func TestFlagServiceEnqueueStudent(t *testing.T) {
	f := newFlagFixture()
	f.svc.EnqueueStudent("s1")

	dispatcher := &capturingDispatcher{jobs: make(chan jobs.Job, 1)}
	f.svc.SetQueue(dispatcher)
	f.svc.EnqueueStudent("s1")

	select {
	case job := <-dispatcher.jobs:
		assert.Equal(t, jobs.Job{ID: "s1", Type: FlagEvaluationJob}, job)
	case <-time.After(time.Second):
		t.Fatal("evaluation was not enqueued")
	}
}

func TestFlagServiceCleanup(t *testing.T) {
	f := newFlagFixture()
	ctx := context.Background()
	f.analytics.histories["s1"] = gapHistory("s1", 14)
	_, err := f.svc.ScanStudent(ctx, "s1")
	require.NoError(t, err)
	_, err = f.svc.ResolveFlag(ctx, &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin}, f.store.openFlags()[0].ID, dto.ResolveFlagRequest{})
	require.NoError(t, err)

	deleted, err := f.svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted, "latest resolved window is kept")

	again, err := f.svc.ScanStudent(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created)
	assert.Empty(t, f.store.openFlags())

	f.analytics.histories["s1"].Recordings = []models.RecordingSample{{ID: "r-s1-later", CreatedAt: daysAgo(12)}}
	moved, err := f.svc.ScanStudent(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, moved.Created)

	deleted, err = f.svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Len(t, f.store.openFlags(), 1)
}

func TestFlagServiceHistoryScopes(t *testing.T) {
	f := newFlagFixture()
	ctx := context.Background()

	_, err := f.svc.StudentAnalytics(ctx, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})
	require.NoError(t, err)
	_, err = f.svc.ScanStudent(ctx, "s1")
	require.NoError(t, err)

	// Evaluation reads the whole student; the teacher view stays within t1's classes.
	assert.Equal(t, []models.HistoryScope{{TeacherID: "t1"}, {}}, f.analytics.scopes)
}
