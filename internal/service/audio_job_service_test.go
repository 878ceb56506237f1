package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
	"github.com/noah-isme/readaloud-api/pkg/jobs"
	"github.com/noah-isme/readaloud-api/pkg/storage"
)

type memAudioJobs struct {
	mu    sync.Mutex
	jobs  map[string]*models.AudioJob
	items map[string][]models.AudioJobItem
	seq   int
}

func newMemAudioJobs() *memAudioJobs {
	return &memAudioJobs{jobs: map[string]*models.AudioJob{}, items: map[string][]models.AudioJobItem{}}
}

func (m *memAudioJobs) Create(ctx context.Context, job *models.AudioJob, items []models.AudioJobItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	job.ID = fmt.Sprintf("job-%d", m.seq)
	job.TotalItems = len(items)
	for i := range items {
		items[i].JobID = job.ID
		items[i].Status = models.AudioItemPending
	}
	stored := *job
	m.jobs[job.ID] = &stored
	m.items[job.ID] = append([]models.AudioJobItem(nil), items...)
	return nil
}

func (m *memAudioJobs) GetByID(ctx context.Context, id string) (*models.AudioJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (m *memAudioJobs) ListItems(ctx context.Context, jobID string) ([]models.AudioJobItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AudioJobItem(nil), m.items[jobID]...), nil
}

func (m *memAudioJobs) Update(ctx context.Context, params models.UpdateAudioJobParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[params.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.StartedAt != nil {
		job.StartedAt = params.StartedAt
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (m *memAudioJobs) CompleteItem(ctx context.Context, item models.AudioJobItem) (*models.AudioJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[item.JobID]
	items := m.items[item.JobID]
	for i := range items {
		if items[i].StoryID == item.StoryID && items[i].Voice == item.Voice && items[i].Status == models.AudioItemPending {
			items[i] = item
			if item.Status == models.AudioItemDone {
				job.CompletedItems++
			} else {
				job.FailedItems++
			}
		}
	}
	copied := *job
	return &copied, nil
}

func (m *memAudioJobs) ListRecoverable(ctx context.Context, limit int) ([]models.AudioJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AudioJob
	for _, job := range m.jobs {
		if job.Status == models.AudioJobQueued || job.Status == models.AudioJobProcessing {
			out = append(out, *job)
		}
	}
	return out, nil
}

type stubActiveStories map[string]models.Story

func (s stubActiveStories) ActiveStories(ctx context.Context, ids []string) ([]models.Story, []string, error) {
	var found []models.Story
	var missing []string
	for _, id := range ids {
		if st, ok := s[id]; ok {
			found = append(found, st)
		} else {
			missing = append(missing, id)
		}
	}
	return found, missing, nil
}

func (s stubActiveStories) FindByID(ctx context.Context, id string) (*models.Story, error) {
	st, ok := s[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &st, nil
}

type recordingDispatcher struct {
	queued []jobs.Job
	err    error
}

func (d *recordingDispatcher) Enqueue(job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.queued = append(d.queued, job)
	return nil
}

type stubVariants struct {
	mu       sync.Mutex
	current  map[string]string
	saved    map[string]models.AudioVariant
	failWith error
}

func (v *stubVariants) Replace(ctx context.Context, variant *models.AudioVariant) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failWith != nil {
		return "", v.failWith
	}
	key := variant.StoryID + "/" + variant.Voice
	previous := v.current[key]
	v.current[key] = variant.StorageKey
	variant.ID = "variant-" + key
	if v.saved == nil {
		v.saved = map[string]models.AudioVariant{}
	}
	v.saved[key] = *variant
	return previous, nil
}

type scriptedSynth struct {
	failVoice string
}

func (s scriptedSynth) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if voice == s.failVoice {
		return nil, errors.New("tts unavailable")
	}
	return []byte("ID3" + text), nil
}

const (
	storyA = "11111111-1111-1111-1111-111111111111"
	storyB = "22222222-2222-2222-2222-222222222222"
)

var staffTeacher = &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}

func newAudioStories() stubActiveStories {
	return stubActiveStories{
		storyA: {ID: storyA, Content: "The fox ran.", Active: true},
		storyB: {ID: storyB, Content: "The owl slept.", Active: true},
	}
}

func TestAudioJobServiceCreateJob(t *testing.T) {
	repo := newMemAudioJobs()
	queue := &recordingDispatcher{}
	svc := NewAudioJobService(repo, newAudioStories(), queue, &recordingAudit{}, nil, nil)

	resp, err := svc.CreateJob(context.Background(), staffTeacher, dto.CreateAudioJobRequest{StoryIDs: []string{storyA, storyB, storyA}, Voices: []string{"female_1"}})
	require.NoError(t, err)
	assert.Equal(t, models.AudioJobQueued, resp.Status)
	assert.Equal(t, 2, resp.TotalItems)
	require.Len(t, queue.queued, 1)
	assert.Equal(t, jobs.Job{ID: resp.ID, Type: AudioGenerationJob}, queue.queued[0])

	all, err := svc.CreateJob(context.Background(), staffTeacher, dto.CreateAudioJobRequest{StoryIDs: []string{storyA}})
	require.NoError(t, err)
	assert.Equal(t, 4, all.TotalItems)
}

func TestAudioJobServiceCreateJobValidation(t *testing.T) {
	svc := NewAudioJobService(newMemAudioJobs(), newAudioStories(), &recordingDispatcher{}, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.CreateJob(ctx, staffTeacher, dto.CreateAudioJobRequest{StoryIDs: []string{"33333333-3333-3333-3333-333333333333"}})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Details["story_ids"], "33333333")

	_, err = svc.CreateJob(ctx, staffTeacher, dto.CreateAudioJobRequest{StoryIDs: []string{storyA}, Voices: []string{"robot"}})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.CreateJob(ctx, &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}, dto.CreateAudioJobRequest{StoryIDs: []string{storyA}})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAudioJobServiceEnqueueFailureMarksJobFailed(t *testing.T) {
	repo := newMemAudioJobs()
	svc := NewAudioJobService(repo, newAudioStories(), &recordingDispatcher{err: errors.New("queue stopped")}, nil, nil, nil)

	_, err := svc.CreateJob(context.Background(), staffTeacher, dto.CreateAudioJobRequest{StoryIDs: []string{storyA}})
	require.Error(t, err)
	job, err := repo.GetByID(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.AudioJobFailed, job.Status)
}

func TestAudioJobServiceGetJobScope(t *testing.T) {
	repo := newMemAudioJobs()
	svc := NewAudioJobService(repo, newAudioStories(), &recordingDispatcher{}, nil, nil, nil)
	ctx := context.Background()
	created, err := svc.CreateJob(ctx, staffTeacher, dto.CreateAudioJobRequest{StoryIDs: []string{storyA}, Voices: []string{"male_1"}})
	require.NoError(t, err)

	got, err := svc.GetJob(ctx, staffTeacher, created.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)

	_, err = svc.GetJob(ctx, &models.JWTClaims{UserID: "t2", Role: models.RoleTeacher}, created.ID)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.GetJob(ctx, &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin}, created.ID)
	require.NoError(t, err)
}

func newWorkerFixture(t *testing.T, synth scriptedSynth) (*AudioJobService, *AudioJobWorker, *memAudioJobs, *stubVariants) {
	t.Helper()
	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := newMemAudioJobs()
	stories := newAudioStories()
	variants := &stubVariants{current: map[string]string{}}
	svc := NewAudioJobService(repo, stories, &recordingDispatcher{}, nil, nil, nil)
	worker := NewAudioJobWorker(repo, stories, variants, blobs, synth, nil, nil)
	return svc, worker, repo, variants
}

func TestAudioJobWorkerRecordsPartialFailure(t *testing.T) {
	svc, worker, repo, variants := newWorkerFixture(t, scriptedSynth{failVoice: "male_2"})
	ctx := context.Background()
	created, err := svc.CreateJob(ctx, staffTeacher, dto.CreateAudioJobRequest{StoryIDs: []string{storyA}, Voices: []string{"female_1", "male_2"}})
	require.NoError(t, err)

	require.NoError(t, worker.Handle(ctx, jobs.Job{ID: created.ID, Type: AudioGenerationJob}))

	job, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AudioJobFinished, job.Status)
	assert.Equal(t, 1, job.CompletedItems)
	assert.Equal(t, 1, job.FailedItems)
	assert.Equal(t, 100, job.Progress())
	assert.NotNil(t, job.FinishedAt)
	assert.Contains(t, variants.current, storyA+"/female_1")

	items, err := repo.ListItems(ctx, created.ID)
	require.NoError(t, err)
	for _, item := range items {
		if item.Voice == "male_2" {
			assert.Equal(t, models.AudioItemFailed, item.Status)
			require.NotNil(t, item.ErrorMessage)
			assert.Contains(t, *item.ErrorMessage, "tts unavailable")
		} else {
			assert.Equal(t, models.AudioItemDone, item.Status)
			assert.NotNil(t, item.VariantID)
		}
	}

	require.NoError(t, worker.Handle(ctx, jobs.Job{ID: created.ID, Type: AudioGenerationJob}), "finished jobs are skipped")
}

func TestAudioJobWorkerAllFailedMarksJobFailed(t *testing.T) {
	svc, worker, repo, _ := newWorkerFixture(t, scriptedSynth{failVoice: "female_2"})
	ctx := context.Background()
	created, err := svc.CreateJob(ctx, staffTeacher, dto.CreateAudioJobRequest{StoryIDs: []string{storyA, storyB}, Voices: []string{"female_2"}})
	require.NoError(t, err)

	require.NoError(t, worker.Handle(ctx, jobs.Job{ID: created.ID, Type: AudioGenerationJob}))
	job, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AudioJobFailed, job.Status)
	assert.Equal(t, 2, job.FailedItems)
}

func TestAudioJobWorkerMissingJobIsDropped(t *testing.T) {
	_, worker, _, _ := newWorkerFixture(t, scriptedSynth{})
	assert.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "ghost", Type: AudioGenerationJob}))
}

func TestAudioJobServiceRecoverPendingJobs(t *testing.T) {
	repo := newMemAudioJobs()
	queue := &recordingDispatcher{}
	svc := NewAudioJobService(repo, newAudioStories(), queue, nil, nil, nil)
	_, err := svc.CreateJob(context.Background(), staffTeacher, dto.CreateAudioJobRequest{StoryIDs: []string{storyA}})
	require.NoError(t, err)
	queue.queued = nil

	svc.RecoverPendingJobs(context.Background())
	require.Len(t, queue.queued, 1)
	assert.Equal(t, "job-1", queue.queued[0].ID)
}

func TestAudioJobWorkerEstimatesNarrationLength(t *testing.T) {
	svc, worker, _, variants := newWorkerFixture(t, scriptedSynth{})
	ctx := context.Background()
	created, err := svc.CreateJob(ctx, staffTeacher, dto.CreateAudioJobRequest{StoryIDs: []string{storyA}, Voices: []string{"female_1"}})
	require.NoError(t, err)

	require.NoError(t, worker.Handle(ctx, jobs.Job{ID: created.ID, Type: AudioGenerationJob}))

	variant, ok := variants.saved[storyA+"/female_1"]
	require.True(t, ok)
	require.NotNil(t, variant.DurationSeconds)
	// "The fox ran." is three words at 100 words per minute.
	assert.InDelta(t, 1.8, *variant.DurationSeconds, 0.001)
}
