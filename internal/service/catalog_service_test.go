package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/readaloud-api/internal/dto"
	"github.com/noah-isme/readaloud-api/internal/models"
	appErrors "github.com/noah-isme/readaloud-api/pkg/errors"
	"github.com/noah-isme/readaloud-api/pkg/storage"
	"github.com/noah-isme/readaloud-api/pkg/tts"
)

type memStories struct {
	stories []models.Story
	created *models.Story
}

func (m *memStories) List(ctx context.Context, filter models.StoryFilter) ([]models.Story, int, error) {
	var out []models.Story
	for _, st := range m.stories {
		if st.Active && (filter.GradeLevel == "" || st.GradeLevel == filter.GradeLevel) {
			out = append(out, st)
		}
	}
	return out, len(out), nil
}

func (m *memStories) FindByID(ctx context.Context, id string) (*models.Story, error) {
	for i := range m.stories {
		if m.stories[i].ID == id {
			st := m.stories[i]
			return &st, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStories) FindByIDs(ctx context.Context, ids []string) ([]models.Story, error) {
	var out []models.Story
	for _, id := range ids {
		if st, err := m.FindByID(ctx, id); err == nil {
			out = append(out, *st)
		}
	}
	return out, nil
}

func (m *memStories) Create(ctx context.Context, story *models.Story) error {
	story.ID = "story-new"
	m.created = story
	return nil
}

type memVariantReader map[string]models.AudioVariant

func (m memVariantReader) Find(ctx context.Context, storyID, voice string) (*models.AudioVariant, error) {
	v, ok := m[storyID+"/"+voice]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &v, nil
}

func (m memVariantReader) VoicesByStory(ctx context.Context, storyIDs []string) (map[string][]string, error) {
	out := map[string][]string{}
	for _, v := range m {
		out[v.StoryID] = append(out[v.StoryID], v.Voice)
	}
	return out, nil
}

type mapBlobs map[string][]byte

func (m mapBlobs) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if key == "broken" {
		return nil, 0, errors.New("bucket unavailable")
	}
	data, ok := m[key]
	if !ok {
		return nil, 0, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func newCatalogFixture() (*CatalogService, *memStories) {
	stories := &memStories{stories: []models.Story{
		{ID: storyA, Title: "The Fox", GradeLevel: "1", Active: true},
		{ID: storyB, Title: "Retired", GradeLevel: "1", Active: false},
		{ID: "orphan", Title: "Orphan", GradeLevel: "2", Active: true},
		{ID: "flaky", Title: "Flaky", GradeLevel: "2", Active: true},
	}}
	variants := memVariantReader{
		storyA + "/" + tts.VoiceFemale1: {StoryID: storyA, Voice: tts.VoiceFemale1, StorageKey: "audio/fox.mp3"},
		"orphan/" + tts.VoiceMale1:       {StoryID: "orphan", Voice: tts.VoiceMale1, StorageKey: "audio/gone.mp3"},
		"flaky/" + tts.VoiceMale2:        {StoryID: "flaky", Voice: tts.VoiceMale2, StorageKey: "broken"},
	}
	blobs := mapBlobs{"audio/fox.mp3": []byte("ID3fox")}
	return NewCatalogService(stories, variants, blobs, nil, nil), stories
}

func TestCatalogServiceListAndGet(t *testing.T) {
	svc, _ := newCatalogFixture()
	ctx := context.Background()

	list, page, err := svc.ListStories(ctx, dto.StoryListQuery{GradeLevel: "1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{tts.VoiceFemale1}, list[0].Voices)
	assert.Equal(t, 1, page.TotalCount)

	_, err = svc.GetStory(ctx, storyB)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCatalogServiceCreateStoryDerivesLength(t *testing.T) {
	svc, stories := newCatalogFixture()
	req := dto.CreateStoryRequest{
		Title:      "Long <b>walk</b>",
		Content:    strings.Repeat("word ", 250),
		GradeLevel: "3",
		Difficulty: "medium",
	}
	story, err := svc.CreateStory(context.Background(), staffTeacher, req)
	require.NoError(t, err)
	assert.Equal(t, 250, story.WordCount)
	assert.Equal(t, 3, story.EstimatedMinutes)
	assert.NotContains(t, story.Title, "<b>")
	require.NotNil(t, stories.created.CreatedBy)
	assert.Equal(t, "t1", *stories.created.CreatedBy)

	req.Difficulty = "legendary"
	_, err = svc.CreateStory(context.Background(), staffTeacher, req)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCatalogServiceFetchAudio(t *testing.T) {
	svc, _ := newCatalogFixture()
	ctx := context.Background()

	stream, err := svc.FetchAudio(ctx, storyA, tts.VoiceFemale1)
	require.NoError(t, err)
	defer stream.Body.Close()
	body, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, "ID3fox", string(body))
	assert.Equal(t, int64(6), stream.Size)
	assert.Equal(t, tts.ContentType, stream.ContentType)

	_, err = svc.FetchAudio(ctx, storyA, tts.VoiceMale2)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.FetchAudio(ctx, storyA, "robot")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.FetchAudio(ctx, "orphan", tts.VoiceMale1)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.FetchAudio(ctx, "flaky", tts.VoiceMale2)
	assert.Equal(t, appErrors.ErrStorageFailure.Code, appErrors.FromError(err).Code)
}

func TestCatalogServiceActiveStories(t *testing.T) {
	svc, _ := newCatalogFixture()
	active, missing, err := svc.ActiveStories(context.Background(), []string{storyA, storyB, "ghost"})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, storyA, active[0].ID)
	assert.Equal(t, []string{storyB, "ghost"}, missing)
}
