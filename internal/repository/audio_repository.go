package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/readaloud-api/internal/models"
)

// AudioRepository stores rendered voice variants.
type AudioRepository struct {
	db *sqlx.DB
}

// NewAudioRepository constructs the repository.
func NewAudioRepository(db *sqlx.DB) *AudioRepository {
	return &AudioRepository{db: db}
}

// Find returns the variant for (story, voice).
func (r *AudioRepository) Find(ctx context.Context, storyID, voice string) (*models.AudioVariant, error) {
	const query = `SELECT id, story_id, voice, storage_key, size_bytes, duration_seconds, created_at FROM audio_variants WHERE story_id = $1 AND voice = $2`
	var variant models.AudioVariant
	if err := r.db.GetContext(ctx, &variant, query, storyID, voice); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find audio variant: %w", err)
	}
	return &variant, nil
}

// VoicesByStory maps story ids to their generated voices.
func (r *AudioRepository) VoicesByStory(ctx context.Context, storyIDs []string) (map[string][]string, error) {
	result := make(map[string][]string, len(storyIDs))
	if len(storyIDs) == 0 {
		return result, nil
	}
	var rows []struct {
		StoryID string `db:"story_id"`
		Voice   string `db:"voice"`
	}
	const query = `SELECT story_id, voice FROM audio_variants WHERE story_id = ANY($1) ORDER BY voice`
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(storyIDs)); err != nil {
		return nil, fmt.Errorf("list audio voices: %w", err)
	}
	for _, row := range rows {
		result[row.StoryID] = append(result[row.StoryID], row.Voice)
	}
	return result, nil
}

// Replace upserts the variant for (story, voice) and returns the storage key it superseded, if any.
func (r *AudioRepository) Replace(ctx context.Context, variant *models.AudioVariant) (string, error) {
	if variant.ID == "" {
		variant.ID = uuid.NewString()
	}
	if variant.CreatedAt.IsZero() {
		variant.CreatedAt = time.Now().UTC()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin replace audio variant: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var previous sql.NullString
	if err := tx.GetContext(ctx, &previous, `SELECT storage_key FROM audio_variants WHERE story_id = $1 AND voice = $2 FOR UPDATE`, variant.StoryID, variant.Voice); err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("lock audio variant: %w", err)
	}

	const upsert = `INSERT INTO audio_variants (id, story_id, voice, storage_key, size_bytes, duration_seconds, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (story_id, voice) DO UPDATE SET storage_key = EXCLUDED.storage_key, size_bytes = EXCLUDED.size_bytes, duration_seconds = EXCLUDED.duration_seconds, created_at = EXCLUDED.created_at
RETURNING id`
	if err := tx.GetContext(ctx, &variant.ID, upsert, variant.ID, variant.StoryID, variant.Voice, variant.StorageKey, variant.SizeBytes, variant.DurationSeconds, variant.CreatedAt); err != nil {
		return "", fmt.Errorf("upsert audio variant: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit audio variant: %w", err)
	}
	return previous.String, nil
}
