package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/readaloud-api/internal/models"
)

// AudioJobRepository persists bulk audio generation jobs and their items.
type AudioJobRepository struct {
	db *sqlx.DB
}

// NewAudioJobRepository constructs the repository.
func NewAudioJobRepository(db *sqlx.DB) *AudioJobRepository {
	return &AudioJobRepository{db: db}
}

const audioJobColumns = `id, status, total_items, completed_items, failed_items, created_by, created_at, started_at, finished_at, error_message`

// Create inserts the job and its items atomically.
func (r *AudioJobRepository) Create(ctx context.Context, job *models.AudioJob, items []models.AudioJobItem) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.AudioJobQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.TotalItems = len(items)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audio job: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertJob = `INSERT INTO audio_jobs (id, status, total_items, completed_items, failed_items, created_by, created_at)
VALUES (:id, :status, :total_items, :completed_items, :failed_items, :created_by, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insertJob, job); err != nil {
		return fmt.Errorf("create audio job: %w", err)
	}
	const insertItem = `INSERT INTO audio_job_items (job_id, story_id, voice, status, updated_at) VALUES ($1, $2, $3, 'pending', $4)`
	for i := range items {
		items[i].JobID = job.ID
		items[i].Status = models.AudioItemPending
		items[i].UpdatedAt = job.CreatedAt
		if _, err := tx.ExecContext(ctx, insertItem, job.ID, items[i].StoryID, items[i].Voice, job.CreatedAt); err != nil {
			return fmt.Errorf("create audio job item: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audio job: %w", err)
	}
	job.Items = items
	return nil
}

// GetByID returns a job row.
func (r *AudioJobRepository) GetByID(ctx context.Context, id string) (*models.AudioJob, error) {
	var job models.AudioJob
	if err := r.db.GetContext(ctx, &job, `SELECT `+audioJobColumns+` FROM audio_jobs WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get audio job: %w", err)
	}
	return &job, nil
}

// ListItems returns every item of a job.
func (r *AudioJobRepository) ListItems(ctx context.Context, jobID string) ([]models.AudioJobItem, error) {
	const query = `SELECT job_id, story_id, voice, status, error_message, variant_id, updated_at FROM audio_job_items WHERE job_id = $1 ORDER BY story_id, voice`
	var items []models.AudioJobItem
	if err := r.db.SelectContext(ctx, &items, query, jobID); err != nil {
		return nil, fmt.Errorf("list audio job items: %w", err)
	}
	return items, nil
}

// Update persists the provided changes for a job row.
func (r *AudioJobRepository) Update(ctx context.Context, params models.UpdateAudioJobParams) error {
	set := make([]string, 0, 6)
	args := make([]interface{}, 0, 7)

	if params.Status != nil {
		args = append(args, *params.Status)
		set = append(set, fmt.Sprintf("status = $%d", len(args)))
	}
	if params.CompletedItems != nil {
		args = append(args, *params.CompletedItems)
		set = append(set, fmt.Sprintf("completed_items = $%d", len(args)))
	}
	if params.FailedItems != nil {
		args = append(args, *params.FailedItems)
		set = append(set, fmt.Sprintf("failed_items = $%d", len(args)))
	}
	if params.StartedAt != nil {
		args = append(args, *params.StartedAt)
		set = append(set, fmt.Sprintf("started_at = COALESCE(started_at, $%d)", len(args)))
	}
	if params.FinishedAt != nil {
		args = append(args, *params.FinishedAt)
		set = append(set, fmt.Sprintf("finished_at = $%d", len(args)))
	}
	if params.ErrorMessage != nil {
		args = append(args, *params.ErrorMessage)
		set = append(set, fmt.Sprintf("error_message = $%d", len(args)))
	}
	if len(set) == 0 {
		return nil
	}
	args = append(args, params.ID)
	query := fmt.Sprintf("UPDATE audio_jobs SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update audio job: %w", err)
	}
	return nil
}

// CompleteItem records an item outcome once and bumps the matching job counter.
// It returns the job counts after the change.
func (r *AudioJobRepository) CompleteItem(ctx context.Context, item models.AudioJobItem) (*models.AudioJob, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin complete item: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const updateItem = `UPDATE audio_job_items SET status = $4, error_message = $5, variant_id = $6, updated_at = $7
WHERE job_id = $1 AND story_id = $2 AND voice = $3 AND status = 'pending'`
	res, err := tx.ExecContext(ctx, updateItem, item.JobID, item.StoryID, item.Voice, item.Status, item.ErrorMessage, item.VariantID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("update audio job item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update audio job item rows: %w", err)
	}

	counter := "completed_items"
	if item.Status == models.AudioItemFailed {
		counter = "failed_items"
	}
	var job models.AudioJob
	query := fmt.Sprintf(`UPDATE audio_jobs SET %[1]s = %[1]s + $2 WHERE id = $1 RETURNING `+audioJobColumns, counter)
	if err := tx.GetContext(ctx, &job, query, item.JobID, affected); err != nil {
		return nil, fmt.Errorf("advance audio job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit complete item: %w", err)
	}
	return &job, nil
}

// ListRecoverable returns jobs left QUEUED or PROCESSING, oldest first.
func (r *AudioJobRepository) ListRecoverable(ctx context.Context, limit int) ([]models.AudioJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + audioJobColumns + ` FROM audio_jobs WHERE status IN ('QUEUED', 'PROCESSING') ORDER BY created_at ASC LIMIT $1`
	var jobs []models.AudioJob
	if err := r.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("list recoverable audio jobs: %w", err)
	}
	return jobs, nil
}
