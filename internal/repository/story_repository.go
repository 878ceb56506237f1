package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/readaloud-api/internal/models"
)

const storyColumns = `id, title, content, grade_level, difficulty, word_count, estimated_minutes, active, created_by, created_at`

// StoryRepository reads and publishes catalog stories.
type StoryRepository struct {
	db *sqlx.DB
}

// NewStoryRepository constructs the repository.
func NewStoryRepository(db *sqlx.DB) *StoryRepository {
	return &StoryRepository{db: db}
}

// List returns active stories matching filter, without content.
func (r *StoryRepository) List(ctx context.Context, filter models.StoryFilter) ([]models.Story, int, error) {
	base := `FROM stories WHERE active = TRUE`
	var conditions []string
	var args []interface{}

	if filter.GradeLevel != "" {
		conditions = append(conditions, fmt.Sprintf("grade_level = $%d", len(args)+1))
		args = append(args, filter.GradeLevel)
	}
	if filter.Difficulty != "" {
		conditions = append(conditions, fmt.Sprintf("difficulty = $%d", len(args)+1))
		args = append(args, filter.Difficulty)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(title) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	limit, offset := pageBounds(filter.Page, filter.PageSize)
	listQuery := fmt.Sprintf("SELECT id, title, '' AS content, grade_level, difficulty, word_count, estimated_minutes, active, created_by, created_at %s ORDER BY grade_level ASC, title ASC LIMIT %d OFFSET %d", base, limit, offset)

	var stories []models.Story
	if err := r.db.SelectContext(ctx, &stories, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list stories: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count stories: %w", err)
	}
	return stories, total, nil
}

// FindByID returns a story including content.
func (r *StoryRepository) FindByID(ctx context.Context, id string) (*models.Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories WHERE id = $1`
	var story models.Story
	if err := r.db.GetContext(ctx, &story, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find story: %w", err)
	}
	return &story, nil
}

// FindByIDs returns the stories among ids that exist.
func (r *StoryRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Story, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + storyColumns + ` FROM stories WHERE id = ANY($1)`
	var stories []models.Story
	if err := r.db.SelectContext(ctx, &stories, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find stories: %w", err)
	}
	return stories, nil
}

// Create publishes a story.
func (r *StoryRepository) Create(ctx context.Context, story *models.Story) error {
	if story.ID == "" {
		story.ID = uuid.NewString()
	}
	if story.CreatedAt.IsZero() {
		story.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO stories (id, title, content, grade_level, difficulty, word_count, estimated_minutes, active, created_by, created_at) VALUES (:id, :title, :content, :grade_level, :difficulty, :word_count, :estimated_minutes, :active, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, story); err != nil {
		return fmt.Errorf("create story: %w", err)
	}
	return nil
}
