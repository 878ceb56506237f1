package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/readaloud-api/internal/models"
)

// ErrAttemptLimitReached is returned when the progress row has no attempts left.
var ErrAttemptLimitReached = errors.New("attempt limit reached")

// RecordingRepository persists recordings and their review state.
type RecordingRepository struct {
	db *sqlx.DB
}

// NewRecordingRepository constructs the repository.
func NewRecordingRepository(db *sqlx.DB) *RecordingRepository {
	return &RecordingRepository{db: db}
}

const recordingSelect = `SELECT r.id, r.student_id, r.story_id, r.assignment_id, r.storage_key, r.mime_type, r.size_bytes, r.duration_seconds, r.attempt_number,
r.status, r.fluency_score, r.accuracy_score, r.grade, r.feedback, r.reviewed_by, r.reviewed_at, r.created_at, r.updated_at,
u.full_name AS student_name, s.title AS story_title
FROM recordings r JOIN users u ON u.id = r.student_id JOIN stories s ON s.id = r.story_id`

// teacherScope matches recordings a teacher may see: their assignments, or free practice by a student on their roster.
func teacherScope(arg int) string {
	return fmt.Sprintf(`(EXISTS (SELECT 1 FROM assignments ta JOIN classes tc ON tc.id = ta.class_id WHERE ta.id = r.assignment_id AND tc.teacher_id = $%[1]d)
OR (r.assignment_id IS NULL AND EXISTS (SELECT 1 FROM class_memberships tm JOIN classes tc ON tc.id = tm.class_id WHERE tm.student_id = r.student_id AND tm.active AND tc.teacher_id = $%[1]d)))`, arg)
}

// CreateWithAttempt serializes on the student's progress row (or an advisory lock for free practice),
// enforces the attempt limit, calls persist while the lock is held, then inserts the recording and
// advances progress. Nothing is committed if persist fails.
func (r *RecordingRepository) CreateWithAttempt(ctx context.Context, rec *models.Recording, persist func(ctx context.Context) error) (*models.AttemptGrant, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	rec.Status = models.RecordingStatusPending

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin recording tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	grant := &models.AttemptGrant{}
	if rec.AssignmentID != nil {
		var row struct {
			AttemptsUsed int           `db:"attempts_used"`
			MaxAttempts  sql.NullInt64 `db:"max_attempts"`
		}
		const lock = `SELECT sa.attempts_used, a.max_attempts FROM student_assignments sa JOIN assignments a ON a.id = sa.assignment_id
WHERE sa.assignment_id = $1 AND sa.student_id = $2 AND a.active FOR UPDATE OF sa`
		if err := tx.GetContext(ctx, &row, lock, *rec.AssignmentID, rec.StudentID); err != nil {
			if err == sql.ErrNoRows {
				return nil, err
			}
			return nil, fmt.Errorf("lock progress: %w", err)
		}
		if row.MaxAttempts.Valid {
			limit := int(row.MaxAttempts.Int64)
			grant.MaxAttempts = &limit
			if row.AttemptsUsed >= limit {
				return nil, ErrAttemptLimitReached
			}
		}
		grant.AttemptNumber = row.AttemptsUsed + 1
	} else {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`, rec.StudentID, rec.StoryID); err != nil {
			return nil, fmt.Errorf("lock practice attempts: %w", err)
		}
		const next = `SELECT COALESCE(MAX(attempt_number), 0) + 1 FROM recordings WHERE student_id = $1 AND story_id = $2 AND assignment_id IS NULL`
		if err := tx.GetContext(ctx, &grant.AttemptNumber, next, rec.StudentID, rec.StoryID); err != nil {
			return nil, fmt.Errorf("next practice attempt: %w", err)
		}
	}
	rec.AttemptNumber = grant.AttemptNumber

	if err := persist(ctx); err != nil {
		return nil, fmt.Errorf("persist payload: %w", err)
	}

	const insert = `INSERT INTO recordings (id, student_id, story_id, assignment_id, storage_key, mime_type, size_bytes, duration_seconds, attempt_number, status, created_at, updated_at)
VALUES (:id, :student_id, :story_id, :assignment_id, :storage_key, :mime_type, :size_bytes, :duration_seconds, :attempt_number, :status, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insert, rec); err != nil {
		return nil, fmt.Errorf("insert recording: %w", err)
	}

	if rec.AssignmentID != nil {
		const advance = `UPDATE student_assignments SET attempts_used = attempts_used + 1, completed_at = COALESCE(completed_at, $3)
WHERE assignment_id = $1 AND student_id = $2 RETURNING attempts_used`
		if err := tx.GetContext(ctx, &grant.AttemptsUsed, advance, *rec.AssignmentID, rec.StudentID, now); err != nil {
			return nil, fmt.Errorf("advance progress: %w", err)
		}
	} else {
		grant.AttemptsUsed = grant.AttemptNumber
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit recording: %w", err)
	}
	return grant, nil
}

// FindByID returns a recording with student and story names.
func (r *RecordingRepository) FindByID(ctx context.Context, id string) (*models.Recording, error) {
	var rec models.Recording
	if err := r.db.GetContext(ctx, &rec, recordingSelect+` WHERE r.id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find recording: %w", err)
	}
	return &rec, nil
}

// TeacherHasAccess reports whether the recording is within teacherID's scope.
func (r *RecordingRepository) TeacherHasAccess(ctx context.Context, teacherID, recordingID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM recordings r WHERE r.id = $1 AND ` + teacherScope(2) + `)`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, query, recordingID, teacherID); err != nil {
		return false, fmt.Errorf("check recording scope: %w", err)
	}
	return ok, nil
}

// List returns recordings matching filter, newest first.
func (r *RecordingRepository) List(ctx context.Context, filter models.RecordingFilter) ([]models.Recording, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		where += fmt.Sprintf(" AND r.student_id = $%d", len(args))
	}
	if filter.AssignmentID != "" {
		args = append(args, filter.AssignmentID)
		where += fmt.Sprintf(" AND r.assignment_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND r.status = $%d", len(args))
	}
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		where += " AND " + teacherScope(len(args))
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)

	var recs []models.Recording
	listQuery := fmt.Sprintf("%s%s ORDER BY r.created_at DESC LIMIT %d OFFSET %d", recordingSelect, where, limit, offset)
	if err := r.db.SelectContext(ctx, &recs, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list recordings: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM recordings r"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count recordings: %w", err)
	}
	return recs, total, nil
}

// Review moves a pending recording to reviewed. It returns false when no pending row matched.
func (r *RecordingRepository) Review(ctx context.Context, id string, input models.ReviewInput) (bool, error) {
	const query = `UPDATE recordings SET status = 'reviewed', fluency_score = $2, accuracy_score = $3, grade = $4, feedback = $5,
reviewed_by = $6, reviewed_at = $7, updated_at = $7 WHERE id = $1 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, id, input.FluencyScore, input.AccuracyScore, input.Grade, input.Feedback, input.ReviewerID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("review recording: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("review recording rows: %w", err)
	}
	return affected > 0, nil
}

// Flag moves a pending recording to flagged without scores.
func (r *RecordingRepository) Flag(ctx context.Context, id, reviewerID string, note *string) (bool, error) {
	const query = `UPDATE recordings SET status = 'flagged', feedback = $3, reviewed_by = $2, reviewed_at = $4, updated_at = $4
WHERE id = $1 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, id, reviewerID, note, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("flag recording: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("flag recording rows: %w", err)
	}
	return affected > 0, nil
}
