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

// UpsertResult describes what a flag upsert did.
type UpsertResult string

const (
	FlagCreated   UpsertResult = "created"
	FlagUpdated   UpsertResult = "updated"
	FlagUnchanged UpsertResult = "unchanged"
)

// FlagRepository persists engine flags.
type FlagRepository struct {
	db *sqlx.DB
}

// NewFlagRepository constructs the repository.
func NewFlagRepository(db *sqlx.DB) *FlagRepository {
	return &FlagRepository{db: db}
}

const flagSelect = `SELECT f.id, f.student_id, f.flag_type, f.severity, f.description, f.window_key, f.auto_generated, f.resolved, f.resolution_notes,
f.resolved_by, f.resolved_at, f.cleared_at, f.created_at, f.updated_at, u.full_name AS student_name
FROM student_flags f JOIN users u ON u.id = f.student_id`

func flagTeacherScope(arg int) string {
	return fmt.Sprintf(`EXISTS (SELECT 1 FROM class_memberships fm JOIN classes fc ON fc.id = fm.class_id WHERE fm.student_id = f.student_id AND fm.active AND fc.teacher_id = $%d)`, arg)
}

// Upsert writes an emission. The partial unique index on open flags makes this atomic per (student, type):
// an open flag is updated in place, a window that was already resolved is skipped.
func (r *FlagRepository) Upsert(ctx context.Context, e models.FlagEmission) (UpsertResult, error) {
	const query = `INSERT INTO student_flags (id, student_id, flag_type, severity, description, window_key, auto_generated, resolved, created_at, updated_at)
SELECT $1, $2, $3, $4, $5, $6, TRUE, FALSE, $7, $7
WHERE NOT EXISTS (SELECT 1 FROM student_flags WHERE student_id = $2 AND flag_type = $3 AND window_key = $6 AND resolved)
ON CONFLICT (student_id, flag_type) WHERE NOT resolved DO UPDATE
SET severity = EXCLUDED.severity, description = EXCLUDED.description, window_key = EXCLUDED.window_key, cleared_at = NULL, updated_at = EXCLUDED.updated_at
WHERE student_flags.severity IS DISTINCT FROM EXCLUDED.severity
   OR student_flags.description IS DISTINCT FROM EXCLUDED.description
   OR student_flags.window_key IS DISTINCT FROM EXCLUDED.window_key
   OR student_flags.cleared_at IS NOT NULL
RETURNING (xmax = 0) AS inserted`
	var inserted bool
	err := r.db.GetContext(ctx, &inserted, query, uuid.NewString(), e.StudentID, e.Type, e.Severity, e.Description, e.WindowKey, time.Now().UTC())
	if err != nil {
		if err == sql.ErrNoRows {
			return FlagUnchanged, nil
		}
		return "", fmt.Errorf("upsert flag: %w", err)
	}
	if inserted {
		return FlagCreated, nil
	}
	return FlagUpdated, nil
}

// MarkCleared stamps cleared_at on open flags whose rule no longer fires.
func (r *FlagRepository) MarkCleared(ctx context.Context, studentID string, firing []models.FlagType) (int64, error) {
	types := make([]string, 0, len(firing))
	for _, t := range firing {
		types = append(types, string(t))
	}
	const query = `UPDATE student_flags SET cleared_at = $3, updated_at = $3
WHERE student_id = $1 AND NOT resolved AND cleared_at IS NULL AND auto_generated AND NOT (flag_type = ANY($2))`
	res, err := r.db.ExecContext(ctx, query, studentID, pq.Array(types), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("clear flags: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear flags rows: %w", err)
	}
	return affected, nil
}

// FindByID returns a flag by id.
func (r *FlagRepository) FindByID(ctx context.Context, id string) (*models.StudentFlag, error) {
	var flag models.StudentFlag
	if err := r.db.GetContext(ctx, &flag, flagSelect+` WHERE f.id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find flag: %w", err)
	}
	return &flag, nil
}

// TeacherHasAccess reports whether the flag's student is on one of teacherID's rosters.
func (r *FlagRepository) TeacherHasAccess(ctx context.Context, teacherID, flagID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM student_flags f WHERE f.id = $1 AND ` + flagTeacherScope(2) + `)`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, query, flagID, teacherID); err != nil {
		return false, fmt.Errorf("check flag scope: %w", err)
	}
	return ok, nil
}

func flagWhere(filter models.FlagFilter) (string, []interface{}) {
	where := ` WHERE 1=1`
	var args []interface{}
	if !filter.IncludeResolved {
		where += " AND NOT f.resolved"
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		where += fmt.Sprintf(" AND f.student_id = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where += fmt.Sprintf(" AND f.flag_type = $%d", len(args))
	}
	if filter.Severity != "" {
		args = append(args, filter.Severity)
		where += fmt.Sprintf(" AND f.severity = $%d", len(args))
	}
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		where += " AND " + flagTeacherScope(len(args))
	}
	return where, args
}

// List returns flags matching filter, most severe and newest first.
func (r *FlagRepository) List(ctx context.Context, filter models.FlagFilter) ([]models.StudentFlag, int, error) {
	where, args := flagWhere(filter)
	limit, offset := pageBounds(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf(`%s%s ORDER BY f.resolved ASC, CASE f.severity WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END, f.created_at DESC LIMIT %d OFFSET %d`, flagSelect, where, limit, offset)
	var flags []models.StudentFlag
	if err := r.db.SelectContext(ctx, &flags, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list flags: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM student_flags f"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count flags: %w", err)
	}
	return flags, total, nil
}

// Stats groups open flags by type and severity within the teacher scope (empty for all).
func (r *FlagRepository) Stats(ctx context.Context, teacherID string) ([]models.FlagStat, error) {
	where, args := flagWhere(models.FlagFilter{TeacherID: teacherID})
	query := `SELECT f.flag_type, f.severity, COUNT(*) AS count FROM student_flags f` + where + ` GROUP BY f.flag_type, f.severity`
	var stats []models.FlagStat
	if err := r.db.SelectContext(ctx, &stats, query, args...); err != nil {
		return nil, fmt.Errorf("flag stats: %w", err)
	}
	return stats, nil
}

// OpenCountByStudent counts open flags per student among ids.
func (r *FlagRepository) OpenCountByStudent(ctx context.Context, studentIDs []string) (map[string]int, error) {
	result := make(map[string]int, len(studentIDs))
	if len(studentIDs) == 0 {
		return result, nil
	}
	var rows []struct {
		StudentID string `db:"student_id"`
		Count     int    `db:"count"`
	}
	const query = `SELECT student_id, COUNT(*) AS count FROM student_flags WHERE NOT resolved AND student_id = ANY($1) GROUP BY student_id`
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(studentIDs)); err != nil {
		return nil, fmt.Errorf("count open flags: %w", err)
	}
	for _, row := range rows {
		result[row.StudentID] = row.Count
	}
	return result, nil
}

// Resolve closes an open flag. It returns false when the flag was already resolved or is missing.
func (r *FlagRepository) Resolve(ctx context.Context, id, resolvedBy string, notes *string) (bool, error) {
	const query = `UPDATE student_flags SET resolved = TRUE, resolved_by = $2, resolution_notes = $3, resolved_at = $4, updated_at = $4
WHERE id = $1 AND NOT resolved`
	res, err := r.db.ExecContext(ctx, query, id, resolvedBy, notes, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("resolve flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve flag rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteResolvedBefore purges resolved flags older than cutoff. The newest row per
// (student, type) is kept: it is what stops Upsert from raising a resolved window again.
func (r *FlagRepository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM student_flags f WHERE f.resolved AND f.resolved_at < $1
AND EXISTS (SELECT 1 FROM student_flags newer WHERE newer.student_id = f.student_id AND newer.flag_type = f.flag_type
AND (newer.created_at, newer.id) > (f.created_at, f.id))`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete resolved flags: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete resolved flags rows: %w", err)
	}
	return affected, nil
}
