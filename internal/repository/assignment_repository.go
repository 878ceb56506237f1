package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/readaloud-api/internal/models"
)

// AssignmentRepository persists assignments and per-student progress.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

const assignmentSelect = `SELECT a.id, a.class_id, a.story_id, a.teacher_id, a.title, a.description, a.join_code, a.due_date, a.max_attempts, a.active, a.created_at,
s.title AS story_title, c.name AS class_name
FROM assignments a JOIN stories s ON s.id = a.story_id JOIN classes c ON c.id = a.class_id`

// Create inserts the assignment and one progress row per active roster member in a single transaction.
// It returns the number of students the assignment was issued to.
func (r *AssignmentRepository) Create(ctx context.Context, assignment *models.Assignment) (int, error) {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = time.Now().UTC()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create assignment: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insert = `INSERT INTO assignments (id, class_id, story_id, teacher_id, title, description, join_code, due_date, max_attempts, active, created_at)
VALUES (:id, :class_id, :story_id, :teacher_id, :title, :description, :join_code, :due_date, :max_attempts, :active, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, assignment); err != nil {
		return 0, fmt.Errorf("create assignment: %w", err)
	}

	const issue = `INSERT INTO student_assignments (assignment_id, student_id, attempts_used, created_at)
SELECT $1, m.student_id, 0, $3 FROM class_memberships m WHERE m.class_id = $2 AND m.active
ON CONFLICT (assignment_id, student_id) DO NOTHING`
	res, err := tx.ExecContext(ctx, issue, assignment.ID, assignment.ClassID, assignment.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("issue assignment: %w", err)
	}
	issued, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("issue assignment rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit assignment: %w", err)
	}
	return int(issued), nil
}

// FindByID returns an assignment joined with story and class names.
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, assignmentSelect+` WHERE a.id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find assignment: %w", err)
	}
	return &assignment, nil
}

// FindByJoinCode returns the active assignment with the given join code.
func (r *AssignmentRepository) FindByJoinCode(ctx context.Context, code string) (*models.Assignment, error) {
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, assignmentSelect+` WHERE a.join_code = $1 AND a.active`, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find assignment by code: %w", err)
	}
	return &assignment, nil
}

// List returns assignments matching filter. StudentID restricts to assignments issued to that student.
func (r *AssignmentRepository) List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error) {
	from := ` FROM assignments a JOIN stories s ON s.id = a.story_id JOIN classes c ON c.id = a.class_id WHERE 1=1`
	var args []interface{}
	if filter.ClassID != "" {
		args = append(args, filter.ClassID)
		from += fmt.Sprintf(" AND a.class_id = $%d", len(args))
	}
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		from += fmt.Sprintf(" AND c.teacher_id = $%d", len(args))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		from += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM student_assignments sa WHERE sa.assignment_id = a.id AND sa.student_id = $%d)", len(args))
	}
	if filter.ActiveOnly {
		from += " AND a.active"
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf(`SELECT a.id, a.class_id, a.story_id, a.teacher_id, a.title, a.description, a.join_code, a.due_date, a.max_attempts, a.active, a.created_at, s.title AS story_title, c.name AS class_name%s ORDER BY a.created_at DESC LIMIT %d OFFSET %d`, from, limit, offset)
	var assignments []models.Assignment
	if err := r.db.SelectContext(ctx, &assignments, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list assignments: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+from, args...); err != nil {
		return nil, 0, fmt.Errorf("count assignments: %w", err)
	}
	return assignments, total, nil
}

// Deactivate closes an assignment to new submissions. Rows are never deleted.
func (r *AssignmentRepository) Deactivate(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE assignments SET active = FALSE WHERE id = $1 AND active`, id)
	if err != nil {
		return false, fmt.Errorf("deactivate assignment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate assignment rows: %w", err)
	}
	return affected > 0, nil
}

// FindProgress returns one student's progress row with the assignment's attempt limit.
func (r *AssignmentRepository) FindProgress(ctx context.Context, assignmentID, studentID string) (*models.StudentAssignment, error) {
	const query = `SELECT sa.assignment_id, sa.student_id, sa.attempts_used, sa.completed_at, sa.created_at, a.max_attempts, u.full_name
FROM student_assignments sa JOIN assignments a ON a.id = sa.assignment_id JOIN users u ON u.id = sa.student_id
WHERE sa.assignment_id = $1 AND sa.student_id = $2`
	var progress models.StudentAssignment
	if err := r.db.GetContext(ctx, &progress, query, assignmentID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find progress: %w", err)
	}
	return &progress, nil
}

// ListProgress returns every progress row for an assignment.
func (r *AssignmentRepository) ListProgress(ctx context.Context, assignmentID string) ([]models.StudentAssignment, error) {
	const query = `SELECT sa.assignment_id, sa.student_id, sa.attempts_used, sa.completed_at, sa.created_at, a.max_attempts, u.full_name
FROM student_assignments sa JOIN assignments a ON a.id = sa.assignment_id JOIN users u ON u.id = sa.student_id
WHERE sa.assignment_id = $1 ORDER BY u.full_name ASC`
	var rows []models.StudentAssignment
	if err := r.db.SelectContext(ctx, &rows, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return rows, nil
}
