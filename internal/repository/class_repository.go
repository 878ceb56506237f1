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

// ClassRepository manages classes and their rosters.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

const classSelect = `SELECT c.id, c.name, c.teacher_id, c.grade_level, c.school_year, c.created_at,
(SELECT COUNT(*) FROM class_memberships m WHERE m.class_id = c.id AND m.active) AS student_count
FROM classes c`

// Create inserts a class.
func (r *ClassRepository) Create(ctx context.Context, class *models.Class) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	if class.CreatedAt.IsZero() {
		class.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO classes (id, name, teacher_id, grade_level, school_year, created_at) VALUES (:id, :name, :teacher_id, :grade_level, :school_year, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, class); err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

// FindByID returns a class by id.
func (r *ClassRepository) FindByID(ctx context.Context, id string) (*models.Class, error) {
	var class models.Class
	if err := r.db.GetContext(ctx, &class, classSelect+` WHERE c.id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find class: %w", err)
	}
	return &class, nil
}

// List returns classes matching filter.
func (r *ClassRepository) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		where += fmt.Sprintf(" AND c.teacher_id = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		where += fmt.Sprintf(" AND LOWER(c.name) LIKE $%d", len(args))
	}
	limit, offset := pageBounds(filter.Page, filter.PageSize)

	var classes []models.Class
	listQuery := fmt.Sprintf("%s%s ORDER BY c.school_year DESC, c.name ASC LIMIT %d OFFSET %d", classSelect, where, limit, offset)
	if err := r.db.SelectContext(ctx, &classes, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list classes: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM classes c"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count classes: %w", err)
	}
	return classes, total, nil
}

// AddMember activates a roster entry and issues progress rows for the class's active assignments.
func (r *ClassRepository) AddMember(ctx context.Context, classID, studentID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add member: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const upsert = `INSERT INTO class_memberships (class_id, student_id, active, joined_at) VALUES ($1, $2, TRUE, NOW())
ON CONFLICT (class_id, student_id) DO UPDATE SET active = TRUE`
	if _, err := tx.ExecContext(ctx, upsert, classID, studentID); err != nil {
		return fmt.Errorf("add class member: %w", err)
	}
	const issue = `INSERT INTO student_assignments (assignment_id, student_id, attempts_used, created_at)
SELECT a.id, $2, 0, NOW() FROM assignments a WHERE a.class_id = $1 AND a.active
ON CONFLICT (assignment_id, student_id) DO NOTHING`
	if _, err := tx.ExecContext(ctx, issue, classID, studentID); err != nil {
		return fmt.Errorf("issue assignments to member: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add member: %w", err)
	}
	return nil
}

// RemoveMember deactivates a roster entry; history stays intact.
func (r *ClassRepository) RemoveMember(ctx context.Context, classID, studentID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE class_memberships SET active = FALSE WHERE class_id = $1 AND student_id = $2 AND active`, classID, studentID)
	if err != nil {
		return false, fmt.Errorf("remove class member: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove class member rows: %w", err)
	}
	return affected > 0, nil
}

// ListMembers returns the active roster of a class.
func (r *ClassRepository) ListMembers(ctx context.Context, classID string) ([]models.ClassMember, error) {
	const query = `SELECT m.class_id, m.student_id, u.full_name, u.email, m.active, m.joined_at
FROM class_memberships m JOIN users u ON u.id = m.student_id
WHERE m.class_id = $1 AND m.active ORDER BY u.full_name ASC`
	var members []models.ClassMember
	if err := r.db.SelectContext(ctx, &members, query, classID); err != nil {
		return nil, fmt.Errorf("list class members: %w", err)
	}
	return members, nil
}
