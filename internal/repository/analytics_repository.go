package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/readaloud-api/internal/models"
)

// AnalyticsRepository reads the history windows consumed by the flag engine, reports and dashboard.
type AnalyticsRepository struct {
	db *sqlx.DB
}

// NewAnalyticsRepository constructs the repository.
func NewAnalyticsRepository(db *sqlx.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// ScopeStudents returns active students on teacherID's rosters, or every active student when teacherID is empty.
func (r *AnalyticsRepository) ScopeStudents(ctx context.Context, teacherID string) ([]models.StudentRef, error) {
	var (
		students []models.StudentRef
		err      error
	)
	if teacherID == "" {
		err = r.db.SelectContext(ctx, &students, `SELECT id, full_name, email FROM users WHERE role = 'STUDENT' AND active ORDER BY full_name ASC`)
	} else {
		const query = `SELECT DISTINCT u.id, u.full_name, u.email FROM users u
JOIN class_memberships m ON m.student_id = u.id AND m.active
JOIN classes c ON c.id = m.class_id
WHERE c.teacher_id = $1 AND u.active ORDER BY u.full_name ASC`
		err = r.db.SelectContext(ctx, &students, query, teacherID)
	}
	if err != nil {
		return nil, fmt.Errorf("scope students: %w", err)
	}
	return students, nil
}

// TeacherHasStudent reports whether studentID is on one of teacherID's active rosters.
func (r *AnalyticsRepository) TeacherHasStudent(ctx context.Context, teacherID, studentID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM class_memberships m JOIN classes c ON c.id = m.class_id WHERE c.teacher_id = $1 AND m.student_id = $2 AND m.active)`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, query, teacherID, studentID); err != nil {
		return false, fmt.Errorf("check teacher student: %w", err)
	}
	return ok, nil
}

// Histories loads progress rows and recordings for the given students. A non-empty classID restricts both to that class's assignments.
func (r *AnalyticsRepository) Histories(ctx context.Context, students []models.StudentRef, scope models.HistoryScope) (map[string]*models.StudentHistory, error) {
	histories := make(map[string]*models.StudentHistory, len(students))
	if len(students) == 0 {
		return histories, nil
	}
	ids := make([]string, 0, len(students))
	for _, s := range students {
		ids = append(ids, s.ID)
		histories[s.ID] = &models.StudentHistory{StudentID: s.ID, FullName: s.FullName}
	}

	assignQuery := `SELECT sa.assignment_id, sa.student_id, sa.created_at AS issued_at, a.due_date, sa.completed_at, sa.attempts_used
FROM student_assignments sa JOIN assignments a ON a.id = sa.assignment_id WHERE sa.student_id = ANY($1)`
	recQuery := `SELECT r.id, r.student_id, r.assignment_id, r.status, r.fluency_score, r.accuracy_score, r.grade, r.duration_seconds, r.created_at, r.reviewed_at
FROM recordings r WHERE r.student_id = ANY($1)`
	args := []interface{}{pq.Array(ids)}
	if scope.ClassID != "" {
		args = append(args, scope.ClassID)
		assignQuery += fmt.Sprintf(` AND a.class_id = $%d`, len(args))
		recQuery += fmt.Sprintf(` AND r.assignment_id IN (SELECT id FROM assignments WHERE class_id = $%d)`, len(args))
	}
	if scope.TeacherID != "" {
		args = append(args, scope.TeacherID)
		assignQuery += fmt.Sprintf(` AND a.class_id IN (SELECT id FROM classes WHERE teacher_id = $%d)`, len(args))
		recQuery += fmt.Sprintf(` AND r.assignment_id IN (SELECT ta.id FROM assignments ta JOIN classes tc ON tc.id = ta.class_id WHERE tc.teacher_id = $%d)`, len(args))
	}
	assignQuery += ` ORDER BY sa.created_at DESC, sa.assignment_id`
	recQuery += ` ORDER BY r.created_at ASC`

	var issued []models.IssuedAssignment
	if err := r.db.SelectContext(ctx, &issued, assignQuery, args...); err != nil {
		return nil, fmt.Errorf("load issued assignments: %w", err)
	}
	for _, row := range issued {
		if h, ok := histories[row.StudentID]; ok {
			h.Assignments = append(h.Assignments, row)
		}
	}

	var samples []models.RecordingSample
	if err := r.db.SelectContext(ctx, &samples, recQuery, args...); err != nil {
		return nil, fmt.Errorf("load recording samples: %w", err)
	}
	for _, row := range samples {
		if h, ok := histories[row.StudentID]; ok {
			h.Recordings = append(h.Recordings, row)
		}
	}
	return histories, nil
}

// ClassAssignments lists every assignment of a class in creation order.
func (r *AnalyticsRepository) ClassAssignments(ctx context.Context, classID string) ([]models.Assignment, error) {
	const query = `SELECT a.id, a.class_id, a.story_id, a.teacher_id, a.title, a.description, a.join_code, a.due_date, a.max_attempts, a.active, a.created_at
FROM assignments a WHERE a.class_id = $1 ORDER BY a.created_at ASC, a.id`
	var assignments []models.Assignment
	if err := r.db.SelectContext(ctx, &assignments, query, classID); err != nil {
		return nil, fmt.Errorf("class assignments: %w", err)
	}
	return assignments, nil
}

// StudentRecordings lists all recordings of a student with story and assignment titles.
func (r *AnalyticsRepository) StudentRecordings(ctx context.Context, studentID string) ([]models.Recording, error) {
	const query = `SELECT r.id, r.student_id, r.story_id, r.assignment_id, r.storage_key, r.mime_type, r.size_bytes, r.duration_seconds, r.attempt_number,
r.status, r.fluency_score, r.accuracy_score, r.grade, r.feedback, r.reviewed_by, r.reviewed_at, r.created_at, r.updated_at,
s.title AS story_title, a.title AS assignment_title
FROM recordings r JOIN stories s ON s.id = r.story_id LEFT JOIN assignments a ON a.id = r.assignment_id
WHERE r.student_id = $1 ORDER BY r.created_at ASC`
	var recs []models.Recording
	if err := r.db.SelectContext(ctx, &recs, query, studentID); err != nil {
		return nil, fmt.Errorf("student recordings: %w", err)
	}
	return recs, nil
}

// SchoolTotals returns the raw counts behind the school-wide report.
func (r *AnalyticsRepository) SchoolTotals(ctx context.Context) (*models.SchoolTotals, error) {
	const query = `SELECT
(SELECT COUNT(*) FROM users WHERE role = 'STUDENT' AND active) AS students,
(SELECT COUNT(*) FROM users WHERE role = 'TEACHER' AND active) AS teachers,
(SELECT COUNT(*) FROM classes) AS classes,
(SELECT COUNT(*) FROM assignments) AS assignments,
(SELECT COUNT(*) FROM recordings) AS recordings,
(SELECT COUNT(*) FROM recordings WHERE status = 'reviewed') AS reviewed_recordings,
(SELECT COUNT(*) FROM student_flags WHERE NOT resolved) AS active_flags,
(SELECT COUNT(*) FROM student_flags WHERE NOT resolved AND severity = 'urgent') AS urgent_flags`
	var totals models.SchoolTotals
	if err := r.db.GetContext(ctx, &totals, query); err != nil {
		return nil, fmt.Errorf("school totals: %w", err)
	}
	return &totals, nil
}
