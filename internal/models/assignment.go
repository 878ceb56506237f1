package models

import "time"

// Assignment issues one story to a class roster.
type Assignment struct {
	ID          string     `db:"id" json:"id"`
	ClassID     string     `db:"class_id" json:"class_id"`
	StoryID     string     `db:"story_id" json:"story_id"`
	TeacherID   string     `db:"teacher_id" json:"teacher_id"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description"`
	JoinCode    string     `db:"join_code" json:"join_code"`
	DueDate     *time.Time `db:"due_date" json:"due_date,omitempty"`
	MaxAttempts *int       `db:"max_attempts" json:"max_attempts"`
	Active      bool       `db:"active" json:"active"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	StoryTitle  string     `db:"story_title" json:"story_title,omitempty"`
	ClassName   string     `db:"class_name" json:"class_name,omitempty"`
}

// AssignmentFilter narrows assignment listings.
type AssignmentFilter struct {
	ClassID    string
	TeacherID  string
	StudentID  string
	ActiveOnly bool
	Page       int
	PageSize   int
}

// StudentAssignment tracks a student's progress on one assignment.
type StudentAssignment struct {
	AssignmentID string     `db:"assignment_id" json:"assignment_id"`
	StudentID    string     `db:"student_id" json:"student_id"`
	AttemptsUsed int        `db:"attempts_used" json:"attempts_used"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	MaxAttempts  *int       `db:"max_attempts" json:"max_attempts"`
	FullName     string     `db:"full_name" json:"full_name,omitempty"`
}

// Completed reports whether at least one submission was accepted.
func (p StudentAssignment) Completed() bool {
	return p.CompletedAt != nil
}

// AttemptsRemaining is nil when attempts are unlimited.
func (p StudentAssignment) AttemptsRemaining() *int {
	if p.MaxAttempts == nil {
		return nil
	}
	remaining := *p.MaxAttempts - p.AttemptsUsed
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// CanAttempt reports whether another upload would be accepted.
func (p StudentAssignment) CanAttempt() bool {
	return p.MaxAttempts == nil || p.AttemptsUsed < *p.MaxAttempts
}

// ProgressOverview summarizes an assignment across its roster.
type ProgressOverview struct {
	Assignment     Assignment          `json:"assignment"`
	Issued         int                 `json:"issued"`
	Completed      int                 `json:"completed"`
	CompletionRate float64             `json:"completion_rate"`
	Students       []StudentAssignment `json:"students"`
}
