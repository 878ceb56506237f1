package models

import "time"

// Class is a teacher owned roster.
type Class struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	TeacherID    string    `db:"teacher_id" json:"teacher_id"`
	GradeLevel   string    `db:"grade_level" json:"grade_level"`
	SchoolYear   string    `db:"school_year" json:"school_year"`
	StudentCount int       `db:"student_count" json:"student_count"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ClassFilter defines filter criteria for listing classes.
type ClassFilter struct {
	TeacherID string
	Search    string
	Page      int
	PageSize  int
}

// ClassMember is an active roster entry joined with user details.
type ClassMember struct {
	ClassID   string    `db:"class_id" json:"class_id"`
	StudentID string    `db:"student_id" json:"student_id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     string    `db:"email" json:"email"`
	Active    bool      `db:"active" json:"active"`
	JoinedAt  time.Time `db:"joined_at" json:"joined_at"`
}
