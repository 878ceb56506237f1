package models

import "time"

// RecordingStatus is the review state of a recording.
type RecordingStatus string

const (
	RecordingStatusPending  RecordingStatus = "pending"
	RecordingStatusReviewed RecordingStatus = "reviewed"
	RecordingStatusFlagged  RecordingStatus = "flagged"
)

// Grade is the teacher's qualitative rating.
type Grade string

const (
	GradeExcellent     Grade = "excellent"
	GradeGood          Grade = "good"
	GradeNeedsPractice Grade = "needs_practice"
)

var gradeScores = map[Grade]float64{
	GradeExcellent:     95,
	GradeGood:          85,
	GradeNeedsPractice: 70,
}

// Valid reports whether g is a known grade.
func (g Grade) Valid() bool {
	_, ok := gradeScores[g]
	return ok
}

// Score maps a grade onto the gradebook percentage scale.
func (g Grade) Score() (float64, bool) {
	v, ok := gradeScores[g]
	return v, ok
}

// Recording is one uploaded reading attempt.
type Recording struct {
	ID              string          `db:"id" json:"id"`
	StudentID       string          `db:"student_id" json:"student_id"`
	StoryID         string          `db:"story_id" json:"story_id"`
	AssignmentID    *string         `db:"assignment_id" json:"assignment_id,omitempty"`
	StorageKey      string          `db:"storage_key" json:"-"`
	MimeType        string          `db:"mime_type" json:"mime_type"`
	SizeBytes       int64           `db:"size_bytes" json:"size_bytes"`
	DurationSeconds float64         `db:"duration_seconds" json:"duration_seconds"`
	AttemptNumber   int             `db:"attempt_number" json:"attempt_number"`
	Status          RecordingStatus `db:"status" json:"status"`
	FluencyScore    *int            `db:"fluency_score" json:"fluency_score,omitempty"`
	AccuracyScore   *int            `db:"accuracy_score" json:"accuracy_score,omitempty"`
	Grade           *Grade          `db:"grade" json:"grade,omitempty"`
	Feedback        *string         `db:"feedback" json:"feedback,omitempty"`
	ReviewedBy      *string         `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time      `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	StudentName     string          `db:"student_name" json:"student_name,omitempty"`
	StoryTitle      string          `db:"story_title" json:"story_title,omitempty"`
	AssignmentTitle *string         `db:"assignment_title" json:"assignment_title,omitempty"`
}

// RecordingFilter narrows recording listings. TeacherID limits to students in that teacher's classes.
type RecordingFilter struct {
	StudentID    string
	TeacherID    string
	AssignmentID string
	Status       RecordingStatus
	Page         int
	PageSize     int
}

// ReviewInput carries a validated review.
type ReviewInput struct {
	FluencyScore  int
	AccuracyScore int
	Grade         Grade
	Feedback      *string
	ReviewerID    string
}

// AttemptGrant is returned by the locking step of an upload.
type AttemptGrant struct {
	AttemptNumber int
	AttemptsUsed  int
	MaxAttempts   *int
}
