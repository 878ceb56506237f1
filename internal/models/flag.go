package models

import "time"

// FlagType enumerates engine rules.
type FlagType string

const (
	FlagLowSubmissionRate FlagType = "low_submission_rate"
	FlagSubmissionGap     FlagType = "submission_gap"
	FlagDecliningScores   FlagType = "declining_scores"
)

// FlagTypes lists every rule in evaluation order.
func FlagTypes() []FlagType {
	return []FlagType{FlagLowSubmissionRate, FlagSubmissionGap, FlagDecliningScores}
}

// Severity grades how urgently a flag needs attention.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
	SeverityUrgent Severity = "urgent"
)

// Severities lists severities from least to most urgent.
func Severities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityUrgent}
}

// StudentFlag is an advisory record produced by the engine.
type StudentFlag struct {
	ID              string     `db:"id" json:"id"`
	StudentID       string     `db:"student_id" json:"student_id"`
	FlagType        FlagType   `db:"flag_type" json:"flag_type"`
	Severity        Severity   `db:"severity" json:"severity"`
	Description     string     `db:"description" json:"description"`
	WindowKey       string     `db:"window_key" json:"-"`
	AutoGenerated   bool       `db:"auto_generated" json:"auto_generated"`
	Resolved        bool       `db:"resolved" json:"resolved"`
	ResolutionNotes *string    `db:"resolution_notes" json:"resolution_notes,omitempty"`
	ResolvedBy      *string    `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	ClearedAt       *time.Time `db:"cleared_at" json:"cleared_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	StudentName     string     `db:"student_name" json:"student_name,omitempty"`
}

// FlagFilter narrows flag listings. TeacherID scopes to students in that teacher's classes.
type FlagFilter struct {
	TeacherID       string
	StudentID       string
	Type            FlagType
	Severity        Severity
	IncludeResolved bool
	Page            int
	PageSize        int
}

// FlagEmission is one rule firing for a student.
type FlagEmission struct {
	StudentID   string
	Type        FlagType
	Severity    Severity
	Description string
	WindowKey   string
}

// FlagStat is a grouped flag count.
type FlagStat struct {
	FlagType FlagType `db:"flag_type" json:"flag_type"`
	Severity Severity `db:"severity" json:"severity"`
	Count    int      `db:"count" json:"count"`
}
