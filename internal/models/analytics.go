package models

import "time"

// IssuedAssignment is one progress row as seen by the flag engine.
type IssuedAssignment struct {
	AssignmentID string     `db:"assignment_id" json:"assignment_id"`
	StudentID    string     `db:"student_id" json:"student_id"`
	IssuedAt     time.Time  `db:"issued_at" json:"issued_at"`
	DueDate      *time.Time `db:"due_date" json:"due_date,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	AttemptsUsed int        `db:"attempts_used" json:"attempts_used"`
}

// RecordingSample is the slice of a recording the engine and aggregates read.
type RecordingSample struct {
	ID              string          `db:"id" json:"id"`
	StudentID       string          `db:"student_id" json:"student_id"`
	AssignmentID    *string         `db:"assignment_id" json:"assignment_id,omitempty"`
	Status          RecordingStatus `db:"status" json:"status"`
	FluencyScore    *int            `db:"fluency_score" json:"fluency_score,omitempty"`
	AccuracyScore   *int            `db:"accuracy_score" json:"accuracy_score,omitempty"`
	Grade           *Grade          `db:"grade" json:"grade,omitempty"`
	DurationSeconds float64         `db:"duration_seconds" json:"duration_seconds"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	ReviewedAt      *time.Time      `db:"reviewed_at" json:"reviewed_at,omitempty"`
}

// StudentHistory is the full input window for one student.
type StudentHistory struct {
	StudentID   string
	FullName    string
	Assignments []IssuedAssignment
	Recordings  []RecordingSample
}

// HistoryScope narrows which activity a history load includes. ClassID keeps one
// class; TeacherID keeps the classes that teacher owns. Empty fields do not filter.
type HistoryScope struct {
	ClassID   string
	TeacherID string
}

// StudentRef identifies a student in scope.
type StudentRef struct {
	ID       string `db:"id" json:"id"`
	FullName string `db:"full_name" json:"full_name"`
	Email    string `db:"email" json:"email"`
}

// Trend classifies recent score movement.
type Trend string

const (
	TrendImproving        Trend = "improving"
	TrendStable           Trend = "stable"
	TrendDeclining        Trend = "declining"
	TrendInsufficientData Trend = "insufficient_data"
)

// Trends lists every trend bucket.
func Trends() []Trend {
	return []Trend{TrendImproving, TrendStable, TrendDeclining, TrendInsufficientData}
}

// StudentMetrics are per-student aggregates shared by analytics, reports and the dashboard.
type StudentMetrics struct {
	StudentID               string   `json:"student_id"`
	FullName                string   `json:"full_name"`
	TotalAssignments        int      `json:"total_assignments"`
	CompletedAssignments    int      `json:"completed_assignments"`
	CompletionRate          float64  `json:"completion_rate"`
	TotalRecordings         int      `json:"total_recordings"`
	ReviewedRecordings      int      `json:"reviewed_recordings"`
	AverageFluency          *float64 `json:"average_fluency"`
	AverageAccuracy         *float64 `json:"average_accuracy"`
	AverageDurationSeconds  float64  `json:"average_duration_seconds"`
	DaysSinceLastSubmission *int     `json:"days_since_last_submission"`
	MissedDeadlines         int      `json:"missed_deadlines"`
	Trend                   Trend    `json:"trend"`
	OpenFlags               int      `json:"open_flags"`
	NeedsAttention          bool     `json:"needs_attention"`
}

// GroupSummary aggregates a set of students.
type GroupSummary struct {
	TotalStudents            int           `json:"total_students"`
	Issued                   int           `json:"issued"`
	Completed                int           `json:"completed"`
	CompletionRate           float64       `json:"completion_rate"`
	AverageFluency           *float64      `json:"average_fluency"`
	AverageAccuracy          *float64      `json:"average_accuracy"`
	StudentsNeedingAttention int           `json:"students_needing_attention"`
	TrendHistogram           map[Trend]int `json:"trend_histogram"`
}

// DashboardSummary is the cached analytics overview.
type DashboardSummary struct {
	TotalFlags               int              `json:"total_flags"`
	FlagsBySeverity          map[Severity]int `json:"flags_by_severity"`
	FlagDistribution         map[FlagType]int `json:"flag_distribution"`
	StudentsNeedingAttention int              `json:"students_needing_attention"`
	AverageCompletionRate    float64          `json:"average_completion_rate"`
	StudentsByTrend          map[Trend]int    `json:"students_by_trend"`
	TotalStudents            int              `json:"total_students"`
	RecentFlags              []StudentFlag    `json:"recent_flags"`
	GeneratedAt              time.Time        `json:"generated_at"`
}

// SchoolTotals are raw counts for the school-wide report.
type SchoolTotals struct {
	Students           int `db:"students"`
	Teachers           int `db:"teachers"`
	Classes            int `db:"classes"`
	Assignments        int `db:"assignments"`
	Recordings         int `db:"recordings"`
	ReviewedRecordings int `db:"reviewed_recordings"`
	ActiveFlags        int `db:"active_flags"`
	UrgentFlags        int `db:"urgent_flags"`
}

// SystemMetrics is a point-in-time process snapshot for the detailed health view.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	RecordingsUploaded       uint64    `json:"recordings_uploaded"`
	ReviewsCompleted         uint64    `json:"reviews_completed"`
	FlagsEmitted             uint64    `json:"flags_emitted"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
