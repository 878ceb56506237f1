package models

// ReportType enumerates downloadable reports.
type ReportType string

const (
	ReportTeacherSummary   ReportType = "teacher_summary"
	ReportClassPerformance ReportType = "class_performance"
	ReportGradebook        ReportType = "gradebook"
	ReportStudentProgress  ReportType = "student_progress"
	ReportSchoolWide       ReportType = "school_wide"
)

// ReportFormat enumerates supported export formats.
type ReportFormat string

const (
	ReportFormatCSV  ReportFormat = "csv"
	ReportFormatJSON ReportFormat = "json"
	ReportFormatPDF  ReportFormat = "pdf"
)

// ReportDefinition describes a report offered to a role.
type ReportDefinition struct {
	Type        ReportType     `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Requires    []string       `json:"requires,omitempty"`
	Formats     []ReportFormat `json:"formats"`
}

// ReportRequest selects a report and its scope parameters.
type ReportRequest struct {
	Type      ReportType
	Format    ReportFormat
	ClassID   string
	StudentID string
}

// ReportFile is a rendered report ready for download.
type ReportFile struct {
	Filename    string
	ContentType string
	Content     []byte
}
