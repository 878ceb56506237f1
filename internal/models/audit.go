package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin            = "LOGIN"
	AuditActionUserCreate       = "USER_CREATE"
	AuditActionRecordingCreate  = "RECORDING_CREATE"
	AuditActionRecordingReview  = "RECORDING_REVIEW"
	AuditActionRecordingFlag    = "RECORDING_FLAG"
	AuditActionFlagResolve      = "FLAG_RESOLVE"
	AuditActionAudioJobCreate   = "AUDIO_JOB_CREATE"
	AuditActionStoryCreate      = "STORY_CREATE"
	AuditActionClassCreate      = "CLASS_CREATE"
	AuditActionClassEnroll      = "CLASS_ENROLL"
	AuditActionClassUnenroll    = "CLASS_UNENROLL"
	AuditActionAssignmentCreate = "ASSIGNMENT_CREATE"
	AuditActionAssignmentClose  = "ASSIGNMENT_CLOSE"
	AuditActionReportExport     = "REPORT_EXPORT"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
