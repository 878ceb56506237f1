package dto

import (
	"time"

	"github.com/noah-isme/readaloud-api/internal/models"
)

// RecordingResponse is a recording with the caller's attempt standing on its assignment.
type RecordingResponse struct {
	models.Recording
	AttemptsUsed      *int `json:"attempts_used,omitempty"`
	AttemptsRemaining *int `json:"attempts_remaining"`
	CanAttempt        bool `json:"can_attempt"`
}

// ReviewRequest grades a pending recording.
type ReviewRequest struct {
	FluencyScore  int    `json:"fluency_score"`
	AccuracyScore int    `json:"accuracy_score"`
	Feedback      string `json:"feedback" validate:"max=4000"`
	Grade         string `json:"grade" validate:"required,oneof=excellent good needs_practice"`
}

// FlagRecordingRequest marks a pending recording for follow-up.
type FlagRecordingRequest struct {
	Note string `json:"note" validate:"max=2000"`
}

// RecordingListQuery binds recording list parameters.
type RecordingListQuery struct {
	StudentID    string `form:"student_id"`
	AssignmentID string `form:"assignment_id"`
	Status       string `form:"status" validate:"omitempty,oneof=pending reviewed flagged"`
	Page         int    `form:"page"`
	PageSize     int    `form:"page_size"`
}

// SignedAudioResponse is a temporary playback URL.
type SignedAudioResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
