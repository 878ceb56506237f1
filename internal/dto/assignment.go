package dto

import (
	"time"

	"github.com/noah-isme/readaloud-api/internal/models"
)

// CreateAssignmentRequest issues a story to a class. A nil max_attempts means unlimited.
type CreateAssignmentRequest struct {
	ClassID     string     `json:"class_id" validate:"required,uuid"`
	StoryID     string     `json:"story_id" validate:"required,uuid"`
	Title       string     `json:"title" validate:"required,min=1,max=200"`
	Description string     `json:"description" validate:"max=2000"`
	DueDate     *time.Time `json:"due_date"`
	MaxAttempts *int       `json:"max_attempts" validate:"omitempty,min=1,max=50"`
}

// AssignmentCreatedResponse reports the assignment and how many students received it.
type AssignmentCreatedResponse struct {
	Assignment models.Assignment `json:"assignment"`
	Issued     int               `json:"issued"`
}

// JoinAssignmentRequest joins an assignment by its code.
type JoinAssignmentRequest struct {
	Code string `json:"code" validate:"required,min=4,max=16"`
}

// AssignmentListQuery binds assignment list parameters.
type AssignmentListQuery struct {
	ClassID    string `form:"class_id"`
	ActiveOnly bool   `form:"active_only"`
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
}
