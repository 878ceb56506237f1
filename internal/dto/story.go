package dto

// CreateStoryRequest publishes a new story. Stories cannot be edited afterwards.
type CreateStoryRequest struct {
	Title            string `json:"title" validate:"required,min=1,max=200"`
	Content          string `json:"content" validate:"required,min=1"`
	GradeLevel       string `json:"grade_level" validate:"required,oneof=K 1 2 3 4 5"`
	Difficulty       string `json:"difficulty" validate:"required,oneof=easy medium hard"`
	EstimatedMinutes int    `json:"estimated_minutes" validate:"omitempty,min=1,max=120"`
}

// StoryListQuery binds catalog query parameters.
type StoryListQuery struct {
	GradeLevel string `form:"grade_level"`
	Difficulty string `form:"difficulty"`
	Search     string `form:"search"`
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
}
