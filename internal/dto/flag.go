package dto

// ResolveFlagRequest closes an open flag.
type ResolveFlagRequest struct {
	Notes string `json:"notes" validate:"max=4000"`
}

// FlagListQuery binds flag list parameters.
type FlagListQuery struct {
	IncludeResolved bool   `form:"include_resolved"`
	Type            string `form:"type" validate:"omitempty,oneof=low_submission_rate submission_gap declining_scores"`
	Severity        string `form:"severity" validate:"omitempty,oneof=low medium high urgent"`
	StudentID       string `form:"student_id"`
	Page            int    `form:"page"`
	PageSize        int    `form:"page_size"`
}

// ScanResponse reports what an engine run changed.
type ScanResponse struct {
	Students  int   `json:"students"`
	Created   int   `json:"created"`
	Updated   int   `json:"updated"`
	Unchanged int   `json:"unchanged"`
	Cleared   int64 `json:"cleared"`
	Failed    int   `json:"failed"`
}
